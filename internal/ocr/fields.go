package ocr

// FileKind identifies the payload format sent to the OCR vendor.
type FileKind string

const (
	FilePDF   FileKind = "pdf"
	FileImage FileKind = "image"
)

// Cell is one OCR token tagged with the table row it was read from.
// Row indices are page-scoped until the reconstructor merges pages.
type Cell struct {
	Row  int
	Word string
}

// ItemColumns holds the sparse per-column cell lists of one page's commodity
// table. Vendors skip rows, so each column is an independent (row, word) list
// sharing the page's row-index space.
type ItemColumns struct {
	Name      []Cell
	Kind      []Cell
	Unit      []Cell
	Quantity  []Cell
	UnitPrice []Cell
	Amount    []Cell
	TaxRate   []Cell
	Tax       []Cell
}

// DocumentFields carries the scalar header/footer fields of a VAT invoice.
// Unknown vendor keys are dropped at decode time.
type DocumentFields struct {
	Type              string
	Code              string
	Number            string
	Date              string
	MachineCode       string
	Password          string
	VerificationCode  string
	TotalAmount       string
	Amount            string
	TaxAmount         string
	SellerTaxID       string
	SellerName        string
	SellerAddress     string
	SellerBankAccount string
	BuyerTaxID        string
	BuyerName         string
	BuyerAddress      string
	BuyerBankAccount  string
	Payee             string
	Reviewer          string
	NoteDrawer        string
	Remark            string
}

// Page is one OCR page of a VAT invoice.
type Page struct {
	Document DocumentFields
	Columns  ItemColumns
}

// TrainTicket carries the flat fields of a railway e-ticket result.
type TrainTicket struct {
	Number        string
	Date          string
	BuyerName     string
	BuyerTaxID    string
	Fare          string
	ETicketNumber string
	From          string
	To            string
	Passenger     string
	TrainNumber   string
	Departure     string
	SeatNumber    string
	SeatCategory  string
}

// DocumentKind tags the classified result of the multi-invoice endpoint.
type DocumentKind string

const (
	KindVATInvoice  DocumentKind = "vat_invoice"
	KindTrainTicket DocumentKind = "train_ticket"
)

// Document is the tagged result of a recognition call. Pages is populated for
// VAT invoices, Train for railway tickets.
type Document struct {
	Kind  DocumentKind
	Pages []Page
	Train TrainTicket
}
