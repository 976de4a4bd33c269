package invoice

import (
	"github.com/shopspring/decimal"
)

// Status is the lifecycle marker mirrored to the remote table. Values above
// zero are open for caller-defined terminal states.
type Status int

const (
	StatusPending         Status = 0
	StatusParseError      Status = -1 // extraction failure or duplicate
	StatusValidationError Status = -2
)

// Item is one reconstructed commodity line. Quantity and the money fields
// follow the fails-soft policy: unparsable tokens become zero.
type Item struct {
	Name      string
	Kind      string
	Unit      string
	Quantity  int
	UnitPrice decimal.Decimal
	Amount    decimal.Decimal
	TaxRate   string
	Tax       decimal.Decimal
}

// Invoice is the reconciled entity. Identity key is Number, the business
// invoice number; FileToken is the storage-side natural key of the source
// file.
type Invoice struct {
	FileToken string

	Type             string
	Code             string
	Number           string
	Date             string
	MachineCode      string
	Password         string
	VerificationCode string

	SellerName        string
	SellerTaxID       string
	SellerAddress     string
	SellerBankAccount string
	BuyerName         string
	BuyerTaxID        string
	BuyerAddress      string
	BuyerBankAccount  string

	Payee      string
	Reviewer   string
	NoteDrawer string
	Remark     string

	Amount      decimal.Decimal
	TaxAmount   decimal.Decimal
	TotalAmount decimal.Decimal

	Items         []Item
	ItemsBrief    string
	ItemsUnit     string
	ItemTag       string
	ItemNum       int
	TotalItemsNum int

	Status       Status
	ErrorMessage *string
	Processed    bool
}
