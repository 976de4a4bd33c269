package invoice

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/Smoaflie/invoice-collection/internal/ocr"
)

// ErrMissingLineItems reports a VAT invoice whose commodity table came back
// empty. VAT extraction requires line items; downstream validation keys off
// item_tag and items_brief, so an empty table must surface instead of
// producing a hollow entity.
var ErrMissingLineItems = errors.New("no line items found in the invoice")

// ErrMissingRequiredFields reports an extraction that came back without the
// invoice number or the total amount. The check runs on the raw OCR strings:
// a document whose total legitimately reads "0.00" carries the field and
// passes, only an absent field fails.
var ErrMissingRequiredFields = errors.New("missing required fields: number or totalAmount")

// itemTagPattern matches the category tag one invoice family embeds in the
// first item's name, e.g. "*VIP*Seat Ticket".
var itemTagPattern = regexp.MustCompile(`\*(\S+)\*`)

// briefSuffix marks a truncated item list in items_brief.
const briefSuffix = " 等"

// farePattern pulls the numeric fare out of a ticket-rates string like
// "￥263.5元".
var farePattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// FromVATPages reconstructs the item table from the OCR pages and assembles
// the Invoice entity. Scalar document fields come from the last page, which
// carries the totals on multi-page invoices.
func FromVATPages(pages []ocr.Page) (Invoice, error) {
	if len(pages) == 0 {
		return Invoice{}, fmt.Errorf("vat invoice: no pages")
	}
	doc := pages[len(pages)-1].Document

	inv := Invoice{
		Type:             doc.Type,
		Code:             doc.Code,
		Number:           doc.Number,
		Date:             doc.Date,
		MachineCode:      doc.MachineCode,
		Password:         doc.Password,
		VerificationCode: doc.VerificationCode,

		SellerName:        doc.SellerName,
		SellerTaxID:       doc.SellerTaxID,
		SellerAddress:     doc.SellerAddress,
		SellerBankAccount: doc.SellerBankAccount,
		BuyerName:         doc.BuyerName,
		BuyerTaxID:        doc.BuyerTaxID,
		BuyerAddress:      doc.BuyerAddress,
		BuyerBankAccount:  doc.BuyerBankAccount,

		Payee:      doc.Payee,
		Reviewer:   doc.Reviewer,
		NoteDrawer: doc.NoteDrawer,
		Remark:     doc.Remark,

		Amount:      parseDecimal(doc.Amount),
		TaxAmount:   parseDecimal(doc.TaxAmount),
		TotalAmount: parseDecimal(doc.TotalAmount),

		Status: StatusPending,
	}

	inv.Items = BuildItems(pages)
	if len(inv.Items) == 0 {
		return Invoice{}, ErrMissingLineItems
	}
	if doc.Number == "" || doc.TotalAmount == "" {
		return Invoice{}, ErrMissingRequiredFields
	}
	deriveItemSummary(&inv)
	return inv, nil
}

// FromTrainTicket maps a railway e-ticket result to a flat Invoice. Tickets
// carry no commodity table; journey details fold into the remark.
func FromTrainTicket(t ocr.TrainTicket) (Invoice, error) {
	fare := farePattern.FindString(t.Fare)
	if t.Number == "" || fare == "" {
		return Invoice{}, ErrMissingRequiredFields
	}
	inv := Invoice{
		Type:        "电子发票（铁路电子客票）",
		Number:      t.Number,
		Date:        t.Date,
		BuyerName:   t.BuyerName,
		BuyerTaxID:  t.BuyerTaxID,
		TotalAmount: parseDecimal(fare),
		Status:      StatusPending,
	}
	inv.Remark = fmt.Sprintf(
		"电子客票号: %s, 始发站: %s, 终点站: %s, 乘车人: %s, 车次: %s, 发车时间: %s, 座次: %s, 座位类型: %s, ",
		t.ETicketNumber, t.From, t.To, t.Passenger, t.TrainNumber, t.Departure, t.SeatNumber, t.SeatCategory,
	)
	return inv, nil
}

// FromDocument dispatches on the multi-invoice endpoint's classification.
func FromDocument(doc ocr.Document) (Invoice, error) {
	switch doc.Kind {
	case ocr.KindVATInvoice:
		return FromVATPages(doc.Pages)
	case ocr.KindTrainTicket:
		return FromTrainTicket(doc.Train)
	default:
		return Invoice{}, fmt.Errorf("unsupported document kind %q", doc.Kind)
	}
}

func deriveItemSummary(inv *Invoice) {
	first := inv.Items[0]
	if m := itemTagPattern.FindStringSubmatch(first.Name); m != nil {
		inv.ItemTag = m[1]
	}
	inv.ItemsBrief = first.Name
	if len(inv.Items) > 1 {
		inv.ItemsBrief += briefSuffix
	}
	inv.ItemsUnit = first.Unit
	inv.ItemNum = len(inv.Items)
	total := 0
	for _, it := range inv.Items {
		total += it.Quantity
	}
	inv.TotalItemsNum = total
}
