package ocr

import (
	"encoding/json"
)

// Vendor keys for the commodity table columns and the document scalars.
// Anything outside these sets is ignored.

func decodePage(raw json.RawMessage) Page {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Page{}
	}
	return decodeFields(fields)
}

func decodeFields(fields map[string]json.RawMessage) Page {
	return Page{
		Document: DocumentFields{
			Type:              wordOf(fields["InvoiceType"]),
			Code:              wordOf(fields["InvoiceCode"]),
			Number:            wordOf(fields["InvoiceNum"]),
			Date:              wordOf(fields["InvoiceDate"]),
			MachineCode:       wordOf(fields["MachineCode"]),
			Password:          wordOf(fields["Password"]),
			VerificationCode:  wordOf(fields["CheckCode"]),
			TotalAmount:       wordOf(fields["AmountInFiguers"]),
			Amount:            wordOf(fields["TotalAmount"]),
			TaxAmount:         wordOf(fields["TotalTax"]),
			SellerTaxID:       wordOf(fields["SellerRegisterNum"]),
			SellerName:        wordOf(fields["SellerName"]),
			SellerAddress:     wordOf(fields["SellerAddress"]),
			SellerBankAccount: wordOf(fields["SellerBank"]),
			BuyerTaxID:        wordOf(fields["PurchaserRegisterNum"]),
			BuyerName:         wordOf(fields["PurchaserName"]),
			BuyerAddress:      wordOf(fields["PurchaserAddress"]),
			BuyerBankAccount:  wordOf(fields["PurchaserBank"]),
			Payee:             wordOf(fields["Payee"]),
			Reviewer:          wordOf(fields["reviewer"]), // vendor casing: this one key is lowercase
			NoteDrawer:        wordOf(fields["NoteDrawer"]),
			Remark:            wordOf(fields["Remarks"]),
		},
		Columns: ItemColumns{
			Name:      cellsOf(fields["CommodityName"]),
			Kind:      cellsOf(fields["CommodityType"]),
			Unit:      cellsOf(fields["CommodityUnit"]),
			Quantity:  cellsOf(fields["CommodityNum"]),
			UnitPrice: cellsOf(fields["CommodityPrice"]),
			Amount:    cellsOf(fields["CommodityAmount"]),
			TaxRate:   cellsOf(fields["CommodityTaxRate"]),
			Tax:       cellsOf(fields["CommodityTax"]),
		},
	}
}

func decodeTrainTicket(fields map[string]json.RawMessage) TrainTicket {
	return TrainTicket{
		Number:        wordOf(fields["invoice_num"]),
		Date:          wordOf(fields["date"]),
		BuyerName:     wordOf(fields["purchaser_name"]),
		BuyerTaxID:    wordOf(fields["purchaser_register_num"]),
		Fare:          wordOf(fields["ticket_rates"]),
		ETicketNumber: wordOf(fields["elec_ticket_num"]),
		From:          wordOf(fields["starting_station"]),
		To:            wordOf(fields["destination_station"]),
		Passenger:     wordOf(fields["name"]),
		TrainNumber:   wordOf(fields["train_num"]),
		Departure:     wordOf(fields["time"]),
		SeatNumber:    wordOf(fields["seat_num"]),
		SeatCategory:  wordOf(fields["seat_category"]),
	}
}

// wordOf extracts a scalar field the vendor serializes either as a plain
// string or as a one-element [{"word": ...}] list.
func wordOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var entries []struct {
		Word string `json:"word"`
	}
	if err := json.Unmarshal(raw, &entries); err == nil {
		if len(entries) == 0 {
			return ""
		}
		return entries[0].Word
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// cellsOf decodes a sparse column list. Row indices arrive as quoted strings.
func cellsOf(raw json.RawMessage) []Cell {
	if len(raw) == 0 {
		return nil
	}
	var entries []struct {
		Row  json.RawMessage `json:"row"`
		Word string          `json:"word"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	cells := make([]Cell, 0, len(entries))
	for _, e := range entries {
		cells = append(cells, Cell{Row: atoiLoose(e.Row), Word: e.Word})
	}
	return cells
}
