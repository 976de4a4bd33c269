package bitable

import (
	"strconv"
)

// The store serializes cell values by column type: text as a plain string or
// a segment list, numbers as floats, persons and attachments as object
// lists. These helpers pull the shapes apart; unknown shapes read as empty.

// Text extracts a text-ish cell as a string.
func Text(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any:
		out := ""
		for _, seg := range v {
			m, ok := seg.(map[string]any)
			if !ok {
				continue
			}
			if s, ok := m["text"].(string); ok {
				out += s
			}
		}
		return out
	default:
		return ""
	}
}

// PersonID extracts the first user id of a person cell.
func PersonID(fields map[string]any, key string) string {
	list, ok := fields[key].([]any)
	if !ok || len(list) == 0 {
		return ""
	}
	m, ok := list[0].(map[string]any)
	if !ok {
		return ""
	}
	if id, ok := m["id"].(string); ok {
		return id
	}
	return ""
}

// Person builds the wire shape of a person cell from a user id.
func Person(id string) []map[string]string {
	return []map[string]string{{"id": id, "type": "user"}}
}

// AttachmentRef is a file reference inside an attachment cell.
type AttachmentRef struct {
	FileToken string
	Type      string
}

// Attachments extracts the file references of an attachment cell.
func Attachments(fields map[string]any, key string) []AttachmentRef {
	list, ok := fields[key].([]any)
	if !ok {
		return nil
	}
	var out []AttachmentRef
	for _, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		ref := AttachmentRef{}
		if s, ok := m["file_token"].(string); ok {
			ref.FileToken = s
		}
		if s, ok := m["type"].(string); ok {
			ref.Type = s
		}
		if ref.FileToken != "" {
			out = append(out, ref)
		}
	}
	return out
}

// Number extracts a numeric cell, tolerating string-typed serializations.
func Number(fields map[string]any, key string) float64 {
	switch v := fields[key].(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// InvoiceTableFields is the typed schema of the invoice mirror table, used
// when bootstrapping it on the remote store.
func InvoiceTableFields() []FieldSpec {
	text := func(name string) FieldSpec { return FieldSpec{Name: name, Type: 1} }
	number := func(name string) FieldSpec {
		return FieldSpec{Name: name, Type: 2, Property: map[string]any{"formatter": "0.00"}}
	}
	person := func(name string) FieldSpec { return FieldSpec{Name: name, Type: 11} }
	return []FieldSpec{
		text("file_token"),
		person("uploader"),
		person("belonger"),
		text("type"),
		text("number"),
		text("date"),
		text("buyerName"),
		text("buyerTaxID"),
		text("sellerName"),
		text("sellerTaxID"),
		text("items_brief"),
		number("totalAmount"),
		text("error_message"),
		text("remark"),
		text("items"),
		number("item_num"),
		number("total_items_num"),
		text("items_unit"),
		{Name: "status", Type: 3, Property: map[string]any{
			"options": []map[string]string{{"name": "-2"}, {"name": "-1"}, {"name": "0"}},
		}},
	}
}
