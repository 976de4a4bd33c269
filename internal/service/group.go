package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Smoaflie/invoice-collection/internal/database/repository"
	"github.com/Smoaflie/invoice-collection/internal/invoice"
)

// GroupRequest describes a bulk status assignment: for the chosen invoice
// attribute, every value in Target maps matching invoices to a status.
type GroupRequest struct {
	Key    string         `json:"key"`
	Target map[string]int `json:"target"`
}

// groupKeyColumns maps the request's attribute names onto storage columns.
var groupKeyColumns = map[string]string{
	"file_token": "file_token",
	"number":     "number",
	"buyerName":  "buyer_name",
	"item_tag":   "item_tag",
	"items_unit": "items_unit",
	"date":       "date",
	"type":       "type",
}

// LoadGroupRequest reads and validates a grouping file.
func LoadGroupRequest(path string) (GroupRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return GroupRequest{}, err
	}
	var req GroupRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return GroupRequest{}, fmt.Errorf("parse group request: %w", err)
	}
	if req.Key == "" || len(req.Target) == 0 {
		return GroupRequest{}, fmt.Errorf("group request needs a key and at least one target")
	}
	if _, ok := groupKeyColumns[req.Key]; !ok {
		return GroupRequest{}, fmt.Errorf("unsupported grouping key %q", req.Key)
	}
	return req, nil
}

// GroupService applies bulk status assignments, e.g. marking a batch of
// invoices reimbursed once the finance office signs off.
type GroupService struct {
	Invoices *repository.InvoiceRepo
}

// Apply runs every target of the request and returns the number of invoices
// touched.
func (s *GroupService) Apply(ctx context.Context, req GroupRequest) (int64, error) {
	column, ok := groupKeyColumns[req.Key]
	if !ok {
		return 0, fmt.Errorf("unsupported grouping key %q", req.Key)
	}
	var total int64
	for value, status := range req.Target {
		n, err := s.Invoices.SetStatusWhere(ctx, column, value, invoice.Status(status))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
