package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/Smoaflie/invoice-collection/internal/database/repository"
	"github.com/Smoaflie/invoice-collection/internal/invoice"
)

// Rule is one custom validation check. Check returns the rejection reason, or
// ok for an accepted invoice.
type Rule interface {
	Check(inv invoice.Invoice) (reason string, ok bool)
}

// BuyerNameRule rejects invoices whose header is not made out to the expected
// buyer. Tolerance allows that many edits of OCR noise; the default 0 demands
// an exact match.
type BuyerNameRule struct {
	Expected  string
	Tolerance int
}

func (r BuyerNameRule) Check(inv invoice.Invoice) (string, bool) {
	if r.Expected == "" || inv.BuyerName == r.Expected {
		return "", true
	}
	if r.Tolerance > 0 && levenshtein.ComputeDistance(inv.BuyerName, r.Expected) <= r.Tolerance {
		return "", true
	}
	return "发票抬头不匹配", false
}

// ForbiddenKeywordRule rejects invoices whose item brief carries a
// non-reimbursable service keyword.
type ForbiddenKeywordRule struct {
	Keyword string
	Message string
}

func (r ForbiddenKeywordRule) Check(inv invoice.Invoice) (string, bool) {
	if r.Keyword == "" || !strings.Contains(inv.ItemsBrief, r.Keyword) {
		return "", true
	}
	msg := r.Message
	if msg == "" {
		msg = fmt.Sprintf("%s不允许报销", r.Keyword)
	}
	return msg, false
}

// ValidationService runs the custom rule set over invoices. A rejection marks
// the invoice with the validation-error status and the rule's message; the
// record stays in the store either way.
type ValidationService struct {
	Invoices *repository.InvoiceRepo
	Rules    []Rule
}

// Validate runs the rules in order and reports the first rejection.
func (s *ValidationService) Validate(inv invoice.Invoice) (string, bool) {
	for _, rule := range s.Rules {
		if reason, ok := rule.Check(inv); !ok {
			return reason, false
		}
	}
	return "", true
}

// RecheckResult summarizes a validation pass.
type RecheckResult struct {
	Checked  int
	Rejected int
}

// RecheckAll re-validates every invoice with a completed extraction.
// Rejections overwrite status and message; passes leave the record alone.
func (s *ValidationService) RecheckAll(ctx context.Context) (RecheckResult, error) {
	invoices, err := s.Invoices.ListProcessed(ctx)
	if err != nil {
		return RecheckResult{}, err
	}
	res := RecheckResult{}
	for _, inv := range invoices {
		res.Checked++
		reason, ok := s.Validate(inv)
		if ok {
			continue
		}
		res.Rejected++
		msg := reason
		if err := s.Invoices.SetStatus(ctx, inv.FileToken, invoice.StatusValidationError, &msg); err != nil {
			return res, fmt.Errorf("record rejection for %s: %w", inv.FileToken, err)
		}
	}
	return res, nil
}
