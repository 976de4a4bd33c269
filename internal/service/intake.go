package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/Smoaflie/invoice-collection/internal/bitable"
	"github.com/Smoaflie/invoice-collection/internal/database/repository"
	"github.com/Smoaflie/invoice-collection/internal/invoice"
	"github.com/Smoaflie/invoice-collection/internal/ocr"
)

// RecordSource is the slice of the remote table store the intake flow needs.
type RecordSource interface {
	SearchRecords(ctx context.Context, pageToken string) (records []bitable.Record, nextPageToken string, hasMore bool, err error)
	DownloadMedia(ctx context.Context, fileToken string) ([]byte, error)
	BatchUpdateRecords(ctx context.Context, updates []bitable.Record) error
	TmpDownloadURL(ctx context.Context, fileToken string) (string, error)
}

// RecordColumns names the source table's columns of interest.
type RecordColumns struct {
	Uploader string // person who filed the reimbursement row
	Belonger string // person reimbursed
	Invoices string // attachment column holding the invoice files
	Amount   string // write-back: approved amount
	Remarks  string // write-back: per-file error summary
}

// OutcomeKind classifies the expected results of processing one file.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeDuplicate
	OutcomeFailed
)

// Outcome is the per-file result. Duplicate and Failed are expected
// outcomes, not faults; Err carries the extraction failure for Failed.
type Outcome struct {
	Kind        OutcomeKind
	DuplicateOf string
	Err         error
}

// IntakeService walks the remote reimbursement table, extracts each attached
// invoice file through OCR and persists the results.
type IntakeService struct {
	Invoices  *repository.InvoiceRepo
	Records   *repository.RemoteRecordRepo
	Source    RecordSource
	OCR       ocr.Extractor
	Validator *ValidationService

	TableID     string
	Columns     RecordColumns
	UseFallback bool
}

// FetchAll mirrors the remote records, processes every unprocessed invoice
// file, runs the validation pass, and writes per-record aggregates back to
// the source table.
func (s *IntakeService) FetchAll(ctx context.Context) error {
	records, err := s.mirrorRecords(ctx)
	if err != nil {
		return err
	}
	log.Printf("fetched %d records from table %s", len(records), s.TableID)

	for _, rec := range records {
		for _, att := range rec.Attachments {
			processed, err := s.Invoices.IsProcessed(ctx, att.FileToken)
			if err != nil {
				return err
			}
			if processed {
				continue
			}
			data, err := s.Source.DownloadMedia(ctx, att.FileToken)
			if err != nil {
				return fmt.Errorf("download %s: %w", att.FileToken, err)
			}
			outcome := s.ProcessFile(ctx, att.FileToken, att.Type, data)
			switch outcome.Kind {
			case OutcomeDuplicate:
				log.Printf("file %s duplicates %s", att.FileToken, outcome.DuplicateOf)
			case OutcomeFailed:
				link, _ := s.Source.TmpDownloadURL(ctx, att.FileToken)
				log.Printf("file %s could not be processed: %v (inspect: %s)", att.FileToken, outcome.Err, link)
			}
		}
	}

	if s.Validator != nil {
		res, err := s.Validator.RecheckAll(ctx)
		if err != nil {
			return err
		}
		log.Printf("validated %d invoices, %d rejected", res.Checked, res.Rejected)
	}

	return s.updateSourceRecords(ctx, records)
}

func (s *IntakeService) mirrorRecords(ctx context.Context) ([]repository.RemoteRecord, error) {
	var out []repository.RemoteRecord
	pageToken := ""
	for {
		records, next, hasMore, err := s.Source.SearchRecords(ctx, pageToken)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			mirror := repository.RemoteRecord{
				UID:        fmt.Sprintf("%s_%s", s.TableID, rec.RecordID),
				TableID:    s.TableID,
				RecordID:   rec.RecordID,
				UploaderID: bitable.PersonID(rec.Fields, s.Columns.Uploader),
				BelongerID: bitable.PersonID(rec.Fields, s.Columns.Belonger),
			}
			for _, ref := range bitable.Attachments(rec.Fields, s.Columns.Invoices) {
				mirror.Attachments = append(mirror.Attachments, repository.Attachment{
					FileToken: ref.FileToken,
					Type:      ref.Type,
				})
			}
			out = append(out, mirror)
		}
		if !hasMore {
			break
		}
		pageToken = next
	}
	if err := s.Records.ReplaceForTable(ctx, s.TableID, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ProcessFile extracts one invoice file and persists the result. The primary
// VAT endpoint runs first; when it fails and the fallback is enabled, the
// classifying endpoint gets a try. A file that defeats both is recorded
// unprocessed with the failure message so it is retried on the next run.
func (s *IntakeService) ProcessFile(ctx context.Context, fileToken, fileType string, data []byte) Outcome {
	kind, err := fileKindOf(fileType)
	if err != nil {
		return s.recordFailure(ctx, fileToken, fmt.Errorf("this file cannot be processed: %w", err))
	}

	inv, err := s.extractPrimary(ctx, kind, data)
	if err == nil {
		return s.persist(ctx, fileToken, inv)
	}
	log.Printf("primary OCR failed for file %s: %v", fileToken, err)

	if !s.UseFallback {
		return s.recordFailure(ctx, fileToken, fmt.Errorf("this file cannot be processed: %w", err))
	}

	inv, err = s.extractFallback(ctx, kind, data)
	if err != nil {
		return s.recordFailure(ctx, fileToken, fmt.Errorf("fallback OCR failed: %w", err))
	}
	return s.persist(ctx, fileToken, inv)
}

func (s *IntakeService) extractPrimary(ctx context.Context, kind ocr.FileKind, data []byte) (invoice.Invoice, error) {
	pages, err := s.OCR.RecognizeVAT(ctx, kind, data)
	if err != nil {
		return invoice.Invoice{}, err
	}
	return invoice.FromVATPages(pages)
}

func (s *IntakeService) extractFallback(ctx context.Context, kind ocr.FileKind, data []byte) (invoice.Invoice, error) {
	doc, err := s.OCR.RecognizeMulti(ctx, kind, data)
	if err != nil {
		return invoice.Invoice{}, err
	}
	return invoice.FromDocument(doc)
}

// persist runs the duplicate gate and stores the extraction. A duplicate is
// stored processed with an error message referencing the clean prior record,
// so the same physical invoice uploaded twice never counts twice.
func (s *IntakeService) persist(ctx context.Context, fileToken string, inv invoice.Invoice) Outcome {
	inv.FileToken = fileToken
	inv.Processed = true

	priorToken, found, err := s.Invoices.FindCleanByNumber(ctx, inv.Number)
	if err != nil {
		return Outcome{Kind: OutcomeFailed, Err: err}
	}
	if found && priorToken != fileToken {
		msg := fmt.Sprintf("This file has been processed in file_token: %s", priorToken)
		inv.Status = invoice.StatusParseError
		inv.ErrorMessage = &msg
		if err := s.Invoices.Upsert(ctx, inv); err != nil {
			return Outcome{Kind: OutcomeFailed, Err: err}
		}
		return Outcome{Kind: OutcomeDuplicate, DuplicateOf: priorToken}
	}

	inv.Status = invoice.StatusPending
	if err := s.Invoices.Upsert(ctx, inv); err != nil {
		return Outcome{Kind: OutcomeFailed, Err: err}
	}
	return Outcome{Kind: OutcomeOK}
}

func (s *IntakeService) recordFailure(ctx context.Context, fileToken string, cause error) Outcome {
	msg := cause.Error()
	inv := invoice.Invoice{
		FileToken:    fileToken,
		Status:       invoice.StatusParseError,
		ErrorMessage: &msg,
		Processed:    false,
	}
	if err := s.Invoices.Upsert(ctx, inv); err != nil {
		return Outcome{Kind: OutcomeFailed, Err: err}
	}
	return Outcome{Kind: OutcomeFailed, Err: cause}
}

// updateSourceRecords writes each record's approved amount (sum of its clean
// invoices) and error remarks back to the source table.
func (s *IntakeService) updateSourceRecords(ctx context.Context, records []repository.RemoteRecord) error {
	updates := make([]bitable.Record, 0, len(records))
	for _, rec := range records {
		total := 0.0
		remarks := ""
		for index, att := range rec.Attachments {
			inv, err := s.Invoices.Get(ctx, att.FileToken)
			if err != nil {
				return err
			}
			if inv == nil {
				continue
			}
			if inv.ErrorMessage != nil {
				remarks += fmt.Sprintf("file index {%d}: %s; \n", index+1, *inv.ErrorMessage)
			} else {
				f, _ := inv.TotalAmount.Float64()
				total += f
			}
		}
		updates = append(updates, bitable.Record{
			RecordID: rec.RecordID,
			Fields: map[string]any{
				s.Columns.Amount:  total,
				s.Columns.Remarks: remarks,
			},
		})
	}
	if len(updates) == 0 {
		return nil
	}
	if err := s.Source.BatchUpdateRecords(ctx, updates); err != nil {
		return fmt.Errorf("update source records: %w", err)
	}
	log.Printf("updated %d source records", len(updates))
	return nil
}

func fileKindOf(fileType string) (ocr.FileKind, error) {
	switch {
	case strings.Contains(fileType, "image"):
		return ocr.FileImage, nil
	case strings.Contains(fileType, "pdf"):
		return ocr.FilePDF, nil
	default:
		return "", fmt.Errorf("unsupported file type %q", fileType)
	}
}
