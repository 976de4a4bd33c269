package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/Smoaflie/invoice-collection/internal/bitable"
	"github.com/Smoaflie/invoice-collection/internal/database/repository"
	"github.com/Smoaflie/invoice-collection/internal/invoice"
)

// DefaultBatchSize is the remote store's batch ceiling per create/update call.
const DefaultBatchSize = 1000

// TableStore is the slice of the remote table store the sync engine needs.
type TableStore interface {
	SearchRecords(ctx context.Context, pageToken string) (records []bitable.Record, nextPageToken string, hasMore bool, err error)
	BatchCreateRecords(ctx context.Context, fields []map[string]any) error
	BatchUpdateRecords(ctx context.Context, updates []bitable.Record) error
	TableRevision(ctx context.Context) (int64, error)
}

// Direction is the chosen sync direction.
type Direction string

const (
	DirectionPush Direction = "push"
	DirectionPull Direction = "pull"
)

// SyncService keeps the local store and the remote invoice mirror table in
// step. The direction is picked by comparing the remote table's revision
// counter with the locally recorded one; ties push, since local is
// authoritative when nothing remote changed.
type SyncService struct {
	Invoices  *repository.InvoiceRepo
	Records   *repository.RemoteRecordRepo
	Revisions *repository.RevisionRepo
	Store     TableStore

	TableID   string
	BatchSize int
}

func (s *SyncService) batchSize() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return DefaultBatchSize
}

// AutoSync compares revisions, runs the selected direction, and persists the
// remote revision on success. A failed direction leaves the local revision
// untouched so the next run retries the same direction.
func (s *SyncService) AutoSync(ctx context.Context) (Direction, error) {
	remote, err := s.Store.TableRevision(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch remote revision: %w", err)
	}
	local, err := s.Revisions.Get(ctx, s.TableID)
	if err != nil {
		return "", fmt.Errorf("fetch local revision: %w", err)
	}
	log.Printf("revision local=%d remote=%d", local, remote)

	if local >= remote {
		if err := s.Push(ctx); err != nil {
			return DirectionPush, err
		}
		// Pushing bumped the remote revision; record the new value.
		after, err := s.Store.TableRevision(ctx)
		if err != nil {
			return DirectionPush, fmt.Errorf("refresh remote revision: %w", err)
		}
		return DirectionPush, s.Revisions.Set(ctx, s.TableID, after)
	}

	if err := s.Pull(ctx); err != nil {
		return DirectionPull, err
	}
	return DirectionPull, s.Revisions.Set(ctx, s.TableID, remote)
}

// Push projects every local invoice into the remote table. Invoices whose
// file token already has a remote record become updates carrying only the
// remote-authoritative fields; the rest become full-projection creates.
// Running push twice with no local change therefore creates nothing on the
// second run.
func (s *SyncService) Push(ctx context.Context) error {
	knownIDs, err := s.remoteRecordIDs(ctx)
	if err != nil {
		return err
	}

	invoices, err := s.Invoices.ListAll(ctx)
	if err != nil {
		return err
	}
	owners, err := s.Records.OwnersByFileToken(ctx, s.TableID)
	if err != nil {
		return err
	}

	var updates []bitable.Record
	var creates []map[string]any
	for _, inv := range invoices {
		if recordID, ok := knownIDs[inv.FileToken]; ok {
			fields := map[string]any{
				"status": strconv.Itoa(int(inv.Status)),
			}
			if inv.ErrorMessage != nil {
				fields["error_message"] = *inv.ErrorMessage
			}
			updates = append(updates, bitable.Record{RecordID: recordID, Fields: fields})
			continue
		}
		creates = append(creates, projectInvoice(inv, owners[inv.FileToken]))
	}

	size := s.batchSize()
	for len(updates) > 0 {
		n := min(size, len(updates))
		if err := s.Store.BatchUpdateRecords(ctx, updates[:n]); err != nil {
			return fmt.Errorf("push updates: %w", err)
		}
		updates = updates[n:]
	}
	for len(creates) > 0 {
		n := min(size, len(creates))
		if err := s.Store.BatchCreateRecords(ctx, creates[:n]); err != nil {
			return fmt.Errorf("push creates: %w", err)
		}
		creates = creates[n:]
	}
	return nil
}

// Pull copies the remote-authoritative fields (status, error message) onto
// matching local invoices. Remote records with no local match are ignored;
// pull never creates local rows.
func (s *SyncService) Pull(ctx context.Context) error {
	pageToken := ""
	for {
		records, next, hasMore, err := s.Store.SearchRecords(ctx, pageToken)
		if err != nil {
			return fmt.Errorf("pull records: %w", err)
		}
		for _, rec := range records {
			token := bitable.Text(rec.Fields, "file_token")
			if token == "" {
				continue
			}
			status, err := strconv.Atoi(bitable.Text(rec.Fields, "status"))
			if err != nil {
				status = int(invoice.StatusPending)
			}
			var msg *string
			if m := bitable.Text(rec.Fields, "error_message"); m != "" {
				msg = &m
			}
			if err := s.Invoices.SetStatus(ctx, token, invoice.Status(status), msg); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					continue
				}
				return fmt.Errorf("apply remote status for %s: %w", token, err)
			}
		}
		if !hasMore {
			break
		}
		pageToken = next
	}
	return nil
}

// remoteRecordIDs maps file tokens to their remote record ids by paging the
// whole mirror table.
func (s *SyncService) remoteRecordIDs(ctx context.Context) (map[string]string, error) {
	ids := make(map[string]string)
	pageToken := ""
	for {
		records, next, hasMore, err := s.Store.SearchRecords(ctx, pageToken)
		if err != nil {
			return nil, fmt.Errorf("list remote record ids: %w", err)
		}
		for _, rec := range records {
			if token := bitable.Text(rec.Fields, "file_token"); token != "" {
				ids[token] = rec.RecordID
			}
		}
		if !hasMore {
			break
		}
		pageToken = next
	}
	return ids, nil
}

// projectInvoice builds the remote field shape of one invoice. Empty strings
// are left out entirely: the remote schema treats absence as unset, and
// sending an empty value would clear the cell instead.
func projectInvoice(inv invoice.Invoice, owner repository.RemoteRecord) map[string]any {
	fields := map[string]any{
		"status":          strconv.Itoa(int(inv.Status)),
		"totalAmount":     decimalToFloat(inv),
		"item_num":        inv.ItemNum,
		"total_items_num": inv.TotalItemsNum,
	}
	setText := func(key, value string) {
		if value != "" {
			fields[key] = value
		}
	}
	setText("file_token", inv.FileToken)
	setText("type", inv.Type)
	setText("number", inv.Number)
	setText("date", inv.Date)
	setText("buyerName", inv.BuyerName)
	setText("buyerTaxID", inv.BuyerTaxID)
	setText("sellerName", inv.SellerName)
	setText("sellerTaxID", inv.SellerTaxID)
	setText("items_brief", inv.ItemsBrief)
	setText("items_unit", inv.ItemsUnit)
	setText("remark", inv.Remark)
	if inv.ErrorMessage != nil {
		setText("error_message", *inv.ErrorMessage)
	}
	if len(inv.Items) > 0 {
		type itemRow struct {
			Name      string `json:"name"`
			Kind      string `json:"type"`
			Unit      string `json:"unit"`
			Quantity  int    `json:"num"`
			UnitPrice string `json:"unit_price"`
			Amount    string `json:"amount"`
			TaxRate   string `json:"tax_rate"`
			Tax       string `json:"tax"`
		}
		rows := make([]itemRow, 0, len(inv.Items))
		for _, it := range inv.Items {
			rows = append(rows, itemRow{
				Name:      it.Name,
				Kind:      it.Kind,
				Unit:      it.Unit,
				Quantity:  it.Quantity,
				UnitPrice: it.UnitPrice.String(),
				Amount:    it.Amount.String(),
				TaxRate:   it.TaxRate,
				Tax:       it.Tax.String(),
			})
		}
		if encoded, err := json.Marshal(rows); err == nil {
			fields["items"] = string(encoded)
		}
	}
	if owner.UploaderID != "" {
		fields["uploader"] = bitable.Person(owner.UploaderID)
	}
	if owner.BelongerID != "" {
		fields["belonger"] = bitable.Person(owner.BelongerID)
	}
	return fields
}

func decimalToFloat(inv invoice.Invoice) float64 {
	f, _ := inv.TotalAmount.Float64()
	return f
}
