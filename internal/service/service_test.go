package service

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Smoaflie/invoice-collection/internal/bitable"
	"github.com/Smoaflie/invoice-collection/internal/database"
	"github.com/Smoaflie/invoice-collection/internal/database/repository"
	"github.com/Smoaflie/invoice-collection/internal/ocr"
)

type testRepos struct {
	Invoices  *repository.InvoiceRepo
	Records   *repository.RemoteRecordRepo
	Revisions *repository.RevisionRepo
}

func openTestRepos(t *testing.T) testRepos {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	migrations, err := filepath.Abs("../database/migrations")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(dbPath, migrations))

	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return testRepos{
		Invoices:  repository.NewInvoiceRepo(db),
		Records:   repository.NewRemoteRecordRepo(db),
		Revisions: repository.NewRevisionRepo(db),
	}
}

// fakeStore stands in for the remote table store. Every create or update
// bumps the revision, the way edits move the real store's counter.
type fakeStore struct {
	revision int64
	records  []bitable.Record
	media    map[string][]byte

	createBatches [][]map[string]any
	updateBatches [][]bitable.Record

	createErr error
	updateErr error
}

func (f *fakeStore) SearchRecords(ctx context.Context, pageToken string) ([]bitable.Record, string, bool, error) {
	return f.records, "", false, nil
}

func (f *fakeStore) BatchCreateRecords(ctx context.Context, fields []map[string]any) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.createBatches = append(f.createBatches, fields)
	for _, fl := range fields {
		f.records = append(f.records, bitable.Record{
			RecordID: fmt.Sprintf("rec%d", len(f.records)+1),
			Fields:   fl,
		})
	}
	f.revision++
	return nil
}

func (f *fakeStore) BatchUpdateRecords(ctx context.Context, updates []bitable.Record) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updateBatches = append(f.updateBatches, updates)
	f.revision++
	return nil
}

func (f *fakeStore) TableRevision(ctx context.Context) (int64, error) {
	return f.revision, nil
}

func (f *fakeStore) DownloadMedia(ctx context.Context, fileToken string) ([]byte, error) {
	data, ok := f.media[fileToken]
	if !ok {
		return nil, fmt.Errorf("no media for %s", fileToken)
	}
	return data, nil
}

func (f *fakeStore) TmpDownloadURL(ctx context.Context, fileToken string) (string, error) {
	return "https://example.invalid/tmp/" + fileToken, nil
}

// fakeExtractor keys recognition results off the payload bytes.
type fakeExtractor struct {
	vat      map[string][]ocr.Page
	vatErr   map[string]error
	multi    map[string]ocr.Document
	multiErr map[string]error

	vatCalls   int
	multiCalls int
}

func (f *fakeExtractor) RecognizeVAT(ctx context.Context, kind ocr.FileKind, data []byte) ([]ocr.Page, error) {
	f.vatCalls++
	if err, ok := f.vatErr[string(data)]; ok {
		return nil, err
	}
	pages, ok := f.vat[string(data)]
	if !ok {
		return nil, fmt.Errorf("unrecognizable payload")
	}
	return pages, nil
}

func (f *fakeExtractor) RecognizeMulti(ctx context.Context, kind ocr.FileKind, data []byte) (ocr.Document, error) {
	f.multiCalls++
	if err, ok := f.multiErr[string(data)]; ok {
		return ocr.Document{}, err
	}
	doc, ok := f.multi[string(data)]
	if !ok {
		return ocr.Document{}, fmt.Errorf("unclassifiable payload")
	}
	return doc, nil
}

// singleItemPages builds a one-item VAT result, enough for flow tests.
func singleItemPages(number, total, buyer string) []ocr.Page {
	return []ocr.Page{{
		Document: ocr.DocumentFields{
			Number:      number,
			TotalAmount: total,
			BuyerName:   buyer,
		},
		Columns: ocr.ItemColumns{
			Name:     []ocr.Cell{{Row: 0, Word: "*会议费*会议服务"}},
			Quantity: []ocr.Cell{{Row: 0, Word: "1"}},
			Amount:   []ocr.Cell{{Row: 0, Word: total}},
		},
	}}
}
