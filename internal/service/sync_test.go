package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Smoaflie/invoice-collection/internal/bitable"
	"github.com/Smoaflie/invoice-collection/internal/invoice"
)

func newSyncService(r testRepos, store *fakeStore) *SyncService {
	return &SyncService{
		Invoices:  r.Invoices,
		Records:   r.Records,
		Revisions: r.Revisions,
		Store:     store,
		TableID:   "tblTest",
	}
}

func TestAutoSyncDirection(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	t.Run("remote ahead pulls", func(t *testing.T) {
		t.Parallel()
		r := openTestRepos(t)
		store := &fakeStore{revision: 7}
		require.NoError(t, r.Revisions.Set(ctx, "tblTest", 5))

		direction, err := newSyncService(r, store).AutoSync(ctx)
		require.NoError(t, err)
		require.Equal(t, DirectionPull, direction)

		v, err := r.Revisions.Get(ctx, "tblTest")
		require.NoError(t, err)
		require.EqualValues(t, 7, v)
	})

	t.Run("local ahead pushes", func(t *testing.T) {
		t.Parallel()
		r := openTestRepos(t)
		store := &fakeStore{revision: 5}
		require.NoError(t, r.Revisions.Set(ctx, "tblTest", 7))

		direction, err := newSyncService(r, store).AutoSync(ctx)
		require.NoError(t, err)
		require.Equal(t, DirectionPush, direction)
	})

	t.Run("tie pushes", func(t *testing.T) {
		t.Parallel()
		r := openTestRepos(t)
		store := &fakeStore{revision: 3}
		require.NoError(t, r.Revisions.Set(ctx, "tblTest", 3))

		direction, err := newSyncService(r, store).AutoSync(ctx)
		require.NoError(t, err)
		require.Equal(t, DirectionPush, direction)
	})
}

func TestPushIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r := openTestRepos(t)
	store := &fakeStore{}

	for i := 1; i <= 2; i++ {
		require.NoError(t, r.Invoices.Upsert(ctx, invoice.Invoice{
			FileToken: fmt.Sprintf("tok_%d", i),
			Number:    fmt.Sprintf("2544900%d", i),
			Processed: true,
		}))
	}

	svc := newSyncService(r, store)

	direction, err := svc.AutoSync(ctx)
	require.NoError(t, err)
	require.Equal(t, DirectionPush, direction)
	require.Len(t, store.createBatches, 1)
	require.Len(t, store.createBatches[0], 2)
	require.Empty(t, store.updateBatches)

	// Second push with no local change: every token is known remotely, so
	// nothing is created and the updates carry only the authoritative fields.
	direction, err = svc.AutoSync(ctx)
	require.NoError(t, err)
	require.Equal(t, DirectionPush, direction)
	require.Len(t, store.createBatches, 1)
	require.Len(t, store.updateBatches, 1)
	for _, upd := range store.updateBatches[0] {
		require.Contains(t, upd.Fields, "status")
		require.NotContains(t, upd.Fields, "number")
		require.NotContains(t, upd.Fields, "totalAmount")
	}
}

func TestPushChunksBatches(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r := openTestRepos(t)
	store := &fakeStore{}

	for i := 1; i <= 5; i++ {
		require.NoError(t, r.Invoices.Upsert(ctx, invoice.Invoice{
			FileToken: fmt.Sprintf("tok_%d", i),
			Number:    fmt.Sprintf("n%d", i),
			Processed: true,
		}))
	}

	svc := newSyncService(r, store)
	svc.BatchSize = 2
	require.NoError(t, svc.Push(ctx))

	require.Len(t, store.createBatches, 3)
	require.Len(t, store.createBatches[0], 2)
	require.Len(t, store.createBatches[1], 2)
	require.Len(t, store.createBatches[2], 1)
}

func TestAutoSyncFailureLeavesRevisionStale(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r := openTestRepos(t)
	store := &fakeStore{revision: 3, createErr: fmt.Errorf("store unavailable")}
	require.NoError(t, r.Revisions.Set(ctx, "tblTest", 3))

	require.NoError(t, r.Invoices.Upsert(ctx, invoice.Invoice{
		FileToken: "tok_x", Number: "nx", Processed: true,
	}))

	direction, err := newSyncService(r, store).AutoSync(ctx)
	require.Error(t, err)
	require.Equal(t, DirectionPush, direction)

	// The stale revision makes the next run retry the push.
	v, err := r.Revisions.Get(ctx, "tblTest")
	require.NoError(t, err)
	require.EqualValues(t, 3, v)
}

func TestPullAppliesRemoteStatus(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r := openTestRepos(t)

	require.NoError(t, r.Invoices.Upsert(ctx, invoice.Invoice{
		FileToken: "tok_p", Number: "np", Processed: true,
	}))

	store := &fakeStore{
		revision: 9,
		records: []bitable.Record{
			{RecordID: "rec1", Fields: map[string]any{
				"file_token":    "tok_p",
				"status":        "-2",
				"error_message": "发票抬头不匹配",
			}},
			// No local row for this token; pull skips it.
			{RecordID: "rec2", Fields: map[string]any{
				"file_token": "tok_ghost",
				"status":     "0",
			}},
			// Rows with no token, e.g. manual additions, are ignored.
			{RecordID: "rec3", Fields: map[string]any{"status": "0"}},
		},
	}

	direction, err := newSyncService(r, store).AutoSync(ctx)
	require.NoError(t, err)
	require.Equal(t, DirectionPull, direction)

	got, err := r.Invoices.Get(ctx, "tok_p")
	require.NoError(t, err)
	require.Equal(t, invoice.StatusValidationError, got.Status)
	require.NotNil(t, got.ErrorMessage)
	require.Equal(t, "发票抬头不匹配", *got.ErrorMessage)

	v, err := r.Revisions.Get(ctx, "tblTest")
	require.NoError(t, err)
	require.EqualValues(t, 9, v)
}

func TestProjectInvoiceShape(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r := openTestRepos(t)
	store := &fakeStore{}

	msg := "会议费不允许报销"
	total := decimal.RequireFromString("1000.00")
	inv := invoice.Invoice{
		FileToken:    "tok_proj",
		Number:       "25449055",
		BuyerName:    "某某科技有限公司",
		TotalAmount:  total,
		ItemsBrief:   "*会议费*会议服务",
		ItemNum:      1,
		Status:       invoice.StatusValidationError,
		ErrorMessage: &msg,
		Processed:    true,
		Items: []invoice.Item{{
			Name: "*会议费*会议服务", Quantity: 1,
			Amount: total,
		}},
	}
	require.NoError(t, r.Invoices.Upsert(ctx, inv))

	require.NoError(t, newSyncService(r, store).Push(ctx))
	require.Len(t, store.createBatches, 1)

	fields := store.createBatches[0][0]
	require.Equal(t, "-2", fields["status"])
	require.Equal(t, 1000.0, fields["totalAmount"])
	require.Equal(t, "25449055", fields["number"])
	require.Equal(t, msg, fields["error_message"])
	require.Contains(t, fields, "items")
	// Empty scalars are omitted, never sent as "".
	require.NotContains(t, fields, "sellerName")
	require.NotContains(t, fields, "remark")
}
