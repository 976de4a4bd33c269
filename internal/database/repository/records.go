package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Attachment is one invoice file referenced from a remote record.
type Attachment struct {
	FileToken string `json:"file_token"`
	Type      string `json:"type"`
}

// RemoteRecord mirrors one row of the remote reimbursement table.
type RemoteRecord struct {
	UID         string // "<table_id>_<record_id>"
	TableID     string
	RecordID    string
	UploaderID  string
	BelongerID  string
	Attachments []Attachment
}

// RemoteRecordRepo owns the remote_records mirror table.
type RemoteRecordRepo struct {
	db *sql.DB
}

func NewRemoteRecordRepo(db *sql.DB) *RemoteRecordRepo { return &RemoteRecordRepo{db: db} }

// ReplaceForTable refreshes the mirror of one remote table. The previous
// snapshot is dropped first so deleted remote rows do not linger.
func (r *RemoteRecordRepo) ReplaceForTable(ctx context.Context, tableID string, records []RemoteRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM remote_records WHERE table_id = ?`, tableID); err != nil {
		return err
	}
	for _, rec := range records {
		attachments, err := json.Marshal(rec.Attachments)
		if err != nil {
			return err
		}
		uid := rec.UID
		if uid == "" {
			uid = fmt.Sprintf("%s_%s", tableID, rec.RecordID)
		}
		_, err = tx.ExecContext(ctx, `
		INSERT INTO remote_records(uid, table_id, record_id, uploader_id, belonger_id, attachments)
		VALUES(?, ?, ?, ?, ?, ?);
		`, uid, tableID, rec.RecordID, rec.UploaderID, rec.BelongerID, string(attachments))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListForTable returns the mirrored records of one remote table.
func (r *RemoteRecordRepo) ListForTable(ctx context.Context, tableID string) ([]RemoteRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT uid, table_id, record_id, uploader_id, belonger_id, attachments
	FROM remote_records WHERE table_id = ? ORDER BY uid`, tableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RemoteRecord
	for rows.Next() {
		var rec RemoteRecord
		var attachments string
		if err := rows.Scan(&rec.UID, &rec.TableID, &rec.RecordID, &rec.UploaderID, &rec.BelongerID, &attachments); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attachments), &rec.Attachments); err != nil {
			return nil, fmt.Errorf("repository: decode attachments for %s: %w", rec.UID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// OwnersByFileToken maps each attached file token to the uploader/belonger of
// the record carrying it, for the push projection's person fields.
func (r *RemoteRecordRepo) OwnersByFileToken(ctx context.Context, tableID string) (map[string]RemoteRecord, error) {
	records, err := r.ListForTable(ctx, tableID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]RemoteRecord)
	for _, rec := range records {
		for _, a := range rec.Attachments {
			if _, seen := out[a.FileToken]; !seen {
				out[a.FileToken] = rec
			}
		}
	}
	return out, nil
}
