package repository

import (
	"context"
	"database/sql"
)

// RevisionRepo owns the remote_table_revision table: one revision value per
// tracked remote table.
type RevisionRepo struct {
	db *sql.DB
}

func NewRevisionRepo(db *sql.DB) *RevisionRepo { return &RevisionRepo{db: db} }

// Get returns the locally recorded revision for tableID. An unseen table is
// registered at revision 0 and 0 is returned.
func (r *RevisionRepo) Get(ctx context.Context, tableID string) (int64, error) {
	var value int64
	err := r.db.QueryRowContext(ctx, `SELECT value FROM remote_table_revision WHERE table_id = ?`, tableID).Scan(&value)
	if err == sql.ErrNoRows {
		if _, err := r.db.ExecContext(ctx, `INSERT INTO remote_table_revision(table_id, value) VALUES(?, 0)`, tableID); err != nil {
			return 0, err
		}
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

// Set records the revision observed after a successful sync.
func (r *RevisionRepo) Set(ctx context.Context, tableID string, value int64) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO remote_table_revision(table_id, value) VALUES(?, ?)
	ON CONFLICT(table_id) DO UPDATE SET value = excluded.value`, tableID, value)
	return err
}
