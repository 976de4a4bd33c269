package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Smoaflie/invoice-collection/internal/database"
)

// MaintenanceService houses destructive ops actions on the local store.
type MaintenanceService struct {
	DB *sql.DB
}

// Reset wipes every extracted invoice, mirror row and revision marker. The
// schema stays intact; the next fetch rebuilds the store from the remote table.
func (s *MaintenanceService) Reset(ctx context.Context) error {
	if s.DB == nil {
		return fmt.Errorf("maintenance: db not configured")
	}
	if err := database.WithTx(s.DB, func(tx *sql.Tx) error {
		tables := []string{
			"invoice_items",
			"invoices",
			"remote_records",
			"remote_table_revision",
		}
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("reset table %s: %w", t, err)
			}
		}
		return nil
	}); err != nil {
		return err
	}
	_, _ = s.DB.ExecContext(ctx, "VACUUM")
	return nil
}
