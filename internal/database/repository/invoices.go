package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Smoaflie/invoice-collection/internal/invoice"
)

// InvoiceRepo owns the invoices and invoice_items tables.
type InvoiceRepo struct {
	db *sql.DB
}

func NewInvoiceRepo(db *sql.DB) *InvoiceRepo { return &InvoiceRepo{db: db} }

const invoiceColumns = `file_token, number, type, code, date, machine_code, password, verification_code,
 seller_name, seller_tax_id, seller_address, seller_bank_account,
 buyer_name, buyer_tax_id, buyer_address, buyer_bank_account,
 payee, reviewer, note_drawer, remark,
 amount, tax_amount, total_amount,
 items_brief, items_unit, item_tag, item_num, total_items_num,
 status, error_message, processed`

// Upsert writes the invoice header and replaces its item rows. A re-parse of
// the same file token overwrites the previous attempt.
func (r *InvoiceRepo) Upsert(ctx context.Context, inv invoice.Invoice) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO invoices(`+invoiceColumns+`, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	ON CONFLICT(file_token) DO UPDATE SET
	 number=excluded.number, type=excluded.type, code=excluded.code, date=excluded.date,
	 machine_code=excluded.machine_code, password=excluded.password, verification_code=excluded.verification_code,
	 seller_name=excluded.seller_name, seller_tax_id=excluded.seller_tax_id,
	 seller_address=excluded.seller_address, seller_bank_account=excluded.seller_bank_account,
	 buyer_name=excluded.buyer_name, buyer_tax_id=excluded.buyer_tax_id,
	 buyer_address=excluded.buyer_address, buyer_bank_account=excluded.buyer_bank_account,
	 payee=excluded.payee, reviewer=excluded.reviewer, note_drawer=excluded.note_drawer, remark=excluded.remark,
	 amount=excluded.amount, tax_amount=excluded.tax_amount, total_amount=excluded.total_amount,
	 items_brief=excluded.items_brief, items_unit=excluded.items_unit, item_tag=excluded.item_tag,
	 item_num=excluded.item_num, total_items_num=excluded.total_items_num,
	 status=excluded.status, error_message=excluded.error_message, processed=excluded.processed,
	 updated_at=CURRENT_TIMESTAMP;
	`,
		inv.FileToken, inv.Number, inv.Type, inv.Code, inv.Date, inv.MachineCode, inv.Password, inv.VerificationCode,
		inv.SellerName, inv.SellerTaxID, inv.SellerAddress, inv.SellerBankAccount,
		inv.BuyerName, inv.BuyerTaxID, inv.BuyerAddress, inv.BuyerBankAccount,
		inv.Payee, inv.Reviewer, inv.NoteDrawer, inv.Remark,
		inv.Amount.String(), inv.TaxAmount.String(), inv.TotalAmount.String(),
		inv.ItemsBrief, inv.ItemsUnit, inv.ItemTag, inv.ItemNum, inv.TotalItemsNum,
		int(inv.Status), inv.ErrorMessage, boolToInt(inv.Processed))
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM invoice_items WHERE invoice_file_token = ?`, inv.FileToken); err != nil {
		return err
	}
	for i, it := range inv.Items {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO invoice_items(id, invoice_file_token, position, name, kind, unit, quantity, unit_price, amount, tax_rate, tax)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
		`, uuid.NewString(), inv.FileToken, i, it.Name, it.Kind, it.Unit, it.Quantity,
			it.UnitPrice.String(), it.Amount.String(), it.TaxRate, it.Tax.String())
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Get returns the invoice stored for fileToken, nil when absent.
func (r *InvoiceRepo) Get(ctx context.Context, fileToken string) (*invoice.Invoice, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE file_token = ?`, fileToken)
	inv, err := scanInvoice(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	items, err := r.fetchItems(ctx, inv.FileToken)
	if err != nil {
		return nil, err
	}
	inv.Items = items
	return &inv, nil
}

// FindCleanByNumber implements the duplicate lookup: the file token of the
// first record carrying the number with no error_message. Errored priors do
// not block reprocessing.
func (r *InvoiceRepo) FindCleanByNumber(ctx context.Context, number string) (string, bool, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT file_token, error_message FROM invoices WHERE number = ? ORDER BY created_at, file_token`, number)
	if err != nil {
		return "", false, err
	}
	defer rows.Close()
	for rows.Next() {
		var token string
		var msg sql.NullString
		if err := rows.Scan(&token, &msg); err != nil {
			return "", false, err
		}
		if !msg.Valid || msg.String == "" {
			return token, true, nil
		}
	}
	return "", false, rows.Err()
}

// IsProcessed reports whether the file token has a completed extraction.
func (r *InvoiceRepo) IsProcessed(ctx context.Context, fileToken string) (bool, error) {
	var processed int
	err := r.db.QueryRowContext(ctx, `SELECT processed FROM invoices WHERE file_token = ?`, fileToken).Scan(&processed)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return processed != 0, nil
}

// ListAll returns every stored invoice with its items, insertion order.
func (r *InvoiceRepo) ListAll(ctx context.Context) ([]invoice.Invoice, error) {
	return r.list(ctx, ``)
}

// ListProcessed returns invoices whose extraction completed, for validation
// re-runs.
func (r *InvoiceRepo) ListProcessed(ctx context.Context) ([]invoice.Invoice, error) {
	return r.list(ctx, ` WHERE processed = 1`)
}

func (r *InvoiceRepo) list(ctx context.Context, where string) ([]invoice.Invoice, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+invoiceColumns+` FROM invoices`+where+` ORDER BY created_at, file_token`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []invoice.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		items, err := r.fetchItems(ctx, out[i].FileToken)
		if err != nil {
			return nil, err
		}
		out[i].Items = items
	}
	return out, nil
}

// SetStatus records a status transition with an optional message, e.g. a
// validation rejection or a remote-authoritative override.
func (r *InvoiceRepo) SetStatus(ctx context.Context, fileToken string, status invoice.Status, message *string) error {
	res, err := r.db.ExecContext(ctx, `
	UPDATE invoices SET status = ?, error_message = ?, updated_at=CURRENT_TIMESTAMP WHERE file_token = ?`,
		int(status), message, fileToken)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// groupColumns limits bulk status updates to columns that make sense as
// grouping keys.
var groupColumns = map[string]bool{
	"number":     true,
	"buyer_name": true,
	"item_tag":   true,
	"items_unit": true,
	"date":       true,
	"type":       true,
	"file_token": true,
}

// SetStatusWhere assigns status to every invoice whose column equals value.
func (r *InvoiceRepo) SetStatusWhere(ctx context.Context, column, value string, status invoice.Status) (int64, error) {
	if !groupColumns[column] {
		return 0, fmt.Errorf("repository: column %q not allowed as grouping key", column)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE invoices SET status = ?, updated_at=CURRENT_TIMESTAMP WHERE `+column+` = ?`,
		int(status), value)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *InvoiceRepo) fetchItems(ctx context.Context, fileToken string) ([]invoice.Item, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT name, kind, unit, quantity, unit_price, amount, tax_rate, tax
	FROM invoice_items WHERE invoice_file_token = ? ORDER BY position`, fileToken)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []invoice.Item
	for rows.Next() {
		var it invoice.Item
		var price, amount, tax string
		if err := rows.Scan(&it.Name, &it.Kind, &it.Unit, &it.Quantity, &price, &amount, &it.TaxRate, &tax); err != nil {
			return nil, err
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		if it.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if it.Tax, err = decimal.NewFromString(tax); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// scanInvoice handles nullable fields for both Row and Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanInvoice(row scanner) (invoice.Invoice, error) {
	var inv invoice.Invoice
	var amount, taxAmount, totalAmount string
	var errMsg sql.NullString
	var status, processed int
	if err := row.Scan(
		&inv.FileToken, &inv.Number, &inv.Type, &inv.Code, &inv.Date, &inv.MachineCode, &inv.Password, &inv.VerificationCode,
		&inv.SellerName, &inv.SellerTaxID, &inv.SellerAddress, &inv.SellerBankAccount,
		&inv.BuyerName, &inv.BuyerTaxID, &inv.BuyerAddress, &inv.BuyerBankAccount,
		&inv.Payee, &inv.Reviewer, &inv.NoteDrawer, &inv.Remark,
		&amount, &taxAmount, &totalAmount,
		&inv.ItemsBrief, &inv.ItemsUnit, &inv.ItemTag, &inv.ItemNum, &inv.TotalItemsNum,
		&status, &errMsg, &processed); err != nil {
		return invoice.Invoice{}, err
	}
	var err error
	if inv.Amount, err = decimal.NewFromString(amount); err != nil {
		return invoice.Invoice{}, err
	}
	if inv.TaxAmount, err = decimal.NewFromString(taxAmount); err != nil {
		return invoice.Invoice{}, err
	}
	if inv.TotalAmount, err = decimal.NewFromString(totalAmount); err != nil {
		return invoice.Invoice{}, err
	}
	inv.Status = invoice.Status(status)
	inv.Processed = processed != 0
	if errMsg.Valid && errMsg.String != "" {
		inv.ErrorMessage = &errMsg.String
	}
	return inv, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
