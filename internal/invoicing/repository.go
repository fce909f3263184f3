package invoicing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fakturace/fakturace/internal/platform/db"
)

var (
	// ErrNotFound indicates the invoice does not exist for the company.
	ErrNotFound = errors.New("invoicing: not found")
	// ErrDuplicateNumber indicates an invoice number collision.
	ErrDuplicateNumber = errors.New("invoicing: duplicate invoice number")
)

// Repository is the read side plus the transaction entry point.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, companyID, id int64) (*Invoice, error)
	Latest(ctx context.Context, companyID int64) (*Invoice, error)
	ListUnpaid(ctx context.Context, companyID int64) ([]Invoice, error)
	ListOverdue(ctx context.Context, asOf time.Time) ([]Invoice, error)
	History(ctx context.Context, companyID, invoiceID int64) ([]HistoryEntry, error)
}

// TxRepository holds the writes that must share a transaction.
type TxRepository interface {
	LockInvoice(ctx context.Context, companyID, id int64) (*Invoice, error)
	NextNumber(ctx context.Context, companyID int64, year int) (string, error)
	InsertInvoice(ctx context.Context, inv Invoice) (int64, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	UpdateItem(ctx context.Context, item Item) error
	UpdateTotals(ctx context.Context, invoiceID int64, totals Totals) error
	UpdateFields(ctx context.Context, invoiceID int64, updates map[string]any) error
	UpdateCustomerContact(ctx context.Context, companyID, customerID int64, contact CustomerContact) error
	AppendHistory(ctx context.Context, entry HistoryEntry) error
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const invoiceColumns = `i.id, i.company_id, i.number, i.variable_symbol, i.customer_id, COALESCE(c.name, ''),
	i.issue_date, i.due_date, i.currency, i.subtotal, i.vat_amount, i.total, i.status,
	i.paid_at, i.paid_amount, i.notes, i.reverse_charge, i.bank_account, i.iban, i.created_at, i.updated_at`

const invoiceFrom = ` FROM invoices i LEFT JOIN customers c ON c.id = i.customer_id`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var status string
	var paidAt pgtype.Timestamptz
	var notes, bankAccount, iban pgtype.Text
	err := row.Scan(
		&inv.ID, &inv.CompanyID, &inv.Number, &inv.VariableSymbol, &inv.CustomerID, &inv.CustomerName,
		&inv.IssueDate, &inv.DueDate, &inv.Currency, &inv.Subtotal, &inv.VATAmount, &inv.Total, &status,
		&paidAt, &inv.PaidAmount, &notes, &inv.ReverseCharge, &bankAccount, &iban, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.Status = Status(status)
	if paidAt.Valid {
		t := paidAt.Time
		inv.PaidAt = &t
	}
	inv.Notes = notes.String
	inv.BankAccount = bankAccount.String
	inv.IBAN = iban.String
	return &inv, nil
}

func (r *repository) loadItems(ctx context.Context, inv *Invoice) error {
	rows, err := r.db.Query(ctx, `
		SELECT id, invoice_id, position, description, quantity, unit, unit_price, vat_rate, total
		FROM invoice_items WHERE invoice_id = $1 ORDER BY position, id`, inv.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	inv.Items = inv.Items[:0]
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.Position, &it.Description, &it.Quantity, &it.Unit, &it.UnitPrice, &it.VATRate, &it.Total); err != nil {
			return err
		}
		inv.Items = append(inv.Items, it)
	}
	return rows.Err()
}

func (r *repository) getOne(ctx context.Context, query string, args ...any) (*Invoice, error) {
	inv, err := scanInvoice(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *repository) Get(ctx context.Context, companyID, id int64) (*Invoice, error) {
	return r.getOne(ctx, `SELECT `+invoiceColumns+invoiceFrom+` WHERE i.company_id = $1 AND i.id = $2`, companyID, id)
}

func (r *repository) Latest(ctx context.Context, companyID int64) (*Invoice, error) {
	return r.getOne(ctx, `SELECT `+invoiceColumns+invoiceFrom+` WHERE i.company_id = $1 ORDER BY i.created_at DESC, i.id DESC LIMIT 1`, companyID)
}

func (r *repository) LockInvoice(ctx context.Context, companyID, id int64) (*Invoice, error) {
	return r.getOne(ctx, `SELECT `+invoiceColumns+invoiceFrom+` WHERE i.company_id = $1 AND i.id = $2 FOR UPDATE OF i`, companyID, id)
}

func (r *repository) list(ctx context.Context, query string, args ...any) ([]Invoice, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

func (r *repository) ListUnpaid(ctx context.Context, companyID int64) ([]Invoice, error) {
	return r.list(ctx, `SELECT `+invoiceColumns+invoiceFrom+`
		WHERE i.company_id = $1 AND i.status IN ('sent', 'overdue')
		ORDER BY i.due_date DESC, i.id ASC`, companyID)
}

func (r *repository) ListOverdue(ctx context.Context, asOf time.Time) ([]Invoice, error) {
	return r.list(ctx, `SELECT `+invoiceColumns+invoiceFrom+`
		WHERE i.status = 'sent' AND i.due_date < $1
		ORDER BY i.company_id, i.id`, asOf)
}

func (r *repository) History(ctx context.Context, companyID, invoiceID int64) ([]HistoryEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT h.id, h.invoice_id, h.action, h.description, h.actor, h.created_at
		FROM invoice_history h JOIN invoices i ON i.id = h.invoice_id
		WHERE i.company_id = $1 AND h.invoice_id = $2
		ORDER BY h.created_at, h.id`, companyID, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var action string
		if err := rows.Scan(&h.ID, &h.InvoiceID, &action, &h.Description, &h.Actor, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Action = HistoryAction(action)
		out = append(out, h)
	}
	return out, rows.Err()
}

// NextNumber serialises numbering per company with an advisory lock held
// until the surrounding transaction ends.
func (r *repository) NextNumber(ctx context.Context, companyID int64, year int) (string, error) {
	if _, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, companyID); err != nil {
		return "", err
	}
	prefix := fmt.Sprintf("%d", year)
	var last pgtype.Text
	err := r.db.QueryRow(ctx, `
		SELECT MAX(number) FROM invoices
		WHERE company_id = $1 AND number LIKE $2 AND length(number) = 8`, companyID, prefix+"%").Scan(&last)
	if err != nil {
		return "", err
	}
	seq := 1
	if last.Valid {
		var n int
		if _, err := fmt.Sscanf(strings.TrimPrefix(last.String, prefix), "%d", &n); err == nil {
			seq = n + 1
		}
	}
	return fmt.Sprintf("%s%04d", prefix, seq), nil
}

func (r *repository) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO invoices (
			company_id, number, variable_symbol, customer_id, issue_date, due_date, currency,
			subtotal, vat_amount, total, status, notes, reverse_charge, bank_account, iban, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, NULLIF($14, ''), NULLIF($15, ''), NOW(), NOW())
		RETURNING id`,
		inv.CompanyID, inv.Number, inv.VariableSymbol, inv.CustomerID, inv.IssueDate, inv.DueDate, inv.Currency,
		inv.Subtotal, inv.VATAmount, inv.Total, string(inv.Status), inv.Notes, inv.ReverseCharge, inv.BankAccount, inv.IBAN,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateNumber
		}
		return 0, err
	}
	return id, nil
}

func (r *repository) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO invoice_items (invoice_id, position, description, quantity, unit, unit_price, vat_rate, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		item.InvoiceID, item.Position, item.Description, item.Quantity, item.Unit, item.UnitPrice, item.VATRate, item.Total,
	).Scan(&id)
	return id, err
}

func (r *repository) UpdateItem(ctx context.Context, item Item) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE invoice_items SET description = $1, quantity = $2, unit_price = $3, vat_rate = $4, total = $5
		WHERE id = $6 AND invoice_id = $7`,
		item.Description, item.Quantity, item.UnitPrice, item.VATRate, item.Total, item.ID, item.InvoiceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) UpdateTotals(ctx context.Context, invoiceID int64, totals Totals) error {
	_, err := r.db.Exec(ctx, `UPDATE invoices SET subtotal = $1, vat_amount = $2, total = $3, updated_at = NOW() WHERE id = $4`,
		totals.Subtotal, totals.VATAmount, totals.Total, invoiceID)
	return err
}

var updatableColumns = map[string]bool{
	"due_date":     true,
	"notes":        true,
	"status":       true,
	"paid_at":      true,
	"paid_amount":  true,
	"bank_account": true,
	"iban":         true,
}

func (r *repository) UpdateFields(ctx context.Context, invoiceID int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	columns := make([]string, 0, len(updates))
	for col := range updates {
		if !updatableColumns[col] {
			return fmt.Errorf("invoicing: column %q is not updatable", col)
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)

	query := "UPDATE invoices SET updated_at = NOW()"
	args := make([]any, 0, len(columns)+1)
	for i, col := range columns {
		query += fmt.Sprintf(", %s = $%d", col, i+1)
		args = append(args, columnValue(updates[col]))
	}
	query += fmt.Sprintf(" WHERE id = $%d", len(columns)+1)
	args = append(args, invoiceID)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func columnValue(v any) any {
	switch val := v.(type) {
	case Status:
		return string(val)
	case *time.Time:
		if val == nil {
			return nil
		}
		return *val
	case decimal.NullDecimal:
		if !val.Valid {
			return nil
		}
		return val.Decimal
	default:
		return v
	}
}

func (r *repository) UpdateCustomerContact(ctx context.Context, companyID, customerID int64, contact CustomerContact) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE customers SET
			email = COALESCE(NULLIF($1, ''), email),
			phone = COALESCE(NULLIF($2, ''), phone),
			contact_person = COALESCE(NULLIF($3, ''), contact_person),
			address = COALESCE(NULLIF($4, ''), address)
		WHERE company_id = $5 AND id = $6`,
		contact.Email, contact.Phone, contact.ContactPerson, contact.Address, companyID, customerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	_, err := r.db.Exec(ctx, `INSERT INTO invoice_history (invoice_id, action, description, actor, created_at) VALUES ($1, $2, $3, $4, NOW())`,
		entry.InvoiceID, string(entry.Action), entry.Description, entry.Actor)
	return err
}
