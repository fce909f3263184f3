package banking

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fakturace/fakturace/internal/invoicing"
	"github.com/fakturace/fakturace/internal/platform/db"
)

var (
	// ErrNotFound indicates a missing transaction, match or invoice.
	ErrNotFound = errors.New("banking: not found")
	// ErrDuplicateTransaction indicates the payment was already recorded.
	ErrDuplicateTransaction = errors.New("banking: duplicate transaction")
)

// InvoiceState is the part of an invoice a match commit needs to check.
type InvoiceState struct {
	ID        int64
	CompanyID int64
	Number    string
	Status    invoicing.Status
	Total     decimal.Decimal
}

// Repository is the read side plus the transaction entry point.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	InsertTransaction(ctx context.Context, tx BankTransaction) (int64, error)
	GetTransaction(ctx context.Context, companyID, id int64) (*BankTransaction, error)
	ListUnmatched(ctx context.Context, companyID int64, limit int) ([]BankTransaction, error)
}

// TxRepository holds the writes of a match commit or review. They touch
// bank transactions, matches and invoices in one transaction.
type TxRepository interface {
	LockTransaction(ctx context.Context, companyID, id int64) (*BankTransaction, error)
	LockInvoice(ctx context.Context, companyID, id int64) (*InvoiceState, error)
	LockMatch(ctx context.Context, companyID, id int64) (*PaymentMatch, error)
	InsertMatch(ctx context.Context, m PaymentMatch) (int64, error)
	UpdateMatchStatus(ctx context.Context, id int64, status MatchStatus) error
	MarkTransactionMatched(ctx context.Context, txID, invoiceID int64) error
	ClearTransactionMatch(ctx context.Context, txID int64) error
	SetInvoicePaid(ctx context.Context, invoiceID int64, paidAt time.Time, amount decimal.Decimal) error
	ReopenInvoice(ctx context.Context, invoiceID int64) error
	AppendInvoiceHistory(ctx context.Context, entry invoicing.HistoryEntry) error
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

func (r *repository) InsertTransaction(ctx context.Context, t BankTransaction) (int64, error) {
	var id int64
	var txAt any
	if !t.TransactionAt.IsZero() {
		txAt = t.TransactionAt
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO bank_transactions (
			company_id, bank_account_id, amount, currency, variable_symbol, constant_symbol, specific_symbol,
			counterparty_account, counterparty_name, description, transaction_at, bank_reference,
			dedup_key, import_batch, is_matched, created_at
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''),
			NULLIF($10, ''), $11, NULLIF($12, ''), $13, $14, FALSE, NOW())
		RETURNING id`,
		t.CompanyID, t.BankAccountID, t.Amount, t.Currency, t.VariableSymbol, t.ConstantSymbol, t.SpecificSymbol,
		t.CounterpartyAccount, t.CounterpartyName, t.Description, txAt, t.BankReference,
		t.DedupKey, t.ImportBatch,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateTransaction
		}
		return 0, err
	}
	return id, nil
}

const transactionColumns = `id, company_id, bank_account_id, amount, currency, variable_symbol, constant_symbol,
	specific_symbol, counterparty_account, counterparty_name, description, transaction_at, bank_reference,
	dedup_key, import_batch, is_matched, matched_invoice_id, created_at`

func scanTransaction(row pgx.Row) (*BankTransaction, error) {
	var t BankTransaction
	var vs, cs, ss, account, name, desc, ref pgtype.Text
	var txAt pgtype.Timestamptz
	var invoiceID pgtype.Int8
	err := row.Scan(&t.ID, &t.CompanyID, &t.BankAccountID, &t.Amount, &t.Currency, &vs, &cs,
		&ss, &account, &name, &desc, &txAt, &ref,
		&t.DedupKey, &t.ImportBatch, &t.IsMatched, &invoiceID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.VariableSymbol = vs.String
	t.ConstantSymbol = cs.String
	t.SpecificSymbol = ss.String
	t.CounterpartyAccount = account.String
	t.CounterpartyName = name.String
	t.Description = desc.String
	t.BankReference = ref.String
	if txAt.Valid {
		t.TransactionAt = txAt.Time
	}
	if invoiceID.Valid {
		id := invoiceID.Int64
		t.MatchedInvoiceID = &id
	}
	return &t, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *repository) GetTransaction(ctx context.Context, companyID, id int64) (*BankTransaction, error) {
	t, err := scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM bank_transactions WHERE company_id = $1 AND id = $2`, companyID, id))
	return t, notFound(err)
}

func (r *repository) LockTransaction(ctx context.Context, companyID, id int64) (*BankTransaction, error) {
	t, err := scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM bank_transactions WHERE company_id = $1 AND id = $2 FOR UPDATE`, companyID, id))
	return t, notFound(err)
}

func (r *repository) ListUnmatched(ctx context.Context, companyID int64, limit int) ([]BankTransaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `SELECT `+transactionColumns+` FROM bank_transactions
		WHERE company_id = $1 AND NOT is_matched
		ORDER BY transaction_at DESC NULLS LAST, id DESC
		LIMIT $2`, companyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BankTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *repository) LockInvoice(ctx context.Context, companyID, id int64) (*InvoiceState, error) {
	var inv InvoiceState
	var status string
	err := r.db.QueryRow(ctx, `SELECT id, company_id, number, status, total FROM invoices WHERE company_id = $1 AND id = $2 FOR UPDATE`,
		companyID, id).Scan(&inv.ID, &inv.CompanyID, &inv.Number, &status, &inv.Total)
	if err != nil {
		return nil, notFound(err)
	}
	inv.Status = invoicing.Status(status)
	return &inv, nil
}

func (r *repository) LockMatch(ctx context.Context, companyID, id int64) (*PaymentMatch, error) {
	var m PaymentMatch
	var matchType, status string
	var notes pgtype.Text
	var matchedBy pgtype.Int8
	err := r.db.QueryRow(ctx, `
		SELECT m.id, m.bank_transaction_id, m.invoice_id, m.match_type, m.confidence, m.matched_amount,
			m.status, m.notes, m.matched_by, m.created_at
		FROM payment_matches m JOIN bank_transactions t ON t.id = m.bank_transaction_id
		WHERE t.company_id = $1 AND m.id = $2
		FOR UPDATE OF m`, companyID, id,
	).Scan(&m.ID, &m.BankTransactionID, &m.InvoiceID, &matchType, &m.Confidence, &m.MatchedAmount,
		&status, &notes, &matchedBy, &m.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	m.MatchType = MatchType(matchType)
	m.Status = MatchStatus(status)
	m.Notes = notes.String
	if matchedBy.Valid {
		by := matchedBy.Int64
		m.MatchedBy = &by
	}
	return &m, nil
}

func (r *repository) InsertMatch(ctx context.Context, m PaymentMatch) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO payment_matches (bank_transaction_id, invoice_id, match_type, confidence, matched_amount, status, notes, matched_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, NOW())
		RETURNING id`,
		m.BankTransactionID, m.InvoiceID, string(m.MatchType), m.Confidence, m.MatchedAmount, string(m.Status), m.Notes, m.MatchedBy,
	).Scan(&id)
	return id, err
}

func (r *repository) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) UpdateMatchStatus(ctx context.Context, id int64, status MatchStatus) error {
	return r.exec(ctx, `UPDATE payment_matches SET status = $1 WHERE id = $2`, string(status), id)
}

func (r *repository) MarkTransactionMatched(ctx context.Context, txID, invoiceID int64) error {
	return r.exec(ctx, `UPDATE bank_transactions SET is_matched = TRUE, matched_invoice_id = $1 WHERE id = $2 AND NOT is_matched`, invoiceID, txID)
}

func (r *repository) ClearTransactionMatch(ctx context.Context, txID int64) error {
	return r.exec(ctx, `UPDATE bank_transactions SET is_matched = FALSE, matched_invoice_id = NULL WHERE id = $1`, txID)
}

func (r *repository) SetInvoicePaid(ctx context.Context, invoiceID int64, paidAt time.Time, amount decimal.Decimal) error {
	return r.exec(ctx, `UPDATE invoices SET status = 'paid', paid_at = $1, paid_amount = $2, updated_at = NOW() WHERE id = $3`, paidAt, amount, invoiceID)
}

func (r *repository) ReopenInvoice(ctx context.Context, invoiceID int64) error {
	return r.exec(ctx, `UPDATE invoices SET status = 'sent', paid_at = NULL, paid_amount = NULL, updated_at = NOW() WHERE id = $1`, invoiceID)
}

func (r *repository) AppendInvoiceHistory(ctx context.Context, entry invoicing.HistoryEntry) error {
	_, err := r.db.Exec(ctx, `INSERT INTO invoice_history (invoice_id, action, description, actor, created_at) VALUES ($1, $2, $3, $4, NOW())`,
		entry.InvoiceID, string(entry.Action), entry.Description, entry.Actor)
	return err
}
