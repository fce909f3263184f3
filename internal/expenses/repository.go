package expenses

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the expense does not exist for the company.
var ErrNotFound = errors.New("expenses: not found")

// Repository persists expenses.
type Repository interface {
	Create(ctx context.Context, e Expense) (int64, error)
	Get(ctx context.Context, companyID, id int64) (*Expense, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Create(ctx context.Context, e Expense) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO expenses (
			company_id, supplier_name, supplier_ico, category, amount, vat_amount, total,
			currency, status, issued_at, description, receipt_attachment, created_at
		) VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), NULLIF($12, ''), NOW())
		RETURNING id`,
		e.CompanyID, e.SupplierName, e.SupplierICO, e.Category, e.Amount, e.VATAmount, e.Total,
		e.Currency, string(e.Status), e.IssuedAt, e.Description, e.ReceiptAttachment,
	).Scan(&id)
	return id, err
}

func (r *repository) Get(ctx context.Context, companyID, id int64) (*Expense, error) {
	var e Expense
	var status string
	var ico, desc, attachment pgtype.Text
	err := r.pool.QueryRow(ctx, `
		SELECT id, company_id, supplier_name, supplier_ico, category, amount, vat_amount, total,
			currency, status, issued_at, description, receipt_attachment, created_at
		FROM expenses WHERE company_id = $1 AND id = $2`, companyID, id,
	).Scan(&e.ID, &e.CompanyID, &e.SupplierName, &ico, &e.Category, &e.Amount, &e.VATAmount, &e.Total,
		&e.Currency, &status, &e.IssuedAt, &desc, &attachment, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Status = Status(status)
	e.SupplierICO = ico.String
	e.Description = desc.String
	e.ReceiptAttachment = attachment.String
	return &e, nil
}
