package customers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fakturace/fakturace/internal/platform/db"
)

var (
	ErrNotFound      = errors.New("customers: record not found")
	ErrAlreadyExists = errors.New("customers: record already exists")
)

// Repository is the persistence port for customers.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, companyID, id int64) (*Customer, error)
	FindByICO(ctx context.Context, companyID int64, ico string) (*Customer, error)
	List(ctx context.Context, companyID int64) ([]Customer, error)
	Create(ctx context.Context, customer Customer) (int64, error)
	Update(ctx context.Context, companyID, id int64, updates map[string]any) error
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

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const customerColumns = `id, company_id, name, ico, dic, email, phone, contact_person, address, city, postal_code, created_at`

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	var ico, dic, email, phone, contact, address, city, postal pgtype.Text
	err := row.Scan(&c.ID, &c.CompanyID, &c.Name, &ico, &dic, &email, &phone, &contact, &address, &city, &postal, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.ICO = ico.String
	c.DIC = dic.String
	c.Email = email.String
	c.Phone = phone.String
	c.ContactPerson = contact.String
	c.Address = address.String
	c.City = city.String
	c.PostalCode = postal.String
	return &c, nil
}

func (r *repository) Get(ctx context.Context, companyID, id int64) (*Customer, error) {
	c, err := scanCustomer(r.db.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE company_id = $1 AND id = $2`, companyID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (r *repository) FindByICO(ctx context.Context, companyID int64, ico string) (*Customer, error) {
	c, err := scanCustomer(r.db.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE company_id = $1 AND ico = $2 ORDER BY id LIMIT 1`, companyID, ico))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (r *repository) List(ctx context.Context, companyID int64) ([]Customer, error) {
	rows, err := r.db.Query(ctx, `SELECT `+customerColumns+` FROM customers WHERE company_id = $1 ORDER BY id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *repository) Create(ctx context.Context, c Customer) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO customers (company_id, name, ico, dic, email, phone, contact_person, address, city, postal_code, created_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NOW())
		RETURNING id`,
		c.CompanyID, c.Name, c.ICO, c.DIC, c.Email, c.Phone, c.ContactPerson, c.Address, c.City, c.PostalCode,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrAlreadyExists
		}
		return 0, err
	}
	return id, nil
}

var updatableColumns = map[string]bool{
	"name":           true,
	"ico":            true,
	"dic":            true,
	"email":          true,
	"phone":          true,
	"contact_person": true,
	"address":        true,
	"city":           true,
	"postal_code":    true,
}

func (r *repository) Update(ctx context.Context, companyID, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	columns := make([]string, 0, len(updates))
	for col := range updates {
		if !updatableColumns[col] {
			return fmt.Errorf("customers: column %q is not updatable", col)
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)

	sets := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns)+2)
	for i, col := range columns {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
		args = append(args, updates[col])
	}
	args = append(args, companyID, id)
	query := fmt.Sprintf("UPDATE customers SET %s WHERE company_id = $%d AND id = $%d",
		strings.Join(sets, ", "), len(columns)+1, len(columns)+2)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
