package ledger

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists credit data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed credit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateProfile(ctx context.Context, pr *Profile) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO credit_profiles (customer_id, credit_limit, used_credit, created_at, updated_at)
		VALUES ($1, $2::NUMERIC(12,2), $3::NUMERIC(12,2), $4, $5)`,
		pr.CustomerID, pr.CreditLimit, pr.UsedCredit, pr.CreatedAt, pr.UpdatedAt,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrCustomerExists
	}
	return err
}

func (p *PostgresStore) GetProfile(ctx context.Context, customerID string) (*Profile, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT customer_id, credit_limit, used_credit, created_at, updated_at
		FROM credit_profiles WHERE customer_id = $1`, customerID)

	pr := &Profile{}
	err := row.Scan(&pr.CustomerID, &pr.CreditLimit, &pr.UsedCredit, &pr.CreatedAt, &pr.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, err
	}
	return pr, nil
}

func (p *PostgresStore) UpdateProfile(ctx context.Context, pr *Profile) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE credit_profiles SET
			credit_limit = $1::NUMERIC(12,2),
			used_credit = $2::NUMERIC(12,2),
			updated_at = $3
		WHERE customer_id = $4`,
		pr.CreditLimit, pr.UsedCredit, pr.UpdatedAt, pr.CustomerID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

func (p *PostgresStore) AppendEntry(ctx context.Context, e *Entry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO credit_entries (id, customer_id, entry_type, amount, reference, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC(12,2), $5, $6)`,
		e.ID, e.CustomerID, e.Type, e.Amount, ledgerNullString(e.Reference), e.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListEntries(ctx context.Context, customerID string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, customer_id, entry_type, amount, reference, created_at
		FROM credit_entries
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Entry
	for rows.Next() {
		e := &Entry{}
		var reference sql.NullString
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.Type, &e.Amount, &reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reference = reference.String
		result = append(result, e)
	}
	return result, rows.Err()
}

func ledgerNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
