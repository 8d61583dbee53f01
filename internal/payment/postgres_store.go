package payment

import (
	"context"
	"database/sql"
)

// PostgresStore persists payment records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed payment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, pm *Payment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payments (id, batch_id, customer_id, transaction_id, amount, method, applied_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(12,2), $6, $7)`,
		pm.ID, pm.BatchID, pm.CustomerID, pm.TransactionID, pm.Amount, paymentNullString(pm.Method), pm.AppliedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Payment, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, batch_id, customer_id, transaction_id, amount, method, applied_at
		FROM payments WHERE id = $1`, id)

	pm := &Payment{}
	var method sql.NullString
	err := row.Scan(&pm.ID, &pm.BatchID, &pm.CustomerID, &pm.TransactionID, &pm.Amount, &method, &pm.AppliedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	pm.Method = method.String
	return pm, nil
}

func (p *PostgresStore) ListByCustomer(ctx context.Context, customerID string, limit int) ([]*Payment, error) {
	return p.query(ctx, `
		SELECT id, batch_id, customer_id, transaction_id, amount, method, applied_at
		FROM payments
		WHERE customer_id = $1
		ORDER BY applied_at DESC, id DESC
		LIMIT $2`, customerID, limit)
}

func (p *PostgresStore) ListByTransaction(ctx context.Context, transactionID string) ([]*Payment, error) {
	return p.query(ctx, `
		SELECT id, batch_id, customer_id, transaction_id, amount, method, applied_at
		FROM payments
		WHERE transaction_id = $1
		ORDER BY applied_at DESC, id DESC`, transactionID)
}

func (p *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*Payment, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Payment
	for rows.Next() {
		pm := &Payment{}
		var method sql.NullString
		if err := rows.Scan(&pm.ID, &pm.BatchID, &pm.CustomerID, &pm.TransactionID, &pm.Amount, &method, &pm.AppliedAt); err != nil {
			return nil, err
		}
		pm.Method = method.String
		result = append(result, pm)
	}
	return result, rows.Err()
}

func paymentNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
