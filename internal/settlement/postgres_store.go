package settlement

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists settlement batches in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed settlement store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const batchColumns = `id, merchant_id, period_start, period_end, gross_amount, fee_amount, net_amount,
	state, transaction_ids, paid_count, returned_count, reject_reason, transfer_reference,
	created_at, approved_at, transferred_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, b *Batch) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO settlement_batches (`+batchColumns+`)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(12,2), $6::NUMERIC(12,2), $7::NUMERIC(12,2), $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		b.ID, b.MerchantID, b.PeriodStart, b.PeriodEnd, b.GrossAmount, b.FeeAmount, b.NetAmount,
		b.State, pq.Array(b.TransactionIDs), b.PaidCount, b.ReturnedCount,
		batchNullString(b.RejectReason), batchNullString(b.TransferReference),
		b.CreatedAt, batchNullTime(b.ApprovedAt), batchNullTime(b.TransferredAt), b.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Batch, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+batchColumns+` FROM settlement_batches WHERE id = $1`, id)
	return scanBatch(row)
}

func (p *PostgresStore) Update(ctx context.Context, b *Batch) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE settlement_batches SET
			state = $1,
			reject_reason = $2,
			transfer_reference = $3,
			approved_at = $4,
			transferred_at = $5,
			updated_at = $6
		WHERE id = $7`,
		b.State, batchNullString(b.RejectReason), batchNullString(b.TransferReference),
		batchNullTime(b.ApprovedAt), batchNullTime(b.TransferredAt), b.UpdatedAt, b.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM settlement_batches WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (p *PostgresStore) ListByMerchant(ctx context.Context, merchantID string, limit int) ([]*Batch, error) {
	return p.query(ctx, `
		SELECT `+batchColumns+` FROM settlement_batches
		WHERE merchant_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, merchantID, limit)
}

func (p *PostgresStore) ListByState(ctx context.Context, state State, limit int) ([]*Batch, error) {
	return p.query(ctx, `
		SELECT `+batchColumns+` FROM settlement_batches
		WHERE state = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, state, limit)
}

func (p *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*Batch, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*Batch, error) {
	b := &Batch{}
	var rejectReason, transferReference sql.NullString
	var approvedAt, transferredAt sql.NullTime
	err := row.Scan(
		&b.ID, &b.MerchantID, &b.PeriodStart, &b.PeriodEnd, &b.GrossAmount, &b.FeeAmount, &b.NetAmount,
		&b.State, pq.Array(&b.TransactionIDs), &b.PaidCount, &b.ReturnedCount,
		&rejectReason, &transferReference, &b.CreatedAt, &approvedAt, &transferredAt, &b.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	b.RejectReason = rejectReason.String
	b.TransferReference = transferReference.String
	if approvedAt.Valid {
		b.ApprovedAt = &approvedAt.Time
	}
	if transferredAt.Valid {
		b.TransferredAt = &transferredAt.Time
	}
	return b, nil
}

func batchNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func batchNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
