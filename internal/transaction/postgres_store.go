package transaction

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/bariqhq/bariq/internal/pagination"
)

// PostgresStore persists transactions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const transactionColumns = `id, merchant_id, branch_id, customer_id, principal_amount, amount_paid,
	state, due_days, due_date, cancel_reason, reject_reason, return_reason, settlement_id,
	created_at, confirmed_at, terminal_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, t *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(12,2), $6::NUMERIC(12,2), $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		t.ID, t.MerchantID, txnNullString(t.BranchID), t.CustomerID,
		t.PrincipalAmount, t.AmountPaid, t.State, t.DueDays, txnNullTime(t.DueDate),
		txnNullString(t.CancelReason), txnNullString(t.RejectReason), txnNullString(t.ReturnReason),
		txnNullString(t.SettlementID), t.CreatedAt, txnNullTime(t.ConfirmedAt), txnNullTime(t.TerminalAt), t.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

func (p *PostgresStore) Update(ctx context.Context, t *Transaction) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE transactions SET
			amount_paid = $1::NUMERIC(12,2),
			state = $2,
			due_date = $3,
			cancel_reason = $4,
			reject_reason = $5,
			return_reason = $6,
			settlement_id = $7,
			confirmed_at = $8,
			terminal_at = $9,
			updated_at = $10
		WHERE id = $11`,
		t.AmountPaid, t.State, txnNullTime(t.DueDate),
		txnNullString(t.CancelReason), txnNullString(t.RejectReason), txnNullString(t.ReturnReason),
		txnNullString(t.SettlementID), txnNullTime(t.ConfirmedAt), txnNullTime(t.TerminalAt), t.UpdatedAt, t.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (p *PostgresStore) ListByCustomer(ctx context.Context, customerID string, f ListFilter) ([]*Transaction, error) {
	return p.listOwned(ctx, "customer_id", customerID, f)
}

func (p *PostgresStore) ListByMerchant(ctx context.Context, merchantID string, f ListFilter) ([]*Transaction, error) {
	return p.listOwned(ctx, "merchant_id", merchantID, f)
}

func (p *PostgresStore) listOwned(ctx context.Context, column, owner string, f ListFilter) ([]*Transaction, error) {
	cursor, err := pagination.Decode(f.Cursor)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + transactionColumns + ` FROM transactions WHERE ` + column + ` = $1`)
	args := []any{owner}

	if f.State != "" {
		args = append(args, f.State)
		fmt.Fprintf(&sb, " AND state = $%d", len(args))
	}
	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		fmt.Fprintf(&sb, " AND (created_at, id) < ($%d, $%d)", len(args)-1, len(args))
	}
	sb.WriteString(" ORDER BY created_at DESC, id DESC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	return p.query(ctx, sb.String(), args...)
}

func (p *PostgresStore) ListEligible(ctx context.Context, customerID string) ([]*Transaction, error) {
	return p.query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE customer_id = $1 AND state IN ('confirmed', 'overdue')
		ORDER BY due_date ASC, id ASC`, customerID)
}

func (p *PostgresStore) ListDueBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error) {
	return p.query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE state = 'confirmed' AND due_date < $1
		ORDER BY due_date ASC, id ASC
		LIMIT $2`, cutoff, limit)
}

func (p *PostgresStore) ListDueBetween(ctx context.Context, from, to time.Time, limit int) ([]*Transaction, error) {
	return p.query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE state = 'confirmed' AND due_date >= $1 AND due_date < $2
		ORDER BY due_date ASC, id ASC
		LIMIT $3`, from, to, limit)
}

func (p *PostgresStore) ListSettleable(ctx context.Context, merchantID string, periodStart, periodEnd time.Time) ([]*Transaction, error) {
	return p.query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE merchant_id = $1 AND state IN ('paid', 'returned') AND settlement_id IS NULL
		  AND terminal_at >= $2 AND terminal_at < $3
		ORDER BY id ASC`, merchantID, periodStart, periodEnd)
}

func (p *PostgresStore) MerchantsWithSettleable(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT merchant_id FROM transactions
		WHERE state IN ('paid', 'returned') AND settlement_id IS NULL AND terminal_at < $1
		ORDER BY merchant_id ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

func (p *PostgresStore) LinkSettlement(ctx context.Context, transactionIDs []string, settlementID string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE transactions SET settlement_id = $1 WHERE id = ANY($2)`,
		settlementID, pq.Array(transactionIDs))
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if int(rows) != len(transactionIDs) {
		return ErrTransactionNotFound
	}
	return tx.Commit()
}

func (p *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	t := &Transaction{}
	var branchID, cancelReason, rejectReason, returnReason, settlementID sql.NullString
	var dueDate, confirmedAt, terminalAt sql.NullTime
	err := row.Scan(
		&t.ID, &t.MerchantID, &branchID, &t.CustomerID, &t.PrincipalAmount, &t.AmountPaid,
		&t.State, &t.DueDays, &dueDate, &cancelReason, &rejectReason, &returnReason, &settlementID,
		&t.CreatedAt, &confirmedAt, &terminalAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	t.BranchID = branchID.String
	t.CancelReason = cancelReason.String
	t.RejectReason = rejectReason.String
	t.ReturnReason = returnReason.String
	t.SettlementID = settlementID.String
	if dueDate.Valid {
		t.DueDate = &dueDate.Time
	}
	if confirmedAt.Valid {
		t.ConfirmedAt = &confirmedAt.Time
	}
	if terminalAt.Valid {
		t.TerminalAt = &terminalAt.Time
	}
	return t, nil
}

func txnNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func txnNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
