package notify

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists webhook subscriptions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed subscription store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	events := make([]string, len(sub.Events))
	for i, e := range sub.Events {
		events[i] = string(e)
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO notify_subscriptions (id, party_id, url, secret, events, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sub.ID, sub.PartyID, sub.URL, sub.Secret, pq.Array(events), sub.Active, sub.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Subscription, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, party_id, url, secret, events, active, created_at, last_success, last_error
		FROM notify_subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

func (p *PostgresStore) GetByParty(ctx context.Context, partyID string) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, party_id, url, secret, events, active, created_at, last_success, last_error
		FROM notify_subscriptions WHERE party_id = $1
		ORDER BY created_at DESC`, partyID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, sub *Subscription) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE notify_subscriptions SET
			active = $1,
			last_success = $2,
			last_error = $3
		WHERE id = $4`,
		sub.Active, subNullTime(sub.LastSuccess), subNullString(sub.LastError), sub.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM notify_subscriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	sub := &Subscription{}
	var events []string
	var lastSuccess sql.NullTime
	var lastError sql.NullString
	err := row.Scan(&sub.ID, &sub.PartyID, &sub.URL, &sub.Secret, pq.Array(&events),
		&sub.Active, &sub.CreatedAt, &lastSuccess, &lastError)
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		sub.Events = append(sub.Events, EventType(e))
	}
	if lastSuccess.Valid {
		sub.LastSuccess = &lastSuccess.Time
	}
	sub.LastError = lastError.String
	return sub, nil
}

func subNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func subNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
