// Package ledger tracks customer credit on the platform.
//
// Every customer has a credit limit and a used amount. Creating a purchase
// transaction reserves its principal against the limit; cancellation,
// rejection, full payment, or an unpaid return releases it. Available
// credit is always derived (limit - used), never stored, so it cannot
// drift.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bariqhq/bariq/internal/clock"
	"github.com/bariqhq/bariq/internal/idgen"
	"github.com/bariqhq/bariq/internal/metrics"
	"github.com/bariqhq/bariq/internal/money"
	"github.com/bariqhq/bariq/internal/syncutil"
)

var (
	ErrCustomerNotFound   = errors.New("customer not found")
	ErrCustomerExists     = errors.New("customer profile already exists")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrLimitBelowUsed     = errors.New("credit limit cannot drop below used credit")
)

// Entry types recorded in the credit journal.
const (
	EntryReserve     = "reserve"
	EntryRelease     = "release"
	EntryLimitChange = "limit_change"
)

// Profile is a customer's credit standing.
type Profile struct {
	CustomerID  string    `json:"customerId"`
	CreditLimit string    `json:"creditLimit"`
	UsedCredit  string    `json:"usedCredit"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// AvailableCredit returns limit - used. Derived, never stored.
func (p *Profile) AvailableCredit() string {
	limit := money.MustParse(p.CreditLimit)
	used := money.MustParse(p.UsedCredit)
	return money.Format(limit - used)
}

// Entry is one journal line in a customer's credit history.
type Entry struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customerId"`
	Type       string    `json:"type"` // reserve, release, limit_change
	Amount     string    `json:"amount"`
	Reference  string    `json:"reference,omitempty"` // transaction or batch ID
	CreatedAt  time.Time `json:"createdAt"`
}

// Store persists credit profiles and journal entries.
type Store interface {
	CreateProfile(ctx context.Context, p *Profile) error
	GetProfile(ctx context.Context, customerID string) (*Profile, error)
	UpdateProfile(ctx context.Context, p *Profile) error
	AppendEntry(ctx context.Context, e *Entry) error
	ListEntries(ctx context.Context, customerID string, limit int) ([]*Entry, error)
}

// Ledger manages customer credit reservations.
type Ledger struct {
	store  Store
	locks  syncutil.ShardedMutex // per-customer mutual exclusion
	clk    clock.Clock
	logger *slog.Logger
}

// New creates a new credit ledger.
func New(store Store, clk clock.Clock, logger *slog.Logger) *Ledger {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, clk: clk, logger: logger}
}

// CreateProfile registers a customer with the given credit limit and zero
// used credit.
func (l *Ledger) CreateProfile(ctx context.Context, customerID, creditLimit string) (*Profile, error) {
	limit, err := money.Parse(creditLimit)
	if err != nil || limit < 0 {
		return nil, ErrInvalidAmount
	}

	now := l.clk.Now().UTC()
	p := &Profile{
		CustomerID:  customerID,
		CreditLimit: money.Format(limit),
		UsedCredit:  money.Format(0),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.store.CreateProfile(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns a customer's credit profile.
func (l *Ledger) Get(ctx context.Context, customerID string) (*Profile, error) {
	return l.store.GetProfile(ctx, customerID)
}

// Reserve consumes amount from a customer's available credit. Fails with
// ErrInsufficientCredit if the reservation would push used credit above the
// limit; in that case nothing is mutated.
func (l *Ledger) Reserve(ctx context.Context, customerID, amount, reference string) error {
	cents, err := money.Parse(amount)
	if err != nil || cents <= 0 {
		return ErrInvalidAmount
	}

	unlock := l.locks.Lock(customerID)
	defer unlock()

	p, err := l.store.GetProfile(ctx, customerID)
	if err != nil {
		return err
	}

	limit := money.MustParse(p.CreditLimit)
	used := money.MustParse(p.UsedCredit)
	if used+cents > limit {
		metrics.CreditReservationsTotal.WithLabelValues("insufficient").Inc()
		return ErrInsufficientCredit
	}

	p.UsedCredit = money.Format(used + cents)
	p.UpdatedAt = l.clk.Now().UTC()
	if err := l.store.UpdateProfile(ctx, p); err != nil {
		return err
	}

	l.appendEntry(ctx, customerID, EntryReserve, money.Format(cents), reference)
	metrics.CreditReservationsTotal.WithLabelValues("reserved").Inc()
	return nil
}

// Release returns amount to a customer's available credit. A release
// exceeding the outstanding reservation indicates a bug upstream; it is
// logged and clamped at zero rather than corrupting the ledger, and never
// surfaces as a caller error.
func (l *Ledger) Release(ctx context.Context, customerID, amount, reference string) error {
	cents, err := money.Parse(amount)
	if err != nil || cents <= 0 {
		return ErrInvalidAmount
	}

	unlock := l.locks.Lock(customerID)
	defer unlock()

	p, err := l.store.GetProfile(ctx, customerID)
	if err != nil {
		return err
	}

	used := money.MustParse(p.UsedCredit)
	remaining := used - cents
	result := "released"
	if remaining < 0 {
		l.logger.Error("ledger consistency violation: release exceeds reservation",
			"customer", customerID,
			"used", p.UsedCredit,
			"release", money.Format(cents),
			"reference", reference,
		)
		metrics.LedgerConsistencyViolationsTotal.Inc()
		result = "clamped"
		remaining = 0
	}

	p.UsedCredit = money.Format(remaining)
	p.UpdatedAt = l.clk.Now().UTC()
	if err := l.store.UpdateProfile(ctx, p); err != nil {
		return err
	}

	l.appendEntry(ctx, customerID, EntryRelease, money.Format(cents), reference)
	metrics.CreditReleasesTotal.WithLabelValues(result).Inc()
	return nil
}

// SetLimit changes a customer's credit limit. Admin-only surface; the new
// limit must cover the currently used credit so used <= limit always holds.
func (l *Ledger) SetLimit(ctx context.Context, customerID, newLimit string) (*Profile, error) {
	limit, err := money.Parse(newLimit)
	if err != nil || limit < 0 {
		return nil, ErrInvalidAmount
	}

	unlock := l.locks.Lock(customerID)
	defer unlock()

	p, err := l.store.GetProfile(ctx, customerID)
	if err != nil {
		return nil, err
	}

	used := money.MustParse(p.UsedCredit)
	if limit < used {
		return nil, ErrLimitBelowUsed
	}

	p.CreditLimit = money.Format(limit)
	p.UpdatedAt = l.clk.Now().UTC()
	if err := l.store.UpdateProfile(ctx, p); err != nil {
		return nil, err
	}

	l.appendEntry(ctx, customerID, EntryLimitChange, money.Format(limit), "")
	return p, nil
}

// History returns a customer's journal entries, newest first.
func (l *Ledger) History(ctx context.Context, customerID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.ListEntries(ctx, customerID, limit)
}

// appendEntry records a journal line. Journal failures are logged, not
// propagated: the balance update is the source of truth and has already
// committed.
func (l *Ledger) appendEntry(ctx context.Context, customerID, entryType, amount, reference string) {
	e := &Entry{
		ID:         idgen.WithPrefix("cle_"),
		CustomerID: customerID,
		Type:       entryType,
		Amount:     amount,
		Reference:  reference,
		CreatedAt:  l.clk.Now().UTC(),
	}
	if err := l.store.AppendEntry(ctx, e); err != nil {
		l.logger.Warn("failed to append ledger entry",
			"customer", customerID, "type", entryType, "error", err)
	}
}
