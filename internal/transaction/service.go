package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bariqhq/bariq/internal/clock"
	"github.com/bariqhq/bariq/internal/idgen"
	"github.com/bariqhq/bariq/internal/metrics"
	"github.com/bariqhq/bariq/internal/money"
	"github.com/bariqhq/bariq/internal/pagination"
	"github.com/bariqhq/bariq/internal/syncutil"
)

// EventSink receives domain events after a transition commits. Delivery is
// the sink's problem: implementations must never block and their failures
// never roll back a committed transition.
type EventSink interface {
	TransactionCreated(customerID, merchantID, transactionID, principal string)
	TransactionConfirmed(customerID, merchantID, transactionID string, dueDate time.Time)
	TransactionRejected(customerID, merchantID, transactionID, reason string)
	TransactionCancelled(customerID, merchantID, transactionID, reason string)
	TransactionOverdue(customerID, merchantID, transactionID string)
	TransactionReturned(customerID, merchantID, transactionID, reason string)
	PaymentCompleted(customerID, transactionID, principal string)
	CreditAlert(customerID, transactionID string, dueDate time.Time)
}

// Limits bounds transaction principals. Zero values disable a bound.
type Limits struct {
	MinPrincipal string
	MaxPrincipal string
	DefaultDays  int
}

// Service implements the transaction state machine.
type Service struct {
	store  Store
	credit CreditService
	events EventSink
	clk    clock.Clock
	logger *slog.Logger
	locks  syncutil.ShardedMutex // per-transaction mutual exclusion

	minPrincipal int64 // 0 disables
	maxPrincipal int64 // 0 disables
	defaultDays  int
}

// NewService creates a new transaction service. events may be nil.
func NewService(store Store, credit CreditService, events EventSink, clk clock.Clock, logger *slog.Logger, limits Limits) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:       store,
		credit:      credit,
		events:      events,
		clk:         clk,
		logger:      logger,
		defaultDays: limits.DefaultDays,
	}
	if s.defaultDays <= 0 {
		s.defaultDays = 30
	}
	if limits.MinPrincipal != "" {
		s.minPrincipal = money.MustParse(limits.MinPrincipal)
	}
	if limits.MaxPrincipal != "" {
		s.maxPrincipal = money.MustParse(limits.MaxPrincipal)
	}
	return s
}

// Create reserves the principal against the customer's credit and inserts
// the transaction in state pending. This is the only place credit is
// reserved.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Transaction, error) {
	principal, err := money.Parse(req.PrincipalAmount)
	if err != nil || principal <= 0 {
		return nil, ErrInvalidAmount
	}
	if s.minPrincipal > 0 && principal < s.minPrincipal {
		return nil, ErrPrincipalOutOfRange
	}
	if s.maxPrincipal > 0 && principal > s.maxPrincipal {
		return nil, ErrPrincipalOutOfRange
	}

	days := req.DueInDays
	if days <= 0 {
		days = s.defaultDays
	}

	id := idgen.WithPrefix("txn_")

	// Reserve first: a transaction row must never exist without its
	// reservation.
	if err := s.credit.Reserve(ctx, req.CustomerID, money.Format(principal), id); err != nil {
		return nil, err
	}

	now := s.clk.Now()
	t := &Transaction{
		ID:              id,
		MerchantID:      req.MerchantID,
		BranchID:        req.BranchID,
		CustomerID:      req.CustomerID,
		PrincipalAmount: money.Format(principal),
		AmountPaid:      money.Format(0),
		State:           StatePending,
		DueDays:         days,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.Create(ctx, t); err != nil {
		// Compensate: the reservation must not outlive the failed insert.
		if relErr := s.credit.Release(ctx, req.CustomerID, t.PrincipalAmount, id); relErr != nil {
			s.logger.Error("CRITICAL: failed to release reservation after create failure",
				"transaction", id, "customer", req.CustomerID, "error", relErr)
		}
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	metrics.TransactionTransitionsTotal.WithLabelValues(string(StatePending)).Inc()
	if s.events != nil {
		s.events.TransactionCreated(t.CustomerID, t.MerchantID, t.ID, t.PrincipalAmount)
	}
	return t, nil
}

// Confirm accepts a pending transaction on behalf of its customer. The
// reservation made at creation is retained; the due date starts counting
// from now.
func (s *Service) Confirm(ctx context.Context, id, callerCustomerID string) (*Transaction, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerCustomerID != "" && t.CustomerID != callerCustomerID {
		return nil, ErrUnauthorized
	}
	if t.State != StatePending {
		return nil, ErrInvalidStateTransition
	}

	now := s.clk.Now()
	due := now.Add(time.Duration(t.DueDays) * 24 * time.Hour)
	t.State = StateConfirmed
	t.ConfirmedAt = &now
	t.DueDate = &due
	t.UpdatedAt = now

	if err := s.store.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to update transaction: %w", err)
	}

	metrics.TransactionTransitionsTotal.WithLabelValues(string(StateConfirmed)).Inc()
	if s.events != nil {
		s.events.TransactionConfirmed(t.CustomerID, t.MerchantID, t.ID, due)
	}
	return t, nil
}

// Reject declines a pending transaction on behalf of its customer and
// frees the reservation.
func (s *Service) Reject(ctx context.Context, id, callerCustomerID, reason string) (*Transaction, error) {
	return s.terminatePending(ctx, id, func(t *Transaction) error {
		if callerCustomerID != "" && t.CustomerID != callerCustomerID {
			return ErrUnauthorized
		}
		t.State = StateRejected
		t.RejectReason = reason
		return nil
	}, func(t *Transaction) {
		if s.events != nil {
			s.events.TransactionRejected(t.CustomerID, t.MerchantID, t.ID, reason)
		}
	})
}

// Cancel revokes a pending transaction on behalf of its merchant and
// frees the reservation.
func (s *Service) Cancel(ctx context.Context, id, callerMerchantID, reason string) (*Transaction, error) {
	return s.terminatePending(ctx, id, func(t *Transaction) error {
		if callerMerchantID != "" && t.MerchantID != callerMerchantID {
			return ErrUnauthorized
		}
		t.State = StateCancelled
		t.CancelReason = reason
		return nil
	}, func(t *Transaction) {
		if s.events != nil {
			s.events.TransactionCancelled(t.CustomerID, t.MerchantID, t.ID, reason)
		}
	})
}

// terminatePending moves a pending transaction to a pre-confirmation
// terminal state and releases its reservation. Calling on an
// already-terminal transaction fails with ErrInvalidStateTransition, not a
// silent no-op.
func (s *Service) terminatePending(ctx context.Context, id string, mutate func(*Transaction) error, emit func(*Transaction)) (*Transaction, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.State != StatePending {
		return nil, ErrInvalidStateTransition
	}
	if err := mutate(t); err != nil {
		return nil, err
	}

	now := s.clk.Now()
	t.TerminalAt = &now
	t.UpdatedAt = now

	if err := s.store.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to update transaction: %w", err)
	}

	if err := s.credit.Release(ctx, t.CustomerID, t.PrincipalAmount, t.ID); err != nil {
		s.logger.Error("CRITICAL: failed to release reservation on pending termination",
			"transaction", t.ID, "customer", t.CustomerID, "error", err)
	}

	metrics.TransactionTransitionsTotal.WithLabelValues(string(t.State)).Inc()
	emit(t)
	return t, nil
}

// ApplyPayment applies a single payment amount to one transaction. See
// ApplyPayments for the transition rules.
func (s *Service) ApplyPayment(ctx context.Context, id, amount string) (*Transaction, error) {
	txns, err := s.ApplyPayments(ctx, []Application{{TransactionID: id, Amount: amount}})
	if err != nil {
		return nil, err
	}
	return txns[0], nil
}

// ApplyPayments applies a set of payments as one all-or-nothing unit.
// Locks for every target are acquired in a fixed order before any
// validation, every target is re-read and validated under its lock
// (confirmed and overdue are equally eligible, each amount must not exceed
// that transaction's amount due), and only then are the mutations applied.
// A transaction whose paid amount reaches its principal transitions to
// paid and its full principal reservation is released.
func (s *Service) ApplyPayments(ctx context.Context, apps []Application) ([]*Transaction, error) {
	if len(apps) == 0 {
		return nil, ErrInvalidAmount
	}

	amounts := make(map[string]int64, len(apps))
	ids := make([]string, 0, len(apps))
	for _, a := range apps {
		cents, err := money.Parse(a.Amount)
		if err != nil || cents <= 0 {
			return nil, ErrInvalidAmount
		}
		if _, dup := amounts[a.TransactionID]; dup {
			return nil, fmt.Errorf("%w: duplicate transaction %s", ErrInvalidAmount, a.TransactionID)
		}
		amounts[a.TransactionID] = cents
		ids = append(ids, a.TransactionID)
	}
	sort.Strings(ids)

	unlock := s.locks.LockAll(ids)
	defer unlock()

	// Validate everything before mutating anything.
	txns := make([]*Transaction, 0, len(apps))
	byID := make(map[string]*Transaction, len(apps))
	for _, id := range ids {
		t, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !t.PayEligible() {
			return nil, fmt.Errorf("%w: transaction %s is %s", ErrInvalidStateTransition, id, t.State)
		}
		due := money.MustParse(t.PrincipalAmount) - money.MustParse(t.AmountPaid)
		if amounts[id] > due {
			return nil, fmt.Errorf("%w: transaction %s due %s", ErrExceedsAmountDue, id, money.Format(due))
		}
		byID[id] = t
	}

	now := s.clk.Now()
	for _, a := range apps {
		t := byID[a.TransactionID]
		paid := money.MustParse(t.AmountPaid) + amounts[a.TransactionID]
		t.AmountPaid = money.Format(paid)
		t.UpdatedAt = now

		settled := paid == money.MustParse(t.PrincipalAmount)
		if settled {
			t.State = StatePaid
			t.TerminalAt = &now
		}

		if err := s.store.Update(ctx, t); err != nil {
			// The per-entity store write is assumed atomic; a failure here
			// leaves earlier applications committed.
			s.logger.Error("CRITICAL: payment application partially committed",
				"transaction", t.ID, "error", err)
			return nil, fmt.Errorf("failed to update transaction %s: %w", t.ID, err)
		}

		metrics.PaymentsAppliedTotal.Inc()
		if settled {
			// The debt no longer counts against the limit; release the full
			// principal regardless of how it was paid.
			if err := s.credit.Release(ctx, t.CustomerID, t.PrincipalAmount, t.ID); err != nil {
				s.logger.Error("CRITICAL: failed to release reservation on settlement",
					"transaction", t.ID, "customer", t.CustomerID, "error", err)
			}
			metrics.TransactionTransitionsTotal.WithLabelValues(string(StatePaid)).Inc()
			if s.events != nil {
				s.events.PaymentCompleted(t.CustomerID, t.ID, t.PrincipalAmount)
			}
		}
		txns = append(txns, t)
	}

	return txns, nil
}

// MarkOverdue reclassifies a confirmed transaction past its due date.
// Exclusively the sweeper's entry point; no credit effect.
func (s *Service) MarkOverdue(ctx context.Context, id string) (*Transaction, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.State != StateConfirmed {
		return nil, ErrInvalidStateTransition
	}
	now := s.clk.Now()
	if t.DueDate == nil || !now.After(*t.DueDate) {
		return nil, ErrInvalidStateTransition
	}

	t.State = StateOverdue
	t.UpdatedAt = now

	if err := s.store.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to update transaction: %w", err)
	}

	metrics.TransactionTransitionsTotal.WithLabelValues(string(StateOverdue)).Inc()
	if s.events != nil {
		s.events.TransactionOverdue(t.CustomerID, t.MerchantID, t.ID)
	}
	return t, nil
}

// ProcessReturn reverses a confirmed, overdue or paid transaction on
// behalf of its merchant. A still-held reservation is released; a paid
// transaction's debt already left the ledger, so the return is a pure
// state reversal there (refund mechanics belong to the payment gateway).
func (s *Service) ProcessReturn(ctx context.Context, id, callerMerchantID, reason string) (*Transaction, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerMerchantID != "" && t.MerchantID != callerMerchantID {
		return nil, ErrUnauthorized
	}

	heldReservation := t.State == StateConfirmed || t.State == StateOverdue
	if !heldReservation && t.State != StatePaid {
		return nil, ErrInvalidStateTransition
	}

	now := s.clk.Now()
	t.State = StateReturned
	t.ReturnReason = reason
	t.TerminalAt = &now
	t.UpdatedAt = now

	if err := s.store.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to update transaction: %w", err)
	}

	if heldReservation {
		if err := s.credit.Release(ctx, t.CustomerID, t.PrincipalAmount, t.ID); err != nil {
			s.logger.Error("CRITICAL: failed to release reservation on return",
				"transaction", t.ID, "customer", t.CustomerID, "error", err)
		}
	}

	metrics.TransactionTransitionsTotal.WithLabelValues(string(StateReturned)).Inc()
	if s.events != nil {
		s.events.TransactionReturned(t.CustomerID, t.MerchantID, t.ID, reason)
	}
	return t, nil
}

// SweepOverdue is the scheduled overdue pass: every confirmed transaction
// whose due date has passed is reclassified independently. A transaction
// that changed state between selection and transition is skipped; other
// failures are collected, never raised, so one bad row cannot stall the
// sweep. Running the sweep twice in the same instant is a no-op the second
// time.
func (s *Service) SweepOverdue(ctx context.Context) (*SweepResult, error) {
	due, err := s.store.ListDueBefore(ctx, s.clk.Now(), 500)
	if err != nil {
		return nil, fmt.Errorf("failed to list due transactions: %w", err)
	}

	result := &SweepResult{Scanned: len(due)}
	for _, t := range due {
		_, err := s.MarkOverdue(ctx, t.ID)
		switch {
		case err == nil:
			result.Swept++
			metrics.OverdueSweptTotal.Inc()
		case errors.Is(err, ErrInvalidStateTransition):
			// Lost the race to a payment or return; nothing to do.
		default:
			result.Failures = append(result.Failures, SweepFailure{TransactionID: t.ID, Err: err.Error()})
			metrics.SweepFailuresTotal.Inc()
			s.logger.Warn("overdue sweep failed for transaction", "transaction", t.ID, "error", err)
		}
	}
	return result, nil
}

// RemindUpcoming emits a credit alert for every confirmed transaction due
// within the given number of days. Pure notification pass, no state
// change.
func (s *Service) RemindUpcoming(ctx context.Context, withinDays int) (int, error) {
	if withinDays <= 0 || s.events == nil {
		return 0, nil
	}
	now := s.clk.Now()
	upcoming, err := s.store.ListDueBetween(ctx, now, now.Add(time.Duration(withinDays)*24*time.Hour), 500)
	if err != nil {
		return 0, fmt.Errorf("failed to list upcoming transactions: %w", err)
	}
	for _, t := range upcoming {
		s.events.CreditAlert(t.CustomerID, t.ID, *t.DueDate)
	}
	return len(upcoming), nil
}

// ListSettleable returns a merchant's unbatched terminal transactions in
// the period.
func (s *Service) ListSettleable(ctx context.Context, merchantID string, periodStart, periodEnd time.Time) ([]*Transaction, error) {
	return s.store.ListSettleable(ctx, merchantID, periodStart, periodEnd)
}

// MerchantsWithSettleable returns merchants holding unbatched terminal
// transactions older than the cutoff.
func (s *Service) MerchantsWithSettleable(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.store.MerchantsWithSettleable(ctx, cutoff)
}

// LinkSettlement stamps a settlement batch id onto the given transactions.
func (s *Service) LinkSettlement(ctx context.Context, transactionIDs []string, settlementID string) error {
	return s.store.LinkSettlement(ctx, transactionIDs, settlementID)
}

// Get returns a transaction by ID.
func (s *Service) Get(ctx context.Context, id string) (*Transaction, error) {
	return s.store.Get(ctx, id)
}

// ListEligible returns a customer's payable transactions, oldest due date
// first.
func (s *Service) ListEligible(ctx context.Context, customerID string) ([]*Transaction, error) {
	return s.store.ListEligible(ctx, customerID)
}

// ListByCustomer returns a page of a customer's transactions plus the next
// cursor ("" when exhausted).
func (s *Service) ListByCustomer(ctx context.Context, customerID string, f ListFilter) ([]*Transaction, string, error) {
	return s.listPage(ctx, f, func(f ListFilter) ([]*Transaction, error) {
		return s.store.ListByCustomer(ctx, customerID, f)
	})
}

// ListByMerchant returns a page of a merchant's transactions plus the next
// cursor ("" when exhausted).
func (s *Service) ListByMerchant(ctx context.Context, merchantID string, f ListFilter) ([]*Transaction, string, error) {
	return s.listPage(ctx, f, func(f ListFilter) ([]*Transaction, error) {
		return s.store.ListByMerchant(ctx, merchantID, f)
	})
}

func (s *Service) listPage(ctx context.Context, f ListFilter, fetch func(ListFilter) ([]*Transaction, error)) ([]*Transaction, string, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	limit := f.Limit
	f.Limit = limit + 1 // fetch one extra to detect another page
	items, err := fetch(f)
	if err != nil {
		return nil, "", err
	}
	items, next, _ := pagination.ComputePage(items, limit, func(t *Transaction) (time.Time, string) {
		return t.CreatedAt, t.ID
	})
	return items, next, nil
}
