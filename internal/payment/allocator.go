package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bariqhq/bariq/internal/clock"
	"github.com/bariqhq/bariq/internal/gatewayadapter"
	"github.com/bariqhq/bariq/internal/idgen"
	"github.com/bariqhq/bariq/internal/metrics"
	"github.com/bariqhq/bariq/internal/money"
	"github.com/bariqhq/bariq/internal/transaction"
)

// Allocator accepts customer payments and splits them across outstanding
// transactions.
type Allocator struct {
	store   Store
	txns    TransactionService
	gateway gatewayadapter.Gateway
	clk     clock.Clock
	logger  *slog.Logger
}

// NewAllocator creates a new payment allocator. gateway may be nil when
// funds are confirmed upstream.
func NewAllocator(store Store, txns TransactionService, gateway gatewayadapter.Gateway, clk clock.Clock, logger *slog.Logger) *Allocator {
	if gateway == nil {
		gateway = gatewayadapter.AutoApprove{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{store: store, txns: txns, gateway: gateway, clk: clk, logger: logger}
}

// Pay applies a customer payment. The amount is allocated greedily across
// the customer's payable transactions in due-date order (restricted to the
// requested targets when given), and either the whole amount lands or
// nothing does. An amount exceeding the eligible outstanding debt is
// rejected with the maximum payable amount.
func (a *Allocator) Pay(ctx context.Context, customerID string, req PayRequest) (*Receipt, error) {
	cents, err := money.Parse(req.Amount)
	if err != nil || cents <= 0 {
		return nil, ErrInvalidAmount
	}

	apps, err := a.plan(ctx, customerID, req.TransactionIDs, cents)
	if err != nil {
		return nil, err
	}

	// Funds must be secured before any balance moves.
	batchID := idgen.WithPrefix("pay_")
	if err := a.gateway.ConfirmFunds(ctx, customerID, money.Format(cents), batchID); err != nil {
		return nil, err
	}

	applied, err := a.txns.ApplyPayments(ctx, apps)
	if err != nil {
		return nil, err
	}
	now := a.clk.Now()
	receipt := &Receipt{
		BatchID:    batchID,
		CustomerID: customerID,
		Total:      money.Format(cents),
		AppliedAt:  now,
	}
	settled := make(map[string]bool, len(applied))
	for _, t := range applied {
		settled[t.ID] = t.State == transaction.StatePaid
	}
	for _, app := range apps {
		p := &Payment{
			ID:            idgen.WithPrefix("pay_"),
			BatchID:       batchID,
			CustomerID:    customerID,
			TransactionID: app.TransactionID,
			Amount:        app.Amount,
			Method:        req.Method,
			AppliedAt:     now,
		}
		if err := a.store.Create(ctx, p); err != nil {
			// The transaction balances already moved; losing the record is
			// an audit gap, not a reversal.
			a.logger.Error("CRITICAL: payment applied but record not persisted",
				"payment", p.ID, "transaction", app.TransactionID, "error", err)
		}
		receipt.Allocations = append(receipt.Allocations, Allocation{
			TransactionID: app.TransactionID,
			Amount:        app.Amount,
			Settled:       settled[app.TransactionID],
		})
	}

	metrics.AllocationsTotal.WithLabelValues("allocated").Inc()
	return receipt, nil
}

// plan allocates a lump sum oldest due date first, optionally restricted
// to target transactions.
func (a *Allocator) plan(ctx context.Context, customerID string, targets []string, cents int64) ([]transaction.Application, error) {
	eligible, err := a.txns.ListEligible(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outstanding transactions: %w", err)
	}
	if len(targets) > 0 {
		eligible, err = a.restrict(ctx, customerID, eligible, targets)
		if err != nil {
			return nil, err
		}
	}
	if len(eligible) == 0 {
		metrics.AllocationsTotal.WithLabelValues("no_debt").Inc()
		return nil, ErrNoOutstandingDebt
	}

	var total int64
	for _, t := range eligible {
		total += money.MustParse(t.AmountDue())
	}
	if cents > total {
		metrics.AllocationsTotal.WithLabelValues("overpayment").Inc()
		return nil, &OverpaymentError{MaxPayable: money.Format(total)}
	}

	var apps []transaction.Application
	remaining := cents
	for _, t := range eligible {
		if remaining == 0 {
			break
		}
		due := money.MustParse(t.AmountDue())
		slice := due
		if remaining < due {
			slice = remaining
		}
		apps = append(apps, transaction.Application{
			TransactionID: t.ID,
			Amount:        money.Format(slice),
		})
		remaining -= slice
	}
	return apps, nil
}

// restrict filters the eligible list down to the requested targets,
// preserving due-date order, and explains any target that cannot be paid.
func (a *Allocator) restrict(ctx context.Context, customerID string, eligible []*transaction.Transaction, targets []string) ([]*transaction.Transaction, error) {
	byID := make(map[string]*transaction.Transaction, len(eligible))
	for _, t := range eligible {
		byID[t.ID] = t
	}
	wanted := make(map[string]bool, len(targets))
	for _, id := range targets {
		if byID[id] == nil {
			t, err := a.txns.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			if t.CustomerID != customerID {
				return nil, ErrNotCustomerOwned
			}
			return nil, fmt.Errorf("%w: transaction %s is %s", transaction.ErrInvalidStateTransition, id, t.State)
		}
		wanted[id] = true
	}
	out := make([]*transaction.Transaction, 0, len(wanted))
	for _, t := range eligible {
		if wanted[t.ID] {
			out = append(out, t)
		}
	}
	return out, nil
}

// History returns a customer's recent payment records, newest first.
func (a *Allocator) History(ctx context.Context, customerID string, limit int) ([]*Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	return a.store.ListByCustomer(ctx, customerID, limit)
}

// TransactionHistory returns the payments applied to one transaction.
func (a *Allocator) TransactionHistory(ctx context.Context, transactionID string) ([]*Payment, error) {
	return a.store.ListByTransaction(ctx, transactionID)
}

// Summary returns the customer's outstanding position.
func (a *Allocator) Summary(ctx context.Context, customerID string) (*DebtSummary, error) {
	eligible, err := a.txns.ListEligible(ctx, customerID)
	if err != nil {
		return nil, err
	}
	summary := &DebtSummary{
		CustomerID:       customerID,
		TotalOutstanding: money.Format(0),
		OpenTransactions: len(eligible),
		Transactions:     eligible,
	}
	var total int64
	for _, t := range eligible {
		total += money.MustParse(t.AmountDue())
		if t.State == transaction.StateOverdue {
			summary.OverdueCount++
		}
		if t.DueDate != nil && (summary.NextDueDate == nil || t.DueDate.Before(*summary.NextDueDate)) {
			summary.NextDueDate = t.DueDate
		}
	}
	summary.TotalOutstanding = money.Format(total)
	return summary, nil
}
