// Package transaction implements the purchase transaction state machine.
//
// Flow:
//  1. Merchant creates a transaction → principal reserved against the
//     customer's credit limit → state: pending
//  2. Customer confirms → debt due by due date → state: confirmed
//     (or rejects; merchant can cancel while still pending)
//  3. Payments are applied until the principal is covered → state: paid,
//     reservation released
//  4. The overdue sweeper reclassifies confirmed transactions past their
//     due date → state: overdue (still payable)
//  5. Merchant can process a return of a confirmed/overdue/paid
//     transaction → state: returned
//
// pending, cancelled and rejected exist only before confirmation; paid and
// overdue only after. cancelled, rejected, paid and returned are terminal.
package transaction

import (
	"context"
	"errors"
	"time"

	"github.com/bariqhq/bariq/internal/money"
)

var (
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrExceedsAmountDue       = errors.New("payment exceeds amount due")
	ErrPrincipalOutOfRange    = errors.New("principal outside allowed transaction range")
	ErrUnauthorized           = errors.New("not authorized for this transaction")
)

// State represents the state of a purchase transaction.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StatePaid      State = "paid"
	StateOverdue   State = "overdue"
	StateCancelled State = "cancelled"
	StateRejected  State = "rejected"
	StateReturned  State = "returned"
)

// Transaction represents one buy-now-pay-later purchase.
type Transaction struct {
	ID              string     `json:"id"`
	MerchantID      string     `json:"merchantId"`
	BranchID        string     `json:"branchId,omitempty"`
	CustomerID      string     `json:"customerId"`
	PrincipalAmount string     `json:"principalAmount"`
	AmountPaid      string     `json:"amountPaid"`
	State           State      `json:"state"`
	DueDays         int        `json:"dueDays"`
	DueDate         *time.Time `json:"dueDate,omitempty"`
	CancelReason    string     `json:"cancelReason,omitempty"`
	RejectReason    string     `json:"rejectReason,omitempty"`
	ReturnReason    string     `json:"returnReason,omitempty"`
	SettlementID    string     `json:"settlementId,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	ConfirmedAt     *time.Time `json:"confirmedAt,omitempty"`
	TerminalAt      *time.Time `json:"terminalAt,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// AmountDue returns principal - paid.
func (t *Transaction) AmountDue() string {
	principal := money.MustParse(t.PrincipalAmount)
	paid := money.MustParse(t.AmountPaid)
	return money.Format(principal - paid)
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	switch t.State {
	case StatePaid, StateCancelled, StateRejected, StateReturned:
		return true
	}
	return false
}

// PayEligible returns true if payments may be applied in the current state.
func (t *Transaction) PayEligible() bool {
	return t.State == StateConfirmed || t.State == StateOverdue
}

// ListFilter narrows transaction list queries.
type ListFilter struct {
	State  State  // empty matches all states
	Cursor string // opaque pagination cursor
	Limit  int
}

// Store persists transaction data.
type Store interface {
	Create(ctx context.Context, t *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	Update(ctx context.Context, t *Transaction) error
	ListByCustomer(ctx context.Context, customerID string, f ListFilter) ([]*Transaction, error)
	ListByMerchant(ctx context.Context, merchantID string, f ListFilter) ([]*Transaction, error)
	// ListEligible returns the customer's confirmed/overdue transactions
	// ordered oldest due date first, ties broken by id ascending.
	ListEligible(ctx context.Context, customerID string) ([]*Transaction, error)
	// ListDueBefore returns confirmed transactions with a due date strictly
	// before the cutoff.
	ListDueBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error)
	// ListDueBetween returns confirmed transactions due inside [from, to),
	// used for payment reminders.
	ListDueBetween(ctx context.Context, from, to time.Time, limit int) ([]*Transaction, error)
	// ListSettleable returns a merchant's paid/returned transactions with
	// terminal_at inside [periodStart, periodEnd) not yet linked to a
	// settlement batch.
	ListSettleable(ctx context.Context, merchantID string, periodStart, periodEnd time.Time) ([]*Transaction, error)
	// MerchantsWithSettleable returns merchant ids holding unbatched
	// terminal transactions with terminal_at before the cutoff.
	MerchantsWithSettleable(ctx context.Context, cutoff time.Time) ([]string, error)
	// LinkSettlement stamps a batch id onto the given transactions.
	LinkSettlement(ctx context.Context, transactionIDs []string, settlementID string) error
}

// CreditService abstracts the credit ledger so this package doesn't import
// it. Reserve fails when the customer lacks available credit; Release never
// fails on over-release (the ledger clamps).
type CreditService interface {
	Reserve(ctx context.Context, customerID, amount, reference string) error
	Release(ctx context.Context, customerID, amount, reference string) error
}

// CreateRequest contains the parameters for creating a transaction.
type CreateRequest struct {
	MerchantID      string `json:"merchantId"`
	BranchID        string `json:"branchId"`
	CustomerID      string `json:"customerId" binding:"required"`
	PrincipalAmount string `json:"principalAmount" binding:"required"`
	DueInDays       int    `json:"dueInDays"`
}

// ReasonRequest carries the reason for cancel/reject/return operations.
type ReasonRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Application is one payment applied to one transaction, used by the
// all-or-nothing multi-apply path.
type Application struct {
	TransactionID string
	Amount        string
}

// SweepFailure records one transaction the overdue sweep could not
// transition.
type SweepFailure struct {
	TransactionID string `json:"transactionId"`
	Err           string `json:"error"`
}

// SweepResult summarizes one overdue sweep pass.
type SweepResult struct {
	Scanned  int            `json:"scanned"`
	Swept    int            `json:"swept"`
	Failures []SweepFailure `json:"failures,omitempty"`
}
