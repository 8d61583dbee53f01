// Package payment records customer repayments and allocates lump sums
// across outstanding transactions, oldest due date first.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bariqhq/bariq/internal/transaction"
)

var (
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrNoOutstandingDebt = errors.New("no outstanding debt")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrNotCustomerOwned  = errors.New("transaction does not belong to this customer")
)

// OverpaymentError rejects a payment exceeding the customer's total
// outstanding debt and carries the maximum payable amount.
type OverpaymentError struct {
	MaxPayable string
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment exceeds outstanding debt: max payable %s", e.MaxPayable)
}

// Payment is one recorded repayment applied to one transaction. A lump-sum
// payment spanning several transactions produces one record per
// transaction, sharing a batch id.
type Payment struct {
	ID            string    `json:"id"`
	BatchID       string    `json:"batchId"`
	CustomerID    string    `json:"customerId"`
	TransactionID string    `json:"transactionId"`
	Amount        string    `json:"amount"`
	Method        string    `json:"method,omitempty"`
	AppliedAt     time.Time `json:"appliedAt"`
}

// Store persists payment records.
type Store interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]*Payment, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]*Payment, error)
}

// TransactionService is the slice of the transaction service the allocator
// needs. ApplyPayments is all-or-nothing.
type TransactionService interface {
	Get(ctx context.Context, id string) (*transaction.Transaction, error)
	ListEligible(ctx context.Context, customerID string) ([]*transaction.Transaction, error)
	ApplyPayments(ctx context.Context, apps []transaction.Application) ([]*transaction.Transaction, error)
}

// PayRequest is a customer repayment. TransactionIDs restricts the
// allocation to the named transactions; when empty the amount is allocated
// across all outstanding transactions. Either way, oldest due date first.
type PayRequest struct {
	Amount         string   `json:"amount" binding:"required"`
	Method         string   `json:"method"`
	TransactionIDs []string `json:"transactionIds"`
}

// Allocation reports where one slice of a payment landed.
type Allocation struct {
	TransactionID string `json:"transactionId"`
	Amount        string `json:"amount"`
	Settled       bool   `json:"settled"`
}

// Receipt summarizes one accepted payment.
type Receipt struct {
	BatchID     string       `json:"batchId"`
	CustomerID  string       `json:"customerId"`
	Total       string       `json:"total"`
	Allocations []Allocation `json:"allocations"`
	AppliedAt   time.Time    `json:"appliedAt"`
}

// DebtSummary is a customer's outstanding position.
type DebtSummary struct {
	CustomerID       string                     `json:"customerId"`
	TotalOutstanding string                     `json:"totalOutstanding"`
	OpenTransactions int                        `json:"openTransactions"`
	OverdueCount     int                        `json:"overdueCount"`
	NextDueDate      *time.Time                 `json:"nextDueDate,omitempty"`
	Transactions     []*transaction.Transaction `json:"transactions"`
}
