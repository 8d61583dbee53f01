// Package settlement batches a merchant's completed transactions into
// payable amounts net of the platform fee.
package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/bariqhq/bariq/internal/transaction"
)

var (
	ErrBatchNotFound          = errors.New("settlement batch not found")
	ErrInvalidStateTransition = errors.New("invalid batch state transition")
	ErrNothingToSettle        = errors.New("no settleable transactions in period")
	ErrInvalidPeriod          = errors.New("invalid settlement period")
)

// State represents the state of a settlement batch.
type State string

const (
	StatePending     State = "pending"
	StateApproved    State = "approved"
	StateTransferred State = "transferred"
	StateRejected    State = "rejected"
)

// Batch is one merchant's payable amount for a settlement period.
//
// Gross is the sum of principal of paid transactions in the window minus
// the principal of returned ones; returns claw back the full principal.
// Net = gross - fee. The member transaction set is fixed at creation and a
// transaction belongs to at most one batch, ever.
type Batch struct {
	ID                string     `json:"id"`
	MerchantID        string     `json:"merchantId"`
	PeriodStart       time.Time  `json:"periodStart"`
	PeriodEnd         time.Time  `json:"periodEnd"`
	GrossAmount       string     `json:"grossAmount"`
	FeeAmount         string     `json:"feeAmount"`
	NetAmount         string     `json:"netAmount"`
	State             State      `json:"state"`
	TransactionIDs    []string   `json:"transactionIds"`
	PaidCount         int        `json:"paidCount"`
	ReturnedCount     int        `json:"returnedCount"`
	RejectReason      string     `json:"rejectReason,omitempty"`
	TransferReference string     `json:"transferReference,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	ApprovedAt        *time.Time `json:"approvedAt,omitempty"`
	TransferredAt     *time.Time `json:"transferredAt,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Store persists settlement batches.
type Store interface {
	Create(ctx context.Context, b *Batch) error
	Get(ctx context.Context, id string) (*Batch, error)
	Update(ctx context.Context, b *Batch) error
	Delete(ctx context.Context, id string) error
	ListByMerchant(ctx context.Context, merchantID string, limit int) ([]*Batch, error)
	ListByState(ctx context.Context, state State, limit int) ([]*Batch, error)
}

// TransactionSource is the slice of the transaction service the calculator
// reads terminal transactions from.
type TransactionSource interface {
	ListSettleable(ctx context.Context, merchantID string, periodStart, periodEnd time.Time) ([]*transaction.Transaction, error)
	MerchantsWithSettleable(ctx context.Context, cutoff time.Time) ([]string, error)
	LinkSettlement(ctx context.Context, transactionIDs []string, settlementID string) error
}

// EventSink is notified when a batch becomes payable.
type EventSink interface {
	SettlementReady(merchantID, batchID, netAmount string)
}
