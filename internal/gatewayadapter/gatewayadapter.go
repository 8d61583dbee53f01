// Package gatewayadapter is the narrow seam to the external payment
// gateway. The core only records payments after this adapter confirms the
// funds; it never initiates or polls gateway transactions itself.
package gatewayadapter

import (
	"context"
	"errors"
	"sync"
)

var ErrFundsNotConfirmed = errors.New("funds not confirmed by payment gateway")

// Gateway confirms that a customer's funds for a payment are secured.
type Gateway interface {
	ConfirmFunds(ctx context.Context, customerID, amount, reference string) error
}

// AutoApprove confirms every payment. Used in development and anywhere a
// real gateway sits in front of the service.
type AutoApprove struct{}

func (AutoApprove) ConfirmFunds(ctx context.Context, customerID, amount, reference string) error {
	return nil
}

// Confirmation is one recorded ConfirmFunds call.
type Confirmation struct {
	CustomerID string
	Amount     string
	Reference  string
}

// Recording is a test double that records confirmations and can be told to
// decline.
type Recording struct {
	mu      sync.Mutex
	calls   []Confirmation
	Decline bool
}

func (r *Recording) ConfirmFunds(ctx context.Context, customerID, amount, reference string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Decline {
		return ErrFundsNotConfirmed
	}
	r.calls = append(r.calls, Confirmation{CustomerID: customerID, Amount: amount, Reference: reference})
	return nil
}

// Calls returns a copy of the recorded confirmations.
func (r *Recording) Calls() []Confirmation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Confirmation(nil), r.calls...)
}

var (
	_ Gateway = AutoApprove{}
	_ Gateway = (*Recording)(nil)
)
