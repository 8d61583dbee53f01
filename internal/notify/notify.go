// Package notify delivers domain events to external subscribers.
//
// The core emits plain event records; webhook delivery, signing and retry
// live here, and a delivery failure never rolls back the state transition
// that produced the event.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bariqhq/bariq/internal/retry"
)

// EventType represents the type of domain event.
type EventType string

const (
	EventTransactionCreated   EventType = "transaction_created"
	EventTransactionConfirmed EventType = "transaction_confirmed"
	EventTransactionRejected  EventType = "transaction_rejected"
	EventTransactionCancelled EventType = "transaction_cancelled"
	EventTransactionOverdue   EventType = "transaction_overdue"
	EventTransactionReturned  EventType = "transaction_returned"
	EventPaymentCompleted     EventType = "payment_completed"
	EventSettlementReady      EventType = "settlement_ready"
	EventCreditAlert          EventType = "credit_alert"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

// Event is one domain event record.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Subscription registers a webhook URL for a party (merchant or customer
// id).
type Subscription struct {
	ID          string      `json:"id"`
	PartyID     string      `json:"partyId"`
	URL         string      `json:"url"`
	Secret      string      `json:"-"` // HMAC signing key
	Events      []EventType `json:"events"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"createdAt"`
	LastSuccess *time.Time  `json:"lastSuccess,omitempty"`
	LastError   string      `json:"lastError,omitempty"`
}

// wants reports whether the subscription covers the event type. An empty
// event list covers everything.
func (s *Subscription) wants(t EventType) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, et := range s.Events {
		if et == t {
			return true
		}
	}
	return false
}

// Store persists webhook subscriptions.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetByParty(ctx context.Context, partyID string) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// Dispatcher sends events to subscribed webhooks.
type Dispatcher struct {
	store       Store
	client      *http.Client
	maxAttempts int
	baseDelay   time.Duration
	sendTimeout time.Duration
}

// NewDispatcher creates a new webhook dispatcher.
func NewDispatcher(store Store) *Dispatcher {
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
		sendTimeout: 45 * time.Second,
	}
}

// DispatchToParty sends an event to the party's active matching
// subscriptions. Delivery is asynchronous.
func (d *Dispatcher) DispatchToParty(ctx context.Context, partyID string, event *Event) error {
	subs, err := d.store.GetByParty(ctx, partyID)
	if err != nil {
		return fmt.Errorf("failed to get subscriptions: %w", err)
	}

	for _, sub := range subs {
		if !sub.Active || !sub.wants(event.Type) {
			continue
		}
		// The caller's context governs only the subscription lookup;
		// delivery outlives the emitting request.
		go d.send(context.WithoutCancel(ctx), sub, event)
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *Event) {
	ctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	payload, err := json.Marshal(event)
	if err != nil {
		d.updateError(ctx, sub, "failed to marshal event")
		return
	}

	err = retry.Do(ctx, d.maxAttempts, d.baseDelay, func() error {
		return d.post(ctx, sub, event, payload)
	})
	if err != nil {
		d.updateError(ctx, sub, err.Error())
		return
	}
	d.updateSuccess(ctx, sub)
}

func (d *Dispatcher) post(ctx context.Context, sub *Subscription, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, "POST", sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Bariq-Event", string(event.Type))
	req.Header.Set("X-Bariq-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))
	if sub.Secret != "" {
		req.Header.Set("X-Bariq-Signature", Sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The receiver rejected the payload; retrying won't help.
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	default:
		return fmt.Errorf("status %d", resp.StatusCode)
	}
}

// Sign computes the hex HMAC-SHA256 signature receivers verify.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) updateSuccess(ctx context.Context, sub *Subscription) {
	now := time.Now()
	sub.LastSuccess = &now
	sub.LastError = ""
	_ = d.store.Update(ctx, sub)
}

func (d *Dispatcher) updateError(ctx context.Context, sub *Subscription, errMsg string) {
	sub.LastError = errMsg
	_ = d.store.Update(ctx, sub)
}
