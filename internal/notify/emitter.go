package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/bariqhq/bariq/internal/idgen"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	notifyEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bariq",
		Subsystem: "notify",
		Name:      "emit_total",
		Help:      "Total event emit attempts by event type.",
	}, []string{"event_type"})

	notifyEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bariq",
		Subsystem: "notify",
		Name:      "emit_errors_total",
		Help:      "Total event emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(notifyEmitTotal, notifyEmitErrors)
}

// Emitter wraps a Dispatcher to emit lifecycle events from the transaction,
// payment and settlement services. All methods are fire-and-forget: errors
// are logged but never returned, so delivery can never roll back a
// committed transition. A nil *Emitter is safe to call.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new event emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) emit(partyID string, eventType EventType, data map[string]any) {
	if e == nil || e.d == nil {
		return
	}
	notifyEmitTotal.WithLabelValues(string(eventType)).Inc()
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	// Bounds only the subscription lookup; delivery detaches from this
	// context inside the dispatcher.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.d.DispatchToParty(ctx, partyID, event); err != nil {
		notifyEmitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("event emit failed", "event", eventType, "party", partyID, "error", err)
	}
}

// both emits the same event to the customer and the merchant.
func (e *Emitter) both(customerID, merchantID string, eventType EventType, data map[string]any) {
	e.emit(customerID, eventType, data)
	if merchantID != "" && merchantID != customerID {
		e.emit(merchantID, eventType, data)
	}
}

// TransactionCreated emits a transaction_created event.
func (e *Emitter) TransactionCreated(customerID, merchantID, transactionID, principal string) {
	e.both(customerID, merchantID, EventTransactionCreated, map[string]any{
		"transactionId": transactionID,
		"customerId":    customerID,
		"merchantId":    merchantID,
		"principal":     principal,
	})
}

// TransactionConfirmed emits a transaction_confirmed event.
func (e *Emitter) TransactionConfirmed(customerID, merchantID, transactionID string, dueDate time.Time) {
	e.both(customerID, merchantID, EventTransactionConfirmed, map[string]any{
		"transactionId": transactionID,
		"customerId":    customerID,
		"merchantId":    merchantID,
		"dueDate":       dueDate,
	})
}

// TransactionRejected emits a transaction_rejected event.
func (e *Emitter) TransactionRejected(customerID, merchantID, transactionID, reason string) {
	e.both(customerID, merchantID, EventTransactionRejected, map[string]any{
		"transactionId": transactionID,
		"customerId":    customerID,
		"merchantId":    merchantID,
		"reason":        reason,
	})
}

// TransactionCancelled emits a transaction_cancelled event.
func (e *Emitter) TransactionCancelled(customerID, merchantID, transactionID, reason string) {
	e.both(customerID, merchantID, EventTransactionCancelled, map[string]any{
		"transactionId": transactionID,
		"customerId":    customerID,
		"merchantId":    merchantID,
		"reason":        reason,
	})
}

// TransactionOverdue emits a transaction_overdue event.
func (e *Emitter) TransactionOverdue(customerID, merchantID, transactionID string) {
	e.both(customerID, merchantID, EventTransactionOverdue, map[string]any{
		"transactionId": transactionID,
		"customerId":    customerID,
		"merchantId":    merchantID,
	})
}

// TransactionReturned emits a transaction_returned event.
func (e *Emitter) TransactionReturned(customerID, merchantID, transactionID, reason string) {
	e.both(customerID, merchantID, EventTransactionReturned, map[string]any{
		"transactionId": transactionID,
		"customerId":    customerID,
		"merchantId":    merchantID,
		"reason":        reason,
	})
}

// PaymentCompleted emits a payment_completed event.
func (e *Emitter) PaymentCompleted(customerID, transactionID, principal string) {
	e.emit(customerID, EventPaymentCompleted, map[string]any{
		"transactionId": transactionID,
		"customerId":    customerID,
		"principal":     principal,
	})
}

// CreditAlert emits a credit_alert payment reminder.
func (e *Emitter) CreditAlert(customerID, transactionID string, dueDate time.Time) {
	e.emit(customerID, EventCreditAlert, map[string]any{
		"transactionId": transactionID,
		"customerId":    customerID,
		"dueDate":       dueDate,
	})
}

// SettlementReady emits a settlement_ready event to the merchant.
func (e *Emitter) SettlementReady(merchantID, batchID, netAmount string) {
	e.emit(merchantID, EventSettlementReady, map[string]any{
		"batchId":    batchID,
		"merchantId": merchantID,
		"netAmount":  netAmount,
	})
}
