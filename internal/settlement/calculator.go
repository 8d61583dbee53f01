package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bariqhq/bariq/internal/clock"
	"github.com/bariqhq/bariq/internal/idgen"
	"github.com/bariqhq/bariq/internal/metrics"
	"github.com/bariqhq/bariq/internal/money"
	"github.com/bariqhq/bariq/internal/syncutil"
	"github.com/bariqhq/bariq/internal/transaction"
)

// Calculator creates and manages settlement batches.
type Calculator struct {
	store   Store
	txns    TransactionSource
	events  EventSink
	clk     clock.Clock
	logger  *slog.Logger
	locks   syncutil.ShardedMutex
	feeRate float64
}

// NewCalculator creates a new settlement calculator. events may be nil.
func NewCalculator(store Store, txns TransactionSource, events EventSink, feeRate float64, clk clock.Clock, logger *slog.Logger) *Calculator {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{
		store:   store,
		txns:    txns,
		events:  events,
		clk:     clk,
		logger:  logger,
		feeRate: feeRate,
	}
}

// CreateBatch batches the merchant's unbatched paid/returned transactions
// with terminal_at inside [periodStart, periodEnd). Transactions already
// linked to a batch are excluded by the source query, so overlapping
// periods are safe; the exclusion rule, not date disjointness, prevents
// double-batching. A batch whose returns outweigh its payments carries a
// negative gross and no fee.
func (c *Calculator) CreateBatch(ctx context.Context, merchantID string, periodStart, periodEnd time.Time) (*Batch, error) {
	if !periodStart.Before(periodEnd) {
		return nil, ErrInvalidPeriod
	}

	// Serialize per merchant so concurrent batch jobs cannot pick up the
	// same transactions.
	unlock := c.locks.Lock(merchantID)
	defer unlock()

	txns, err := c.txns.ListSettleable(ctx, merchantID, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to list settleable transactions: %w", err)
	}
	if len(txns) == 0 {
		return nil, ErrNothingToSettle
	}

	var gross int64
	b := &Batch{
		ID:          idgen.WithPrefix("stl_"),
		MerchantID:  merchantID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		State:       StatePending,
	}
	for _, t := range txns {
		principal := money.MustParse(t.PrincipalAmount)
		if t.State == transaction.StateReturned {
			gross -= principal
			b.ReturnedCount++
		} else {
			gross += principal
			b.PaidCount++
		}
		b.TransactionIDs = append(b.TransactionIDs, t.ID)
	}

	var fee int64
	if gross > 0 {
		fee = money.Fee(gross, c.feeRate)
	}
	b.GrossAmount = money.Format(gross)
	b.FeeAmount = money.Format(fee)
	b.NetAmount = money.Format(gross - fee)

	now := c.clk.Now()
	b.CreatedAt = now
	b.UpdatedAt = now

	if err := c.store.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to create settlement batch: %w", err)
	}
	if err := c.txns.LinkSettlement(ctx, b.TransactionIDs, b.ID); err != nil {
		// The members are not stamped and would be picked up again by the
		// next run, so the batch must not survive.
		if delErr := c.store.Delete(ctx, b.ID); delErr != nil {
			c.logger.Error("CRITICAL: failed to delete batch after link failure",
				"batch", b.ID, "merchant", merchantID, "error", delErr)
		}
		return nil, fmt.Errorf("failed to link transactions to batch: %w", err)
	}

	metrics.SettlementBatchesTotal.WithLabelValues(string(StatePending)).Inc()
	c.logger.Info("settlement batch created",
		"batch", b.ID, "merchant", merchantID,
		"gross", b.GrossAmount, "fee", b.FeeAmount, "net", b.NetAmount,
		"paid", b.PaidCount, "returned", b.ReturnedCount)
	return b, nil
}

// RunPeriod creates batches for every merchant with settleable
// transactions older than periodEnd. Per-merchant failures are logged and
// skipped.
func (c *Calculator) RunPeriod(ctx context.Context, periodStart, periodEnd time.Time) ([]*Batch, error) {
	merchants, err := c.txns.MerchantsWithSettleable(ctx, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to list merchants: %w", err)
	}

	var batches []*Batch
	for _, merchantID := range merchants {
		b, err := c.CreateBatch(ctx, merchantID, periodStart, periodEnd)
		if err != nil {
			if err != ErrNothingToSettle {
				c.logger.Warn("settlement batch failed for merchant", "merchant", merchantID, "error", err)
			}
			continue
		}
		batches = append(batches, b)
	}
	return batches, nil
}

// Approve moves a pending batch to approved and signals it is ready for
// transfer.
func (c *Calculator) Approve(ctx context.Context, id string) (*Batch, error) {
	b, err := c.transition(ctx, id, StatePending, func(b *Batch, now time.Time) {
		b.State = StateApproved
		b.ApprovedAt = &now
	})
	if err != nil {
		return nil, err
	}
	if c.events != nil {
		c.events.SettlementReady(b.MerchantID, b.ID, b.NetAmount)
	}
	return b, nil
}

// Reject declines a pending batch. Its transactions stay linked; the
// rejection is an accounting decision, not a release back into the pool.
func (c *Calculator) Reject(ctx context.Context, id, reason string) (*Batch, error) {
	return c.transition(ctx, id, StatePending, func(b *Batch, now time.Time) {
		b.State = StateRejected
		b.RejectReason = reason
	})
}

// MarkTransferred records the completed payout for an approved batch.
// Terminal.
func (c *Calculator) MarkTransferred(ctx context.Context, id, transferReference string) (*Batch, error) {
	return c.transition(ctx, id, StateApproved, func(b *Batch, now time.Time) {
		b.State = StateTransferred
		b.TransferReference = transferReference
		b.TransferredAt = &now
	})
}

func (c *Calculator) transition(ctx context.Context, id string, from State, mutate func(*Batch, time.Time)) (*Batch, error) {
	unlock := c.locks.Lock(id)
	defer unlock()

	b, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.State != from {
		return nil, fmt.Errorf("%w: batch %s is %s", ErrInvalidStateTransition, id, b.State)
	}

	now := c.clk.Now()
	mutate(b, now)
	b.UpdatedAt = now

	if err := c.store.Update(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to update batch: %w", err)
	}
	metrics.SettlementBatchesTotal.WithLabelValues(string(b.State)).Inc()
	return b, nil
}

// Get returns a batch by ID.
func (c *Calculator) Get(ctx context.Context, id string) (*Batch, error) {
	return c.store.Get(ctx, id)
}

// ListByMerchant returns a merchant's batches, newest first.
func (c *Calculator) ListByMerchant(ctx context.Context, merchantID string, limit int) ([]*Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	return c.store.ListByMerchant(ctx, merchantID, limit)
}

// ListPending returns batches awaiting review.
func (c *Calculator) ListPending(ctx context.Context, limit int) ([]*Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	return c.store.ListByState(ctx, StatePending, limit)
}
