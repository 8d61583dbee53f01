package settlement

import (
	"context"
	"log/slog"
	"time"
)

// Timer periodically batches settleable transactions for every merchant.
// Each run covers everything up to its own start; overlap with earlier
// runs is harmless because batched transactions are excluded at the
// source.
type Timer struct {
	calculator *Calculator
	interval   time.Duration
	logger     *slog.Logger
	stop       chan struct{}
}

// NewTimer creates a new settlement timer.
func NewTimer(calculator *Calculator, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Timer{
		calculator: calculator,
		interval:   interval,
		logger:     logger,
		stop:       make(chan struct{}),
	}
}

// Start begins the settlement loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.run(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) run(ctx context.Context) {
	// Open-ended start so transactions missed by an earlier failed run
	// still get picked up; the exclusion rule keeps this safe.
	end := t.calculator.clk.Now()
	batches, err := t.calculator.RunPeriod(ctx, time.Time{}, end)
	if err != nil {
		t.logger.Warn("settlement run failed", "error", err)
		return
	}
	if len(batches) > 0 {
		t.logger.Info("settlement run complete", "batches", len(batches))
	}
}
