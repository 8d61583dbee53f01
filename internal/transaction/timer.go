package transaction

import (
	"context"
	"log/slog"
	"time"
)

// Timer periodically sweeps confirmed transactions past their due date and
// sends payment reminders for upcoming ones.
type Timer struct {
	service      *Service
	interval     time.Duration
	reminderDays int
	logger       *slog.Logger
	stop         chan struct{}
}

// NewTimer creates a new overdue-sweep timer. reminderDays <= 0 disables
// reminders.
func NewTimer(service *Service, interval time.Duration, reminderDays int, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Timer{
		service:      service,
		interval:     interval,
		reminderDays: reminderDays,
		logger:       logger,
		stop:         make(chan struct{}),
	}
}

// Start begins the sweep loop. Call in a goroutine.
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
			t.sweep(ctx)
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

func (t *Timer) sweep(ctx context.Context) {
	result, err := t.service.SweepOverdue(ctx)
	if err != nil {
		t.logger.Warn("overdue sweep failed", "error", err)
		return
	}
	if result.Swept > 0 || len(result.Failures) > 0 {
		t.logger.Info("overdue sweep complete",
			"scanned", result.Scanned, "swept", result.Swept, "failures", len(result.Failures))
	}

	if t.reminderDays > 0 {
		count, err := t.service.RemindUpcoming(ctx, t.reminderDays)
		if err != nil {
			t.logger.Warn("payment reminders failed", "error", err)
			return
		}
		if count > 0 {
			t.logger.Info("payment reminders sent", "count", count)
		}
	}
}
