// Package metrics provides Prometheus instrumentation for the Bariq platform.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bariq",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bariq",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// TransactionTransitionsTotal counts state-machine transitions by target state.
	TransactionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bariq",
			Name:      "transaction_transitions_total",
			Help:      "Total purchase transaction transitions by resulting state.",
		},
		[]string{"state"},
	)

	// CreditReservationsTotal counts ledger reserve attempts by result.
	CreditReservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bariq",
			Name:      "credit_reservations_total",
			Help:      "Total credit reservations by result (reserved, insufficient).",
		},
		[]string{"result"},
	)

	// CreditReleasesTotal counts ledger releases, including clamped ones.
	CreditReleasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bariq",
			Name:      "credit_releases_total",
			Help:      "Total credit releases by result (released, clamped).",
		},
		[]string{"result"},
	)

	// PaymentsAppliedTotal counts payment records created.
	PaymentsAppliedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bariq",
		Name:      "payments_applied_total",
		Help:      "Total payment records applied to transactions.",
	})

	// AllocationsTotal counts allocator runs by result.
	AllocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bariq",
			Name:      "allocations_total",
			Help:      "Total payment allocations by result (allocated, overpayment, no_debt).",
		},
		[]string{"result"},
	)

	// OverdueSweptTotal counts transactions reclassified by the overdue sweeper.
	OverdueSweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bariq",
		Name:      "overdue_swept_total",
		Help:      "Total transactions marked overdue by the sweeper.",
	})

	// SweepFailuresTotal counts individual transition failures inside sweeps.
	SweepFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bariq",
		Name:      "sweep_failures_total",
		Help:      "Total per-transaction failures during overdue sweeps.",
	})

	// SettlementBatchesTotal counts settlement batches by resulting state.
	SettlementBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bariq",
			Name:      "settlement_batches_total",
			Help:      "Total settlement batch operations by resulting state.",
		},
		[]string{"state"},
	)

	// LedgerConsistencyViolationsTotal counts clamped over-releases.
	LedgerConsistencyViolationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bariq",
		Name:      "ledger_consistency_violations_total",
		Help:      "Total ledger releases that exceeded the outstanding reservation and were clamped.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bariq", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bariq", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bariq", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bariq", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TransactionTransitionsTotal,
		CreditReservationsTotal,
		CreditReleasesTotal,
		PaymentsAppliedTotal,
		AllocationsTotal,
		OverdueSweptTotal,
		SweepFailuresTotal,
		SettlementBatchesTotal,
		LedgerConsistencyViolationsTotal,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
