// Package server wires the services together and runs the HTTP API.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/bariqhq/bariq/internal/config"
	"github.com/bariqhq/bariq/internal/gatewayadapter"
	"github.com/bariqhq/bariq/internal/health"
	"github.com/bariqhq/bariq/internal/idgen"
	"github.com/bariqhq/bariq/internal/ledger"
	"github.com/bariqhq/bariq/internal/logging"
	"github.com/bariqhq/bariq/internal/metrics"
	"github.com/bariqhq/bariq/internal/notify"
	"github.com/bariqhq/bariq/internal/payment"
	"github.com/bariqhq/bariq/internal/settlement"
	"github.com/bariqhq/bariq/internal/transaction"
	"github.com/bariqhq/bariq/internal/validation"
)

// Server wraps the HTTP server and the service graph behind it.
type Server struct {
	cfg *config.Config

	ledger          *ledger.Ledger
	transactions    *transaction.Service
	payments        *payment.Allocator
	settlements     *settlement.Calculator
	dispatcher      *notify.Dispatcher
	subscriptions   notify.Store
	sweepTimer      *transaction.Timer
	settlementTimer *settlement.Timer

	gateway      gatewayadapter.Gateway
	db           *sql.DB // nil when using in-memory stores
	healthChecks *health.Registry
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc

	ready atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGateway sets a custom payment gateway adapter.
func WithGateway(g gatewayadapter.Gateway) Option {
	return func(s *Server) {
		s.gateway = g
	}
}

// New creates a new server instance.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:          cfg,
		logger:       logging.New(cfg.LogLevel, "json"),
		healthChecks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	var (
		ledgerStore       ledger.Store
		transactionStore  transaction.Store
		paymentStore      payment.Store
		settlementStore   settlement.Store
		subscriptionStore notify.Store
	)

	// Postgres when DATABASE_URL is set, otherwise in-memory.
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		ledgerStore = ledger.NewPostgresStore(db)
		transactionStore = transaction.NewPostgresStore(db)
		paymentStore = payment.NewPostgresStore(db)
		settlementStore = settlement.NewPostgresStore(db)
		subscriptionStore = notify.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.healthChecks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		ledgerStore = ledger.NewMemoryStore()
		transactionStore = transaction.NewMemoryStore()
		paymentStore = payment.NewMemoryStore()
		settlementStore = settlement.NewMemoryStore()
		subscriptionStore = notify.NewMemoryStore()
		s.logger.Warn("using in-memory storage, data will not survive restarts")
	}

	s.subscriptions = subscriptionStore
	s.dispatcher = notify.NewDispatcher(subscriptionStore)
	emitter := notify.NewEmitter(s.dispatcher, s.logger)

	s.ledger = ledger.New(ledgerStore, nil, s.logger)
	s.transactions = transaction.NewService(transactionStore, s.ledger, emitter, nil, s.logger, transaction.Limits{
		MinPrincipal: cfg.MinTransactionSAR,
		MaxPrincipal: cfg.MaxTransactionSAR,
		DefaultDays:  cfg.RepaymentDays,
	})

	s.payments = payment.NewAllocator(paymentStore, s.transactions, s.gateway, nil, s.logger)
	s.settlements = settlement.NewCalculator(settlementStore, s.transactions, emitter, cfg.SettlementFeeRate, nil, s.logger)

	s.sweepTimer = transaction.NewTimer(s.transactions, cfg.SweepInterval, cfg.ReminderDays, s.logger)
	s.settlementTimer = settlement.NewTimer(s.settlements, cfg.SettlementInterval, s.logger)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Hex(8)
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	{
		ledgerHandler := ledger.NewHandler(s.ledger)
		ledgerHandler.RegisterRoutes(v1)
		ledgerHandler.RegisterAdminRoutes(v1)

		transaction.NewHandler(s.transactions).RegisterRoutes(v1)
		payment.NewHandler(s.payments).RegisterRoutes(v1)

		settlementHandler := settlement.NewHandler(s.settlements)
		settlementHandler.RegisterRoutes(v1)
		settlementHandler.RegisterAdminRoutes(v1)

		notify.NewHandler(s.subscriptions, s.cfg.WebhookSecret).RegisterRoutes(v1)
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthChecks.CheckAll(ctx)
	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Run starts the HTTP server and the background timers, then blocks until
// a shutdown signal or a server error.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.sweepTimer.Start(runCtx)
	go s.settlementTimer.Start(runCtx)

	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the HTTP server, the timers and the database
// pool.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.sweepTimer.Stop()
	s.settlementTimer.Stop()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
