// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Credit settings
	RepaymentDays     int    // Default due period for confirmed transactions
	MinTransactionSAR string // Minimum transaction principal
	MaxTransactionSAR string // Maximum transaction principal

	// Settlement
	SettlementFeeRate  float64       // Platform cut applied to settlement batches
	SettlementInterval time.Duration // How often the scheduler batches merchants

	// Overdue sweep
	SweepInterval time.Duration // How often confirmed transactions are checked against due dates
	ReminderDays  int           // Days before due date to emit payment reminders

	// Notifications
	WebhookSecret string
}

const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultRepaymentDays      = 30
	DefaultMinTransaction     = "10.00"
	DefaultMaxTransaction     = "5000.00"
	DefaultSettlementFeeRate  = 0.02
	DefaultSettlementInterval = 24 * time.Hour
	DefaultSweepInterval      = 15 * time.Minute
	DefaultReminderDays       = 3
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RepaymentDays:      getEnvInt("REPAYMENT_DAYS", DefaultRepaymentDays),
		MinTransactionSAR:  getEnv("MIN_TRANSACTION_AMOUNT", DefaultMinTransaction),
		MaxTransactionSAR:  getEnv("MAX_TRANSACTION_AMOUNT", DefaultMaxTransaction),
		SettlementFeeRate:  getEnvFloat("SETTLEMENT_FEE_RATE", DefaultSettlementFeeRate),
		SettlementInterval: getEnvDuration("SETTLEMENT_INTERVAL", DefaultSettlementInterval),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		ReminderDays:       getEnvInt("REMINDER_DAYS", DefaultReminderDays),
		WebhookSecret:      os.Getenv("WEBHOOK_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and sane
func (c *Config) Validate() error {
	if c.RepaymentDays <= 0 {
		return fmt.Errorf("REPAYMENT_DAYS must be positive")
	}
	if c.SettlementFeeRate < 0 || c.SettlementFeeRate >= 1 {
		return fmt.Errorf("SETTLEMENT_FEE_RATE must be in [0, 1)")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.SettlementInterval <= 0 {
		return fmt.Errorf("SETTLEMENT_INTERVAL must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
