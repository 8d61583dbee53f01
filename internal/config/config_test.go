package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultRepaymentDays, cfg.RepaymentDays)
	assert.Equal(t, DefaultSettlementFeeRate, cfg.SettlementFeeRate)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
	assert.Equal(t, DefaultMinTransaction, cfg.MinTransactionSAR)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "REPAYMENT_DAYS", "14")
	setEnv(t, "SETTLEMENT_FEE_RATE", "0.035")
	setEnv(t, "SWEEP_INTERVAL", "5m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 14, cfg.RepaymentDays)
	assert.Equal(t, 0.035, cfg.SettlementFeeRate)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid",
			config: Config{
				RepaymentDays:      30,
				SettlementFeeRate:  0.02,
				SweepInterval:      time.Minute,
				SettlementInterval: time.Hour,
			},
		},
		{
			name: "zero repayment days",
			config: Config{
				SettlementFeeRate:  0.02,
				SweepInterval:      time.Minute,
				SettlementInterval: time.Hour,
			},
			wantErr: "REPAYMENT_DAYS",
		},
		{
			name: "fee rate out of range",
			config: Config{
				RepaymentDays:      30,
				SettlementFeeRate:  1.5,
				SweepInterval:      time.Minute,
				SettlementInterval: time.Hour,
			},
			wantErr: "SETTLEMENT_FEE_RATE",
		},
		{
			name: "negative fee rate",
			config: Config{
				RepaymentDays:      30,
				SettlementFeeRate:  -0.01,
				SweepInterval:      time.Minute,
				SettlementInterval: time.Hour,
			},
			wantErr: "SETTLEMENT_FEE_RATE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
