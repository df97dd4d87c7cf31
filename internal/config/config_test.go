package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setGatewayEnv(t *testing.T) {
	t.Helper()
	vars := map[string]string{
		"GATEWAY_PRIMARY__ENV":                 "test",
		"GATEWAY_SERVER__PORT":                 "8080",
		"GATEWAY_SERVER__READ_TIMEOUT":         "30s",
		"GATEWAY_SERVER__WRITE_TIMEOUT":        "30s",
		"GATEWAY_SERVER__IDLE_TIMEOUT":         "60s",
		"GATEWAY_DATABASE__HOST":               "localhost",
		"GATEWAY_DATABASE__PORT":               "5432",
		"GATEWAY_DATABASE__USER":               "pos",
		"GATEWAY_DATABASE__PASSWORD":           "secret",
		"GATEWAY_DATABASE__NAME":               "pos",
		"GATEWAY_DATABASE__SSL_MODE":           "disable",
		"GATEWAY_DATABASE__MAX_OPEN_CONNS":     "10",
		"GATEWAY_DATABASE__MAX_IDLE_CONNS":     "2",
		"GATEWAY_DATABASE__CONN_MAX_LIFETIME":  "1h",
		"GATEWAY_DATABASE__CONN_MAX_IDLE_TIME": "30m",
		"GATEWAY_TERMINAL__BASE_URL":           "http://terminals.local:9000",
		"GATEWAY_TERMINAL__EMV_TIMEOUT":        "120s",
		"GATEWAY_TERMINAL__PROMPT_TIMEOUT":     "60s",
		"GATEWAY_TERMINAL__ADMIN_TIMEOUT":      "20s",
		"GATEWAY_WORKER__INTERVAL":             "30s",
		"GATEWAY_WORKER__BATCH_SIZE":           "50",
		"GATEWAY_LEDGER__IDEMPOTENCY_LEASE":    "5m",
		"GATEWAY_AUTH__JWT_SECRET":             "dev-secret",
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("loads nested keys and applies ledger defaults", func(t *testing.T) {
		setGatewayEnv(t)

		cfg, err := LoadConfig()
		require.NoError(t, err)

		assert.Equal(t, "8080", cfg.Server.Port)
		assert.Equal(t, 120*time.Second, cfg.Terminal.EMVTimeout)
		assert.Equal(t, 5*time.Minute, cfg.Ledger.IdempotencyLease)
		assert.Equal(t, 1.5, cfg.Ledger.MaxTenderRatio)
		assert.Equal(t, 10*time.Second, cfg.Ledger.WaitTimeout)
		assert.False(t, cfg.Redis.Enabled())
	})

	t.Run("rejects a lease shorter than a card sale", func(t *testing.T) {
		setGatewayEnv(t)
		t.Setenv("GATEWAY_RETRY__MAX_RETRIES", "3")
		t.Setenv("GATEWAY_RETRY__BASE_DELAY", "1s")
		t.Setenv("GATEWAY_RETRY__MAX_DELAY", "2s")

		_, err := LoadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "idempotency lease")
	})

	t.Run("fails validation when a required key is missing", func(t *testing.T) {
		setGatewayEnv(t)
		t.Setenv("GATEWAY_AUTH__JWT_SECRET", "")

		_, err := LoadConfig()
		assert.Error(t, err)
	})
}

func TestConfig_SaleBudget(t *testing.T) {
	tests := []struct {
		name  string
		retry RetryConfig
		want  time.Duration
	}{
		{"single attempt", RetryConfig{}, 60*time.Second + 120*time.Second},
		{
			"capped backoff between attempts",
			RetryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 1500 * time.Millisecond},
			60*time.Second + 3*120*time.Second + 1500*time.Millisecond + 2250*time.Millisecond,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				Terminal: TerminalConfig{EMVTimeout: 120 * time.Second, PromptTimeout: 60 * time.Second},
				Retry:    tt.retry,
			}
			assert.Equal(t, tt.want, cfg.SaleBudget())
		})
	}
}

func TestLoadAgentConfig(t *testing.T) {
	vars := map[string]string{
		"AGENT_PRIMARY__ENV":             "test",
		"AGENT_SERVER__PORT":             "7070",
		"AGENT_SERVER__READ_TIMEOUT":     "10s",
		"AGENT_SERVER__WRITE_TIMEOUT":    "10s",
		"AGENT_SERVER__IDLE_TIMEOUT":     "30s",
		"AGENT_TERMINAL__BASE_URL":       "http://127.0.0.1:9000",
		"AGENT_TERMINAL__TERMINAL_ID":    "T3",
		"AGENT_TERMINAL__EMV_TIMEOUT":    "120s",
		"AGENT_TERMINAL__PROMPT_TIMEOUT": "60s",
		"AGENT_TERMINAL__ADMIN_TIMEOUT":  "20s",
		"AGENT_OFFLINE__DATABASE_PATH":   "/tmp/offline.db",
		"AGENT_SYNC__SERVER_URL":         "https://pos.example.com",
		"AGENT_SYNC__JWT_SECRET":         "dev-secret",
		"AGENT_SYNC__INTERVAL":           "15s",
		"AGENT_SYNC__BATCH_SIZE":         "25",
		"AGENT_SYNC__BASE_BACKOFF":       "2s",
		"AGENT_SYNC__MAX_BACKOFF":        "5m",
		"AGENT_SYNC__MAX_DEFERRALS":      "10",
		"AGENT_SYNC__TIMEOUT":            "10s",
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}

	cfg, err := LoadAgentConfig()
	require.NoError(t, err)

	assert.Equal(t, "T3", cfg.Terminal.TerminalID)
	assert.Equal(t, 10, cfg.Sync.MaxDeferrals)
	assert.Equal(t, 5*time.Minute, cfg.Sync.MaxBackoff)
}

func TestLoggerConfig_Level(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LoggerConfig{Level: "DEBUG"}.level())
	assert.Equal(t, slog.LevelWarn, LoggerConfig{Level: "warning"}.level())
	assert.Equal(t, slog.LevelInfo, LoggerConfig{}.level())
}
