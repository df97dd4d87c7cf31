package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator"
	_ "github.com/joho/godotenv/autoload"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/env"
)

const (
	gatewayPrefix = "GATEWAY_"
	agentPrefix   = "AGENT_"

	EnvProduction = "production"
)

// Config is the payment core server configuration.
type Config struct {
	Primary  Primary        `koanf:"primary"`
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Terminal TerminalConfig `koanf:"terminal"`
	Retry    RetryConfig    `koanf:"retry"`
	Logger   LoggerConfig   `koanf:"logger"`
	Worker   WorkerConfig   `koanf:"worker"`
	Redis    RedisConfig    `koanf:"redis"`
	Ledger   LedgerConfig   `koanf:"ledger"`
	Auth     AuthConfig     `koanf:"auth"`
}

// AgentConfig is the configuration of the terminal-side agent that owns the
// offline queue.
type AgentConfig struct {
	Primary  Primary        `koanf:"primary"`
	Server   ServerConfig   `koanf:"server"`
	Terminal TerminalConfig `koanf:"terminal"`
	Logger   LoggerConfig   `koanf:"logger"`
	Offline  OfflineConfig  `koanf:"offline"`
	Sync     SyncConfig     `koanf:"sync"`
}

type WorkerConfig struct {
	Interval    time.Duration `koanf:"interval" validate:"required"`
	BatchSize   int           `koanf:"batch_size" validate:"required"`
	MaxAttempts int           `koanf:"max_attempts"`
}

type Primary struct {
	Env string `koanf:"env" validate:"required"`
}

type ServerConfig struct {
	Port         string        `koanf:"port" validate:"required"`
	ReadTimeout  time.Duration `koanf:"read_timeout" validate:"required"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"required"`
	IdleTimeout  time.Duration `koanf:"idle_timeout" validate:"required"`
}

type DatabaseConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Port            int           `koanf:"port" validate:"required"`
	User            string        `koanf:"user" validate:"required"`
	Password        string        `koanf:"password" validate:"required"`
	Name            string        `koanf:"name" validate:"required"`
	SSLMode         string        `koanf:"ssl_mode" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"required"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"required"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" validate:"required"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time" validate:"required"`
}

// TerminalConfig describes how to reach the payment terminals. Timeouts are
// per device class: EMV card flows take much longer than admin commands.
type TerminalConfig struct {
	BaseURL       string        `koanf:"base_url" validate:"required"`
	TerminalID    string        `koanf:"terminal_id"`
	SigningKey    string        `koanf:"signing_key"`
	EMVTimeout    time.Duration `koanf:"emv_timeout" validate:"required"`
	PromptTimeout time.Duration `koanf:"prompt_timeout" validate:"required"`
	AdminTimeout  time.Duration `koanf:"admin_timeout" validate:"required"`
	Simulated     bool          `koanf:"simulated"`
}

type RetryConfig struct {
	BaseDelay      time.Duration `koanf:"base_delay"`
	MaxDelay       time.Duration `koanf:"max_delay"`
	MaxRetries     int           `koanf:"max_retries"`
	TimeoutRetries int           `koanf:"timeout_retries"`
}

type LoggerConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// RedisConfig is optional. Without an address the server falls back to
// in-process order locks and logs outbound events instead of publishing them.
type RedisConfig struct {
	Address  string        `koanf:"address"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	LockTTL  time.Duration `koanf:"lock_ttl"`
	Channel  string        `koanf:"channel"`
}

func (c RedisConfig) Enabled() bool {
	return c.Address != ""
}

// LedgerConfig holds the money rules applied by the reconciler and the
// idempotency ledger.
type LedgerConfig struct {
	MaxTenderRatio         float64       `koanf:"max_tender_ratio"`
	RoundingToleranceCents int64         `koanf:"rounding_tolerance_cents"`
	IdempotencyLease       time.Duration `koanf:"idempotency_lease" validate:"required"`
	WaitTimeout            time.Duration `koanf:"wait_timeout"`
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret" validate:"required"`
}

type OfflineConfig struct {
	DatabasePath string `koanf:"database_path" validate:"required"`
}

// SyncConfig drives the offline sync worker. MaxDeferrals bounds how many
// times an entry may wait on an unsynced dependency before it is surfaced
// for manual resolution.
type SyncConfig struct {
	ServerURL    string        `koanf:"server_url" validate:"required"`
	JWTSecret    string        `koanf:"jwt_secret" validate:"required"`
	Interval     time.Duration `koanf:"interval" validate:"required"`
	BatchSize    int           `koanf:"batch_size" validate:"required"`
	BaseBackoff  time.Duration `koanf:"base_backoff" validate:"required"`
	MaxBackoff   time.Duration `koanf:"max_backoff" validate:"required"`
	MaxDeferrals int           `koanf:"max_deferrals" validate:"required"`
	Timeout      time.Duration `koanf:"timeout" validate:"required"`
}

// LoadConfig reads GATEWAY_* environment variables into Config.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := load(gatewayPrefix, cfg); err != nil {
		return nil, err
	}
	cfg.Ledger.applyDefaults()
	if err := cfg.validateLease(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaleBudget is the longest a card sale can hold its idempotency key: a tip
// prompt followed by every attempt of the retrying terminal client, with the
// largest backoff between attempts.
func (c *Config) SaleBudget() time.Duration {
	attempts := max(c.Retry.MaxRetries, 1)
	budget := c.Terminal.PromptTimeout + time.Duration(attempts)*c.Terminal.EMVTimeout
	for i := 0; i < attempts-1; i++ {
		delay := c.Retry.BaseDelay * time.Duration(1<<i)
		if c.Retry.MaxDelay > 0 && delay > c.Retry.MaxDelay {
			delay = c.Retry.MaxDelay
		}
		budget += delay + delay/2
	}
	return budget
}

// validateLease rejects a lease the recovery sweep could take over while the
// sale holding it is still waiting on the terminal.
func (c *Config) validateLease() error {
	if budget := c.SaleBudget(); c.Ledger.IdempotencyLease <= budget {
		return fmt.Errorf("ledger idempotency lease %s must exceed the card sale budget %s", c.Ledger.IdempotencyLease, budget)
	}
	return nil
}

// LoadAgentConfig reads AGENT_* environment variables into AgentConfig.
func LoadAgentConfig() (*AgentConfig, error) {
	cfg := &AgentConfig{}
	if err := load(agentPrefix, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *LedgerConfig) applyDefaults() {
	if c.MaxTenderRatio <= 0 {
		c.MaxTenderRatio = 1.5
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 10 * time.Second
	}
}

func load(prefix string, out any) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	k := koanf.New(".")

	err := k.Load(env.Provider(prefix, ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, prefix)),
			"__",
			".",
		)
	}), nil)
	if err != nil {
		logger.Error("failed to load environment variables", "error", err)
		return err
	}

	if err := k.Unmarshal("", out); err != nil {
		logger.Error("could not unmarshal config", "error", err)
		return err
	}

	validate := validator.New()

	if err := validate.Struct(out); err != nil {
		logger.Error("config validation failed", "error", err)
		return err
	}

	return nil
}
