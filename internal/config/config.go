package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// Accounts and categories
	AccountsFile string `env:"ACCOUNTS_FILE" envDefault:"./config.yaml"`

	// Database
	DatabasePath   string `env:"DATABASE_PATH" envDefault:"./data/mailmind.db"`
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"sqlite3"` // "sqlite3" (cgo) or "sqlite" (pure Go)

	// IMAP
	IMAPIdleTimeout    time.Duration `env:"IMAP_IDLE_TIMEOUT" envDefault:"25m"`
	IMAPDialTimeout    time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
	IMAPCommandTimeout time.Duration `env:"IMAP_COMMAND_TIMEOUT" envDefault:"2m"` // every command except IDLE
	IMAPMaxConnections int           `env:"IMAP_MAX_CONNECTIONS" envDefault:"5"`

	// Monitoring
	ReconnectBaseDelay time.Duration `env:"RECONNECT_BASE_DELAY" envDefault:"60s"`
	ReconnectMaxDelay  time.Duration `env:"RECONNECT_MAX_DELAY" envDefault:"5m"`
	ShutdownGrace      time.Duration `env:"SHUTDOWN_GRACE" envDefault:"10s"`

	// Processing
	MoveEmails         bool          `env:"MOVE_EMAILS" envDefault:"true"`
	MaxEmailsPerRun    int           `env:"MAX_EMAILS_PER_RUN" envDefault:"100"`
	BatchSize          int           `env:"BATCH_SIZE" envDefault:"10"`
	StateRetentionDays int           `env:"STATE_RETENTION_DAYS" envDefault:"30"`
	CleanupInterval    time.Duration `env:"CLEANUP_INTERVAL" envDefault:"24h"`

	// Classification oracle
	OracleProvider    string        `env:"ORACLE_PROVIDER" envDefault:"openai"` // "openai" or "ollama"
	OracleBaseURL     string        `env:"ORACLE_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OracleAPIKey      string        `env:"ORACLE_API_KEY"`
	OracleModel       string        `env:"ORACLE_MODEL" envDefault:"gpt-4o-mini"`
	OracleTemperature float64       `env:"ORACLE_TEMPERATURE" envDefault:"0.3"`
	OracleMaxTokens   int           `env:"ORACLE_MAX_TOKENS" envDefault:"1500"`
	OracleTimeout     time.Duration `env:"ORACLE_TIMEOUT" envDefault:"60s"`

	// Security
	EncryptionKey string `env:"ENCRYPTION_KEY"` // Decrypts enc: passwords

	// Claim lock (optional)
	RedisURL string        `env:"REDIS_URL"`
	ClaimTTL time.Duration `env:"CLAIM_TTL" envDefault:"10m"`

	// Telegram notifications (optional)
	TelegramToken   string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID  int64  `env:"TELEGRAM_CHAT_ID"`
	TelegramTopicID int    `env:"TELEGRAM_TOPIC_ID"`

	// Metrics (optional), e.g. ":9090"
	MetricsAddr string `env:"METRICS_ADDR"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// TelegramEnabled returns true if Telegram notifications are configured
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

// ClaimEnabled returns true if the Redis claim lock is configured
func (c *Config) ClaimEnabled() bool {
	return c.RedisURL != ""
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges env tags cannot express
func (c *Config) Validate() error {
	// AES-256 needs exactly 32 bytes
	if c.EncryptionKey != "" && len(c.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(c.EncryptionKey))
	}

	switch c.DatabaseDriver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}

	switch c.OracleProvider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unsupported ORACLE_PROVIDER %q", c.OracleProvider)
	}

	if c.BatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.MaxEmailsPerRun < 1 {
		return fmt.Errorf("MAX_EMAILS_PER_RUN must be positive, got %d", c.MaxEmailsPerRun)
	}
	if c.IMAPMaxConnections < 1 {
		return fmt.Errorf("IMAP_MAX_CONNECTIONS must be positive, got %d", c.IMAPMaxConnections)
	}
	if c.ReconnectBaseDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("invalid reconnect delays: base %s, max %s", c.ReconnectBaseDelay, c.ReconnectMaxDelay)
	}

	return nil
}
