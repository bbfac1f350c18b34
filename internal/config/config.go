package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// Telegram
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN,required"`

	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/outreach.db"`
	LogDir       string `env:"LOG_DIR" envDefault:"./data/logs"` // Task audit files

	// Outbound relay
	SMTPRelayAddr   string        `env:"SMTP_RELAY_ADDR" envDefault:"smtp.gmail.com:587"`
	SMTPRequireTLS  bool          `env:"SMTP_REQUIRE_TLS" envDefault:"true"`
	SMTPTimeout     time.Duration `env:"SMTP_TIMEOUT" envDefault:"10s"`
	SMTPHelloDomain string        `env:"SMTP_HELLO_DOMAIN" envDefault:"localhost"`

	// Deliverability probe
	ProbeTimeout  time.Duration `env:"PROBE_TIMEOUT" envDefault:"7s"`
	ProbePort     int           `env:"PROBE_PORT" envDefault:"25"`
	ProbeMailFrom string        `env:"PROBE_MAIL_FROM" envDefault:"test@example.com"`
	ProbeDomain   string        `env:"PROBE_DOMAIN" envDefault:"gmail.com"` // Appended to seller names

	// Mailbox polling
	IMAPServer        string        `env:"IMAP_SERVER" envDefault:"imap.gmail.com:993"`
	IMAPDialTimeout   time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
	IMAPTimeout       time.Duration `env:"IMAP_TIMEOUT" envDefault:"60s"`
	InboxPollInterval time.Duration `env:"INBOX_POLL_INTERVAL" envDefault:"60s"`
	InboxAccountLimit time.Duration `env:"INBOX_ACCOUNT_TIMEOUT" envDefault:"2m"` // Bounds one mailbox per sweep

	// Text generation
	AIBaseURL   string        `env:"AI_BASE_URL" envDefault:"https://neuroapi.host/v1"`
	AIModel     string        `env:"AI_MODEL" envDefault:"gpt-4o-mini"`
	AITimeout   time.Duration `env:"AI_TIMEOUT" envDefault:"25s"`
	AIMaxTokens int           `env:"AI_MAX_TOKENS" envDefault:"200"`

	// Security
	EncryptionKey string `env:"ENCRYPTION_KEY,required"`

	// Timestamps in chat messages, e.g. Asia/Singapore
	DisplayTimezone string `env:"DISPLAY_TIMEZONE" envDefault:"Local"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
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

// Validate checks values env tags cannot express
func (c *Config) Validate() error {
	// 32 bytes for AES-256
	if len(c.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(c.EncryptionKey))
	}
	if c.ProbePort <= 0 || c.ProbePort > 65535 {
		return fmt.Errorf("PROBE_PORT out of range: %d", c.ProbePort)
	}
	if c.InboxPollInterval <= 0 {
		return fmt.Errorf("INBOX_POLL_INTERVAL must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves DisplayTimezone
func (c *Config) Location() (*time.Location, error) {
	if c.DisplayTimezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid DISPLAY_TIMEZONE %q: %w", c.DisplayTimezone, err)
	}
	return loc, nil
}
