package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/efreitasn/minibourse/internal/domain"
)

// Config holds all runtime configuration for the exchange.
type Config struct {
	Port          int    `env:"PORT" envDefault:"8080"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile       string `env:"LOG_FILE"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`

	Session SessionConfig

	PriceBandPercent int64         `env:"PRICE_BAND_PERCENT" envDefault:"7"`
	VWAPWindow       time.Duration `env:"VWAP_WINDOW" envDefault:"5m"`
	FeedBookDepth    int           `env:"FEED_BOOK_DEPTH" envDefault:"10"`
	JournalDir       string        `env:"JOURNAL_DIR"`
	WebhookTimeout   time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"5s"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// SessionConfig drives the auto-mode scheduler. A zero phase duration holds
// the session in that phase.
type SessionConfig struct {
	Mode               string        `env:"SESSION_MODE" envDefault:"manual"`
	PreOpenDuration    time.Duration `env:"PRE_OPEN_DURATION" envDefault:"15m"`
	ATODuration        time.Duration `env:"ATO_DURATION" envDefault:"15m"`
	ContinuousDuration time.Duration `env:"CONTINUOUS_DURATION" envDefault:"4h"`
	ATCDuration        time.Duration `env:"ATC_DURATION" envDefault:"15m"`
	ClosedDuration     time.Duration `env:"CLOSED_DURATION" envDefault:"0s"`
	SchedulerTick      time.Duration `env:"SCHEDULER_TICK" envDefault:"1s"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL" envDefault:"5s"`
}

// Durations returns the configured length of every phase.
func (s SessionConfig) Durations() map[domain.Phase]time.Duration {
	return map[domain.Phase]time.Duration{
		domain.PhasePreOpen:    s.PreOpenDuration,
		domain.PhaseATO:        s.ATODuration,
		domain.PhaseContinuous: s.ContinuousDuration,
		domain.PhaseATC:        s.ATCDuration,
		domain.PhaseClosed:     s.ClosedDuration,
	}
}

// Load reads configuration from a .env file, if present, and the
// environment, applies defaults, and validates values. It returns an error
// for any invalid value.
func Load() (*Config, error) {
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

// Validate rejects values that parse but make no sense.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d, must be between 1 and 65535", c.Port)
	}
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", c.LogLevel)
	}
	if c.LogMaxSizeMB < 1 {
		return fmt.Errorf("invalid LOG_MAX_SIZE_MB: %d, must be positive", c.LogMaxSizeMB)
	}
	if c.LogMaxBackups < 0 {
		return fmt.Errorf("invalid LOG_MAX_BACKUPS: %d, must not be negative", c.LogMaxBackups)
	}
	if !domain.Mode(c.Session.Mode).Valid() {
		return fmt.Errorf("invalid SESSION_MODE: %q, must be one of: auto, manual", c.Session.Mode)
	}
	if c.PriceBandPercent < 1 || c.PriceBandPercent > 50 {
		return fmt.Errorf("invalid PRICE_BAND_PERCENT: %d, must be between 1 and 50", c.PriceBandPercent)
	}
	if c.FeedBookDepth < 1 || c.FeedBookDepth > 50 {
		return fmt.Errorf("invalid FEED_BOOK_DEPTH: %d, must be between 1 and 50", c.FeedBookDepth)
	}

	positive := map[string]time.Duration{
		"SCHEDULER_TICK":   c.Session.SchedulerTick,
		"SWEEP_INTERVAL":   c.Session.SweepInterval,
		"VWAP_WINDOW":      c.VWAPWindow,
		"WEBHOOK_TIMEOUT":  c.WebhookTimeout,
		"READ_TIMEOUT":     c.ReadTimeout,
		"WRITE_TIMEOUT":    c.WriteTimeout,
		"IDLE_TIMEOUT":     c.IdleTimeout,
		"SHUTDOWN_TIMEOUT": c.ShutdownTimeout,
	}
	for key, d := range positive {
		if d <= 0 {
			return fmt.Errorf("invalid %s: %v, must be positive", key, d)
		}
	}
	for phase, d := range c.Session.Durations() {
		if d < 0 {
			return fmt.Errorf("invalid %s duration: %v, must not be negative", phase, d)
		}
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
