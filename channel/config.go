package channel

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the recognized tuning knobs of a bridge endpoint. Zero values
// are replaced by the defaults from DefaultConfig when the endpoint is built.
type Config struct {
	// HandshakeTimeout bounds how long Initialize waits for the peer's
	// readiness announcement.
	HandshakeTimeout time.Duration `env:"BRIDGE_HANDSHAKE_TIMEOUT" envDefault:"5s"`
	// MessageTimeout is the default per-request budget for correlated
	// round trips.
	MessageTimeout time.Duration `env:"BRIDGE_MESSAGE_TIMEOUT" envDefault:"10s"`
	// MaxRetries is the total number of send attempts per envelope.
	MaxRetries int `env:"BRIDGE_MAX_RETRIES" envDefault:"3"`
	// RetryDelay is the pause between send attempts.
	RetryDelay time.Duration `env:"BRIDGE_RETRY_DELAY" envDefault:"100ms"`
	// EnableLogging gates diagnostic log emission only, never behavior.
	EnableLogging bool `env:"BRIDGE_ENABLE_LOGGING" envDefault:"true"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 5 * time.Second,
		MessageTimeout:   10 * time.Second,
		MaxRetries:       3,
		RetryDelay:       100 * time.Millisecond,
		EnableLogging:    true,
	}
}

// ConfigFromEnv builds a Config from BRIDGE_* environment variables, falling
// back to the defaults for anything unset.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse bridge config: %w", err)
	}
	return cfg, nil
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.MessageTimeout <= 0 {
		c.MessageTimeout = def.MessageTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	return c
}
