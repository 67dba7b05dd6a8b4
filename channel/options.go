package channel

import (
	"log/slog"
	"os"
	"time"
)

// Option is a function type used to configure bridge endpoints.
type Option func(*settings)

// settings is the resolved configuration an endpoint is built from.
type settings struct {
	cfg Config
	log Logger
}

func defaultSettings() *settings {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &settings{
		cfg: DefaultConfig(),
		log: &slogLogger{l: slog.New(handler)},
	}
}

func buildSettings(opts []Option) *settings {
	s := defaultSettings()
	for _, opt := range opts {
		opt(s)
	}
	s.cfg = s.cfg.withDefaults()
	if !s.cfg.EnableLogging {
		s.log = nopLogger{}
	}
	return s
}

// WithConfig replaces the endpoint configuration wholesale.
func WithConfig(cfg Config) Option {
	return func(s *settings) { s.cfg = cfg }
}

// WithHandshakeTimeout bounds how long Initialize waits for peer readiness.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *settings) { s.cfg.HandshakeTimeout = d }
}

// WithMessageTimeout sets the default per-request timeout.
func WithMessageTimeout(d time.Duration) Option {
	return func(s *settings) { s.cfg.MessageTimeout = d }
}

// WithMaxRetries sets the total number of send attempts per envelope.
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.cfg.MaxRetries = n }
}

// WithRetryDelay sets the pause between send attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(s *settings) { s.cfg.RetryDelay = d }
}

// WithLogging enables or disables diagnostic log emission.
func WithLogging(enabled bool) Option {
	return func(s *settings) { s.cfg.EnableLogging = enabled }
}

// WithLogger sets a custom logger implementation for the endpoint.
func WithLogger(l Logger) Option {
	return func(s *settings) { s.log = l }
}

// WithSlog sets an slog.Logger instance as the endpoint's logger.
func WithSlog(l *slog.Logger) Option {
	return func(s *settings) { s.log = &slogLogger{l: l} }
}
