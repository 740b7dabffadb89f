package roomchat

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls how the manager connects.
type Config struct {
	URL              string        `env:"ROOMCHAT_WS_URL"`
	RESTBaseURL      string        `env:"ROOMCHAT_API_URL"`
	HandshakeTimeout time.Duration `env:"ROOMCHAT_HANDSHAKE_TIMEOUT"`
	ReadTimeout      time.Duration `env:"ROOMCHAT_READ_TIMEOUT"`
	WriteTimeout     time.Duration `env:"ROOMCHAT_WRITE_TIMEOUT"`

	// SendBuffer is the number of outbound frames queued per binding.
	SendBuffer int `env:"ROOMCHAT_SEND_BUFFER"`

	// ReconcileEcho folds a server echo carrying the id of a local message
	// into that message instead of appending a second copy.
	ReconcileEcho bool `env:"ROOMCHAT_RECONCILE_ECHO"`
}

// DefaultConfig returns sensible defaults.
// The read timeout is disabled: a quiet room is not a dead connection.
func DefaultConfig() Config {
	return Config{
		URL:              "ws://localhost:8080/ws/chat",
		RESTBaseURL:      "http://localhost:8080",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		SendBuffer:       16,
	}
}

// LoadConfig returns DefaultConfig overridden by ROOMCHAT_* environment variables.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks the config can be used to open bindings.
func (c Config) Validate() error {
	if c.URL == "" {
		return NewError(ErrorInvalidConfig, "empty URL")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return WrapError(ErrorInvalidConfig, "invalid URL", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return NewError(ErrorInvalidConfig, fmt.Sprintf("unsupported URL scheme %q", u.Scheme))
	}
	if c.SendBuffer < 1 {
		return NewError(ErrorInvalidConfig, "send buffer must be positive")
	}
	if c.HandshakeTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return NewError(ErrorInvalidConfig, "timeouts must not be negative")
	}
	return nil
}
