package chatsync

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ============================================================================
// Configuration
// ============================================================================

const (
	DefaultURL                  = "ws://localhost:4000/ws"
	DefaultReconnectBaseDelay   = 3 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultDialTimeout          = 10 * time.Second
	DefaultWriteTimeout         = 10 * time.Second
	DefaultMaxQueueSize         = 1000
	DefaultReadLimit            = 1 << 20
	DefaultIdleTimeout          = 5 * time.Minute
	DefaultTypingWindow         = 5 * time.Second
	DefaultTypingThrottle       = 2 * time.Second
)

// Config configures the realtime client and the stores fed by it.
type Config struct {
	URL    string `env:"URL"`
	Token  string `env:"TOKEN"`
	UserID string `env:"USER_ID"`

	ReconnectBaseDelay   time.Duration `env:"RECONNECT_BASE_DELAY"`
	ReconnectMaxDelay    time.Duration `env:"RECONNECT_MAX_DELAY"`
	MaxReconnectAttempts int           `env:"MAX_RECONNECT_ATTEMPTS"`
	HeartbeatInterval    time.Duration `env:"HEARTBEAT_INTERVAL"`
	// PongTimeout closes a connection that has been silent for this long.
	// Zero disables the check; liveness then relies on the transport.
	PongTimeout  time.Duration `env:"PONG_TIMEOUT"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT"`
	MaxQueueSize int           `env:"MAX_QUEUE_SIZE"`
	ReadLimit    int64         `env:"READ_LIMIT"`

	IdleTimeout    time.Duration `env:"IDLE_TIMEOUT"`
	TypingWindow   time.Duration `env:"TYPING_WINDOW"`
	TypingThrottle time.Duration `env:"TYPING_THROTTLE"`

	// Debug logs connection chatter to stderr when no Logger is set.
	Debug bool `env:"DEBUG"`

	HTTPClient *http.Client `env:"-"`
	Logger     *slog.Logger `env:"-"`
}

// LoadConfig reads CHATSYNC_* environment variables and applies defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := cfg.LoadEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv overrides c with any CHATSYNC_* variables that are set, then fills
// in defaults for whatever is still zero.
func (c *Config) LoadEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: "CHATSYNC_"}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	c.defaults()
	return nil
}

func (c *Config) defaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = DefaultReadLimit
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.TypingWindow == 0 {
		c.TypingWindow = DefaultTypingWindow
	}
	if c.TypingThrottle == 0 {
		c.TypingThrottle = DefaultTypingThrottle
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
		if c.Debug {
			c.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		}
	}
}

// dialURL appends the token, when set, as a query parameter.
func (c *Config) dialURL() string {
	if c.Token == "" {
		return c.URL
	}
	sep := "?"
	if strings.Contains(c.URL, "?") {
		sep = "&"
	}
	return c.URL + sep + "token=" + c.Token
}

// reconnectDelay is the linear-capped backoff for the given attempt (1-based).
func (c *Config) reconnectDelay(attempt int) time.Duration {
	d := c.ReconnectBaseDelay * time.Duration(attempt)
	if d > c.ReconnectMaxDelay {
		return c.ReconnectMaxDelay
	}
	return d
}
