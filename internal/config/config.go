// Package config loads the relay's runtime settings from the environment,
// applies defaults, and validates them before the server starts.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Prefix is prepended to every environment variable the relay reads.
const Prefix = "RELAY_"

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Env selects the deployment flavour, mostly the log level.
type Env string

const (
	EnvProd Env = "prod"
	EnvDev  Env = "dev"
)

// IsValid reports whether e is a known environment.
func (e Env) IsValid() bool {
	switch e {
	case EnvProd, EnvDev:
		return true
	}
	return false
}

// OversizePolicy decides what happens to a message larger than the read buffer.
type OversizePolicy string

const (
	// OversizeTruncate keeps the first ReadBufferSize bytes of a message and
	// discards the rest of that message.
	OversizeTruncate OversizePolicy = "truncate"
	// OversizeReject ends the session with close code 1009 once a message
	// grows past ReadBufferSize.
	OversizeReject OversizePolicy = "reject"
)

// IsValid reports whether p is a known policy.
func (p OversizePolicy) IsValid() bool {
	switch p {
	case OversizeTruncate, OversizeReject:
		return true
	}
	return false
}

// BridgeKind names the bus used to fan broadcasts out to other relay instances.
type BridgeKind string

const (
	BridgeNone  BridgeKind = "none"
	BridgeRedis BridgeKind = "redis"
	BridgeNATS  BridgeKind = "nats"
)

// IsValid reports whether k is a known bridge backend.
func (k BridgeKind) IsValid() bool {
	switch k {
	case BridgeNone, BridgeRedis, BridgeNATS:
		return true
	}
	return false
}

// RateLimitConfig defines the per-connection inbound message budget.
// A Burst of zero disables rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"BURST" envDefault:"0"`
	RefillInterval time.Duration `env:"REFILL_INTERVAL" envDefault:"1s"`
}

// BridgeConfig configures cross-instance fan-out.
type BridgeConfig struct {
	Kind      BridgeKind `env:"KIND" envDefault:"none"`
	RedisAddr string     `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	NATSURL   string     `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	Channel   string     `env:"CHANNEL" envDefault:"relay.broadcast"`
}

// Config holds every relay setting.
type Config struct {
	Addr            string          `env:"ADDR" envDefault:":8080"`
	Env             Env             `env:"ENV" envDefault:"prod"`
	AllowedOrigins  []string        `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	ReadBufferSize  int             `env:"READ_BUFFER_SIZE" envDefault:"4096"`
	OversizePolicy  OversizePolicy  `env:"OVERSIZE_POLICY" envDefault:"truncate"`
	SendQueueSize   int             `env:"SEND_QUEUE_SIZE" envDefault:"256"`
	WriteWait       time.Duration   `env:"WRITE_WAIT" envDefault:"10s"`
	PongWait        time.Duration   `env:"PONG_WAIT" envDefault:"60s"`
	ShutdownTimeout time.Duration   `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RateLimit       RateLimitConfig `envPrefix:"RATE_LIMIT_"`
	Bridge          BridgeConfig    `envPrefix:"BRIDGE_"`
}

// New reads the configuration from the process environment.
func New() (*Config, error) {
	return Load(nil)
}

// Load reads the configuration from environ, or from the process
// environment when environ is nil.
func Load(environ map[string]string) (*Config, error) {
	opts := env.Options{Prefix: Prefix}
	if environ != nil {
		opts.Environment = environ
	}

	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.AllowedOrigins = normalizeList(cfg.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no variable is set.
func Default() *Config {
	cfg, err := Load(map[string]string{})
	if err != nil {
		panic(fmt.Sprintf("default config does not validate: %v", err))
	}
	return cfg
}

// Validate checks the ranges and enumerations of every field.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: address must not be empty", ErrInvalidConfig)
	}
	if !c.Env.IsValid() {
		return fmt.Errorf("%w: env %q (must be 'prod' or 'dev')", ErrInvalidConfig, c.Env)
	}
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("%w: read buffer size must be positive, got %d", ErrInvalidConfig, c.ReadBufferSize)
	}
	if !c.OversizePolicy.IsValid() {
		return fmt.Errorf("%w: oversize policy %q (must be 'truncate' or 'reject')", ErrInvalidConfig, c.OversizePolicy)
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("%w: send queue size must be positive, got %d", ErrInvalidConfig, c.SendQueueSize)
	}
	if c.WriteWait <= 0 || c.PongWait <= 0 || c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if c.RateLimit.Burst < 0 {
		return fmt.Errorf("%w: rate limit burst must not be negative, got %d", ErrInvalidConfig, c.RateLimit.Burst)
	}
	if c.RateLimit.Burst > 0 && c.RateLimit.RefillInterval <= 0 {
		return fmt.Errorf("%w: rate limit refill interval must be positive", ErrInvalidConfig)
	}
	if !c.Bridge.Kind.IsValid() {
		return fmt.Errorf("%w: bridge kind %q (must be 'none', 'redis' or 'nats')", ErrInvalidConfig, c.Bridge.Kind)
	}
	if c.Bridge.Kind != BridgeNone && c.Bridge.Channel == "" {
		return fmt.Errorf("%w: bridge channel must not be empty", ErrInvalidConfig)
	}
	return nil
}

// PingPeriod is how often the server pings a client. It stays below
// PongWait so a healthy peer always answers before its read deadline.
func (c *Config) PingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
