package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	EnvHost             = "CHAT_HOST"
	EnvPort             = "CHAT_PORT"
	EnvAdminAddr        = "CHAT_ADMIN_ADDR"
	EnvMaxLineBytes     = "CHAT_MAX_LINE_BYTES"
	EnvWriteTimeout     = "CHAT_WRITE_TIMEOUT"
	EnvHandshakeTimeout = "CHAT_HANDSHAKE_TIMEOUT"
	EnvRatePerSecond    = "CHAT_RATE_PER_SECOND"
	EnvRateBurst        = "CHAT_RATE_BURST"
	EnvMaxSessions      = "CHAT_MAX_SESSIONS"
)

// ErrInvalid wraps every validation and env parsing failure.
var ErrInvalid = errors.New("invalid config")

// Duration lets TOML files spell timeouts as "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// RateLimit throttles inbound chat lines per session with a token bucket.
type RateLimit struct {
	PerSecond float64 `toml:"per_second"`
	Burst     int     `toml:"burst"`
}

// Enabled reports whether inbound lines are throttled at all.
func (r RateLimit) Enabled() bool {
	return r.PerSecond > 0
}

// Config is the server's file and environment configuration.
type Config struct {
	Host             string    `toml:"host"`
	Port             int       `toml:"port"`
	AdminAddr        string    `toml:"admin_addr"`
	MaxLineBytes     int       `toml:"max_line_bytes"`
	WriteTimeout     Duration  `toml:"write_timeout"`
	HandshakeTimeout Duration  `toml:"handshake_timeout"`
	MaxSessions      int       `toml:"max_sessions"`
	RateLimit        RateLimit `toml:"rate_limit"`
}

// Default returns the configuration used when no file or env override is set.
func Default() Config {
	return Config{
		Host:         "0.0.0.0",
		Port:         8080,
		MaxLineBytes: 4096,
		WriteTimeout: Duration{10 * time.Second},
	}
}

// Addr joins host and port into a dialable listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Load reads path (if non-empty) over the defaults, then applies CHAT_* env overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	sanitize(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func sanitize(cfg *Config) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = Default().MaxLineBytes
	}
	if cfg.HandshakeTimeout.Duration < 0 {
		cfg.HandshakeTimeout.Duration = 0
	}
	if cfg.RateLimit.Enabled() && cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 1
	}
}

// Validate reports the first out-of-range field, wrapped in ErrInvalid.
func Validate(cfg Config) error {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, cfg.Port)
	}
	if cfg.WriteTimeout.Duration <= 0 {
		return fmt.Errorf("%w: write_timeout must be positive", ErrInvalid)
	}
	if cfg.MaxSessions < 0 {
		return fmt.Errorf("%w: max_sessions must not be negative", ErrInvalid)
	}
	if cfg.RateLimit.PerSecond < 0 {
		return fmt.Errorf("%w: rate_limit.per_second must not be negative", ErrInvalid)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := strings.TrimSpace(getenv(EnvHost)); v != "" {
		cfg.Host = v
	}
	if v := strings.TrimSpace(getenv(EnvAdminAddr)); v != "" {
		cfg.AdminAddr = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{EnvPort, &cfg.Port},
		{EnvMaxLineBytes, &cfg.MaxLineBytes},
		{EnvMaxSessions, &cfg.MaxSessions},
		{EnvRateBurst, &cfg.RateLimit.Burst},
	}
	for _, item := range ints {
		raw := strings.TrimSpace(getenv(item.key))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, item.key, raw, err)
		}
		*item.dst = n
	}

	durations := []struct {
		key string
		dst *Duration
	}{
		{EnvWriteTimeout, &cfg.WriteTimeout},
		{EnvHandshakeTimeout, &cfg.HandshakeTimeout},
	}
	for _, item := range durations {
		raw := getenv(item.key)
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if err := item.dst.UnmarshalText([]byte(raw)); err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, item.key, raw, err)
		}
	}

	if raw := strings.TrimSpace(getenv(EnvRatePerSecond)); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, EnvRatePerSecond, raw, err)
		}
		cfg.RateLimit.PerSecond = f
	}
	return nil
}
