// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN for the session store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// NetworkStoreDSN is the Postgres DSN for the network client's credential store.
	// Defaults to DatabaseURL when empty.
	NetworkStoreDSN string `mapstructure:"NETWORK_STORE_DSN"`
	// RedisAddr is the Redis address for rate-limit counters (e.g. localhost:6379).
	// Empty falls back to the in-memory counter store (single-process only).
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is the optional Redis AUTH password.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// JWTSecret is the HS256 secret for API bearer tokens. Empty disables auth (dev only; refused in production).
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTIssuer is the expected iss claim on API tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// AllowedOrigins is a comma-separated list of origins allowed to open the events websocket.
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	// PairingRefreshInterval is the minimum gap between published pairing codes per tenant (e.g. "30s").
	PairingRefreshInterval string `mapstructure:"PAIRING_REFRESH_INTERVAL"`
	// ReconnectDelay is the fixed delay before the single automatic reconnect attempt (e.g. "30s").
	ReconnectDelay string `mapstructure:"RECONNECT_DELAY"`
	// SendTimeout bounds one outbound network send (e.g. "30s").
	SendTimeout string `mapstructure:"SEND_TIMEOUT"`
	// RestoreConcurrency caps how many sessions restore in parallel at startup.
	RestoreConcurrency int `mapstructure:"RESTORE_CONCURRENCY"`
	// OTLPEndpoint is the OTLP gRPC endpoint for metrics (e.g. http://localhost:4317). Empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// LogLevel is debug, info, warn, or error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is json or text.
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("NETWORK_STORE_DSN", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "chat-bridge")
	v.SetDefault("ALLOWED_ORIGINS", "*")
	v.SetDefault("PAIRING_REFRESH_INTERVAL", "30s")
	v.SetDefault("RECONNECT_DELAY", "30s")
	v.SetDefault("SEND_TIMEOUT", "30s")
	v.SetDefault("RESTORE_CONCURRENCY", 4)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.JWTSecret == "" && cfg.Env == "production" {
		return nil, errors.New("config: JWT_SECRET must be set when APP_ENV=production")
	}

	if cfg.RestoreConcurrency <= 0 {
		cfg.RestoreConcurrency = 4
	}

	for _, d := range []struct{ name, val string }{
		{"PAIRING_REFRESH_INTERVAL", cfg.PairingRefreshInterval},
		{"RECONNECT_DELAY", cfg.ReconnectDelay},
		{"SEND_TIMEOUT", cfg.SendTimeout},
	} {
		if d.val == "" {
			continue
		}
		if _, err := time.ParseDuration(d.val); err != nil {
			return nil, errors.New("config: " + d.name + " must be a valid duration")
		}
	}

	return &cfg, nil
}

// PairingRefresh parses PairingRefreshInterval as a time.Duration. Returns 30s if unset or invalid.
func (c *Config) PairingRefresh() time.Duration {
	return durationOr(c.PairingRefreshInterval, 30*time.Second)
}

// ReconnectDelayDuration parses ReconnectDelay as a time.Duration. Returns 30s if unset or invalid.
func (c *Config) ReconnectDelayDuration() time.Duration {
	return durationOr(c.ReconnectDelay, 30*time.Second)
}

// SendTimeoutDuration parses SendTimeout as a time.Duration. Returns 30s if unset or invalid.
func (c *Config) SendTimeoutDuration() time.Duration {
	return durationOr(c.SendTimeout, 30*time.Second)
}

// NetworkDSN returns the network credential store DSN, falling back to DatabaseURL.
func (c *Config) NetworkDSN() string {
	if c.NetworkStoreDSN != "" {
		return c.NetworkStoreDSN
	}
	return c.DatabaseURL
}

// AllowedOriginsList returns the allowed websocket origins from the comma-separated config.
func (c *Config) AllowedOriginsList() []string {
	if c == nil || c.AllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func durationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
