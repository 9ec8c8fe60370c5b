// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// MetricsAddr is the Prometheus /metrics listener; empty disables it.
	MetricsAddr string `mapstructure:"METRICS_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty selects in-memory stores, which is refused in production.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// AuthEntity is the auth entity this process serves (users, admins, vendors).
	AuthEntity string `mapstructure:"AUTH_ENTITY"`

	// JWTSecret is the HS256 signing secret. Ignored when a key pair is configured.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "1h").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	MaxLoginAttempts    int    `mapstructure:"MAX_LOGIN_ATTEMPTS"`
	LockDuration        string `mapstructure:"LOCK_DURATION"`
	ResetTokenTTL       string `mapstructure:"RESET_TOKEN_TTL"`
	VerificationCodeTTL string `mapstructure:"VERIFICATION_CODE_TTL"`
	// LoginPolicyFile is an optional Rego module (package auth.login) replacing the default admission policy.
	LoginPolicyFile string `mapstructure:"LOGIN_POLICY_FILE"`

	SessionPurgeInterval         string `mapstructure:"SESSION_PURGE_INTERVAL"`
	InactiveSessionRetentionDays int    `mapstructure:"INACTIVE_SESSION_RETENTION_DAYS"`

	// LoginRateLimit is the per-client-IP refill rate (requests/second) for public auth RPCs; 0 disables limiting.
	LoginRateLimit float64 `mapstructure:"LOGIN_RATE_LIMIT"`
	LoginRateBurst int     `mapstructure:"LOGIN_RATE_BURST"`

	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	LogFormat string `mapstructure:"LOG_FORMAT"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`

	// DevOutbox when true keeps reset tokens and verification codes in memory, readable through GetDevOutbox.
	// Must not be true when Env is production.
	DevOutbox bool `mapstructure:"DEV_OUTBOX"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("AUTH_ENTITY", "users")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "auth-core")
	v.SetDefault("JWT_AUDIENCE", "auth-api")
	v.SetDefault("JWT_ACCESS_TTL", "1h")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("MAX_LOGIN_ATTEMPTS", 5)
	v.SetDefault("LOCK_DURATION", "15m")
	v.SetDefault("RESET_TOKEN_TTL", "1h")
	v.SetDefault("VERIFICATION_CODE_TTL", "24h")
	v.SetDefault("LOGIN_POLICY_FILE", "")
	v.SetDefault("SESSION_PURGE_INTERVAL", "1h")
	v.SetDefault("INACTIVE_SESSION_RETENTION_DAYS", 30)
	v.SetDefault("LOGIN_RATE_LIMIT", 5)
	v.SetDefault("LOGIN_RATE_BURST", 10)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DEV_OUTBOX", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}
	if c.IsProduction() {
		if c.DevOutbox {
			return errors.New("config: DEV_OUTBOX must not be true when APP_ENV=production")
		}
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required when APP_ENV=production")
		}
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.MaxLoginAttempts < 1 {
		return errors.New("config: MAX_LOGIN_ATTEMPTS must be at least 1")
	}
	if c.InactiveSessionRetentionDays < 1 {
		return errors.New("config: INACTIVE_SESSION_RETENTION_DAYS must be at least 1")
	}
	if c.LoginRateLimit < 0 || c.LoginRateBurst < 0 {
		return errors.New("config: LOGIN_RATE_LIMIT and LOGIN_RATE_BURST must not be negative")
	}
	for key, val := range map[string]string{
		"JWT_ACCESS_TTL":         c.JWTAccessTTL,
		"JWT_REFRESH_TTL":        c.JWTRefreshTTL,
		"LOCK_DURATION":          c.LockDuration,
		"RESET_TOKEN_TTL":        c.ResetTokenTTL,
		"VERIFICATION_CODE_TTL":  c.VerificationCodeTTL,
		"SESSION_PURGE_INTERVAL": c.SessionPurgeInterval,
	} {
		if d, err := time.ParseDuration(val); err != nil || d <= 0 {
			return fmt.Errorf("config: %s must be a positive duration, got %q", key, val)
		}
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("config: LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

// AccessTTL parses JWTAccessTTL. Returns 1h if unset or invalid.
func (c *Config) AccessTTL() time.Duration { return parseDuration(c.JWTAccessTTL, time.Hour) }

// RefreshTTL parses JWTRefreshTTL. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration { return parseDuration(c.JWTRefreshTTL, 168*time.Hour) }

// LockDurationValue parses LockDuration. Returns 15m if unset or invalid.
func (c *Config) LockDurationValue() time.Duration { return parseDuration(c.LockDuration, 15*time.Minute) }

// ResetTokenTTLValue parses ResetTokenTTL. Returns 1h if unset or invalid.
func (c *Config) ResetTokenTTLValue() time.Duration { return parseDuration(c.ResetTokenTTL, time.Hour) }

// VerificationCodeTTLValue parses VerificationCodeTTL. Returns 24h if unset or invalid.
func (c *Config) VerificationCodeTTLValue() time.Duration {
	return parseDuration(c.VerificationCodeTTL, 24*time.Hour)
}

// PurgeInterval parses SessionPurgeInterval. Returns 1h if unset or invalid.
func (c *Config) PurgeInterval() time.Duration { return parseDuration(c.SessionPurgeInterval, time.Hour) }

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
