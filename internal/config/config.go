// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"encoding/hex"
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// PathPrefix is the route prefix for all auth endpoints (e.g. /api/auth).
	PathPrefix string `mapstructure:"PATH_PREFIX"`
	// DatabaseURL is the Postgres DSN; required for server, migrate, seed, and worker.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is the optional Redis address for the bearer-token blocklist
	// (host:port). When empty an in-process blocklist is used.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// JWTSecret is the HMAC secret used to sign bearer tokens; required.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTIssuer is the iss claim set on bearer tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTTTL is the bearer token lifetime (e.g. "1h").
	JWTTTL string `mapstructure:"JWT_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// PrivateKeyEncKey is the hex-encoded 32-byte key used to encrypt session
	// private keys at rest; required by the server.
	PrivateKeyEncKey string `mapstructure:"PRIVATE_KEY_ENC_KEY"`
	// RSAKeyBits is the modulus size for per-session RSA key pairs; minimum and default 4096.
	RSAKeyBits int `mapstructure:"RSA_KEY_BITS"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// Worker-only: SweepInterval is how often the worker prunes invalid sessions (e.g. "1h").
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`
	// Worker-only: SweepRetention is how long invalidated sessions are kept before pruning (e.g. "720h").
	SweepRetention string `mapstructure:"SWEEP_RETENTION"`
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
	v.SetDefault("PATH_PREFIX", "/api/auth")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "jwt-session-auth")
	v.SetDefault("JWT_TTL", "1h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("PRIVATE_KEY_ENC_KEY", "")
	v.SetDefault("RSA_KEY_BITS", 4096)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("SWEEP_INTERVAL", "1h")
	v.SetDefault("SWEEP_RETENTION", "720h") // 30d

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.PathPrefix == "" || cfg.PathPrefix[0] != '/' {
		return nil, errors.New("config: PATH_PREFIX must start with /")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("config: JWT_SECRET must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if cfg.RSAKeyBits == 0 {
		cfg.RSAKeyBits = 4096
	}
	if cfg.RSAKeyBits < 4096 {
		return nil, errors.New("config: RSA_KEY_BITS must be at least 4096")
	}

	return &cfg, nil
}

// TokenTTL parses JWTTTL as a time.Duration. Returns 1h if unset or invalid.
func (c *Config) TokenTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// SweepIntervalDuration parses SweepInterval. Returns 1h if unset or invalid.
func (c *Config) SweepIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// SweepRetentionDuration parses SweepRetention. Returns 720h if unset or invalid.
func (c *Config) SweepRetentionDuration() time.Duration {
	d, err := time.ParseDuration(c.SweepRetention)
	if err != nil || d <= 0 {
		return 720 * time.Hour
	}
	return d
}

// PrivateKeyEncKeyBytes decodes PrivateKeyEncKey and checks it is a 32-byte key.
func (c *Config) PrivateKeyEncKeyBytes() ([]byte, error) {
	if c.PrivateKeyEncKey == "" {
		return nil, errors.New("config: PRIVATE_KEY_ENC_KEY must be set")
	}
	key, err := hex.DecodeString(c.PrivateKeyEncKey)
	if err != nil {
		return nil, errors.New("config: PRIVATE_KEY_ENC_KEY must be hex-encoded")
	}
	if len(key) != 32 {
		return nil, errors.New("config: PRIVATE_KEY_ENC_KEY must decode to 32 bytes")
	}
	return key, nil
}
