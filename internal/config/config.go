// Package config loads runtime settings from the environment (and an optional .env file).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"agenthub.io/internal/envelope"
)

const (
	devAccessSecret  = "dev-access-secret-change-me"
	devRefreshSecret = "dev-refresh-secret-change-me"
	devStateSecret   = "dev-oauth-state-secret-change-me"
	// 32 ASCII bytes, accepted by envelope.ParseKey as a raw key.
	devEncryptionKey = "dev-encryption-key-32-bytes-long"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	LogLevel    string

	HTTPAddr string
	GRPCAddr string
	PGDSN    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret        string
	JWTRefreshSecret string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	EncryptionKey    []byte

	CORSOrigin string

	LoginLimit     int
	LoginWindow    time.Duration
	RegisterLimit  int
	RegisterWindow time.Duration
	APIRatePerSec  int
	APIRateBurst   int
	MaxBodyBytes   int64

	OAuthRedirectURL string
	OAuthStateSecret string

	// InsecureDefaults names every variable that fell back to a development value.
	InsecureDefaults []string
}

// Production reports whether the service runs with production safeguards.
func (c Config) Production() bool {
	return strings.EqualFold(c.Environment, "production") || strings.EqualFold(c.Environment, "prod")
}

// Load reads configuration from environment variables with development defaults.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads configuration from the process environment only.
func FromEnv() (Config, error) {
	var env envReader
	cfg := Config{
		Environment:      getEnv("AGENTHUB_ENV", "development"),
		LogLevel:         getEnv("AGENTHUB_LOG_LEVEL", "info"),
		HTTPAddr:         getEnv("AGENTHUB_HTTP_ADDR", ":8080"),
		GRPCAddr:         getEnv("AGENTHUB_GRPC_ADDR", ":9090"),
		PGDSN:            strings.TrimSpace(os.Getenv("AGENTHUB_PG_DSN")),
		RedisAddr:        strings.TrimSpace(os.Getenv("AGENTHUB_REDIS_ADDR")),
		RedisPassword:    os.Getenv("AGENTHUB_REDIS_PASSWORD"),
		RedisDB:          env.integer("AGENTHUB_REDIS_DB", 0),
		CORSOrigin:       getEnv("CORS_ORIGIN", "http://localhost:8080"),
		LoginLimit:       env.integer("AGENTHUB_LOGIN_LIMIT", 5),
		LoginWindow:      env.duration("AGENTHUB_LOGIN_WINDOW", 15*time.Minute),
		RegisterLimit:    env.integer("AGENTHUB_REGISTER_LIMIT", 3),
		RegisterWindow:   env.duration("AGENTHUB_REGISTER_WINDOW", time.Hour),
		APIRatePerSec:    env.integer("AGENTHUB_API_RPS", 20),
		APIRateBurst:     env.integer("AGENTHUB_API_BURST", 40),
		MaxBodyBytes:     int64(env.integer("AGENTHUB_MAX_BODY_BYTES", 1<<20)),
		OAuthRedirectURL: getEnv("AGENTHUB_OAUTH_REDIRECT_URL", "http://localhost:8080/v1/mcp-oauth/callback"),
		AccessTokenTTL:   env.duration("JWT_EXPIRES_IN", 15*time.Minute),
		RefreshTokenTTL:  env.duration("JWT_REFRESH_EXPIRES_IN", 7*24*time.Hour),
	}
	if err := errors.Join(env.errs...); err != nil {
		return Config{}, err
	}

	cfg.JWTSecret = cfg.secret("JWT_SECRET", devAccessSecret)
	cfg.JWTRefreshSecret = cfg.secret("JWT_REFRESH_SECRET", devRefreshSecret)
	cfg.OAuthStateSecret = cfg.secret("AGENTHUB_OAUTH_STATE_SECRET", devStateSecret)

	rawKey := cfg.secret("ENCRYPTION_KEY", devEncryptionKey)
	key, err := envelope.ParseKey(rawKey)
	if err != nil {
		return Config{}, fmt.Errorf("ENCRYPTION_KEY: %w", err)
	}
	cfg.EncryptionKey = key

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service must not start with.
func (c Config) Validate() error {
	var errs []error
	if c.JWTSecret == c.JWTRefreshSecret {
		errs = append(errs, errors.New("JWT_SECRET and JWT_REFRESH_SECRET must differ"))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.LoginLimit <= 0 || c.RegisterLimit <= 0 {
		errs = append(errs, errors.New("auth rate limits must be positive"))
	}
	if c.Production() && len(c.InsecureDefaults) > 0 {
		errs = append(errs, fmt.Errorf("insecure defaults are not allowed in production: %s",
			strings.Join(c.InsecureDefaults, ", ")))
	}
	return errors.Join(errs...)
}

func (c *Config) secret(key, dev string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	c.InsecureDefaults = append(c.InsecureDefaults, key)
	return dev
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

// envReader parses typed variables and collects every malformed value.
type envReader struct {
	errs []error
}

// duration accepts Go durations plus a whole-day suffix ("7d").
func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	d, err := ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (e *envReader) integer(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

// ParseDuration extends time.ParseDuration with a "d" (24h) unit.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(raw)
}
