package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName          = "LedgerPay"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultIdempotencyLease = 2 * time.Minute
	defaultAccessTokenTTL   = 15 * time.Minute
	defaultRefreshTokenTTL  = 7 * 24 * time.Hour
	defaultPaystackTimeout  = 15 * time.Second
	defaultPaystackRate     = 10
	defaultOTPAttempts      = 3
	defaultOTPExpiry        = 30 * time.Minute
	defaultMFACodeTTL       = 5 * time.Minute
	defaultSweepInterval    = time.Minute
	defaultSweepGrace       = 5 * time.Minute
	defaultWebhookWorkers   = 4
	defaultLoginRateLimit   = 5
	defaultDBMaxConns       = 10
	defaultDBLockTimeout    = 5 * time.Second
	idemTTLSecondsEnvVar    = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar        = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar   = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar  = "SHUTDOWN_TIMEOUT"
	devJWTSecret            = "dev-access-secret-change-me"
	devRefreshSecret        = "dev-refresh-secret-change-me"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName     string
	AppEnv      string
	Port        string
	LogLevel    string
	DatabaseURL string
	// DatabaseMaxConns and DatabaseLockTimeout tune the ledger's Postgres pool.
	DatabaseMaxConns    int
	DatabaseLockTimeout time.Duration
	RedisURL            string
	ShutdownPeriod      time.Duration
	IdempotencyTTL      time.Duration
	// IdempotencyLease bounds how long an unfinished claim blocks its key.
	IdempotencyLease time.Duration

	JWTSecret       string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	LoginRateLimit  int
	MFACodeTTL      time.Duration

	PaystackSecretKey   string
	PaystackBaseURL     string
	PaystackCallbackURL string
	PaystackTimeout     time.Duration
	// PaystackRateLimit caps outbound requests per second.
	PaystackRateLimit int

	OTPMaxAttempts int
	OTPExpiry      time.Duration
	SweepInterval  time.Duration
	SweepGrace     time.Duration
	WebhookWorkers int
}

// Load reads configuration values from the environment and populates a Config
// instance. A .env file in the working directory is loaded first when present;
// variables already set in the environment win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:             getEnv("APP_NAME", defaultAppName),
		AppEnv:              getEnv("APP_ENV", defaultAppEnv),
		Port:                getEnv("PORT", defaultPort),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		ShutdownPeriod:      defaultShutdownDelay,
		IdempotencyTTL:      defaultIdempotencyTTL,
		JWTSecret:           os.Getenv("JWT_SECRET"),
		RefreshSecret:       os.Getenv("REFRESH_SECRET"),
		PaystackSecretKey:   os.Getenv("PAYSTACK_SECRET_KEY"),
		PaystackBaseURL:     os.Getenv("PAYSTACK_BASE_URL"),
		PaystackCallbackURL: os.Getenv("PAYSTACK_CALLBACK_URL"),
	}

	var err error
	if cfg.ShutdownPeriod, err = secondsOrDuration(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = secondsOrDuration(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}

	durations := []struct {
		key      string
		dst      *time.Duration
		fallback time.Duration
	}{
		{"IDEMPOTENCY_LEASE", &cfg.IdempotencyLease, defaultIdempotencyLease},
		{"DB_LOCK_TIMEOUT", &cfg.DatabaseLockTimeout, defaultDBLockTimeout},
		{"ACCESS_TOKEN_TTL", &cfg.AccessTokenTTL, defaultAccessTokenTTL},
		{"REFRESH_TOKEN_TTL", &cfg.RefreshTokenTTL, defaultRefreshTokenTTL},
		{"PAYSTACK_TIMEOUT", &cfg.PaystackTimeout, defaultPaystackTimeout},
		{"OTP_EXPIRY", &cfg.OTPExpiry, defaultOTPExpiry},
		{"MFA_CODE_TTL", &cfg.MFACodeTTL, defaultMFACodeTTL},
		{"SWEEP_INTERVAL", &cfg.SweepInterval, defaultSweepInterval},
		{"SWEEP_GRACE", &cfg.SweepGrace, defaultSweepGrace},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.key, d.fallback); err != nil {
			return Config{}, err
		}
	}

	ints := []struct {
		key      string
		dst      *int
		fallback int
	}{
		{"PAYSTACK_RATE_LIMIT", &cfg.PaystackRateLimit, defaultPaystackRate},
		{"OTP_MAX_ATTEMPTS", &cfg.OTPMaxAttempts, defaultOTPAttempts},
		{"WEBHOOK_WORKERS", &cfg.WebhookWorkers, defaultWebhookWorkers},
		{"LOGIN_RATE_LIMIT", &cfg.LoginRateLimit, defaultLoginRateLimit},
		{"DB_MAX_CONNS", &cfg.DatabaseMaxConns, defaultDBMaxConns},
	}
	for _, i := range ints {
		if *i.dst, err = getInt(i.key, i.fallback); err != nil {
			return Config{}, err
		}
	}

	if cfg.IsDev() {
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = devJWTSecret
		}
		if cfg.RefreshSecret == "" {
			cfg.RefreshSecret = devRefreshSecret
		}
		return cfg, nil
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}
	if cfg.JWTSecret == "" || cfg.RefreshSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET and REFRESH_SECRET must be set")
	}
	if cfg.PaystackSecretKey == "" {
		return Config{}, fmt.Errorf("PAYSTACK_SECRET_KEY must be set")
	}

	return cfg, nil
}

// IsDev reports whether the service runs in a local development environment,
// where Postgres, Redis and the processor may be replaced by in-memory fakes.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// ServiceName is AppName as a log and connection label, e.g. "ledgerpay".
func (c Config) ServiceName() string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(c.AppName)), " ", "-")
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func secondsOrDuration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return getDuration(durationKey, fallback)
}
