package config

import (
	"testing"
	"time"
)

func TestLoadDevelopmentDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.IsDev() {
		t.Fatalf("expected dev environment")
	}
	if cfg.JWTSecret == "" || cfg.RefreshSecret == "" {
		t.Fatalf("expected dev token secrets")
	}
	if cfg.IdempotencyTTL != 24*time.Hour || cfg.IdempotencyLease != 2*time.Minute || cfg.OTPMaxAttempts != 3 || cfg.WebhookWorkers != 4 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
	if cfg.DatabaseMaxConns != 10 || cfg.DatabaseLockTimeout != 5*time.Second {
		t.Fatalf("unexpected pool defaults %d %s", cfg.DatabaseMaxConns, cfg.DatabaseLockTimeout)
	}
	if cfg.ServiceName() != "ledgerpay" {
		t.Fatalf("unexpected service name %q", cfg.ServiceName())
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "3")
	t.Setenv("IDEMPOTENCY_TTL", "90m")
	t.Setenv("IDEMPOTENCY_LEASE", "45s")
	t.Setenv("ACCESS_TOKEN_TTL", "5m")
	t.Setenv("OTP_MAX_ATTEMPTS", "5")
	t.Setenv("SWEEP_GRACE", "30s")
	t.Setenv("DB_MAX_CONNS", "25")
	t.Setenv("DB_LOCK_TIMEOUT", "2s")
	t.Setenv("APP_NAME", "LedgerPay Sandbox")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ShutdownPeriod != 3*time.Second {
		t.Fatalf("shutdown period %s", cfg.ShutdownPeriod)
	}
	if cfg.IdempotencyTTL != 90*time.Minute || cfg.IdempotencyLease != 45*time.Second {
		t.Fatalf("idempotency ttl %s lease %s", cfg.IdempotencyTTL, cfg.IdempotencyLease)
	}
	if cfg.AccessTokenTTL != 5*time.Minute || cfg.OTPMaxAttempts != 5 || cfg.SweepGrace != 30*time.Second {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if cfg.DatabaseMaxConns != 25 || cfg.DatabaseLockTimeout != 2*time.Second {
		t.Fatalf("unexpected pool overrides %d %s", cfg.DatabaseMaxConns, cfg.DatabaseLockTimeout)
	}
	if cfg.ServiceName() != "ledgerpay-sandbox" {
		t.Fatalf("unexpected service name %q", cfg.ServiceName())
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("OTP_MAX_ATTEMPTS", "three")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for non-numeric OTP_MAX_ATTEMPTS")
	}
}

func TestLoadRequiresBackendsOutsideDev(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/ledger")
	t.Setenv("JWT_SECRET", "a")
	t.Setenv("REFRESH_SECRET", "b")
	t.Setenv("PAYSTACK_SECRET_KEY", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without PAYSTACK_SECRET_KEY")
	}

	t.Setenv("PAYSTACK_SECRET_KEY", "sk_live_x")
	if _, err := Load(); err != nil {
		t.Fatalf("load production config: %v", err)
	}
}
