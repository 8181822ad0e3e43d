package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/ledgerpay/internal/auth"
	"github.com/congo-pay/ledgerpay/internal/config"
	"github.com/congo-pay/ledgerpay/internal/deposit"
	"github.com/congo-pay/ledgerpay/internal/idempotency"
	"github.com/congo-pay/ledgerpay/internal/identity"
	"github.com/congo-pay/ledgerpay/internal/jobs"
	"github.com/congo-pay/ledgerpay/internal/ledger"
	"github.com/congo-pay/ledgerpay/internal/metrics"
	"github.com/congo-pay/ledgerpay/internal/middleware"
	"github.com/congo-pay/ledgerpay/internal/moneyrequest"
	"github.com/congo-pay/ledgerpay/internal/notification"
	"github.com/congo-pay/ledgerpay/internal/paystack"
	"github.com/congo-pay/ledgerpay/internal/processor"
	"github.com/congo-pay/ledgerpay/internal/transfer"
	"github.com/congo-pay/ledgerpay/internal/wallet"
	"github.com/congo-pay/ledgerpay/internal/webhook"
	"github.com/congo-pay/ledgerpay/internal/withdrawal"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Processor overrides the processor picked from configuration.
	Processor processor.Processor
}

// Background holds the workers that must run alongside the HTTP server.
type Background struct {
	Dispatcher *webhook.Dispatcher
	Jobs       *jobs.Runner
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) (*Background, error) {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))
	app.Use(middleware.Metrics(d.Metrics))

	// Storage backends
	var (
		ledgerBackend ledger.Ledger
		identityRepo  identity.Repository
		guardStore    idempotency.Store
		revoked       auth.RevocationList
		mfaCodes      auth.CodeStore
	)
	if d.DB != nil {
		ledgerBackend = ledger.NewPostgresLedger(d.DB)
		identityRepo = identity.NewPostgresRepository(d.DB)
	} else {
		d.Logger.Warn("no database configured, using in-memory ledger")
		ledgerBackend = ledger.NewInMemory()
		identityRepo = identity.NewMemoryRepository()
	}
	if d.Cache != nil {
		guardStore = idempotency.NewRedisStore(d.Cache)
		revoked = auth.NewRedisRevocationList(d.Cache)
		mfaCodes = auth.NewRedisCodeStore(d.Cache)
	} else {
		guardStore = idempotency.NewMemoryStore()
		revoked = auth.NewMemoryRevocationList()
		mfaCodes = auth.NewMemoryCodeStore()
	}
	guard := idempotency.NewGuard(guardStore, d.Cfg.IdempotencyTTL, d.Cfg.IdempotencyLease, d.Metrics)

	proc := d.Processor
	if proc == nil {
		proc = newProcessor(d)
	}

	// Services
	notifier := notification.NewLoggerNotifier(d.Logger)
	identitySvc := identity.NewService(identityRepo, ledgerBackend)
	authSvc := auth.NewService(
		auth.NewIssuer(d.Cfg.JWTSecret, d.Cfg.RefreshSecret, d.Cfg.AccessTokenTTL, d.Cfg.RefreshTokenTTL),
		revoked, identitySvc)
	mfa := auth.NewMFA(mfaCodes, identitySvc, notifier, d.Logger, d.Cfg.MFACodeTTL)
	walletSvc := wallet.NewService(ledgerBackend)
	depositSvc, err := deposit.NewService(ledgerBackend, proc, deposit.Options{
		Guard:       guard,
		Notifier:    notifier,
		CallbackURL: d.Cfg.PaystackCallbackURL,
		Logger:      d.Logger,
		Metrics:     d.Metrics,
	})
	if err != nil {
		return nil, err
	}
	withdrawalSvc, err := withdrawal.NewService(ledgerBackend, proc, identitySvc, withdrawal.Options{
		Guard:          guard,
		Notifier:       notifier,
		Logger:         d.Logger,
		Metrics:        d.Metrics,
		MaxOTPAttempts: d.Cfg.OTPMaxAttempts,
		OTPExpiry:      d.Cfg.OTPExpiry,
	})
	if err != nil {
		return nil, err
	}
	transferSvc := transfer.NewService(ledgerBackend, identitySvc, notifier, d.Logger, d.Metrics)
	requestSvc := moneyrequest.NewService(ledgerBackend, identitySvc, notifier, d.Logger, d.Metrics)

	dispatcher := webhook.NewDispatcher(depositSvc, withdrawalSvc, webhook.DispatcherOptions{
		Workers: d.Cfg.WebhookWorkers,
		Logger:  d.Logger,
		Metrics: d.Metrics,
	})
	runner := jobs.NewRunner(d.Cfg.SweepInterval, d.Logger, d.Metrics,
		jobs.Job{Name: "deposit_sweep", Run: func(ctx context.Context) (int, error) {
			return depositSvc.SweepPending(ctx, d.Cfg.SweepGrace)
		}},
		jobs.Job{Name: "withdrawal_sweep", Run: func(ctx context.Context) (int, error) {
			return withdrawalSvc.SweepStale(ctx, d.Cfg.SweepGrace)
		}},
	)

	// Health and metrics
	RegisterHealthRoutes(app, d)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals(middleware.RequestIDKey).(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	jwtmw := middleware.JWTAuth(authSvc)
	idem := middleware.Idempotency(guard, d.Logger)

	// Public routes
	RegisterAuthRoutes(api, identity.NewHandler(identitySvc, d.Logger), auth.NewHandler(identitySvc, authSvc),
		auth.NewMFAHandler(mfa), middleware.LoginRateLimit(d.Cache, d.Cfg.LoginRateLimit, d.Logger), jwtmw)
	RegisterPaymentRoutes(api, PaymentHandlers{
		Deposits:    deposit.NewHandler(depositSvc, identitySvc),
		Withdrawals: withdrawal.NewHandler(withdrawalSvc),
		Webhook:     webhook.NewHandler(d.Cfg.PaystackSecretKey, dispatcher, d.Logger, d.Metrics),
	}, jwtmw, idem)

	// Protected routes
	protected := api.Group("", jwtmw, idem)
	RegisterIdentityRoutes(protected, identity.NewHandler(identitySvc, d.Logger))
	RegisterWalletRoutes(protected, wallet.NewHandler(walletSvc))
	RegisterTransferRoutes(protected, transfer.NewHandler(transferSvc), moneyrequest.NewHandler(requestSvc))

	return &Background{Dispatcher: dispatcher, Jobs: runner}, nil
}

// newProcessor picks the Paystack client when a secret key is configured and
// the in-memory processor otherwise.
func newProcessor(d Deps) processor.Processor {
	if d.Cfg.PaystackSecretKey == "" {
		d.Logger.Warn("no paystack secret key configured, using static processor")
		return processor.NewStaticProcessor()
	}
	return paystack.NewClient(paystack.Config{
		BaseURL:       d.Cfg.PaystackBaseURL,
		SecretKey:     d.Cfg.PaystackSecretKey,
		Timeout:       d.Cfg.PaystackTimeout,
		RatePerSecond: float64(d.Cfg.PaystackRateLimit),
		ReadRetries:   2,
	}, d.Metrics)
}
