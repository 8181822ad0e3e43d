package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/ledgerpay/internal/apierror"
	"github.com/congo-pay/ledgerpay/internal/config"
	"github.com/congo-pay/ledgerpay/internal/metrics"
	"github.com/congo-pay/ledgerpay/internal/processor"
	"github.com/congo-pay/ledgerpay/internal/routes"
)

// Server wraps the Fiber application, its background workers and shared
// dependencies.
type Server struct {
	app        *fiber.App
	cfg        config.Config
	logger     *slog.Logger
	background *routes.Background
	cancel     context.CancelFunc
}

// Options carries the optional collaborators of the server.
type Options struct {
	DB        *pgxpool.Pool
	Cache     *redis.Client
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Processor processor.Processor
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: apierror.Handler(logger),
	})

	bg, err := routes.Setup(app, routes.Deps{
		Cfg:       cfg,
		DB:        opts.DB,
		Cache:     opts.Cache,
		Logger:    logger,
		Metrics:   opts.Metrics,
		Processor: opts.Processor,
	})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, logger: logger, background: bg}, nil
}

// App exposes the Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start launches the webhook workers and the sweepers. They stop on Shutdown.
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.background.Dispatcher.Start(ctx)
	s.background.Jobs.Start(ctx)
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops accepting requests, drains queued webhook events and waits
// for the sweepers to return.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	if stopErr := s.background.Dispatcher.Stop(ctx); stopErr != nil {
		s.logger.Warn("webhook dispatcher did not drain", "error", stopErr)
		err = errors.Join(err, stopErr)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.background.Jobs.Wait()
	return err
}
