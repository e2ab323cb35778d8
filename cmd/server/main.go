package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v82"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dukerupert/saga/internal"
	"github.com/dukerupert/saga/internal/checkout"
	"github.com/dukerupert/saga/internal/domain"
	"github.com/dukerupert/saga/internal/geo"
	"github.com/dukerupert/saga/internal/handler"
	"github.com/dukerupert/saga/internal/notify"
	"github.com/dukerupert/saga/internal/payment"
	"github.com/dukerupert/saga/internal/postgres"
	"github.com/dukerupert/saga/internal/pricing"
	"github.com/dukerupert/saga/internal/telemetry"
)

func run() error {
	ctx := context.Background()

	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger := internal.NewLogger(cfg.Env, cfg.LogLevel)

	sentryCleanup, err := telemetry.InitSentry(cfg.Sentry, logger)
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	defer sentryCleanup()

	// database/sql connection just for migrations; pgx pool for queries.
	logger.Info().Msg("connecting to database")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return fmt.Errorf("database ping failed: %w", err)
	}

	logger.Info().Msg("running database migrations")
	if err := internal.RunMigrations(sqlDB); err != nil {
		sqlDB.Close()
		return fmt.Errorf("migration failed: %w", err)
	}
	sqlDB.Close()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database pool failed: %w", err)
	}
	defer pool.Close()
	store := postgres.NewStore(pool)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	nc, err := nats.Connect(cfg.NatsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return fmt.Errorf("nats connection failed: %w", err)
	}
	defer nc.Drain()

	metrics := telemetry.InitBusinessMetrics(cfg.MetricsNamespace)

	stripe.Key = cfg.Stripe.SecretKey
	resolver := payment.NewResolver(
		payment.NewPayPalClient(cfg.PayPal.BaseURL, cfg.PayPal.ClientID, cfg.PayPal.Secret),
		payment.NewBraintreeClient(cfg.Braintree.BaseURL, cfg.Braintree.MerchantID, cfg.Braintree.PublicKey, cfg.Braintree.PrivateKey),
	)

	notifier := notify.NewSuppressor(
		rdb,
		notify.NewNatsDispatcher(nc, logger),
		cfg.Notify.SuppressionWindow,
		logger,
	)

	clock := domain.RealClock{}
	attempts := checkout.NewAttemptService(store, clock, logger, metrics)
	restarts := checkout.NewRestartEngine(store, attempts, clock, logger, metrics)

	checkoutSvc := checkout.NewService(checkout.ServiceParams{
		Store:    store,
		Catalog:  store,
		Resolver: resolver,
		Attempts: attempts,
		Restarts: restarts,
		Pricing:  pricing.NewEvaluator(store, clock),
		Geo:      geo.NewService(cfg.GeoBaseURL, logger),
		Notifier: notifier,
		Clock:    clock,
		Logger:   logger,
		Metrics:  metrics,
	})
	confirmSvc := checkout.NewConfirmService(store, resolver, notifier, clock, logger, metrics)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Msg("request")
			return nil
		},
	}))
	handler.New(checkoutSvc, confirmSvc, logger).Register(e)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("server starting")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info().Msg("server stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
