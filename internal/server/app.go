// Package server initializes and runs the AndyWeb HTTP server: storage,
// engine, rate limiter, metrics exporters, background workers and graceful
// shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	andyweb "github.com/CallMeChewy/AndyWeb"
	"github.com/CallMeChewy/AndyWeb/internal/api"
	"github.com/CallMeChewy/AndyWeb/internal/cleanup"
	"github.com/CallMeChewy/AndyWeb/internal/logging"
	"github.com/CallMeChewy/AndyWeb/internal/rate"
	"github.com/CallMeChewy/AndyWeb/internal/server/config"
	otelexport "github.com/CallMeChewy/AndyWeb/metrics/export/otel"
	promexport "github.com/CallMeChewy/AndyWeb/metrics/export/prometheus"
	"github.com/CallMeChewy/AndyWeb/store/sqlstore"
)

const (
	limiterSweepInterval = 5 * time.Minute

	limiterKeysMetric = "andyweb_rate_limiter_keys"
	limiterKeysHelp   = "Identities tracked by the in-memory rate limiter."
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	store   *sqlstore.Store
	engine  *andyweb.Engine
	limiter rate.Limiter
	memory  *rate.Memory
	redis   redis.UniversalClient
	otel    *otelexport.OTelExporter
	handler http.Handler
}

// NewApp opens and migrates the store and assembles every component. Log
// output goes to w.
func NewApp(ctx context.Context, c *config.Config, w io.Writer) (*App, error) {
	logger, err := logging.New(w, c.LogLevel, c.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}
	app := &App{config: c, logger: logger}

	dialect, err := sqlstore.ParseDialect(c.DatabaseDriver)
	if err != nil {
		return nil, err
	}
	app.store, err = sqlstore.Open(ctx, dialect, c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := app.store.Migrate(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	app.engine, err = andyweb.New().
		WithConfig(c.EngineConfig()).
		WithStore(app.store).
		WithLogger(logger.With("component", "engine")).
		Build()
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("engine init error: %w", err)
	}

	report := app.engine.SecurityReport()
	logger.Info(ctx, "security posture",
		"environment", report.Environment,
		"lockout", report.LockoutActive,
		"email_verification", report.EmailVerificationActive,
		"session_caps", report.SessionCapsActive,
	)
	for _, w := range report.Warnings {
		logger.Warn(ctx, "security warning", "detail", w)
	}

	if err := app.initLimiter(ctx); err != nil {
		app.Close()
		return nil, err
	}

	var metricsHandler http.Handler
	if c.MetricsEnabled {
		var (
			promOpts []promexport.Option
			otelOpts []otelexport.Option
		)
		if m := app.memory; m != nil {
			promOpts = append(promOpts, promexport.WithGauge(limiterKeysMetric, limiterKeysHelp,
				func() float64 { return float64(m.Len()) }))
			otelOpts = append(otelOpts, otelexport.WithGauge(limiterKeysMetric, limiterKeysHelp,
				func() int64 { return int64(m.Len()) }))
		}
		metricsHandler = promexport.NewPrometheusExporter(app.engine, promOpts...).Handler()
		app.otel, err = otelexport.NewOTelExporter(otel.Meter("andyweb"), app.engine, otelOpts...)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("otel exporter init error: %w", err)
		}
	}

	app.handler = api.NewRouter(api.Options{
		Engine:        app.engine,
		Limiter:       app.limiter,
		Logger:        logger.With("component", "http"),
		Metrics:       metricsHandler,
		CORSOrigins:   c.CORSOrigins,
		TrustProxy:    c.TrustProxy,
		StrictHeaders: c.StrictHeaders,
	})
	return app, nil
}

func (app *App) initLimiter(ctx context.Context) error {
	cfg := rate.Config{Policies: rate.DefaultPolicies()}

	switch app.config.RateLimitBackend {
	case config.RateLimitMemory:
		m, err := rate.NewMemory(cfg, nil)
		if err != nil {
			return fmt.Errorf("rate limiter init error: %w", err)
		}
		app.memory = m
		app.limiter = m
	case config.RateLimitRedis:
		opts, err := redis.ParseURL(app.config.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("redis ping: %w", err)
		}
		r, err := rate.NewRedis(client, cfg, nil)
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("rate limiter init error: %w", err)
		}
		app.redis = client
		app.limiter = r
	default:
		app.logger.Info(ctx, "rate limiting disabled", "environment", string(app.config.Environment))
	}
	return nil
}

// Handler returns the HTTP handler. Useful for tests.
func (app *App) Handler() http.Handler {
	return app.handler
}

// Engine returns the auth engine.
func (app *App) Engine() *andyweb.Engine {
	return app.engine
}

func (app *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			app.logger.Info(ctx, "signal received", "signal", sig.String())
			cancelFunc()
		case <-ctx.Done():
		}
	}()
}

// Run serves HTTP until ctx is cancelled or a termination signal arrives,
// then drains requests for ShutdownTimeout and releases resources.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.initSignalHandler(ctx, cancelFunc)

	srv := &http.Server{
		Addr:              app.config.HTTPAddr,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var wg sync.WaitGroup

	if app.memory != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.memory.Run(ctx, limiterSweepInterval)
		}()
	}

	if app.config.CleanupInterval > 0 {
		worker := &cleanup.Worker{
			Cleaner:  app.engine,
			Interval: app.config.CleanupInterval,
			Timeout:  time.Minute,
			Logger:   app.logger.With("component", "cleanup"),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		app.logger.Info(ctx, "starting server",
			"addr", app.config.HTTPAddr,
			"environment", string(app.config.Environment),
			"database", app.config.DatabaseDriver,
			"rate_limit", app.config.RateLimitBackend,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		cancelFunc()
	}

	app.logger.Info(context.Background(), "shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.logger.Error(shutdownCtx, "server shutdown failed", "error", err)
	}

	wg.Wait()
	app.Close()
	return runErr
}

// Close flushes the activity queue and releases the store, Redis client and
// exporters. It is safe to call on a partially built App.
func (app *App) Close() {
	ctx := context.Background()
	if app.otel != nil {
		if err := app.otel.Close(); err != nil {
			app.logger.Warn(ctx, "otel exporter close failed", "error", err)
		}
		app.otel = nil
	}
	if app.engine != nil {
		app.engine.Close()
		app.engine = nil
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Warn(ctx, "redis close failed", "error", err)
		}
		app.redis = nil
	}
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			app.logger.Warn(ctx, "store close failed", "error", err)
		}
		app.store = nil
	}
}
