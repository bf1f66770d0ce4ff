package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"saldo/internal/amqp"
	"saldo/internal/backend"
	"saldo/internal/cli"
	applog "saldo/internal/log"
	"saldo/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentWorker)
	logger.Info("Starting saldo-worker")
	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	app := cli.BuildApp(logger, cfg, repo)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		cli.Fatal(logger, "Invalid export backend", err)
	}
	exportBackend, err := backend.NewFactory(logger.Logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		cli.Fatal(logger, "Failed to create export backend", err)
	}

	exporter := worker.NewExportWorker(app.Balances, exportBackend.Writer, worker.Config{
		RetryInterval: cfg.ExportRetryInterval,
	}, app.Metrics)

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           metricsRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, done := cli.GracefulShutdown(logger, cli.ShutdownTimeout, func(ctx context.Context) {
		if err := exporter.Stop(ctx); err != nil {
			logger.Error("Export worker stop error", applog.FieldError, err)
		}
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logger.Error("Metrics server shutdown error", applog.FieldError, err)
		}
		if exportBackend.Cleanup != nil {
			if err := exportBackend.Cleanup(); err != nil {
				logger.Error("Export backend cleanup error", applog.FieldError, err)
			}
		}
		app.Close(ctx)
	})

	if err := exporter.Start(ctx); err != nil {
		cli.Fatal(logger, "Failed to start export worker", err)
	}

	if app.AMQP != nil {
		go consumeChanges(ctx, logger, app)
	} else {
		logger.Info("AMQP disabled, relying on periodic resync", "interval", cfg.ExportResyncInterval)
	}
	go resync(ctx, logger, app, cfg.ExportResyncInterval)

	go func() {
		logger.Info("Serving worker metrics", "port", cfg.Port)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", applog.FieldError, err)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}

// consumeChanges turns change messages written by API processes into local
// feed notifications. The feed reloads the whole snapshot, so the message
// only matters as a signal.
func consumeChanges(ctx context.Context, logger *applog.Logger, app *cli.App) {
	err := app.AMQP.ConsumeChanges(ctx, func(msg *amqp.ChangeMessage) error {
		app.Metrics.ObserveChange(string(msg.Kind))
		logger.Debug("Change received",
			"kind", msg.Kind,
			applog.FieldGroupID, msg.GroupID,
			applog.FieldExpenseID, msg.ExpenseID)
		app.Broker.Notify()
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", applog.FieldError, err)
	}
}

// resync forces a reload now and then so a missed message or a write made
// with AMQP down still reaches the export.
func resync(ctx context.Context, logger *applog.Logger, app *cli.App, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Debug("Periodic export resync")
			app.Broker.Notify()
		}
	}
}

func metricsRouter(app *cli.App) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := app.Repo.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", app.Metrics.Handler())
	return r
}
