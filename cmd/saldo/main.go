package main

import (
	"context"
	"errors"
	"net/http"

	"saldo/internal/cli"
	apphttp "saldo/internal/http"
	applog "saldo/internal/log"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	app := cli.BuildApp(logger, cfg, repo)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Groups:             app.Groups,
		Expenses:           app.Expenses,
		Users:              app.Users,
		Balances:           app.Balances,
		DB:                 repo,
		Metrics:            app.Metrics,
		Logger:             logger,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, cli.ShutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		app.Close(ctx)
	})

	logger.Info("Starting saldo server",
		"port", cfg.Port,
		"amqp", app.AMQP != nil,
		"rate_limit_per_minute", cfg.RateLimitPerMinute)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cli.Fatal(logger, "Server error", err)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
