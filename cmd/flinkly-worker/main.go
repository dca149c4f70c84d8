package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file (default: environment only)")
	runOnce := flag.String("run-once", "", "run the named job once and exit (seller_level_upgrade or weekly_digest)")
	flag.Parse()

	ctx := context.Background()
	app, cleanup, err := BuildApp(ctx, ConfigPath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	if *runOnce != "" {
		code := runJobOnce(ctx, app, *runOnce)
		cleanup()
		os.Exit(code)
	}

	cfg := app.Config
	slog.Info("starting flinkly worker",
		"environment", cfg.Environment,
		"profile", cfg.Profile,
		"storage_adapter", cfg.Storage.Adapter,
		"scheduler_enabled", cfg.Scheduler.Enabled,
		"timezone", app.Scheduler.Location().String())

	if cfg.Scheduler.Enabled {
		app.Scheduler.Start()
		for _, j := range app.Scheduler.Jobs() {
			slog.Info("job scheduled", "job", j.Name, "schedule", j.Spec, "next", j.Next)
		}
	}

	srv := app.Server
	serverErr := make(chan error, 1)
	if cfg.Server.Enabled {
		go func() {
			slog.Info("server listening", "address", cfg.Server.Address)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	exitCode := 0
	select {
	case sig := <-quit:
		slog.Info("shutdown requested", "signal", sig.String())
	case err := <-serverErr:
		slog.Error("failed to start server", "error", err)
		exitCode = 1
	}

	slog.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if cfg.Server.Enabled {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("error during server shutdown", "error", err)
			exitCode = 1
		}
	}
	if err := app.Scheduler.Stop(shutdownCtx); err != nil {
		slog.Warn("running jobs did not finish before shutdown timeout", "error", err)
		exitCode = 1
	}

	slog.Info("worker stopped")
	if exitCode != 0 {
		cleanup()
		os.Exit(exitCode)
	}
}

func runJobOnce(ctx context.Context, app *App, job string) int {
	rec, err := app.Scheduler.RunNow(ctx, job)
	if err != nil {
		app.Logger.Error("job run failed", "job", job, "error", err, "status", rec.Status)
		return 1
	}
	app.Logger.Info("job run finished", "job", job, "status", rec.Status,
		"duration", rec.Duration(), "summary", rec.Summary)
	return 0
}
