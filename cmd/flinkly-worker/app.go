package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"flinkly/adapters/jsonfile"
	mem "flinkly/adapters/memory"
	"flinkly/adapters/rabbitmq"
	redisAdapter "flinkly/adapters/redis"
	sqlxAdapter "flinkly/adapters/sqlx"
	"flinkly/analytics"
	"flinkly/api/httpapi"
	"flinkly/config"
	"flinkly/core"
	"flinkly/engine"
	"flinkly/integrations/webhook"
	"flinkly/notify"
	"flinkly/realtime"
	"flinkly/scheduler"
	"flinkly/sellers"
)

// ConfigPath points at an optional JSON config file. Empty means
// environment only.
type ConfigPath string

// App aggregates the assembled worker components.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Hub       *realtime.Hub
	Service   *engine.Service
	Scheduler *scheduler.Scheduler
	Handler   http.Handler
	Server    *http.Server
}

func provideConfig(ctx context.Context, path ConfigPath) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFromFile(string(path))
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	cfg.LoadSecrets(ctx, config.NewEnvironmentSecretStore())
	return cfg, nil
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideRegistry(cfg *config.Config) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return reg
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideActivityStats() *analytics.ActivityStats {
	return analytics.NewActivityStats()
}

func provideStore(cfg *config.Config, logger *slog.Logger) (engine.Store, func(), error) {
	store, err := setupStorage(cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}
	return store, cleanup, nil
}

func provideMailer(cfg *config.Config, logger *slog.Logger) (notify.Mailer, func(), error) {
	switch cfg.Notifications.Mailer {
	case "amqp":
		m, err := rabbitmq.Dial(cfg.Notifications.AMQPURL, cfg.Notifications.Exchange)
		if err != nil {
			return nil, nil, err
		}
		return m, func() {
			if err := m.Close(); err != nil {
				logger.Warn("failed to close amqp mailer", "error", err)
			}
		}, nil
	case "log", "":
		return notify.LogMailer{Logger: logger.With("component", "mailer")}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown mailer: %s", cfg.Notifications.Mailer)
	}
}

func provideService(
	cfg *config.Config,
	store engine.Store,
	mailer notify.Mailer,
	hub *realtime.Hub,
	stats *analytics.ActivityStats,
	reg *prometheus.Registry,
	logger *slog.Logger,
) (*engine.Service, func(), error) {
	table, err := cfg.Levels.Table()
	if err != nil {
		return nil, nil, fmt.Errorf("level requirements: %w", err)
	}
	hooks := []func(context.Context, core.Event){stats.OnEvent}
	if cfg.Metrics.Enabled {
		hooks = append(hooks, analytics.NewCollector(reg).OnEvent)
	}
	if len(cfg.Notifications.Webhooks) > 0 {
		sink := webhook.New(cfg.Notifications.Webhooks,
			webhook.WithSecret(cfg.Notifications.WebhookSecret),
			webhook.WithLogger(logger.With("component", "webhook")),
		)
		hooks = append(hooks, sink.OnEvent)
	}
	bridge := analytics.NewBridge(hooks...)

	svc, err := sellers.New(
		sellers.WithStore(store),
		sellers.WithMailer(mailer),
		sellers.WithRequirements(table),
		sellers.WithDigestOptions(cfg.Notifications.DigestOptions()),
		sellers.WithDispatchMode(engine.DispatchAsync),
		sellers.WithRealtime(hub),
		sellers.WithLevelUpEmails(cfg.Notifications.LevelUpEmails),
		sellers.WithHandler(bridge.OnEvent, sellers.AllEvents...),
		sellers.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, err
	}
	return svc, svc.Close, nil
}

func provideScheduler(cfg *config.Config, svc *engine.Service, reg *prometheus.Registry, logger *slog.Logger) (*scheduler.Scheduler, func(), error) {
	opts := scheduler.Options{
		Timezone: cfg.Scheduler.Timezone,
		LockTTL:  cfg.Scheduler.LockTTL,
		Logger:   logger.With("component", "scheduler"),
	}
	if cfg.Metrics.Enabled {
		opts.Metrics = scheduler.NewMetrics(reg)
	}
	cleanup := func() {}
	if cfg.Scheduler.DistributedLock {
		rc := redisAdapter.DefaultConfig()
		rc.Addr = cfg.Scheduler.Redis.Addr
		rc.Password = cfg.Scheduler.Redis.Password
		rc.DB = cfg.Scheduler.Redis.DB
		client, err := redisAdapter.New(rc)
		if err != nil {
			return nil, nil, err
		}
		opts.Locker = client.Locker
		opts.History = client.History
		cleanup = func() {
			if err := client.Close(); err != nil {
				logger.Warn("failed to close redis", "error", err)
			}
		}
	}

	sched, err := scheduler.New(opts)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	timetable := cfg.Scheduler.Timetable()
	if !cfg.Scheduler.Enabled {
		// jobs stay available for manual runs
		timetable.UpgradeSpec, timetable.DigestSpec = "", ""
	}
	if err := sched.RegisterAll(scheduler.ServiceJobs(svc, timetable)); err != nil {
		cleanup()
		return nil, nil, err
	}
	return sched, cleanup, nil
}

func provideHandler(
	cfg *config.Config,
	svc *engine.Service,
	sched *scheduler.Scheduler,
	hub *realtime.Hub,
	stats *analytics.ActivityStats,
	reg *prometheus.Registry,
	logger *slog.Logger,
) http.Handler {
	opts := httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		RateLimitCleanup: cfg.Security.RateLimit.CleanupInterval,
	}
	if cfg.Metrics.Enabled {
		opts.MetricsPath = cfg.Metrics.Path
		opts.Gatherer = reg
	}
	return httpapi.NewMux(httpapi.Deps{
		Service:   svc,
		Scheduler: sched,
		Hub:       hub,
		Stats:     stats,
		Logger:    logger.With("component", "http"),
	}, opts)
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	var handler slog.Handler
	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler).With("service", "flinkly-worker")
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func convertAttributes(attrs map[string]string) []slog.Attr {
	result := make([]slog.Attr, 0, len(attrs))
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

// setupStorage opens the marketplace store selected by configuration.
func setupStorage(cfg *config.Config) (engine.Store, error) {
	switch cfg.Storage.Adapter {
	case "memory":
		return mem.New(), nil
	case "sql":
		return sqlxAdapter.New(cfg.Storage.SQL.AdapterConfig())
	case "file":
		return jsonfile.New(cfg.Storage.File.Path)
	default:
		return nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}
