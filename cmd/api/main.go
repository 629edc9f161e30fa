package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/venuesync/backend/internal/api"
	"github.com/venuesync/backend/internal/circuitbreaker"
	"github.com/venuesync/backend/internal/config"
	"github.com/venuesync/backend/internal/database"
	"github.com/venuesync/backend/internal/events"
	"github.com/venuesync/backend/internal/executor"
	"github.com/venuesync/backend/internal/gate"
	"github.com/venuesync/backend/internal/infra"
	"github.com/venuesync/backend/internal/lifecycle"
	"github.com/venuesync/backend/internal/metrics"
	"github.com/venuesync/backend/internal/middleware"
	"github.com/venuesync/backend/internal/telemetry"
	"github.com/venuesync/backend/internal/webhooks"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config")
	venuesPath := flag.String("venues", os.Getenv("VENUES_CONFIG_PATH"), "path to the per-venue overrides")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found")
	}

	mgr, err := config.NewManager(*configPath, *venuesPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := mgr.Global()
	setupLogger(cfg.Server)

	if err := run(cfg, mgr); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func setupLogger(s config.ServerConfig) {
	var h slog.Handler
	if s.Development() {
		h = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	slog.SetDefault(slog.New(h).With("service", "venuesync-actions", "env", s.Env))
}

func run(cfg *config.Config, mgr *config.Manager) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	// ===== Store =====
	store, err := database.Connect(ctx, database.ConnectOptions{
		Driver:      cfg.Store.Driver,
		DSN:         cfg.Store.DSN,
		SupabaseURL: cfg.Store.SupabaseURL,
		SupabaseKey: cfg.Store.SupabaseKey,
		Migrate:     cfg.Store.AutoMigrate,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	// ===== Metrics =====
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// ===== Connectors =====
	breakers := newBreakers(cfg, m)
	registry, err := executor.NewVenueRegistry(cfg.ConnectorSettings(), breakers)
	if err != nil {
		return err
	}

	// ===== Confirmation gate =====
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}
	g := gate.New(store, policy, cfg.GateSettings(), gate.WithVenueThresholds(mgr.Thresholds))

	// ===== Events =====
	var (
		bus     = events.NewEventBus()
		emitter events.EventEmitter = bus
	)
	if cfg.Events.PubSubProject != "" {
		pb, err := events.DialPubSub(ctx, cfg.Events.PubSubProject, cfg.Events.PubSubTopic)
		if err != nil {
			return err
		}
		defer pb.Close()
		bus, emitter = pb.EventBus, pb
	}

	// ===== Webhooks =====
	if hooks := startWebhooks(ctx, cfg.Webhooks, bus); hooks != nil {
		defer hooks.Shutdown()
	}

	svc := lifecycle.New(store, g, executor.NewEngine(registry),
		lifecycle.WithEvents(emitter),
		lifecycle.WithMetrics(m),
	)
	go reconcileOnStart(ctx, svc)

	// ===== HTTP =====
	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = newLimiter(cfg.RateLimit, m)
		defer limiter.Stop()
	}

	server := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: api.NewRouter(api.Deps{
			Service:     svc,
			Events:      bus,
			Store:       store,
			Breakers:    breakers,
			Limiter:     limiter,
			Gatherer:    reg,
			CORSOrigins: cfg.Server.CORSOrigins,
			Version:     version,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("action API starting", "port", cfg.Server.Port, "version", version, "store", cfg.Store.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("received shutdown signal, shutting down gracefully")
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	return nil
}

func newBreakers(cfg *config.Config, m *metrics.Metrics) *circuitbreaker.Manager {
	bc := cfg.BreakerSettings()
	bc.OnStateChange = func(name string, from, to circuitbreaker.State) {
		slog.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		m.BreakerState.WithLabelValues(name).Set(float64(to))
	}
	return circuitbreaker.NewManager(bc)
}

// newLimiter counts in Redis when configured, in process otherwise.
func newLimiter(rc config.RateLimitConfig, m *metrics.Metrics) *middleware.RateLimiter {
	opts := []middleware.RateLimitOption{
		middleware.WithLimitedHook(func(key string) {
			m.RateLimited.Inc()
			slog.Debug("rate limited", "caller", key)
		}),
	}
	if rc.RedisAddr != "" {
		counter, err := infra.NewGoRedisAdapter(rc.RedisAddr, rc.RedisPassword, rc.RedisDB)
		if err != nil {
			slog.Warn("redis unavailable, rate limiting per instance", "error", err)
		} else {
			opts = append(opts, middleware.WithCounter(counter))
		}
	}
	return middleware.NewRateLimiter(rc.RateLimitConfig, opts...)
}

// startWebhooks forwards every lifecycle event on bus to the configured
// subscribers. It returns nil when none are configured.
func startWebhooks(ctx context.Context, wc config.WebhooksConfig, bus *events.EventBus) webhooks.WebhookEmitter {
	if len(wc.Subscriptions) == 0 {
		return nil
	}
	registry := webhooks.NewRegistry()
	for i := range wc.Subscriptions {
		sub := wc.Subscriptions[i]
		if err := registry.Register(&sub); err != nil {
			slog.Warn("skipping webhook subscription", "webhook_id", sub.ID, "error", err)
		}
	}

	var emitter webhooks.WebhookEmitter
	if wc.CloudTasks() {
		cd, err := webhooks.DialCloudDispatcher(ctx, registry, wc.TasksProject, wc.TasksLocation, wc.TasksQueue, wc.Workers)
		if err != nil {
			slog.Warn("cloud tasks unavailable, delivering in process", "error", err)
		} else {
			emitter = cd
		}
	}
	if emitter == nil {
		emitter = webhooks.NewDispatcher(registry, wc.Workers)
	}

	go webhooks.Forward(ctx, bus.Subscribe(), emitter)
	return emitter
}

func reconcileOnStart(ctx context.Context, svc *lifecycle.Service) {
	report, err := svc.Reconcile(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("startup reconcile failed", "error", err)
		return
	}
	if report.RollbacksCompleted+report.ExecutionsAbandoned > 0 {
		slog.Info("startup reconcile repaired records",
			"rollbacks_completed", report.RollbacksCompleted,
			"executions_abandoned", report.ExecutionsAbandoned)
	}
}
