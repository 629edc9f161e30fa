// Command reconcile repairs action records left inconsistent by a crash
// between writes. It runs once, or on an interval with -every.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/venuesync/backend/internal/config"
	"github.com/venuesync/backend/internal/database"
	"github.com/venuesync/backend/internal/executor"
	"github.com/venuesync/backend/internal/gate"
	"github.com/venuesync/backend/internal/lifecycle"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config")
	grace := flag.Duration("grace", 5*time.Minute, "only repair records older than this")
	every := flag.Duration("every", 0, "repeat on this interval; zero runs once")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found")
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "venuesync-reconcile"))

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := database.Connect(ctx, database.ConnectOptions{
		Driver:      cfg.Store.Driver,
		DSN:         cfg.Store.DSN,
		SupabaseURL: cfg.Store.SupabaseURL,
		SupabaseKey: cfg.Store.SupabaseKey,
	})
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Reconcile never dispatches, so no connector is registered.
	svc := lifecycle.New(store,
		gate.New(store, nil, cfg.GateSettings()),
		executor.NewEngine(executor.NewRegistry()),
		lifecycle.WithReconcileGrace(*grace),
	)

	if *every <= 0 {
		if !pass(ctx, svc) {
			os.Exit(1)
		}
		return
	}

	ticker := time.NewTicker(*every)
	defer ticker.Stop()
	for {
		pass(ctx, svc)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func pass(ctx context.Context, svc *lifecycle.Service) bool {
	start := time.Now()
	report, err := svc.Reconcile(ctx)
	if err != nil {
		slog.Error("reconcile failed", "error", err)
		return false
	}
	out, _ := json.Marshal(report)
	slog.Info("reconcile complete",
		"report", json.RawMessage(out),
		"duration_ms", time.Since(start).Milliseconds())
	return true
}
