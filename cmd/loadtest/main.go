// Command loadtest races concurrent execute and rollback calls against an
// in-process lifecycle and checks that every action reaches its connector
// exactly once in each direction.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/venuesync/backend/internal/actions"
	"github.com/venuesync/backend/internal/database"
	"github.com/venuesync/backend/internal/executor"
	"github.com/venuesync/backend/internal/gate"
	"github.com/venuesync/backend/internal/lifecycle"
)

// LoadTestConfig holds load test parameters
type LoadTestConfig struct {
	Actions        int
	Workers        int
	Racers         int
	Latency        time.Duration
	DSN            string
	ReportInterval time.Duration
}

// LoadTestStats tracks test metrics
type LoadTestStats struct {
	Actions            uint64
	Executed           uint64
	ExecuteConflicts   uint64
	RolledBack         uint64
	RollbackConflicts  uint64
	Errors             uint64
	ExecuteDispatches  atomic.Int64
	RollbackDispatches atomic.Int64

	TotalDuration       time.Duration
	AvgLatency          time.Duration
	P95Latency          time.Duration
	P99Latency          time.Duration
	MaxLatency          time.Duration
	ThroughputPerSecond float64
}

func main() {
	cfg := LoadTestConfig{}
	flag.IntVar(&cfg.Actions, "actions", 500, "number of actions to create")
	flag.IntVar(&cfg.Workers, "workers", 16, "actions processed in parallel")
	flag.IntVar(&cfg.Racers, "racers", 8, "concurrent execute and rollback calls per action")
	flag.DurationVar(&cfg.Latency, "latency", 2*time.Millisecond, "simulated connector latency")
	flag.StringVar(&cfg.DSN, "dsn", ":memory:", "sqlite dsn for the action store")
	flag.DurationVar(&cfg.ReportInterval, "report", 5*time.Second, "stats reporting interval")
	flag.Parse()

	slog.Info("starting lifecycle race test",
		"actions", cfg.Actions, "workers", cfg.Workers, "racers", cfg.Racers, "latency", cfg.Latency)

	stats, err := runLoadTest(context.Background(), cfg)
	if err != nil {
		slog.Error("load test setup failed", "error", err)
		os.Exit(1)
	}
	if !printResults(stats) {
		os.Exit(1)
	}
}

func runLoadTest(ctx context.Context, cfg LoadTestConfig) (*LoadTestStats, error) {
	db, err := database.Open(ctx, database.DriverSQLite, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		return nil, err
	}
	store := database.NewSQLStore(db)
	defer store.Close()

	stats := &LoadTestStats{}
	reg := executor.NewRegistry()
	err = reg.Register(actions.ServicePOS, "update_item_price", executor.Funcs{
		ExecuteFunc: func(ctx context.Context, a *actions.Action) (executor.Outcome, error) {
			stats.ExecuteDispatches.Add(1)
			time.Sleep(cfg.Latency)
			return executor.Outcome{
				Result:       map[string]any{"itemGuid": a.Parameters["itemGuid"]},
				RollbackData: map[string]any{"itemGuid": a.Parameters["itemGuid"], "originalPrice": a.Parameters["currentPrice"]},
			}, nil
		},
		RollbackFunc: func(context.Context, *actions.Action, map[string]any) (executor.Outcome, error) {
			stats.RollbackDispatches.Add(1)
			time.Sleep(cfg.Latency)
			return executor.Outcome{Result: map[string]any{"restored": true}}, nil
		},
	}, "")
	if err != nil {
		return nil, err
	}

	svc := lifecycle.New(store, gate.New(store, nil, gate.DefaultConfig()), executor.NewEngine(reg))

	var (
		latencies   []time.Duration
		latenciesMu sync.Mutex
	)
	record := func(d time.Duration) {
		latenciesMu.Lock()
		latencies = append(latencies, d)
		latenciesMu.Unlock()
	}

	reportCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go reportStats(reportCtx, stats, cfg.ReportInterval)

	jobs := make(chan int, cfg.Actions)
	var wg sync.WaitGroup
	start := time.Now()
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				processAction(ctx, svc, cfg.Racers, i, stats, record)
			}
		}()
	}
	for i := 0; i < cfg.Actions; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	stats.TotalDuration = time.Since(start)
	stats.ThroughputPerSecond = float64(stats.Actions) / stats.TotalDuration.Seconds()

	slices.Sort(latencies)
	if n := len(latencies); n > 0 {
		var total time.Duration
		for _, l := range latencies {
			total += l
		}
		stats.AvgLatency = total / time.Duration(n)
		stats.P95Latency = percentile(latencies, 95)
		stats.P99Latency = percentile(latencies, 99)
		stats.MaxLatency = latencies[n-1]
	}
	return stats, nil
}

// processAction creates one auto-confirmed action, then fires racers
// concurrent executes followed by racers concurrent rollbacks.
func processAction(ctx context.Context, svc *lifecycle.Service, racers, i int, stats *LoadTestStats, record func(time.Duration)) {
	out, err := svc.CreateAction(ctx, lifecycle.CreateInput{
		Service:    actions.ServicePOS,
		ActionType: "update_item_price",
		VenueID:    fmt.Sprintf("venue-%d", i%10),
		Parameters: map[string]any{
			"itemGuid":     fmt.Sprintf("item-%d", i),
			"currentPrice": 10.0,
			"newPrice":     10.5,
		},
		Priority:         actions.PriorityLow,
		CreatedBy:        actions.CreatedByUser,
		SkipConfirmation: true,
	})
	if err != nil || !out.AutoConfirmed {
		atomic.AddUint64(&stats.Errors, 1)
		slog.Warn("create failed", "index", i, "error", err)
		return
	}
	atomic.AddUint64(&stats.Actions, 1)
	id := out.Action.ID

	race(racers, func() {
		t := time.Now()
		_, err := svc.ExecuteAction(ctx, lifecycle.ExecuteInput{ActionID: id})
		record(time.Since(t))
		count(stats, err, &stats.Executed, &stats.ExecuteConflicts)
	})
	race(racers, func() {
		_, err := svc.RollbackAction(ctx, lifecycle.RollbackInput{ActionID: id, Reason: "load test", UserID: "loadtest"})
		count(stats, err, &stats.RolledBack, &stats.RollbackConflicts)
	})
}

func race(n int, fn func()) {
	var wg sync.WaitGroup
	start := make(chan struct{})
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			fn()
		}()
	}
	close(start)
	wg.Wait()
}

func count(stats *LoadTestStats, err error, ok, conflict *uint64) {
	switch {
	case err == nil:
		atomic.AddUint64(ok, 1)
	case errors.Is(err, actions.ErrConflict):
		atomic.AddUint64(conflict, 1)
	default:
		atomic.AddUint64(&stats.Errors, 1)
		slog.Warn("unexpected lifecycle error", "error", err)
	}
}

func reportStats(ctx context.Context, stats *LoadTestStats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			slog.Info("progress",
				"actions", atomic.LoadUint64(&stats.Actions),
				"executed", atomic.LoadUint64(&stats.Executed),
				"rolled_back", atomic.LoadUint64(&stats.RolledBack),
				"errors", atomic.LoadUint64(&stats.Errors))
		case <-ctx.Done():
			return
		}
	}
}

// printResults reports the run and whether every guarantee held.
func printResults(stats *LoadTestStats) bool {
	separator := "================================================================================"
	divider := "--------------------------------------------------------------------------------"

	fmt.Println("\n" + separator)
	fmt.Println("LIFECYCLE RACE TEST RESULTS")
	fmt.Println(separator)
	fmt.Printf("Actions:                %d\n", stats.Actions)
	fmt.Printf("Executed / conflicts:   %d / %d\n", stats.Executed, stats.ExecuteConflicts)
	fmt.Printf("Rolled back/conflicts:  %d / %d\n", stats.RolledBack, stats.RollbackConflicts)
	fmt.Printf("Connector dispatches:   %d execute, %d rollback\n", stats.ExecuteDispatches.Load(), stats.RollbackDispatches.Load())
	fmt.Printf("Errors:                 %d\n", stats.Errors)
	fmt.Println(divider)
	fmt.Printf("Total Duration:         %v\n", stats.TotalDuration)
	fmt.Printf("Throughput:             %.2f actions/sec\n", stats.ThroughputPerSecond)
	fmt.Printf("Execute latency (avg):  %v\n", stats.AvgLatency)
	fmt.Printf("Execute latency (p95):  %v\n", stats.P95Latency)
	fmt.Printf("Execute latency (p99):  %v\n", stats.P99Latency)
	fmt.Printf("Execute latency (max):  %v\n", stats.MaxLatency)
	fmt.Println(separator)

	pass := true
	check := func(ok bool, label string) {
		if ok {
			fmt.Println("PASS: " + label)
		} else {
			fmt.Println("FAIL: " + label)
			pass = false
		}
	}
	n := int64(stats.Actions)
	check(stats.ExecuteDispatches.Load() == n && stats.Executed == stats.Actions, "each action executed exactly once")
	check(stats.RollbackDispatches.Load() == n && stats.RolledBack == stats.Actions, "each action rolled back exactly once")
	check(stats.Errors == 0, "no unexpected errors")
	fmt.Println(separator + "\n")
	return pass
}

func percentile(sorted []time.Duration, p int) time.Duration {
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
