// Command server runs the AI inference fleet control plane: it wires the
// shared store, event bus, aggregator, scheduler, worker runtime, fleet
// registry, and stream fan-out into one process behind the HTTP API, and
// drives the scheduler's periodic sweeps on a cron schedule.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vanboompow/ai-agent-dashboard/internal/aggregator"
	"github.com/vanboompow/ai-agent-dashboard/internal/config"
	"github.com/vanboompow/ai-agent-dashboard/internal/eventbus"
	"github.com/vanboompow/ai-agent-dashboard/internal/fanout"
	"github.com/vanboompow/ai-agent-dashboard/internal/httpapi"
	"github.com/vanboompow/ai-agent-dashboard/internal/metrics"
	"github.com/vanboompow/ai-agent-dashboard/internal/registry"
	"github.com/vanboompow/ai-agent-dashboard/internal/scheduler"
	"github.com/vanboompow/ai-agent-dashboard/internal/store"
	"github.com/vanboompow/ai-agent-dashboard/internal/store/memstore"
	"github.com/vanboompow/ai-agent-dashboard/internal/store/redisstore"
	"github.com/vanboompow/ai-agent-dashboard/internal/worker"
	"github.com/vanboompow/ai-agent-dashboard/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cfg.LogOutput})
	m := metrics.New("ai-agent-dashboard")

	st := newStore(cfg, log)
	defer st.Close()

	bus := eventbus.New(st, m, log)
	agg := aggregator.New(bus, aggregator.DefaultConfigs(), m, log)
	workers := registry.New(st)
	sched := scheduler.New(st, agg, workers, m, log)
	fan := fanout.New(bus, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agg.Start(ctx)

	startWorkerPool(ctx, cfg, st, agg, m, log)

	c := cron.New()
	registerSweeps(c, sched, log)
	c.Start()

	router := httpapi.NewRouter(&httpapi.Deps{
		Scheduler:   sched,
		Bus:         bus,
		Aggregator:  agg,
		Fanout:      fan,
		Workers:     workers,
		Metrics:     m,
		Log:         log,
		ServiceName: "ai-agent-dashboard",
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // streaming endpoints hold the connection open
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.WithField("port", cfg.HTTPPort).Info("control plane listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err).Fatal("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	cronCtx := c.Stop()
	<-cronCtx.Done()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithField("error", err).Error("http server shutdown error")
	}

	fan.Shutdown()
	agg.Stop(shutdownCtx)
	cancel()
}

func newStore(cfg *config.Config, log *logger.Logger) store.Store {
	switch cfg.StoreBackend {
	case "redis":
		return redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: cfg.RedisPoolSize,
		}, log)
	default:
		return memstore.New()
	}
}

// startWorkerPool registers and runs one worker.Runtime for this process.
// Run blocks on ctx, so it is launched in its own goroutine; cancelling ctx
// at shutdown is sufficient to stop its step and heartbeat loops.
func startWorkerPool(ctx context.Context, cfg *config.Config, st store.Store, agg *aggregator.Aggregator, m *metrics.Metrics, log *logger.Logger) {
	if cfg.WorkerMaxConcurrency <= 0 {
		return
	}
	wcfg := worker.DefaultConfig(cfg.WorkerID)
	wcfg.WorkerType = cfg.WorkerType
	wcfg.Capabilities = cfg.WorkerCapabilities
	wcfg.MaxConcurrency = cfg.WorkerMaxConcurrency
	wcfg.SpeedMultiplier = cfg.WorkerSpeedMultiplier
	wcfg.HeartbeatInterval = cfg.HeartbeatInterval

	rt := worker.New(wcfg, st, agg, m, log, nil)
	if err := rt.Register(ctx); err != nil {
		log.WithField("error", err).Error("worker registration failed")
	}
	go rt.Run(ctx)
}

func registerSweeps(c *cron.Cron, sched *scheduler.Scheduler, log *logger.Logger) {
	addSweep(c, log, "*/1 * * * *", "dlq-reprocess", sched.ReprocessDLQ)
	addSweep(c, log, "*/5 * * * *", "cleanup-sweep", sched.CleanupSweep)
	addSweep(c, log, "*/1 * * * *", "dependency-gate-recheck", sched.ReattemptPendingAdmissions)
	addSweep(c, log, "*/1 * * * *", "due-delayed-tasks", sched.DueDelayedTasks)
}

func addSweep(c *cron.Cron, log *logger.Logger, spec, name string, fn func(context.Context) error) {
	_, err := c.AddFunc(spec, func() {
		if err := fn(context.Background()); err != nil {
			log.WithField("error", err).WithField("sweep", name).Warn("sweep failed")
		}
	})
	if err != nil {
		log.WithField("error", err).WithField("sweep", name).Fatal("failed to register sweep")
	}
}
