// Package main implements the claim worker process.
// The worker long-polls the process engine for external tasks on the claim
// topics, runs the matching handler and reports each outcome back.
//
// Features:
//   - Bounded concurrent execution with graceful shutdown
//   - Prometheus metrics exposed on the metrics address (default :8080/metrics)
//   - Backoff and circuit breaking when the engine is unreachable
//   - Outcome journal in Redis (duplicate guard, history, unacknowledged reports)
//   - Per-topic rate limiting through the journal
//
// Usage:
//
//	CLAIMWORKER_ENGINE__BASE_URL=http://localhost:8080/engine-rest go run ./cmd/worker
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guido-cesarano/claimworker/pkg/config"
	"github.com/guido-cesarano/claimworker/pkg/dispatcher"
	"github.com/guido-cesarano/claimworker/pkg/engine"
	"github.com/guido-cesarano/claimworker/pkg/handlers"
	"github.com/guido-cesarano/claimworker/pkg/journal"
	"github.com/guido-cesarano/claimworker/pkg/logger"
	"github.com/guido-cesarano/claimworker/pkg/metrics"
	"github.com/guido-cesarano/claimworker/pkg/services"
	"github.com/guido-cesarano/claimworker/pkg/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := engine.NewClient(engine.Options{
		BaseURL:        cfg.Engine.BaseURL,
		WorkerID:       cfg.Engine.WorkerID,
		RequestTimeout: cfg.Engine.RequestTimeout,
	})
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to create engine client")
	}

	var runnerOpts []worker.RunnerOption
	if cfg.Engine.LockExtension > 0 {
		runnerOpts = append(runnerOpts, worker.WithLockExtension(client, cfg.Engine.LockExtension))
	}
	dispatchOpts := dispatcher.Options{
		LockDuration:         cfg.Engine.LockDuration,
		AsyncResponseTimeout: cfg.Engine.AsyncResponseTimeout,
		MaxTasks:             cfg.Engine.MaxTasks,
		UsePriority:          cfg.Engine.UsePriority,
		Concurrency:          cfg.Worker.Concurrency,
		PollBackoffMax:       cfg.Engine.PollBackoffMax,
		RateLimit:            cfg.Worker.RateLimit,
		RateBurst:            cfg.Worker.RateBurst,
	}

	jrnl := openJournal(ctx, cfg.Redis.Addr)
	if jrnl != nil {
		defer jrnl.Close()
		runnerOpts = append(runnerOpts, worker.WithJournal(jrnl))
		dispatchOpts.Limiter = jrnl

		// Refresh journal depth gauges every 5 seconds
		c := cron.New()
		if _, err := c.AddFunc("@every 5s", func() { collectJournalMetrics(ctx, jrnl) }); err != nil {
			logger.Log.Error().Err(err).Msg("Failed to schedule journal metrics")
		}
		c.Start()
		defer c.Stop()
	}

	registry := dispatcher.NewRegistry(handlers.All(buildDependencies(cfg.Services))...)
	d := dispatcher.New(client, worker.NewRunner(client, runnerOpts...), registry, dispatchOpts)

	metricsSrv := &http.Server{Addr: cfg.HTTP.MetricsAddr, Handler: metricsMux()}
	go func() {
		logger.Log.Info().Str("addr", cfg.HTTP.MetricsAddr).Msg("Metrics server listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	// Setup graceful shutdown handlers
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			logger.Log.Fatal().Err(err).Msg("Dispatcher failed to start")
		}
	case <-sigChan:
		logger.Log.Info().Msg("Shutting down worker...")
		cancel()
		select {
		case <-done:
		case <-time.After(cfg.Worker.ShutdownTimeout):
			logger.Log.Warn().
				Dur("timeout", cfg.Worker.ShutdownTimeout).
				Msg("In-flight tasks did not finish in time, their locks will expire")
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = metricsSrv.Shutdown(shutdownCtx)
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// openJournal connects to Redis. The journal is optional: without an address,
// or when Redis does not answer, the worker runs on the engine lock alone.
func openJournal(ctx context.Context, addr string) *journal.Client {
	if addr == "" {
		logger.Log.Warn().Msg("Redis address not set. Outcome journal disabled.")
		return nil
	}
	j := journal.NewClient(addr)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := j.Ping(pingCtx); err != nil {
		logger.Log.Warn().Err(err).Str("addr", addr).Msg("Redis not reachable. Outcome journal disabled.")
		_ = j.Close()
		return nil
	}
	logger.Log.Info().Str("addr", addr).Msg("Outcome journal enabled")
	return j
}

// buildDependencies creates a client for each configured domain service.
// Unconfigured services leave their handlers unsubscribed.
func buildDependencies(cfg config.ServicesConfig) handlers.Dependencies {
	deps := handlers.Dependencies{Notifier: services.LogNotifier{}}

	if cfg.PoliciesURL != "" {
		p, err := services.NewPolicyClient(services.Options{BaseURL: cfg.PoliciesURL, Timeout: cfg.Timeout},
			cfg.PolicyCacheSize, cfg.PolicyCacheTTL)
		if err != nil {
			logger.Log.Error().Err(err).Msg("Policy service disabled")
		} else {
			deps.Policies = p
		}
	}
	if cfg.ClaimsURL != "" {
		c, err := services.NewClaimClient(services.Options{BaseURL: cfg.ClaimsURL, Timeout: cfg.Timeout})
		if err != nil {
			logger.Log.Error().Err(err).Msg("Claims service disabled")
		} else {
			deps.Claims = c
		}
	}
	if cfg.EmployeesURL != "" {
		e, err := services.NewEmployeeClient(services.Options{BaseURL: cfg.EmployeesURL, Timeout: cfg.Timeout})
		if err != nil {
			logger.Log.Error().Err(err).Msg("Employee service disabled")
		} else {
			deps.Employees = e
		}
	}
	return deps
}

// collectJournalMetrics copies the journal list lengths into Prometheus gauges.
func collectJournalMetrics(ctx context.Context, j *journal.Client) {
	for list, depth := range j.Depths(ctx) {
		metrics.JournalDepth.WithLabelValues(list).Set(float64(depth))
	}
}
