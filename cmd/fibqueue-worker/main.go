package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fibqueue/fibqueue/internal/api"
	"github.com/fibqueue/fibqueue/internal/config"
	"github.com/fibqueue/fibqueue/internal/job"
	"github.com/fibqueue/fibqueue/internal/metrics"
	"github.com/fibqueue/fibqueue/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})))

	store, err := job.Open(cfg.StoreDriver, cfg.StoreDSN(), cfg.DBMaxOpenConns)
	if err != nil {
		slog.Error("store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	policy, err := worker.ParsePolicy(cfg.FailurePolicy, cfg.MaxAttempts, cfg.RetryBase, cfg.RetryCap)
	if err != nil {
		slog.Error("failure policy", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	m.RegisterQueueDepth(store.QueueLength)

	w := worker.New(store, worker.Options{
		Algorithm:    cfg.Algorithm,
		MaxPosition:  cfg.MaxPosition,
		JobTimeout:   cfg.JobTimeout,
		Policy:       policy,
		PollMode:     worker.PollMode(cfg.PollMode),
		PollInterval: cfg.PollInterval,
		BlockTimeout: cfg.BlockTimeout,
		Metrics:      m,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.WorkerOnce {
		rep, err := w.Pass(ctx)
		if err != nil {
			slog.Error("worker pass", "error", err)
			os.Exit(1)
		}
		slog.Info("worker pass finished", "outcome", rep.Outcome, "job_id", rep.JobID, "duration", rep.Duration)
		drain(w, cfg.DrainTimeout)
		return
	}

	var admin *http.Server
	if cfg.WorkerAdminAddr != "" {
		mux := http.NewServeMux()
		api.RegisterAdminRoutes(mux, store, m)
		admin = &http.Server{
			Addr:         cfg.WorkerAdminAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("worker admin listening", "addr", cfg.WorkerAdminAddr)
			if err := admin.ListenAndServe(); err != http.ErrServerClosed {
				slog.Error("admin server error", "error", err)
			}
		}()
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down, finishing in-flight jobs")
		cancel()
	}()

	if err := w.RunConcurrent(ctx, cfg.WorkerConcurrency); err != nil {
		slog.Error("worker error", "error", err)
	}
	drain(w, cfg.DrainTimeout)

	if admin != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := admin.Shutdown(shutdownCtx); err != nil {
			slog.Error("admin shutdown error", "error", err)
		}
	}
}

// drain waits for pending callback deliveries, cancelling whatever is left
// after timeout.
func drain(w *worker.Worker, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := w.Drain(ctx); err != nil {
		slog.Warn("callback deliveries cancelled", "timeout", timeout, "error", err)
	}
}
