package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fibqueue/fibqueue/internal/config"
	"github.com/fibqueue/fibqueue/internal/job"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("seeding fibonacci results", "count", cfg.SeedUpTo, "algorithm", cfg.Algorithm)
	n, err := worker.Seed(ctx, store, cfg.Algorithm, cfg.SeedUpTo)
	if err != nil {
		slog.Error("seed", "written", n, "error", err)
		store.Close()
		os.Exit(1)
	}
	slog.Info("seeding finished", "written", n)
}
