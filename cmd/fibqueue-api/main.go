package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fibqueue/fibqueue/internal/api"
	"github.com/fibqueue/fibqueue/internal/config"
	"github.com/fibqueue/fibqueue/internal/job"
	"github.com/fibqueue/fibqueue/internal/metrics"
	"github.com/fibqueue/fibqueue/internal/queue"
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
	store.SetMaxQueueLength(cfg.MaxQueueLength)

	m := metrics.New()
	m.RegisterQueueDepth(store.QueueLength)

	svc := queue.New(store, cfg.MaxPosition, m)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	svc.StartCleanup(ctx, cfg.ReceiptTTLHours, cfg.CleanupIntervalMinutes)

	mux := http.NewServeMux()
	h := api.NewHandler(svc, m)
	h.RegisterRoutes(mux)

	handler := api.Chain(mux,
		api.CORS(cfg.CORSOrigins),
		api.RequestID,
		api.Logging,
		api.Auth(cfg.APIKeys),
		api.RateLimit(cfg.RateLimitRPS),
	)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		slog.Error("listen", "addr", cfg.ListenAddr, "error", err)
		store.Close()
		os.Exit(1)
	}

	slog.Info("fibqueue api listening",
		"addr", ln.Addr().String(),
		"store", cfg.StoreDriver,
		"max_position", cfg.MaxPosition,
		"auth", len(cfg.APIKeys) > 0,
	)
	if err := serve(ctx, srv, ln, shutdownGrace); err != nil {
		slog.Error("server error", "error", err)
		store.Close()
		os.Exit(1)
	}
	slog.Info("server stopped")
}

const shutdownGrace = 10 * time.Second

// serve runs srv on ln until ctx is done, then shuts it down and returns only
// after in-flight requests have finished or grace has elapsed.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)
	// Serve has already returned ErrServerClosed; Shutdown is what waits.
	if err := <-errCh; err != http.ErrServerClosed {
		return err
	}
	return shutdownErr
}
