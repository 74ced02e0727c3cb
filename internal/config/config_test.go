package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/fibqueue/fibqueue/internal/fib"
)

var allVars = []string{
	"FIBQUEUE_LISTEN_ADDR", "FIBQUEUE_API_KEYS", "FIBQUEUE_CORS_ORIGINS", "FIBQUEUE_RATE_LIMIT_RPS",
	"FIBQUEUE_STORE_DRIVER", "FIBQUEUE_DB_PATH", "FIBQUEUE_DATABASE_URL", "FIBQUEUE_DB_MAX_OPEN_CONNS",
	"FIBQUEUE_MAX_POSITION", "FIBQUEUE_MAX_QUEUE_LENGTH", "FIBQUEUE_ALGORITHM", "FIBQUEUE_JOB_TIMEOUT",
	"FIBQUEUE_WORKER_CONCURRENCY", "FIBQUEUE_WORKER_ONCE", "FIBQUEUE_POLL_MODE", "FIBQUEUE_POLL_INTERVAL",
	"FIBQUEUE_BLOCK_TIMEOUT", "FIBQUEUE_FAILURE_POLICY", "FIBQUEUE_MAX_ATTEMPTS", "FIBQUEUE_RETRY_BASE",
	"FIBQUEUE_RETRY_CAP", "FIBQUEUE_RECEIPT_TTL_HOURS", "FIBQUEUE_CLEANUP_INTERVAL_MINUTES",
	"FIBQUEUE_LOG_LEVEL", "FIBQUEUE_SEED_UP_TO", "FIBQUEUE_DRAIN_TIMEOUT",
}

// clearEnv blanks every variable so tests see defaults unless they override.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allVars {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error with defaults, got: %v", err)
	}
	if cfg.ListenAddr != ":5001" {
		t.Errorf("default ListenAddr = %q, want %q", cfg.ListenAddr, ":5001")
	}
	if cfg.StoreDriver != "sqlite" || cfg.DBPath != "fibqueue.db" {
		t.Errorf("default store = %q %q", cfg.StoreDriver, cfg.DBPath)
	}
	if cfg.MaxPosition != 35 {
		t.Errorf("default MaxPosition = %d, want 35", cfg.MaxPosition)
	}
	if cfg.Algorithm != fib.Recursive {
		t.Errorf("default Algorithm = %q, want %q", cfg.Algorithm, fib.Recursive)
	}
	if cfg.JobTimeout != 30*time.Second {
		t.Errorf("default JobTimeout = %s, want 30s", cfg.JobTimeout)
	}
	if cfg.PollMode != "interval" || cfg.PollInterval != time.Second {
		t.Errorf("default poll = %q %s", cfg.PollMode, cfg.PollInterval)
	}
	if cfg.FailurePolicy != "drop" {
		t.Errorf("default FailurePolicy = %q, want drop", cfg.FailurePolicy)
	}
	if cfg.WorkerConcurrency != 1 || cfg.WorkerOnce {
		t.Errorf("default worker = %d once=%v", cfg.WorkerConcurrency, cfg.WorkerOnce)
	}
	if len(cfg.APIKeys) != 0 {
		t.Errorf("default APIKeys = %v, want none", cfg.APIKeys)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("default LogLevel = %v", cfg.LogLevel)
	}
	if cfg.SeedUpTo != 10 || cfg.DrainTimeout != 30*time.Second {
		t.Errorf("default SeedUpTo/DrainTimeout = %d %s", cfg.SeedUpTo, cfg.DrainTimeout)
	}
	if cfg.StoreDSN() != "fibqueue.db" {
		t.Errorf("StoreDSN = %q", cfg.StoreDSN())
	}
}

func TestLoad_AllVarsSet(t *testing.T) {
	clearEnv(t)
	t.Setenv("FIBQUEUE_LISTEN_ADDR", ":9091")
	t.Setenv("FIBQUEUE_API_KEYS", "key1, key2")
	t.Setenv("FIBQUEUE_STORE_DRIVER", "postgres")
	t.Setenv("FIBQUEUE_DATABASE_URL", "postgres://fib@localhost/fib?sslmode=disable")
	t.Setenv("FIBQUEUE_MAX_POSITION", "92")
	t.Setenv("FIBQUEUE_ALGORITHM", "iterative")
	t.Setenv("FIBQUEUE_JOB_TIMEOUT", "2s")
	t.Setenv("FIBQUEUE_WORKER_CONCURRENCY", "4")
	t.Setenv("FIBQUEUE_WORKER_ONCE", "true")
	t.Setenv("FIBQUEUE_POLL_MODE", "blocking")
	t.Setenv("FIBQUEUE_FAILURE_POLICY", "dead-letter")
	t.Setenv("FIBQUEUE_MAX_QUEUE_LENGTH", "500")
	t.Setenv("FIBQUEUE_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.ListenAddr != ":9091" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if len(cfg.APIKeys) != 2 || cfg.APIKeys[0] != "key1" || cfg.APIKeys[1] != "key2" {
		t.Errorf("APIKeys = %v, want [key1 key2]", cfg.APIKeys)
	}
	if cfg.StoreDSN() != "postgres://fib@localhost/fib?sslmode=disable" {
		t.Errorf("StoreDSN = %q", cfg.StoreDSN())
	}
	if cfg.MaxPosition != 92 || cfg.Algorithm != fib.Iterative {
		t.Errorf("MaxPosition/Algorithm = %d %q", cfg.MaxPosition, cfg.Algorithm)
	}
	if cfg.JobTimeout != 2*time.Second {
		t.Errorf("JobTimeout = %s", cfg.JobTimeout)
	}
	if cfg.WorkerConcurrency != 4 || !cfg.WorkerOnce || cfg.PollMode != "blocking" {
		t.Errorf("worker settings = %d %v %q", cfg.WorkerConcurrency, cfg.WorkerOnce, cfg.PollMode)
	}
	if cfg.FailurePolicy != "dead-letter" || cfg.MaxQueueLength != 500 {
		t.Errorf("FailurePolicy/MaxQueueLength = %q %d", cfg.FailurePolicy, cfg.MaxQueueLength)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"position above int64 ceiling", "FIBQUEUE_MAX_POSITION", "93"},
		{"negative position bound", "FIBQUEUE_MAX_POSITION", "-1"},
		{"unknown driver", "FIBQUEUE_STORE_DRIVER", "redis"},
		{"postgres without url", "FIBQUEUE_STORE_DRIVER", "postgres"},
		{"unknown algorithm", "FIBQUEUE_ALGORITHM", "matrix"},
		{"bad duration", "FIBQUEUE_JOB_TIMEOUT", "soon"},
		{"zero duration", "FIBQUEUE_POLL_INTERVAL", "0s"},
		{"zero concurrency", "FIBQUEUE_WORKER_CONCURRENCY", "0"},
		{"unknown poll mode", "FIBQUEUE_POLL_MODE", "push"},
		{"unknown policy", "FIBQUEUE_FAILURE_POLICY", "requeue-forever"},
		{"bad bool", "FIBQUEUE_WORKER_ONCE", "sometimes"},
		{"bad level", "FIBQUEUE_LOG_LEVEL", "loud"},
		{"seed past int64 ceiling", "FIBQUEUE_SEED_UP_TO", "94"},
		{"negative seed", "FIBQUEUE_SEED_UP_TO", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q, got nil", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_WorkerAdminAddr(t *testing.T) {
	clearEnv(t)
	t.Setenv("FIBQUEUE_WORKER_ADMIN_ADDR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WorkerAdminAddr != "" {
		t.Errorf("WorkerAdminAddr = %q, want empty (disabled)", cfg.WorkerAdminAddr)
	}
}
