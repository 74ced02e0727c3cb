package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fibqueue/fibqueue/internal/fib"
)

var validPolicies = map[string]bool{
	"drop":        true,
	"retry":       true,
	"dead-letter": true,
}

type Config struct {
	ListenAddr   string
	APIKeys      []string
	CORSOrigins  []string
	RateLimitRPS int

	StoreDriver    string
	DBPath         string
	DatabaseURL    string
	DBMaxOpenConns int

	MaxPosition    int64
	MaxQueueLength int64
	Algorithm      fib.Algorithm
	JobTimeout     time.Duration

	WorkerConcurrency int
	WorkerOnce        bool
	PollMode          string
	PollInterval      time.Duration
	BlockTimeout      time.Duration
	WorkerAdminAddr   string

	FailurePolicy string
	MaxAttempts   int
	RetryBase     time.Duration
	RetryCap      time.Duration

	ReceiptTTLHours        int
	CleanupIntervalMinutes int

	// SeedUpTo is how many leading results fibqueue-seed writes: F(0)..F(SeedUpTo-1).
	SeedUpTo     int64
	DrainTimeout time.Duration

	LogLevel slog.Level
}

func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:      getEnv("FIBQUEUE_LISTEN_ADDR", ":5001"),
		StoreDriver:     getEnv("FIBQUEUE_STORE_DRIVER", "sqlite"),
		DBPath:          getEnv("FIBQUEUE_DB_PATH", "fibqueue.db"),
		DatabaseURL:     getEnv("FIBQUEUE_DATABASE_URL", ""),
		PollMode:        getEnv("FIBQUEUE_POLL_MODE", "interval"),
		FailurePolicy:   getEnv("FIBQUEUE_FAILURE_POLICY", "drop"),
		WorkerAdminAddr: os.Getenv("FIBQUEUE_WORKER_ADMIN_ADDR"),
		APIKeys:         splitList(getEnv("FIBQUEUE_API_KEYS", "")),
		CORSOrigins:     splitList(getEnv("FIBQUEUE_CORS_ORIGINS", "")),
	}
	if _, set := os.LookupEnv("FIBQUEUE_WORKER_ADMIN_ADDR"); !set {
		cfg.WorkerAdminAddr = ":9090"
	}

	var err error
	if cfg.Algorithm, err = fib.ParseAlgorithm(getEnv("FIBQUEUE_ALGORITHM", string(fib.Recursive))); err != nil {
		return nil, fmt.Errorf("FIBQUEUE_ALGORITHM: %w", err)
	}
	if cfg.LogLevel, err = parseLevel(getEnv("FIBQUEUE_LOG_LEVEL", "info")); err != nil {
		return nil, fmt.Errorf("FIBQUEUE_LOG_LEVEL: %w", err)
	}

	switch cfg.StoreDriver {
	case "sqlite":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("FIBQUEUE_DATABASE_URL must be set when FIBQUEUE_STORE_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("FIBQUEUE_STORE_DRIVER %q must be one of: sqlite, postgres", cfg.StoreDriver)
	}

	ints := []struct {
		key      string
		fallback int
		dst      *int
		min      int
	}{
		{"FIBQUEUE_DB_MAX_OPEN_CONNS", 4, &cfg.DBMaxOpenConns, 1},
		{"FIBQUEUE_RATE_LIMIT_RPS", 0, &cfg.RateLimitRPS, 0},
		{"FIBQUEUE_WORKER_CONCURRENCY", 1, &cfg.WorkerConcurrency, 1},
		{"FIBQUEUE_MAX_ATTEMPTS", 3, &cfg.MaxAttempts, 1},
		{"FIBQUEUE_RECEIPT_TTL_HOURS", 24, &cfg.ReceiptTTLHours, 0},
		{"FIBQUEUE_CLEANUP_INTERVAL_MINUTES", 60, &cfg.CleanupIntervalMinutes, 1},
	}
	for _, v := range ints {
		n, err := getEnvInt(v.key, v.fallback)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", v.key, err)
		}
		if n < v.min {
			return nil, fmt.Errorf("%s must be >= %d", v.key, v.min)
		}
		*v.dst = n
	}

	maxPos, err := getEnvInt("FIBQUEUE_MAX_POSITION", 35)
	if err != nil {
		return nil, fmt.Errorf("FIBQUEUE_MAX_POSITION: %w", err)
	}
	if maxPos < 0 || maxPos > fib.MaxPosition {
		return nil, fmt.Errorf("FIBQUEUE_MAX_POSITION must be between 0 and %d", fib.MaxPosition)
	}
	cfg.MaxPosition = int64(maxPos)

	seed, err := getEnvInt("FIBQUEUE_SEED_UP_TO", 10)
	if err != nil {
		return nil, fmt.Errorf("FIBQUEUE_SEED_UP_TO: %w", err)
	}
	if seed < 0 || seed > fib.MaxPosition+1 {
		return nil, fmt.Errorf("FIBQUEUE_SEED_UP_TO must be between 0 and %d", fib.MaxPosition+1)
	}
	cfg.SeedUpTo = int64(seed)

	maxQueue, err := getEnvInt("FIBQUEUE_MAX_QUEUE_LENGTH", 0)
	if err != nil {
		return nil, fmt.Errorf("FIBQUEUE_MAX_QUEUE_LENGTH: %w", err)
	}
	if maxQueue < 0 {
		return nil, errors.New("FIBQUEUE_MAX_QUEUE_LENGTH must be >= 0")
	}
	cfg.MaxQueueLength = int64(maxQueue)

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"FIBQUEUE_JOB_TIMEOUT", 30 * time.Second, &cfg.JobTimeout},
		{"FIBQUEUE_POLL_INTERVAL", time.Second, &cfg.PollInterval},
		{"FIBQUEUE_BLOCK_TIMEOUT", 5 * time.Second, &cfg.BlockTimeout},
		{"FIBQUEUE_RETRY_BASE", time.Second, &cfg.RetryBase},
		{"FIBQUEUE_RETRY_CAP", time.Minute, &cfg.RetryCap},
		{"FIBQUEUE_DRAIN_TIMEOUT", 30 * time.Second, &cfg.DrainTimeout},
	}
	for _, v := range durations {
		d, err := getEnvDuration(v.key, v.fallback)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", v.key, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("%s must be > 0", v.key)
		}
		*v.dst = d
	}

	if cfg.WorkerOnce, err = getEnvBool("FIBQUEUE_WORKER_ONCE", false); err != nil {
		return nil, fmt.Errorf("FIBQUEUE_WORKER_ONCE: %w", err)
	}

	if cfg.PollMode != "interval" && cfg.PollMode != "blocking" {
		return nil, fmt.Errorf("FIBQUEUE_POLL_MODE %q must be one of: interval, blocking", cfg.PollMode)
	}
	if !validPolicies[cfg.FailurePolicy] {
		return nil, fmt.Errorf("FIBQUEUE_FAILURE_POLICY %q must be one of: drop, retry, dead-letter", cfg.FailurePolicy)
	}

	return cfg, nil
}

// StoreDSN is the path or URL handed to job.Open for the configured driver.
func (c *Config) StoreDSN() string {
	if c.StoreDriver == "postgres" {
		return c.DatabaseURL
	}
	return c.DBPath
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", v)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid level %q", s)
	}
	return l, nil
}
