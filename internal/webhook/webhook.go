package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/fibqueue/fibqueue/internal/backoff"
)

const (
	retryAttempts = 8
	retryBase     = time.Second
	retryCap      = 5 * time.Minute
)

// Receipt is the body POSTed to a job's callback URL once it reaches a terminal status.
type Receipt struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Position *int64 `json:"position,omitempty"`
	Value    *int64 `json:"fibonacci_number,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Notify marshals r and delivers it to callbackURL. It blocks until the
// receipt is accepted, retries run out or ctx ends.
func Notify(ctx context.Context, callbackURL string, r Receipt) {
	payload, err := json.Marshal(r)
	if err != nil {
		slog.Error("webhook: marshal receipt", "job_id", r.JobID, "error", err)
		return
	}
	if err := Send(ctx, callbackURL, payload); err != nil {
		slog.Error("webhook: receipt not delivered", "job_id", r.JobID, "url", callbackURL, "error", err)
	}
}

// Send POSTs the JSON payload to callbackURL.
// 8 attempts max with full-jitter exponential backoff (cap 5 min), 30s timeout per request.
// Cancelling ctx abandons the remaining attempts.
func Send(ctx context.Context, callbackURL string, payload []byte) error {
	if err := validateURL(callbackURL); err != nil {
		return fmt.Errorf("rejected callback URL: %w", err)
	}
	return send(ctx, &http.Client{Timeout: 30 * time.Second}, callbackURL, payload)
}

// validateURL blocks non-HTTP schemes and private/internal IP ranges.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	host := u.Hostname()
	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("DNS lookup failed: %w", err)
	}

	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("private/internal IP blocked: %s", ipStr)
		}
	}

	return nil
}

func send(ctx context.Context, client *http.Client, callbackURL string, payload []byte) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err = post(ctx, client, callbackURL, payload); err == nil {
			return nil
		}
		slog.Warn("webhook attempt failed", "attempt", attempt, "url", callbackURL, "error", err)
		if attempt == retryAttempts {
			break
		}
		t := time.NewTimer(backoff.FullJitter(attempt, retryBase, retryCap))
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("gave up after %d attempts: %w", attempt, ctx.Err())
		case <-t.C:
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", retryAttempts, err)
}

func post(ctx context.Context, client *http.Client, callbackURL string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx status: %d", resp.StatusCode)
	}
	return nil
}
