package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{
			name:    "valid public IP",
			url:     "http://93.184.216.34/hook",
			wantErr: false,
		},
		{
			name:    "invalid scheme ftp",
			url:     "ftp://example.com/hook",
			wantErr: true,
		},
		{
			name:    "loopback IP blocked",
			url:     "http://127.0.0.1/hook",
			wantErr: true,
		},
		{
			name:    "private IP blocked",
			url:     "http://10.0.0.8/hook",
			wantErr: true,
		},
		{
			name:    "link-local IP blocked (cloud metadata)",
			url:     "http://169.254.169.254/hook",
			wantErr: true,
		},
		{
			name:    "garbled URL",
			url:     "://not a valid url%%",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestPost_DeliversReceipt(t *testing.T) {
	var got Receipt
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got) //nolint:errcheck
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	pos, val := int64(10), int64(55)
	payload, _ := json.Marshal(Receipt{JobID: "job-1", Status: "stored", Position: &pos, Value: &val})

	if err := post(context.Background(), srv.Client(), srv.URL, payload); err != nil {
		t.Fatalf("post: %v", err)
	}
	if got.JobID != "job-1" || got.Status != "stored" || got.Value == nil || *got.Value != 55 {
		t.Errorf("received %+v", got)
	}
}

func TestPost_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := post(context.Background(), srv.Client(), srv.URL, []byte(`{}`)); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestSend_StopsRetryingWhenCancelled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := send(ctx, srv.Client(), srv.URL, []byte(`{}`))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("send err = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("send kept retrying for %s after cancel", elapsed)
	}
	if calls.Load() == 0 {
		t.Error("no attempt was made")
	}
}

func TestSend_DeliversOnFirstAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := send(context.Background(), srv.Client(), srv.URL, []byte(`{}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestSend_RejectsPrivateCallback(t *testing.T) {
	if err := Send(context.Background(), "http://127.0.0.1/hook", []byte(`{}`)); err == nil {
		t.Fatal("loopback callback accepted")
	}
}
