package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fibqueue/fibqueue/internal/job"
	"github.com/fibqueue/fibqueue/internal/metrics"
	"github.com/fibqueue/fibqueue/internal/queue"
)

const datetimeLayout = "2006-01-02 15:04:05"

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	svc     *queue.Service
	metrics *metrics.Registry
	now     func() time.Time
}

// NewHandler constructs a Handler. m may be nil, in which case /metrics is not served.
func NewHandler(svc *queue.Service, m *metrics.Registry) *Handler {
	return &Handler{svc: svc, metrics: m, now: time.Now}
}

// RegisterRoutes registers all API routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.Status)
	mux.HandleFunc("GET /process", h.Process)
	mux.HandleFunc("GET /enqueue/{position}", h.Enqueue)
	mux.HandleFunc("GET /fibonacci/{position}", h.Fibonacci)
	mux.HandleFunc("GET /healthz", ok)
	mux.HandleFunc("GET /readyz", ok)

	mux.HandleFunc("POST /api/v1/jobs", h.CreateJob)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /api/v1/dead-letters", h.ListDeadLetters)

	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
}

// Status handles GET / with the current time and queue length.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.QueueLength(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"current_datetime": h.now().Format(datetimeLayout),
		"jobs_in_queue":    n,
	})
}

// Process handles GET /process by enqueueing the placeholder job.
// job_id here is the queue length after the push.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	ack, err := h.svc.SubmitPlaceholder(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "job enqueued", "job_id": ack.QueueToken})
}

// Enqueue handles GET /enqueue/{position}.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	p, err := job.ParsePosition(r.PathValue("position"), 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if _, err := h.svc.Submit(r.Context(), p, ""); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "number enqueued", "number": p})
}

// Fibonacci handles GET /fibonacci/{position}. A missing result is a 404,
// whether the job is still queued or failed.
func (h *Handler) Fibonacci(w http.ResponseWriter, r *http.Request) {
	p, err := job.ParsePosition(r.PathValue("position"), 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	res, err := h.svc.Lookup(r.Context(), p)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !res.Found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Fibonacci number at position %d not found.", p))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"position": p, "fibonacci_number": res.Value})
}

type createRequest struct {
	Position    *int64 `json:"position"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// CreateJob handles POST /api/v1/jobs and responds 202 with the acknowledgment.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Position == nil {
		writeError(w, http.StatusBadRequest, "position is required")
		return
	}

	ack, err := h.svc.Submit(r.Context(), *req.Position, req.CallbackURL)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

// GetJob handles GET /api/v1/jobs/{id} and responds with the receipt.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.svc.Receipt(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if j == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// ListDeadLetters handles GET /api/v1/dead-letters?limit=N.
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r.URL.Query().Get("limit"), 20)
	dls, err := h.svc.DeadLetters(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if dls == nil {
		dls = []*job.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": dls})
}

// parseIntParam parses a query string integer, returning the fallback on empty or invalid input.
func parseIntParam(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func ok(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK")) //nolint:errcheck
}

// writeServiceError maps the job error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, job.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, job.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "queue is full, try again later")
	default:
		slog.Error("job store request failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "job store unavailable")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
