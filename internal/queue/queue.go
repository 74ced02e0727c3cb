package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fibqueue/fibqueue/internal/job"
	"github.com/fibqueue/fibqueue/internal/metrics"
	"github.com/google/uuid"
)

// Ack acknowledges a submission. QueueToken is the queue length right after
// the push, not an identifier; JobID is the receipt to poll.
type Ack struct {
	Status     string `json:"status"`
	QueueToken int64  `json:"queue_token"`
	JobID      string `json:"job_id"`
	Position   *int64 `json:"position,omitempty"`
}

// Lookup is the outcome of a result lookup. Found=false is a normal answer.
type Lookup struct {
	Found bool  `json:"found"`
	Value int64 `json:"value,omitempty"`
}

// Service is the submission and lookup side of the pipeline. It holds no
// job state of its own; everything goes through the store.
type Service struct {
	store       job.Store
	maxPosition int64
	metrics     *metrics.Registry
	newID       func() string
}

// New creates a Service. maxPosition bounds accepted positions (0 = no bound).
func New(store job.Store, maxPosition int64, m *metrics.Registry) *Service {
	return &Service{
		store:       store,
		maxPosition: maxPosition,
		metrics:     m,
		newID:       func() string { return uuid.New().String() },
	}
}

// Submit validates position and enqueues one job for it. Resubmitting a
// position enqueues another independent job.
func (s *Service) Submit(ctx context.Context, position int64, callbackURL string) (*Ack, error) {
	if err := job.ValidatePosition(position, s.maxPosition); err != nil {
		s.count("bad_request")
		return nil, err
	}
	ack, err := s.push(ctx, fmt.Sprint(position), callbackURL)
	if err != nil {
		return nil, err
	}
	ack.Position = &position
	return ack, nil
}

// SubmitPlaceholder enqueues the fixed placeholder payload. Workers discard it.
func (s *Service) SubmitPlaceholder(ctx context.Context) (*Ack, error) {
	return s.push(ctx, job.PlaceholderPayload, "")
}

func (s *Service) push(ctx context.Context, payload, callbackURL string) (*Ack, error) {
	j := &job.Job{
		ID:          s.newID(),
		Payload:     payload,
		CallbackURL: callbackURL,
		CreatedAt:   time.Now().UTC(),
	}

	length, err := s.store.Enqueue(ctx, j)
	if err != nil {
		switch {
		case errors.Is(err, job.ErrQueueFull):
			s.count("queue_full")
		default:
			s.count("store_unavailable")
		}
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	s.count("enqueued")

	slog.Debug("job enqueued", "job_id", j.ID, "payload", payload, "queue_length", length)
	return &Ack{Status: "enqueued", QueueToken: length, JobID: j.ID}, nil
}

// Lookup resolves the stored result for position. Store failures are
// returned as errors, never folded into Found=false.
func (s *Service) Lookup(ctx context.Context, position int64) (Lookup, error) {
	if position < 0 {
		return Lookup{}, fmt.Errorf("%w: position must not be negative", job.ErrBadRequest)
	}
	v, found, err := s.store.GetResult(ctx, position)
	if err != nil {
		s.lookup("error")
		return Lookup{}, err
	}
	if !found {
		s.lookup("miss")
		return Lookup{}, nil
	}
	s.lookup("hit")
	return Lookup{Found: true, Value: v}, nil
}

// Receipt returns the job's current status, or nil if the id is unknown
// (or its terminal receipt has been cleaned up).
func (s *Service) Receipt(ctx context.Context, id string) (*job.Job, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) QueueLength(ctx context.Context) (int64, error) {
	return s.store.QueueLength(ctx)
}

func (s *Service) DeadLetters(ctx context.Context, limit int) ([]*job.DeadLetter, error) {
	return s.store.ListDeadLetters(ctx, limit)
}

// StartCleanup periodically deletes terminal receipts older than ttlHours.
// A ttlHours of 0 disables cleanup.
func (s *Service) StartCleanup(ctx context.Context, ttlHours, intervalMinutes int) {
	if ttlHours <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Duration(intervalMinutes) * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanup(ctx, time.Duration(ttlHours)*time.Hour)
			}
		}
	}()
}

func (s *Service) cleanup(ctx context.Context, ttl time.Duration) {
	n, err := s.store.DeleteTerminalBefore(ctx, time.Now().Add(-ttl))
	if err != nil {
		slog.Error("cleanup: delete terminal receipts", "error", err)
		return
	}
	if n > 0 {
		slog.Info("cleanup: deleted terminal receipts", "count", n)
	}
}

func (s *Service) count(result string) {
	if s.metrics != nil {
		s.metrics.Submitted.WithLabelValues(result).Inc()
	}
}

func (s *Service) lookup(result string) {
	if s.metrics != nil {
		s.metrics.Lookups.WithLabelValues(result).Inc()
	}
}
