package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fibqueue/fibqueue/internal/backoff"
	"github.com/fibqueue/fibqueue/internal/job"
)

// FailurePolicy decides what happens to a job whose pass failed. It must
// leave the job either terminal or back on the queue.
type FailurePolicy interface {
	Handle(ctx context.Context, store job.Store, j *job.Job, cause error) Outcome
}

// ParsePolicy builds the policy named by the FIBQUEUE_FAILURE_POLICY setting.
func ParsePolicy(name string, maxAttempts int, base, limit time.Duration) (FailurePolicy, error) {
	switch name {
	case "", "drop":
		return Drop{}, nil
	case "retry":
		if maxAttempts < 1 {
			return nil, fmt.Errorf("retry policy needs max attempts >= 1, got %d", maxAttempts)
		}
		return Retry{MaxAttempts: maxAttempts, Base: base, Cap: limit}, nil
	case "dead-letter", "dead_letter":
		return DeadLetter{}, nil
	}
	return nil, fmt.Errorf("unknown failure policy %q", name)
}

// Drop marks the receipt with the status the error maps to and forgets the job.
type Drop struct{}

func (Drop) Handle(ctx context.Context, store job.Store, j *job.Job, cause error) Outcome {
	status := job.StatusFor(cause)
	if err := store.UpdateStatus(ctx, j.ID, status, cause.Error()); err != nil {
		slog.Warn("worker: record failure status", "job_id", j.ID, "status", status, "error", err)
	}
	return Outcome(status)
}

// Retry puts jobs that failed on a store write back on the queue after a
// full-jitter delay. Other failures, and jobs past MaxAttempts, are dropped.
type Retry struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
}

func (r Retry) Handle(ctx context.Context, store job.Store, j *job.Job, cause error) Outcome {
	if !errors.Is(cause, job.ErrStoreWriteFailure) || j.Attempts >= r.MaxAttempts {
		return Drop{}.Handle(ctx, store, j, cause)
	}

	delay := backoff.FullJitter(j.Attempts, r.Base, r.Cap)
	j.Error = cause.Error()
	if err := store.Requeue(ctx, j, delay); err != nil {
		slog.Error("worker: requeue failed", "job_id", j.ID, "error", err)
		return Drop{}.Handle(ctx, store, j, cause)
	}
	slog.Info("worker: job requeued", "job_id", j.ID, "attempt", j.Attempts, "delay", delay)
	return OutcomeRetried
}

// DeadLetter parks every failed job in the dead-letter table. If that write
// fails too, the job is lost.
type DeadLetter struct{}

func (DeadLetter) Handle(ctx context.Context, store job.Store, j *job.Job, cause error) Outcome {
	if err := store.DeadLetter(ctx, j, cause.Error()); err != nil {
		slog.Error("worker: dead-letter write failed", "job_id", j.ID, "error", err)
		if uerr := store.UpdateStatus(ctx, j.ID, job.StatusLost, cause.Error()); uerr != nil {
			slog.Warn("worker: record failure status", "job_id", j.ID, "status", job.StatusLost, "error", uerr)
		}
		return OutcomeLost
	}
	return OutcomeDeadLettered
}
