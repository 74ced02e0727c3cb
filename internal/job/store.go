package job

import (
	"context"
	"time"
)

// Store is the single owner of queue, result and receipt state.
// Submission and worker processes share it and never touch each other directly.
type Store interface {
	// Enqueue appends j to the tail of the queue and records its receipt.
	// It returns the queue length right after the append.
	Enqueue(ctx context.Context, j *Job) (int64, error)
	// Dequeue atomically pops the head job and marks it computing.
	// It returns (nil, nil) when nothing is available.
	Dequeue(ctx context.Context) (*Job, error)
	// Requeue puts an already-dequeued job back on the tail, hidden for delay.
	Requeue(ctx context.Context, j *Job, delay time.Duration) error
	QueueLength(ctx context.Context) (int64, error)

	PutResult(ctx context.Context, position, value int64) error
	// GetResult reports found=false when no value has been stored for position.
	GetResult(ctx context.Context, position int64) (value int64, found bool, err error)

	Get(ctx context.Context, id string) (*Job, error)
	UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error
	DeadLetter(ctx context.Context, j *Job, reason string) error
	ListDeadLetters(ctx context.Context, limit int) ([]*DeadLetter, error)
	// DeleteTerminalBefore removes receipts that reached a terminal status before t.
	// Results are never removed.
	DeleteTerminalBefore(ctx context.Context, t time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// DequeueWait polls s.Dequeue every tick until a job arrives, wait elapses
// or ctx ends. It returns (nil, nil) on timeout.
func DequeueWait(ctx context.Context, s Store, wait, tick time.Duration) (*Job, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		j, err := s.Dequeue(ctx)
		if err != nil || j != nil {
			return j, err
		}
		select {
		case <-ctx.Done():
			return nil, nil
		case <-deadline.C:
			return nil, nil
		case <-ticker.C:
		}
	}
}
