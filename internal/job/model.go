package job

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Status string

const (
	StatusQueued       Status = "queued"
	StatusComputing    Status = "computing"
	StatusStored       Status = "stored"
	StatusDiscarded    Status = "discarded"
	StatusLost         Status = "lost"
	StatusTimedOut     Status = "timed_out"
	StatusDeadLettered Status = "dead_lettered"
)

// IsTerminal returns true for statuses that represent a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusStored, StatusDiscarded, StatusLost, StatusTimedOut, StatusDeadLettered:
		return true
	}
	return false
}

var terminalStatuses = []Status{StatusStored, StatusDiscarded, StatusLost, StatusTimedOut, StatusDeadLettered}

// PlaceholderPayload is what GET /process pushes. It never parses as a position.
const PlaceholderPayload = "job"

// MaxInt64Position is the largest index whose Fibonacci number fits in an int64.
const MaxInt64Position = 92

// Job is one queue entry plus its status receipt.
type Job struct {
	ID          string    `json:"job_id"`
	Payload     string    `json:"payload"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
	CallbackURL string    `json:"callback_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Position parses the payload as a Fibonacci index.
// Anything that is not a non-negative integer is an invalid job.
func (j *Job) Position() (int64, error) {
	p, err := strconv.ParseInt(strings.TrimSpace(j.Payload), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: payload %q is not an integer", ErrInvalidJob, j.Payload)
	}
	if p < 0 {
		return 0, fmt.Errorf("%w: negative position %d", ErrInvalidJob, p)
	}
	return p, nil
}

// DeadLetter is a job that a failure policy parked instead of dropping.
type DeadLetter struct {
	JobID     string    `json:"job_id"`
	Payload   string    `json:"payload"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

// ResultKey is the key a computed value is stored under.
func ResultKey(position int64) string {
	return "fib:" + strconv.FormatInt(position, 10)
}

// ParsePosition validates a caller-supplied position against maxPosition.
func ParsePosition(raw string, maxPosition int64) (int64, error) {
	p, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: position must be an integer", ErrBadRequest)
	}
	return p, ValidatePosition(p, maxPosition)
}

// ValidatePosition rejects negative positions and positions above maxPosition.
func ValidatePosition(p, maxPosition int64) error {
	if p < 0 {
		return fmt.Errorf("%w: position must not be negative", ErrBadRequest)
	}
	if maxPosition > 0 && p > maxPosition {
		return fmt.Errorf("%w: position must not exceed %d", ErrBadRequest, maxPosition)
	}
	return nil
}

var (
	// ErrBadRequest is malformed or out-of-range caller input.
	ErrBadRequest = errors.New("bad request")
	// ErrStoreUnavailable wraps any failure talking to the backing database.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrQueueFull is returned by Enqueue when the configured queue bound is reached.
	ErrQueueFull = errors.New("queue full")
	// ErrInvalidJob is a dequeued job that fails domain validation.
	ErrInvalidJob = errors.New("invalid job")
	// ErrStoreWriteFailure is a computed value that could not be persisted.
	ErrStoreWriteFailure = errors.New("store write failure")
	// ErrTimedOut is a job that exceeded its execution deadline.
	ErrTimedOut = errors.New("timed out")
)

// StatusFor maps a worker failure to the terminal status it leaves on the receipt.
func StatusFor(err error) Status {
	switch {
	case err == nil:
		return StatusStored
	case errors.Is(err, ErrInvalidJob):
		return StatusDiscarded
	case errors.Is(err, ErrTimedOut):
		return StatusTimedOut
	default:
		return StatusLost
	}
}
