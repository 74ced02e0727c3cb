package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fibqueue/fibqueue/internal/fib"
	"github.com/fibqueue/fibqueue/internal/job"
)

// Seed writes F(0)..F(n-1) straight into the result table without going
// through the queue, so lookups for small positions succeed before any job
// has run. Existing results are overwritten with the same values.
func Seed(ctx context.Context, store job.Store, alg fib.Algorithm, n int64) (int64, error) {
	if n < 0 || n > fib.MaxPosition+1 {
		return 0, fmt.Errorf("seed count %d out of range [0, %d]", n, fib.MaxPosition+1)
	}

	for p := range n {
		v, err := fib.Compute(ctx, alg, p, fib.MaxPosition)
		if err != nil {
			return p, fmt.Errorf("compute fibonacci(%d): %w", p, err)
		}
		if err := store.PutResult(ctx, p, v); err != nil {
			return p, fmt.Errorf("%w: %w", job.ErrStoreWriteFailure, err)
		}
		slog.Debug("seeded result", "position", p, "value", v)
	}
	return n, nil
}
