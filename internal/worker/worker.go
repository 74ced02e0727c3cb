package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fibqueue/fibqueue/internal/backoff"
	"github.com/fibqueue/fibqueue/internal/fib"
	"github.com/fibqueue/fibqueue/internal/job"
	"github.com/fibqueue/fibqueue/internal/metrics"
	"github.com/fibqueue/fibqueue/internal/webhook"
)

// Outcome is what one worker pass did.
type Outcome string

const (
	OutcomeIdle         Outcome = "idle"
	OutcomeStored       Outcome = "stored"
	OutcomeDiscarded    Outcome = "discarded"
	OutcomeLost         Outcome = "lost"
	OutcomeTimedOut     Outcome = "timed_out"
	OutcomeRetried      Outcome = "retried"
	OutcomeDeadLettered Outcome = "dead_lettered"
)

// Report describes a finished pass. Position is nil when the payload did not parse.
type Report struct {
	Outcome  Outcome
	JobID    string
	Position *int64
	Value    int64
	Err      error
	Duration time.Duration
}

// PollMode selects how Run waits for work.
type PollMode string

const (
	// PollInterval sleeps a fixed interval after an empty dequeue.
	PollInterval PollMode = "interval"
	// PollBlocking waits inside job.DequeueWait for up to BlockTimeout.
	PollBlocking PollMode = "blocking"
)

const (
	blockingTick      = 100 * time.Millisecond
	storeWriteTimeout = 10 * time.Second
	maxErrorBackoff   = 30 * time.Second
)

type Options struct {
	Algorithm   fib.Algorithm
	MaxPosition int64
	JobTimeout  time.Duration
	Policy      FailurePolicy

	PollMode     PollMode
	PollInterval time.Duration
	BlockTimeout time.Duration

	Metrics *metrics.Registry
	// Notify delivers terminal receipts to callback URLs and must return once
	// ctx is cancelled. Defaults to webhook.Notify.
	Notify func(ctx context.Context, callbackURL string, r webhook.Receipt)
}

// Worker drains the queue one job per pass. Job state lives only in the
// store, so any number of workers may share one. The only process-local
// state is the set of callback deliveries still in flight.
type Worker struct {
	store job.Store
	opts  Options
	log   *slog.Logger

	deliveries   sync.WaitGroup
	deliverCtx   context.Context
	stopDelivery context.CancelFunc
}

func New(store job.Store, opts Options) *Worker {
	if opts.Policy == nil {
		opts.Policy = Drop{}
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = 5 * time.Second
	}
	if opts.PollMode == "" {
		opts.PollMode = PollInterval
	}
	if opts.Notify == nil {
		opts.Notify = webhook.Notify
	}
	w := &Worker{store: store, opts: opts, log: slog.Default().With("component", "worker")}
	w.deliverCtx, w.stopDelivery = context.WithCancel(context.Background())
	return w
}

// Drain waits for callback deliveries started by earlier passes. If ctx
// ends first, the remaining deliveries are cancelled and ctx.Err() returned.
// Call it after the last pass, before the process exits.
func (w *Worker) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.deliveries.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		w.stopDelivery()
		<-done
		return ctx.Err()
	}
}

// Pass pops at most one job and drives it to a terminal state. An empty
// queue is reported as OutcomeIdle with a nil error; only a failed dequeue
// returns an error, and then no job was taken.
func (w *Worker) Pass(ctx context.Context) (Report, error) {
	j, err := w.store.Dequeue(ctx)
	if err != nil {
		return Report{Outcome: OutcomeIdle}, fmt.Errorf("dequeue: %w", err)
	}
	if j == nil {
		w.log.Debug("no jobs in the queue")
		w.observe(Report{Outcome: OutcomeIdle})
		return Report{Outcome: OutcomeIdle}, nil
	}
	return w.process(ctx, j), nil
}

// Run loops until ctx is done. A job already taken when ctx ends still
// reaches its terminal state, bounded by the job timeout.
func (w *Worker) Run(ctx context.Context) error {
	return w.run(ctx, w.log)
}

// RunConcurrent runs n independent loops and waits for all of them.
func (w *Worker) RunConcurrent(ctx context.Context, n int) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := range n {
		log := w.log.With("loop", i)
		g.Go(func() error { return w.run(ctx, log) })
	}
	return g.Wait()
}

func (w *Worker) run(ctx context.Context, log *slog.Logger) error {
	log.Info("worker started", "poll_mode", w.opts.PollMode, "algorithm", w.opts.Algorithm, "max_position", w.opts.MaxPosition)
	failures := 0
	for {
		if ctx.Err() != nil {
			log.Info("worker stopped")
			return nil
		}

		j, err := w.acquire(ctx)
		if err != nil {
			failures++
			wait := backoff.FullJitter(failures, w.opts.PollInterval, maxErrorBackoff)
			log.Error("dequeue failed", "error", err, "retry_in", wait)
			sleep(ctx, wait)
			continue
		}
		failures = 0

		if j == nil {
			w.observe(Report{Outcome: OutcomeIdle})
			if w.opts.PollMode == PollInterval {
				sleep(ctx, w.opts.PollInterval)
			}
			continue
		}
		w.process(ctx, j)
	}
}

func (w *Worker) acquire(ctx context.Context) (*job.Job, error) {
	if w.opts.PollMode == PollBlocking {
		return job.DequeueWait(ctx, w.store, w.opts.BlockTimeout, blockingTick)
	}
	return w.store.Dequeue(ctx)
}

func (w *Worker) process(ctx context.Context, j *job.Job) Report {
	start := time.Now()
	// Detach from ctx: a held job must not be abandoned mid-flight on shutdown.
	base := context.WithoutCancel(ctx)
	log := w.log.With("job_id", j.ID)

	rep := Report{JobID: j.ID}
	pos, value, err := w.execute(base, j)
	if err == nil || !errors.Is(err, job.ErrInvalidJob) {
		rep.Position = &pos
	}

	storeCtx, cancel := context.WithTimeout(base, storeWriteTimeout)
	defer cancel()

	if err == nil {
		if perr := w.store.PutResult(storeCtx, pos, value); perr != nil {
			err = fmt.Errorf("%w: %w", job.ErrStoreWriteFailure, perr)
		}
	}

	if err == nil {
		rep.Outcome = OutcomeStored
		rep.Value = value
		if uerr := w.store.UpdateStatus(storeCtx, j.ID, job.StatusStored, ""); uerr != nil {
			log.Warn("result stored but receipt not updated", "error", uerr)
		}
		log.Info("fibonacci calculated and stored", "position", pos, "value", value)
	} else {
		rep.Outcome = w.opts.Policy.Handle(storeCtx, w.store, j, err)
		log.Warn("job failed", "payload", j.Payload, "outcome", rep.Outcome, "attempts", j.Attempts, "error", err)
	}
	rep.Err = err
	rep.Duration = time.Since(start)

	w.observe(rep)
	if j.CallbackURL != "" && rep.Outcome != OutcomeRetried {
		w.deliver(j.CallbackURL, receiptFor(rep))
	}
	return rep
}

func (w *Worker) deliver(callbackURL string, r webhook.Receipt) {
	w.deliveries.Add(1)
	go func() {
		defer w.deliveries.Done()
		w.opts.Notify(w.deliverCtx, callbackURL, r)
	}()
}

// execute parses and computes the job under its deadline.
func (w *Worker) execute(ctx context.Context, j *job.Job) (int64, int64, error) {
	pos, err := j.Position()
	if err != nil {
		return 0, 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, w.opts.JobTimeout)
	defer cancel()

	w.log.Debug("calculating fibonacci", "job_id", j.ID, "position", pos)
	v, err := fib.Compute(ctx, w.opts.Algorithm, pos, w.opts.MaxPosition)
	switch {
	case err == nil:
		return pos, v, nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return pos, 0, fmt.Errorf("%w: fibonacci(%d) exceeded %s", job.ErrTimedOut, pos, w.opts.JobTimeout)
	default:
		return 0, 0, fmt.Errorf("%w: %w", job.ErrInvalidJob, err)
	}
}

func (w *Worker) observe(rep Report) {
	if w.opts.Metrics == nil {
		return
	}
	w.opts.Metrics.Outcomes.WithLabelValues(string(rep.Outcome)).Inc()
	if rep.Outcome != OutcomeIdle {
		w.opts.Metrics.JobDuration.Observe(rep.Duration.Seconds())
	}
}

func receiptFor(rep Report) webhook.Receipt {
	r := webhook.Receipt{JobID: rep.JobID, Status: string(rep.Outcome), Position: rep.Position}
	if rep.Outcome == OutcomeStored {
		v := rep.Value
		r.Value = &v
	}
	if rep.Err != nil {
		r.Error = rep.Err.Error()
	}
	return r
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
