// Package batch runs scope-level import, auto-map and calculation jobs on a
// bounded worker pool.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vanshika/wastelca/internal/domain"
)

var (
	// ErrQueueFull is returned by Trigger when no queue slot is free.
	ErrQueueFull = errors.New("batch queue is full")
	// ErrStopped is returned by Trigger after Stop.
	ErrStopped = errors.New("batch runner is stopped")
)

// Operation executes one job and returns its statistics.
type Operation func(ctx context.Context, req domain.BatchRequest) (map[string]int64, error)

// Options tune a Runner.
type Options struct {
	Workers   int
	QueueSize int
	// OnComplete is called after every job reaches a terminal status.
	OnComplete func(ctx context.Context, job domain.BatchJob)
}

// Runner queues batch jobs and executes them with a fixed number of workers.
// It implements reconcile.BatchTrigger.
type Runner struct {
	logger     *slog.Logger
	workers    int
	onComplete func(ctx context.Context, job domain.BatchJob)
	now        func() time.Time

	ops   map[domain.BatchOperation]Operation
	queue chan string

	mu      sync.RWMutex
	jobs    map[string]*domain.BatchJob
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner builds a Runner. Operations must be registered before Start.
func NewRunner(logger *slog.Logger, opts Options) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	return &Runner{
		logger:     logger.With("component", "batch"),
		workers:    opts.Workers,
		onComplete: opts.OnComplete,
		now:        time.Now,
		ops:        make(map[domain.BatchOperation]Operation),
		queue:      make(chan string, opts.QueueSize),
		jobs:       make(map[string]*domain.BatchJob),
	}
}

// Register binds an operation name to its implementation.
func (r *Runner) Register(op domain.BatchOperation, fn Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[op] = fn
}

// Start launches the workers. Jobs run with a context derived from ctx.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true
	ctx, r.cancel = context.WithCancel(ctx)
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
}

// Stop refuses new jobs and waits for queued ones to finish, or for ctx to
// end, in which case running jobs are cancelled.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.queue)
	cancel := r.cancel
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
		return ctx.Err()
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// Trigger accepts a job for op. The job runs asynchronously.
func (r *Runner) Trigger(ctx context.Context, op domain.BatchOperation, req domain.BatchRequest) (domain.BatchJob, error) {
	if err := ctx.Err(); err != nil {
		return domain.BatchJob{}, err
	}
	if err := req.Validate(); err != nil {
		return domain.BatchJob{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return domain.BatchJob{}, ErrStopped
	}
	if _, ok := r.ops[op]; !ok {
		return domain.BatchJob{}, fmt.Errorf("%w: operation %q is not available", domain.ErrInvalidArgument, op)
	}

	job := &domain.BatchJob{
		ID:         uuid.NewString(),
		Operation:  op,
		Request:    req,
		Status:     domain.JobAccepted,
		AcceptedAt: r.now().UTC(),
	}
	select {
	case r.queue <- job.ID:
	default:
		return domain.BatchJob{}, ErrQueueFull
	}
	r.jobs[job.ID] = job
	return copyJob(job), nil
}

// Job returns the current state of a job.
func (r *Runner) Job(ctx context.Context, id string) (domain.BatchJob, error) {
	if err := ctx.Err(); err != nil {
		return domain.BatchJob{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return domain.BatchJob{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	return copyJob(job), nil
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for id := range r.queue {
		r.run(ctx, id)
	}
}

func (r *Runner) run(ctx context.Context, id string) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	fn := r.ops[job.Operation]
	started := r.now().UTC()
	job.StartedAt = &started
	job.Status = domain.JobRunning
	req := job.Request
	op := job.Operation
	r.mu.Unlock()

	logger := r.logger.With("job", id, "operation", op, "organization", req.OrganizationCode, "year", req.Year, "month", req.Month)
	logger.Info("batch started")

	stats, err := r.execute(ctx, fn, req)

	r.mu.Lock()
	completed := r.now().UTC()
	job.CompletedAt = &completed
	job.Stats = stats
	if err != nil {
		job.Status = domain.JobFailed
		job.Error = err.Error()
	} else {
		job.Status = domain.JobSucceeded
	}
	final := copyJob(job)
	r.mu.Unlock()

	if err != nil {
		logger.Error("batch failed", "error", err, "duration_ms", completed.Sub(started).Milliseconds())
	} else {
		logger.Info("batch succeeded", "stats", stats, "duration_ms", completed.Sub(started).Milliseconds())
	}
	if r.onComplete != nil {
		r.onComplete(context.WithoutCancel(ctx), final)
	}
}

func (r *Runner) execute(ctx context.Context, fn Operation, req domain.BatchRequest) (stats map[string]int64, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("batch operation panicked: %v", rec)
		}
	}()
	return fn(ctx, req)
}

func copyJob(job *domain.BatchJob) domain.BatchJob {
	out := *job
	if job.Stats != nil {
		out.Stats = make(map[string]int64, len(job.Stats))
		for k, v := range job.Stats {
			out.Stats[k] = v
		}
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		out.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
