// Package jobs admits jobs, runs them one at a time through the gate and
// hands each job's result to the notifier.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/gatekeeper/internal/gate"
	"github.com/kiranshivaraju/gatekeeper/internal/store"
	"github.com/kiranshivaraju/gatekeeper/pkg/models"
)

// Invoker performs one job's backend call and returns the artifact path.
type Invoker interface {
	Invoke(ctx context.Context, params models.JobParams) (string, error)
}

// Notifier receives each job's result. Deliver must not fail the job.
type Notifier interface {
	Deliver(ctx context.Context, handle string, result models.JobResult)
}

// Stats is a point-in-time view of the orchestrator.
type Stats struct {
	Admitted  int64 `json:"admitted"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Waiting   int   `json:"waiting"`
	Running   bool  `json:"running"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStore records each job's lifecycle in s.
func WithStore(s store.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithJobTimeout bounds the gate wait plus backend call of every job.
// Zero means no deadline.
func WithJobTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithLogger sets the logger used for job lifecycle lines.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// Orchestrator owns the background execution of admitted jobs.
type Orchestrator struct {
	gate     *gate.Gate
	invoker  Invoker
	notifier Notifier
	store    store.Store
	timeout  time.Duration
	logger   *slog.Logger

	wg        sync.WaitGroup
	admitted  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// NewOrchestrator creates an Orchestrator around g. Without WithStore no
// lifecycle is recorded.
func NewOrchestrator(g *gate.Gate, inv Invoker, n Notifier, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gate:     g,
		invoker:  inv,
		notifier: n,
		store:    store.NopStore{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit assigns a fresh handle to params, schedules the job in the
// background and returns without waiting for the gate or the backend.
func (o *Orchestrator) Submit(params models.JobParams) models.Job {
	job := models.Job{
		Handle:    uuid.NewString(),
		Params:    params,
		Status:    models.JobStatusAdmitted,
		CreatedAt: time.Now().UTC(),
	}
	o.admitted.Add(1)

	o.wg.Add(1)
	go o.run(job)

	o.logger.Info("job admitted", "handle", job.Handle, "params", params)
	return job
}

// Wait blocks until every submitted job has delivered its result or ctx ends.
// If ctx ends first, the helper goroutine stays parked on the wait group until
// the remaining jobs finish.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a point-in-time snapshot of job counters and gate occupancy.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Admitted:  o.admitted.Load(),
		Succeeded: o.succeeded.Load(),
		Failed:    o.failed.Load(),
		Waiting:   o.gate.Waiting(),
		Running:   o.gate.Held(),
	}
}

// run drives one job from Queued to a terminal state. The gate is released
// before the result is delivered.
func (o *Orchestrator) run(job models.Job) {
	defer o.wg.Done()
	log := o.logger.With("handle", job.Handle)

	ctx := context.Background()
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	o.record(log, func(ctx context.Context) error {
		return o.store.CreateRun(ctx, &models.Run{
			Handle:    job.Handle,
			Status:    models.JobStatusQueued,
			CreatedAt: job.CreatedAt,
		})
	})

	var outputPath string
	err := o.gate.Do(ctx, func(ctx context.Context) error {
		log.Info("lock acquired")
		defer log.Info("lock released")

		o.record(log, func(c context.Context) error {
			return o.store.UpdateRunStatus(c, job.Handle, models.JobStatusRunning,
				store.WithStartedAt(time.Now().UTC()))
		})

		var err error
		outputPath, err = o.invoke(ctx, job.Params)
		return err
	})

	var result models.JobResult
	status := models.JobStatusSucceeded
	if err != nil {
		status = models.JobStatusFailed
		result = models.FailureResult(err)
		o.failed.Add(1)
		log.Error("job failed", "error", err)
	} else {
		result = models.SuccessResult(outputPath)
		o.succeeded.Add(1)
		log.Info("job succeeded", "path", outputPath)
	}

	o.record(log, func(c context.Context) error {
		return o.store.UpdateRunStatus(c, job.Handle, status,
			store.WithFinishedAt(time.Now().UTC()))
	})

	o.notifier.Deliver(context.Background(), job.Handle, result)
}

// invoke calls the invoker, turning a panic into an error.
func (o *Orchestrator) invoke(ctx context.Context, params models.JobParams) (path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in invoker", "error", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return o.invoker.Invoke(ctx, params)
}

// record writes to the run ledger. Ledger failures are logged and never
// affect the job.
func (o *Orchestrator) record(log *slog.Logger, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warn("recording run failed", "error", err)
	}
}
