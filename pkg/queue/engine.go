// Package queue runs the asynchronous job engine: bounded submission with
// idempotency keys, a polling worker pool with lease-based claims and
// heartbeats, best-effort cancellation, and graceful drain on shutdown.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parallax-research/parallax/pkg/config"
	"github.com/parallax-research/parallax/pkg/events"
	"github.com/parallax-research/parallax/pkg/metrics"
	"github.com/parallax-research/parallax/pkg/store"
)

// Handler processes one claimed job. The context carries the job timeout
// and is canceled when the job's cancel flag is observed; handlers should
// return promptly once it fires. The returned result is stored on success.
type Handler func(ctx context.Context, job *store.Job) (json.RawMessage, error)

// Engine owns submission and the worker pool.
type Engine struct {
	cfg       config.QueueConfig
	store     store.Store
	publisher *events.Publisher

	mu       sync.Mutex
	handlers map[string]Handler

	wg         sync.WaitGroup
	cancelPoll context.CancelFunc
}

// NewEngine creates a stopped engine.
func NewEngine(cfg config.QueueConfig, st store.Store, pub *events.Publisher) *Engine {
	return &Engine{
		cfg:       cfg,
		store:     st,
		publisher: pub,
		handlers:  make(map[string]Handler),
	}
}

// Register binds a handler to a job type. Claimed jobs of unknown types
// fail immediately.
func (e *Engine) Register(jobType string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[jobType] = h
}

func (e *Engine) handler(jobType string) (Handler, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handlers[jobType]
	return h, ok
}

// Submit accepts a job for asynchronous execution. Returns the job and
// whether this submission created it (false means the idempotency key
// matched an existing job). Submissions beyond the queue depth bound fail
// with ErrOverloaded.
func (e *Engine) Submit(ctx context.Context, jobType string, params any, idempotencyKey string) (*store.Job, bool, error) {
	if _, ok := e.handler(jobType); !ok {
		return nil, false, fmt.Errorf("unknown job type %q", jobType)
	}

	queued, err := e.store.CountJobs(ctx, store.JobStatusQueued)
	if err != nil {
		return nil, false, err
	}
	metrics.QueueDepth.Set(float64(queued))
	if queued >= e.cfg.MaxQueueDepth {
		return nil, false, fmt.Errorf("%d jobs queued: %w", queued, store.ErrOverloaded)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, false, fmt.Errorf("marshaling job params: %w", err)
	}

	job, created, err := e.store.CreateJob(ctx, jobType, body, idempotencyKey, e.cfg.IdempotencyTTL)
	if err != nil {
		return nil, false, err
	}
	if created {
		metrics.JobsSubmitted.Inc()
		e.publisher.TryPublish(ctx, job.ID, events.JobStatus{
			Status: store.JobStatusQueued, Percent: 0, Message: "queued",
		})
		slog.Info("Job submitted", "job_id", job.ID, "type", jobType)
	} else {
		slog.Info("Job submission deduplicated",
			"job_id", job.ID, "idempotency_key", idempotencyKey)
	}
	return job, created, nil
}

// Cancel flags a job for cancellation. Queued jobs move to canceled
// immediately; running jobs stop at their next cancellation check.
func (e *Engine) Cancel(ctx context.Context, jobID string) error {
	if err := e.store.CancelJob(ctx, jobID); err != nil {
		return err
	}
	e.publisher.TryPublish(ctx, jobID, events.JobStatus{
		Status: store.JobStatusCanceled, Message: "cancellation requested",
	})
	return nil
}

// Start launches the worker pool. Stale leases left by a previous process
// are recovered by the sweep inside each claim once they expire.
func (e *Engine) Start(ctx context.Context) {
	pollCtx, cancel := context.WithCancel(ctx)
	e.cancelPoll = cancel
	for i := 0; i < e.cfg.WorkerCount; i++ {
		w := &worker{id: i, engine: e}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			w.run(pollCtx)
		}()
	}
	slog.Info("Job engine started", "workers", e.cfg.WorkerCount)
}

// Stop drains the pool: claiming stops immediately, active jobs get up to
// the graceful shutdown timeout to finish.
func (e *Engine) Stop() {
	if e.cancelPoll != nil {
		e.cancelPoll()
	}
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Job engine stopped")
	case <-time.After(e.cfg.GracefulShutdownTimeout):
		slog.Warn("Job engine shutdown timed out with jobs still active")
	}
}
