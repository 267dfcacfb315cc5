package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/parallax-research/parallax/pkg/events"
	"github.com/parallax-research/parallax/pkg/metrics"
	"github.com/parallax-research/parallax/pkg/store"
)

type worker struct {
	id     int
	engine *Engine
}

// run is the claim loop: poll with jitter, process whatever is claimed,
// poll again immediately after finishing a job.
func (w *worker) run(ctx context.Context) {
	log := slog.With("worker", w.id)
	for {
		job, err := w.engine.store.ClaimNextJob(ctx, w.engine.cfg.LeaseTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("Claiming next job failed", "error", err)
		}
		if job != nil {
			w.process(ctx, job)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollDelay()):
		}
	}
}

// pollDelay is the poll interval with ± jitter, so workers don't thunder
// against the claim statement in lockstep.
func (w *worker) pollDelay() time.Duration {
	base := w.engine.cfg.PollInterval
	jitter := w.engine.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	d := base - jitter + rand.N(2*jitter)
	if d <= 0 {
		d = base
	}
	return d
}

// process runs one claimed job to a terminal state. The heartbeat loop
// keeps the lease alive and doubles as the cancel-flag poll.
func (w *worker) process(ctx context.Context, job *store.Job) {
	log := slog.With("worker", w.id, "job_id", job.ID, "type", job.Type)
	log.Info("Job claimed")

	e := w.engine
	jobCtx, cancelJob := context.WithTimeout(ctx, e.cfg.JobTimeout)
	defer cancelJob()

	canceled := make(chan struct{})
	stopBeat := w.startHeartbeat(ctx, job.ID, func() {
		close(canceled)
		cancelJob()
	})
	defer stopBeat()

	e.publisher.TryPublish(ctx, job.ID, events.JobStatus{
		Status: store.JobStatusRunning, Message: "started",
	})

	handler, ok := e.handler(job.Type)
	var (
		result json.RawMessage
		err    error
	)
	if !ok {
		err = fmt.Errorf("no handler registered for job type %q", job.Type)
	} else {
		result, err = handler(jobCtx, job)
	}

	select {
	case <-canceled:
		// CancelJob already set the terminal status; just report it.
		metrics.JobsProcessed.WithLabelValues(string(store.JobStatusCanceled)).Inc()
		e.publisher.TryPublish(ctx, job.ID, events.JobStatus{
			Status: store.JobStatusCanceled, Message: "canceled",
		})
		log.Info("Job canceled")
		return
	default:
	}

	if err != nil {
		w.finish(ctx, job, store.JobStatusFailed, failurePayload(err))
		log.Error("Job failed", "error", err)
		return
	}
	w.finish(ctx, job, store.JobStatusSucceeded, result)
	log.Info("Job succeeded")
}

func (w *worker) finish(ctx context.Context, job *store.Job, status store.JobStatus, result json.RawMessage) {
	e := w.engine
	if err := e.store.SetJobStatus(ctx, job.ID, status, result, true); err != nil {
		slog.Error("Persisting terminal job status failed",
			"job_id", job.ID, "status", status, "error", err)
	}
	metrics.JobsProcessed.WithLabelValues(string(status)).Inc()
	message := "completed"
	if status == store.JobStatusFailed {
		message = "failed"
	}
	e.publisher.TryPublish(ctx, job.ID, events.JobStatus{
		Status: status, Percent: 100, Message: message,
	})
}

// startHeartbeat beats at lease/3 and polls the cancel flag; onCancel fires
// once when the flag is first observed. The returned stop function must be
// called when processing ends.
func (w *worker) startHeartbeat(ctx context.Context, jobID string, onCancel func()) func() {
	e := w.engine
	stopped := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(e.cfg.HeartbeatInterval())
		defer ticker.Stop()
		for {
			select {
			case <-stopped:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := e.store.HeartbeatJob(ctx, jobID); err != nil {
					slog.Warn("Heartbeat failed", "job_id", jobID, "error", err)
				}
				current, err := e.store.GetJob(ctx, jobID)
				if err != nil {
					if !errors.Is(err, store.ErrNotFound) {
						slog.Warn("Cancel poll failed", "job_id", jobID, "error", err)
					}
					continue
				}
				if current.Canceled {
					onCancel()
					return
				}
			}
		}
	}()
	return func() {
		close(stopped)
		<-done
	}
}

func failurePayload(err error) json.RawMessage {
	body, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return json.RawMessage(`{"error":"job failed"}`)
	}
	return body
}
