package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/parallax-research/parallax/pkg/events"
	"github.com/parallax-research/parallax/pkg/research"
	"github.com/parallax-research/parallax/pkg/store"
)

// jobEmitter forwards pipeline progress into the job's durable event log.
// Progress updates also land on the job row so status polls see them
// without replaying events.
type jobEmitter struct {
	jobID     string
	store     store.Store
	publisher *events.Publisher
}

func (e *jobEmitter) Emit(ctx context.Context, payload events.Payload) {
	e.publisher.TryPublish(ctx, e.jobID, payload)
}

func (e *jobEmitter) Progress(ctx context.Context, percent int, message string) {
	progress := store.JobProgress{Percent: percent, Message: message}
	if err := e.store.SetJobProgress(ctx, e.jobID, progress); err != nil {
		slog.Warn("Recording job progress failed", "job_id", e.jobID, "error", err)
	}
	e.publisher.TryPublish(ctx, e.jobID, events.JobStatus{
		Status: store.JobStatusRunning, Percent: percent, Message: message,
	})
}

// NewResearchHandler adapts the research pipeline to the job engine. Job
// params are a serialized research request; the stored result is the
// pipeline result document.
func NewResearchHandler(pipeline *research.Pipeline, st store.Store, pub *events.Publisher) Handler {
	return func(ctx context.Context, job *store.Job) (json.RawMessage, error) {
		var req research.Request
		if err := json.Unmarshal(job.Params, &req); err != nil {
			return nil, fmt.Errorf("decoding research request: %w", err)
		}

		emitter := &jobEmitter{jobID: job.ID, store: st, publisher: pub}
		result, err := pipeline.Execute(ctx, req, emitter)
		if err != nil {
			return nil, err
		}

		body, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encoding research result: %w", err)
		}
		return body, nil
	}
}
