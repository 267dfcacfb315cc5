package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/parallax-research/parallax/pkg/store"
)

// convergenceWindow is the rolling window for the server-status convergence
// section.
const convergenceWindow = 24 * time.Hour

// toolServerStatus reports the orchestrator's state: store identity, job
// counts, embedder and cache state, and tool convergence metrics.
func (s *Surface) toolServerStatus(ctx context.Context, _ Args) (any, error) {
	status := map[string]any{
		"store": s.store.Identity(),
	}

	jobs := make(map[string]int)
	for _, st := range []store.JobStatus{
		store.JobStatusQueued, store.JobStatusRunning, store.JobStatusSucceeded,
		store.JobStatusFailed, store.JobStatusCanceled,
	} {
		count, err := s.store.CountJobs(ctx, st)
		if err != nil {
			return nil, err
		}
		jobs[string(st)] = count
	}
	status["jobs"] = jobs

	if s.embedder != nil {
		status["embedder"] = s.embedder.Version()
	} else {
		status["embedder"] = "unavailable"
	}
	if s.cache != nil {
		status["cache_entries"] = s.cache.Len()
	}

	convergence, err := s.store.GetConvergenceMetrics(ctx, convergenceWindow)
	if err != nil {
		slog.Warn("Convergence metrics unavailable", "error", err)
	} else {
		status["convergence"] = convergence
	}
	return status, nil
}

// toolListModels returns the model catalog, optionally refreshing it first.
func (s *Surface) toolListModels(ctx context.Context, args Args) (any, error) {
	if s.catalog == nil {
		return map[string]any{"models": []any{}}, nil
	}
	if boolArg(args, "refresh", false) {
		if err := s.catalog.Refresh(ctx); err != nil {
			slog.Warn("Catalog refresh failed, serving cached data", "error", err)
		}
	}
	return map[string]any{"models": s.catalog.Models()}, nil
}
