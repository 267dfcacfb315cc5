// Package cleanup enforces data retention: terminal jobs past their
// retention window are removed together with their event logs.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/parallax-research/parallax/pkg/config"
	"github.com/parallax-research/parallax/pkg/store"
)

// Service periodically prunes terminal jobs older than the retention
// window. The sweep is idempotent and safe to run from multiple replicas.
type Service struct {
	cfg   config.RetentionConfig
	store store.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a stopped retention service.
func NewService(cfg config.RetentionConfig, st store.Store) *Service {
	return &Service{cfg: cfg, store: st}
}

// Start launches the background sweep loop. Disabled configs make Start a
// no-op.
func (s *Service) Start(ctx context.Context) {
	if !s.cfg.Enabled || s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Retention service started",
		"job_retention", s.cfg.JobRetention,
		"interval", s.cfg.SweepInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	count, err := s.store.PruneJobs(ctx, s.cfg.JobRetention)
	if err != nil {
		slog.Error("Retention: pruning terminal jobs failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: pruned terminal jobs", "count", count)
	}
}
