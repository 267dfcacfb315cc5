package store

import (
	"context"
	"log/slog"

	"github.com/parallax-research/parallax/pkg/config"
)

// Open connects the primary PostgreSQL store and waits for initialization.
// When the database is unreachable and the config allows it, an ephemeral
// in-memory store is returned instead; otherwise the initialization error
// is fatal. The returned store's Identity tells callers which one they got.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	pg := NewPostgres(ctx, cfg)
	err := pg.WaitForInit(ctx)
	if err == nil {
		return pg, nil
	}
	_ = pg.Close()

	if !cfg.AllowInMemoryFallback {
		return nil, err
	}
	slog.Warn("Database unavailable, falling back to ephemeral in-memory store",
		"error", err)
	return NewMemory(), nil
}
