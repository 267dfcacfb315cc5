package embed

import (
	"context"
	"errors"
	"log/slog"

	"github.com/parallax-research/parallax/pkg/store"
)

const metaVersionKey = "embedder_version"

// SyncVersion reconciles stored vectors with the active embedder. When the
// recorded embedder version differs from the current one (or the store
// reports a dimension rebuild), every report query and index document is
// re-embedded best-effort, then the version is recorded.
func SyncVersion(ctx context.Context, st store.Store, e Embedder, forceReindex bool) error {
	current := e.Version()
	recorded, err := st.GetMeta(ctx, metaVersionKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if recorded == current && !forceReindex {
		return nil
	}

	if recorded != "" && (recorded != current || forceReindex) {
		slog.Info("Re-embedding stored vectors",
			"recorded", recorded, "current", current)
		if err := st.ReindexVectors(ctx, e.EmbedBatch); err != nil {
			return err
		}
	}
	return st.SetMeta(ctx, metaVersionKey, current)
}
