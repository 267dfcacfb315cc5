package embed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-research/parallax/pkg/store"
)

type stubEmbedder struct {
	vec     []float32
	err     error
	batches int
}

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	s.batches++
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vec
	}
	return out, nil
}

func (s *stubEmbedder) Dimension() int  { return len(s.vec) }
func (s *stubEmbedder) Version() string { return VersionString("stub-model", len(s.vec)) }

func TestTryEmbed(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		e := &stubEmbedder{vec: []float32{1, 0}}
		assert.Equal(t, []float32{1, 0}, TryEmbed(ctx, e, "hello"))
	})

	t.Run("provider failure degrades to nil", func(t *testing.T) {
		e := &stubEmbedder{err: errors.New("rate limited")}
		assert.Nil(t, TryEmbed(ctx, e, "hello"))
	})

	t.Run("empty text", func(t *testing.T) {
		e := &stubEmbedder{vec: []float32{1, 0}}
		assert.Nil(t, TryEmbed(ctx, e, ""))
		assert.Zero(t, e.batches)
	})

	t.Run("nil embedder", func(t *testing.T) {
		assert.Nil(t, TryEmbed(ctx, nil, "hello"))
	})
}

func TestSyncVersion(t *testing.T) {
	ctx := context.Background()

	t.Run("first run records version without reindex", func(t *testing.T) {
		st := store.NewMemory()
		e := &stubEmbedder{vec: []float32{1, 0}}
		require.NoError(t, SyncVersion(ctx, st, e, false))

		v, err := st.GetMeta(ctx, metaVersionKey)
		require.NoError(t, err)
		assert.Equal(t, "stub-model@2", v)
	})

	t.Run("version change reindexes", func(t *testing.T) {
		st := store.NewMemory()
		_, err := st.SaveReport(ctx, &store.Report{
			Query: "q", FinalReport: "r", QueryEmbedding: []float32{9, 9},
		})
		require.NoError(t, err)
		require.NoError(t, st.SetMeta(ctx, metaVersionKey, "old-model@2"))

		e := &stubEmbedder{vec: []float32{1, 0}}
		require.NoError(t, SyncVersion(ctx, st, e, false))
		assert.Positive(t, e.batches)

		hits, err := st.FindReportsBySimilarity(ctx, []float32{1, 0}, 1, 0.95)
		require.NoError(t, err)
		require.Len(t, hits, 1)
	})

	t.Run("matching version is a no-op", func(t *testing.T) {
		st := store.NewMemory()
		e := &stubEmbedder{vec: []float32{1, 0}}
		require.NoError(t, st.SetMeta(ctx, metaVersionKey, e.Version()))
		require.NoError(t, SyncVersion(ctx, st, e, false))
		assert.Zero(t, e.batches)
	})
}
