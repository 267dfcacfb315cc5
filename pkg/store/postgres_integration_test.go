package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/parallax-research/parallax/pkg/config"
)

// startPostgres launches a disposable pgvector-enabled PostgreSQL container
// and returns a store config pointing at it.
func startPostgres(t *testing.T) config.StoreConfig {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "pgvector/pgvector:pg16",
		tcpostgres.WithDatabase("parallax_test"),
		tcpostgres.WithUsername("parallax"),
		tcpostgres.WithPassword("parallax"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := config.DefaultStoreConfig()
	cfg.Host = host
	cfg.Port = port.Int()
	cfg.User = "parallax"
	cfg.Password = "parallax"
	cfg.Database = "parallax_test"
	cfg.SSLMode = "disable"
	return cfg
}

func TestPostgresStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	cfg := startPostgres(t)

	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	require.Equal(t, "postgres", s.Identity())

	t.Run("report round trip with embedding", func(t *testing.T) {
		embedding := make([]float32, cfg.VectorDim)
		embedding[0] = 1

		id, err := s.SaveReport(ctx, &Report{
			Query:          "integration query",
			FinalReport:    "body",
			Params:         ResearchParams{CostPreference: "low"},
			Metadata:       ResearchMetadata{Iterations: 2},
			QueryEmbedding: embedding,
		})
		require.NoError(t, err)

		got, err := s.GetReportByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "integration query", got.Query)
		assert.Equal(t, 2, got.Metadata.Iterations)
		assert.Len(t, got.QueryEmbedding, cfg.VectorDim)

		hits, err := s.FindReportsBySimilarity(ctx, embedding, 5, 0.85)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, id, hits[0].Report.ID)
		assert.InDelta(t, 1.0, hits[0].Similarity, 1e-4)
	})

	t.Run("job claim and idempotency", func(t *testing.T) {
		job, created, err := s.CreateJob(ctx, "research", []byte(`{"query":"q"}`), "int-key", time.Hour)
		require.NoError(t, err)
		require.True(t, created)

		dup, created, err := s.CreateJob(ctx, "research", []byte(`{"query":"q"}`), "int-key", time.Hour)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, job.ID, dup.ID)

		claimed, err := s.ClaimNextJob(ctx, time.Minute)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, job.ID, claimed.ID)
		assert.Equal(t, JobStatusRunning, claimed.Status)

		empty, err := s.ClaimNextJob(ctx, time.Minute)
		require.NoError(t, err)
		assert.Nil(t, empty)

		eventID, err := s.AppendJobEvent(ctx, job.ID, "job_started", nil)
		require.NoError(t, err)
		events, err := s.GetJobEvents(ctx, job.ID, eventID-1, 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "job_started", events[0].Type)

		require.NoError(t, s.SetJobStatus(ctx, job.ID, JobStatusSucceeded, []byte(`{"ok":true}`), true))
		status, err := s.GetJobStatus(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, JobStatusSucceeded, status)

		// keyless submissions insert a NULL idempotency_key through the
		// same statement; the partial unique index must not block them
		keyless, created, err := s.CreateJob(ctx, "research", nil, "", time.Hour)
		require.NoError(t, err)
		require.True(t, created)
		keyless2, created, err := s.CreateJob(ctx, "research", nil, "", time.Hour)
		require.NoError(t, err)
		require.True(t, created)
		assert.NotEqual(t, keyless.ID, keyless2.ID)

		// retention: a zero window prunes the finished job and cascades
		// to its events; queued jobs stay
		pruned, err := s.PruneJobs(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, pruned)
		_, err = s.GetJob(ctx, job.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		events, err = s.GetJobEvents(ctx, job.ID, 0, 10)
		require.NoError(t, err)
		assert.Empty(t, events)
		_, err = s.GetJob(ctx, keyless.ID)
		require.NoError(t, err)
	})

	t.Run("index postings maintenance", func(t *testing.T) {
		doc := &IndexDocument{
			SourceType: SourceTypeDoc,
			SourceID:   "it-1",
			Content:    "alpha beta beta",
			DocLen:     3,
		}
		_, err := s.UpsertIndexDocument(ctx, doc, map[string]int{"alpha": 1, "beta": 2})
		require.NoError(t, err)

		dfs, err := s.GetTermDocFreqs(ctx, []string{"alpha", "beta"})
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"alpha": 1, "beta": 1}, dfs)

		// Re-index the same document with different terms.
		doc.Content = "gamma"
		doc.DocLen = 1
		_, err = s.UpsertIndexDocument(ctx, doc, map[string]int{"gamma": 1})
		require.NoError(t, err)

		dfs, err = s.GetTermDocFreqs(ctx, []string{"alpha", "beta", "gamma"})
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"gamma": 1}, dfs)
	})

	t.Run("guarded sql surface", func(t *testing.T) {
		rows, err := s.ExecuteQuery(ctx, "SELECT COUNT(*) AS n FROM reports", nil)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Contains(t, rows[0], "n")

		_, err = s.ExecuteQuery(ctx, "DELETE FROM reports", nil)
		assert.ErrorIs(t, err, ErrReadOnlyViolation)
	})
}
