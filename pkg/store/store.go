// Package store provides durable relational+vector storage for reports,
// jobs, the job event log, the hybrid index tables, usage counters, and
// tool observations. The primary implementation runs on PostgreSQL with
// pgvector; an ephemeral in-memory implementation backs the
// allowInMemoryFallback path and unit tests.
package store

import (
	"context"
	"time"
)

// Store is the single shared mutator of persisted state. All writes go
// through it; internal locking is the store's responsibility.
type Store interface {
	// Identity names the backing implementation ("postgres" or
	// "in-memory fallback").
	Identity() string

	// WaitForInit blocks until initialization finishes or ctx expires.
	// If initialization failed, the cached init error is returned.
	WaitForInit(ctx context.Context) error

	Close() error

	// --- reports ---

	SaveReport(ctx context.Context, r *Report) (int64, error)
	GetReportByID(ctx context.Context, id int64) (*Report, error)
	ListRecentReports(ctx context.Context, limit int, queryFilter string) ([]*Report, error)
	AddFeedback(ctx context.Context, reportID int64, fb Feedback) error

	// FindReportsBySimilarity runs cosine search over report query
	// embeddings with the adaptive threshold policy: the requested floor
	// first, then (only when floor > 0.82) one retreat to
	// max(0.80, floor−0.03). The floor never goes below 0.80.
	FindReportsBySimilarity(ctx context.Context, embedding []float32, k int, minSimilarity float64) ([]SimilarReport, error)
	FindReportByExactQuery(ctx context.Context, query string) (*Report, error)

	// --- jobs ---

	// CreateJob inserts a queued job. When idempotencyKey is non-empty and
	// a job with that key exists within the idempotency TTL, the original
	// job is returned with created=false.
	CreateJob(ctx context.Context, jobType string, params []byte, idempotencyKey string, idempotencyTTL time.Duration) (job *Job, created bool, err error)
	GetJob(ctx context.Context, id string) (*Job, error)
	GetJobStatus(ctx context.Context, id string) (JobStatus, error)
	SetJobStatus(ctx context.Context, id string, status JobStatus, result []byte, finished bool) error
	SetJobProgress(ctx context.Context, id string, progress JobProgress) error
	CancelJob(ctx context.Context, id string) error

	// ClaimNextJob atomically requeues stale running jobs (heartbeat older
	// than lease) and claims the oldest queued, non-canceled job. Returns
	// (nil, nil) when no job is available.
	ClaimNextJob(ctx context.Context, lease time.Duration) (*Job, error)
	HeartbeatJob(ctx context.Context, id string) error
	CountJobs(ctx context.Context, status JobStatus) (int, error)

	AppendJobEvent(ctx context.Context, jobID, eventType string, payload []byte) (int64, error)
	GetJobEvents(ctx context.Context, jobID string, sinceID int64, limit int) ([]JobEvent, error)

	// PruneJobs deletes terminal jobs that finished before now−olderThan,
	// cascading to their event logs. Returns the number of jobs removed.
	PruneJobs(ctx context.Context, olderThan time.Duration) (int, error)

	// --- hybrid index primitives ---

	// UpsertIndexDocument writes the document row and replaces its postings
	// with the given term frequencies, maintaining per-term document
	// frequencies. Returns the document id.
	UpsertIndexDocument(ctx context.Context, doc *IndexDocument, termFreqs map[string]int) (int64, error)
	GetIndexDocuments(ctx context.Context, ids []int64) ([]*IndexDocument, error)
	GetPostings(ctx context.Context, terms []string) ([]Posting, error)
	GetTermDocFreqs(ctx context.Context, terms []string) (map[string]int, error)
	GetIndexStats(ctx context.Context) (IndexStats, error)

	// FindDocsByVector returns the top-k documents by cosine similarity to
	// the query embedding, optionally restricted to a source type.
	FindDocsByVector(ctx context.Context, embedding []float32, k int, sourceType string) ([]DocVectorHit, error)

	// DocVectorSimilarities returns cosine similarity between the query
	// embedding and each listed document's embedding. Documents without an
	// embedding are absent from the result.
	DocVectorSimilarities(ctx context.Context, embedding []float32, ids []int64) (map[int64]float64, error)

	// ReindexVectors re-embeds report queries and index documents with the
	// given batch embed function. Best-effort: individual batch failures
	// are skipped.
	ReindexVectors(ctx context.Context, embed func(ctx context.Context, texts []string) ([][]float32, error)) error

	// --- usage, observations, meta ---

	IncrementUsage(ctx context.Context, entityType, entityID string) error
	GetUsageCounts(ctx context.Context, entityType string, ids []string) (map[string]int, error)

	RecordToolObservation(ctx context.Context, obs ToolObservation) error
	GetConvergenceMetrics(ctx context.Context, window time.Duration) (*ConvergenceMetrics, error)

	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error

	// ExecuteQuery runs guarded read-only SQL: exactly one SELECT
	// statement, parameterized with $n placeholders.
	ExecuteQuery(ctx context.Context, query string, params []any) ([]map[string]any, error)
}
