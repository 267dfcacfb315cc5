package store

import (
	"encoding/json"
	"time"
)

// TokenUsage is the aggregated provider token accounting shape.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ResearchParams are the normalized parameters a report was produced with.
type ResearchParams struct {
	CostPreference string `json:"cost_preference"`
	AudienceLevel  string `json:"audience_level"`
	OutputFormat   string `json:"output_format"`
	IncludeSources bool   `json:"include_sources"`
	MaxLength      int    `json:"max_length,omitempty"`
}

// ResearchMetadata captures how a report was produced.
type ResearchMetadata struct {
	DurationMS      int64      `json:"duration_ms"`
	Iterations      int        `json:"iterations"`
	SubQueryCount   int        `json:"sub_query_count"`
	Usage           TokenUsage `json:"usage"`
	TruncatedAgents []string   `json:"truncated_agents,omitempty"`
}

// Feedback is one append-only feedback entry on a report.
type Feedback struct {
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Report is a persisted research report. Identity is a server-assigned
// monotonic integer. The final report is non-empty on success; the query
// embedding is nil when the embedder was unavailable at write time.
type Report struct {
	ID               int64            `json:"id"`
	Query            string           `json:"query"`
	Params           ResearchParams   `json:"params"`
	FinalReport      string           `json:"final_report"`
	Metadata         ResearchMetadata `json:"metadata"`
	BasedOnReportIDs []int64          `json:"based_on_past_report_ids,omitempty"`
	Feedback         []Feedback       `json:"feedback,omitempty"`
	AccuracyScore    *float64         `json:"accuracy_score,omitempty"`
	FactCheck        string           `json:"fact_check,omitempty"`
	QueryEmbedding   []float32        `json:"-"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// SimilarReport is a report hit with its raw cosine similarity.
type SimilarReport struct {
	Report     *Report `json:"report"`
	Similarity float64 `json:"similarity"`
}

// JobStatus is the closed set of job states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// JobProgress is the structured progress a job reports.
type JobProgress struct {
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

// Job is an asynchronous unit of work. Status transitions are
// queued → running → (succeeded|failed|canceled), plus running → queued on
// lease expiry. The canceled flag may be set in any non-terminal state.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Params      json.RawMessage `json:"params"`
	Status      JobStatus       `json:"status"`
	Progress    JobProgress     `json:"progress"`
	Result      json.RawMessage `json:"result,omitempty"`
	Canceled    bool            `json:"canceled"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	HeartbeatAt *time.Time      `json:"heartbeat_at,omitempty"`
}

// JobEvent is one append-only event log row. Rows are keyed by a monotonic
// id and never mutated; clients page by since_event_id.
type JobEvent struct {
	ID        int64           `json:"id"`
	JobID     string          `json:"job_id"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Document source types for the hybrid index.
const (
	SourceTypeReport = "report"
	SourceTypeDoc    = "doc"
)

// IndexDocument is one row of the hybrid index. DocLen is the token count
// after tokenization; the embedding is optional (BM25-only when absent).
type IndexDocument struct {
	ID         int64     `json:"id"`
	SourceType string    `json:"source_type"`
	SourceID   string    `json:"source_id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	DocLen     int       `json:"doc_len"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// Posting is one inverted-index entry: term t appears tf times in doc d.
type Posting struct {
	Term  string
	DocID int64
	TF    int
}

// IndexStats summarizes the index for BM25 length normalization.
type IndexStats struct {
	DocCount  int
	AvgDocLen float64
}

// DocVectorHit is a document id with its cosine similarity to a query vector.
type DocVectorHit struct {
	DocID      int64
	Similarity float64
}

// ToolObservation records one tool invocation for convergence metrics.
type ToolObservation struct {
	ToolName      string    `json:"tool_name"`
	InputHash     string    `json:"input_hash"`
	OutputHash    string    `json:"output_hash,omitempty"`
	Success       bool      `json:"success"`
	LatencyMS     int64     `json:"latency_ms"`
	ErrorCategory string    `json:"error_category,omitempty"`
	ErrorCode     string    `json:"error_code,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ToolStats is the per-tool convergence breakdown.
type ToolStats struct {
	Tool         string  `json:"tool"`
	Calls        int     `json:"calls"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

// ConvergenceMetrics aggregates tool observations over a rolling window.
type ConvergenceMetrics struct {
	WindowHours     int           `json:"window_hours"`
	TotalCalls      int           `json:"total_calls"`
	Successes       int           `json:"successes"`
	ConvergenceRate float64       `json:"convergence_rate"`
	Status          string        `json:"status"`
	PerTool         []ToolStats   `json:"per_tool"`
	TopErrors       []ErrorBucket `json:"top_errors"`
}

// ErrorBucket counts observations per error category.
type ErrorBucket struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// ConvergenceStatus maps a convergence rate to its status bucket.
func ConvergenceStatus(rate float64) string {
	switch {
	case rate >= 0.99:
		return "converged"
	case rate >= 0.95:
		return "near_convergence"
	case rate >= 0.80:
		return "improving"
	case rate >= 0.50:
		return "learning"
	default:
		return "divergent"
	}
}
