package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the ephemeral fallback Store: all state lives in process
// memory and is lost on restart. It backs the allow-in-memory-fallback path
// when PostgreSQL is unreachable, and unit tests.
type MemoryStore struct {
	mu sync.Mutex

	nextReportID int64
	reports      map[int64]*Report

	jobs      map[string]*Job
	jobKeys   map[string]string // idempotency key -> job id
	nextEvent int64
	events    map[string][]JobEvent

	nextDocID int64
	docs      map[int64]*IndexDocument
	docKeys   map[string]int64 // source_type/source_id -> doc id
	postings  map[string]map[int64]int

	usage map[string]int
	obs   []ToolObservation
	meta  map[string]string
}

// NewMemory creates an initialized in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		reports:  make(map[int64]*Report),
		jobs:     make(map[string]*Job),
		jobKeys:  make(map[string]string),
		events:   make(map[string][]JobEvent),
		docs:     make(map[int64]*IndexDocument),
		docKeys:  make(map[string]int64),
		postings: make(map[string]map[int64]int),
		usage:    make(map[string]int),
		meta:     make(map[string]string),
	}
}

// Identity implements Store.
func (s *MemoryStore) Identity() string { return "in-memory fallback" }

// WaitForInit implements Store. Memory needs no initialization.
func (s *MemoryStore) WaitForInit(ctx context.Context) error { return ctx.Err() }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// --- reports ---

func (s *MemoryStore) SaveReport(_ context.Context, r *Report) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextReportID++
	now := time.Now().UTC()
	stored := *r
	stored.ID = s.nextReportID
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.BasedOnReportIDs == nil {
		stored.BasedOnReportIDs = []int64{}
	}
	s.reports[stored.ID] = &stored
	r.ID = stored.ID
	return stored.ID, nil
}

func (s *MemoryStore) GetReportByID(_ context.Context, id int64) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, fmt.Errorf("report %d: %w", id, ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListRecentReports(_ context.Context, limit int, queryFilter string) ([]*Report, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Report
	for _, r := range s.reports {
		if queryFilter != "" &&
			!strings.Contains(strings.ToLower(r.Query), strings.ToLower(queryFilter)) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) AddFeedback(_ context.Context, reportID int64, fb Feedback) error {
	if fb.Rating < 1 || fb.Rating > 5 {
		return fmt.Errorf("rating must be between 1 and 5, got %d", fb.Rating)
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[reportID]
	if !ok {
		return fmt.Errorf("report %d: %w", reportID, ErrNotFound)
	}
	r.Feedback = append(r.Feedback, fb)
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) FindReportsBySimilarity(_ context.Context, embedding []float32, k int, minSimilarity float64) ([]SimilarReport, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = 5
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, floor := range adaptiveFloors(minSimilarity) {
		var hits []SimilarReport
		for _, r := range s.reports {
			if r.QueryEmbedding == nil {
				continue
			}
			sim := CosineSimilarity(embedding, r.QueryEmbedding)
			if sim >= floor {
				cp := *r
				hits = append(hits, SimilarReport{Report: &cp, Similarity: sim})
			}
		}
		sort.Slice(hits, func(i, j int) bool {
			return hits[i].Similarity > hits[j].Similarity
		})
		if len(hits) > k {
			hits = hits[:k]
		}
		if len(hits) > 0 {
			return hits, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) FindReportByExactQuery(_ context.Context, query string) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Report
	for _, r := range s.reports {
		if r.Query != query {
			continue
		}
		if best == nil || r.CreatedAt.After(best.CreatedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

// --- jobs ---

func (s *MemoryStore) CreateJob(_ context.Context, jobType string, params []byte, idempotencyKey string, idempotencyTTL time.Duration) (*Job, bool, error) {
	if len(params) == 0 {
		params = []byte("{}")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if idempotencyKey != "" {
		if id, ok := s.jobKeys[idempotencyKey]; ok {
			if existing, ok := s.jobs[id]; ok &&
				time.Since(existing.CreatedAt) < idempotencyTTL {
				cp := *existing
				return &cp, false, nil
			}
		}
	}

	now := time.Now().UTC()
	job := &Job{
		ID:        newJobID(),
		Type:      jobType,
		Params:    append([]byte(nil), params...),
		Status:    JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[job.ID] = job
	if idempotencyKey != "" {
		s.jobKeys[idempotencyKey] = job.ID
	}
	cp := *job
	return &cp, true, nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) GetJobStatus(_ context.Context, id string) (JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return "", fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job.Status, nil
}

func (s *MemoryStore) SetJobStatus(_ context.Context, id string, status JobStatus, result []byte, finished bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	job.Status = status
	if len(result) > 0 {
		job.Result = append([]byte(nil), result...)
	}
	now := time.Now().UTC()
	job.UpdatedAt = now
	if finished {
		job.FinishedAt = &now
	}
	return nil
}

func (s *MemoryStore) SetJobProgress(_ context.Context, id string, progress JobProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	job.Progress = progress
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) CancelJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	job.Canceled = true
	now := time.Now().UTC()
	if job.Status != JobStatusSucceeded && job.Status != JobStatusFailed {
		job.Status = JobStatusCanceled
	}
	if job.FinishedAt == nil {
		job.FinishedAt = &now
	}
	job.UpdatedAt = now
	return nil
}

func (s *MemoryStore) ClaimNextJob(_ context.Context, lease time.Duration) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, job := range s.jobs {
		if job.Status == JobStatusRunning && !job.Canceled &&
			job.HeartbeatAt != nil && now.Sub(*job.HeartbeatAt) > lease {
			job.Status = JobStatusQueued
			job.UpdatedAt = now
		}
	}

	var oldest *Job
	for _, job := range s.jobs {
		if job.Status != JobStatusQueued || job.Canceled {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, nil
	}

	oldest.Status = JobStatusRunning
	oldest.StartedAt = &now
	hb := now
	oldest.HeartbeatAt = &hb
	oldest.UpdatedAt = now
	cp := *oldest
	return &cp, nil
}

func (s *MemoryStore) HeartbeatJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != JobStatusRunning {
		return nil
	}
	now := time.Now().UTC()
	job.HeartbeatAt = &now
	return nil
}

func (s *MemoryStore) CountJobs(_ context.Context, status JobStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, job := range s.jobs {
		if job.Status == status {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) AppendJobEvent(_ context.Context, jobID, eventType string, payload []byte) (int64, error) {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextEvent++
	event := JobEvent{
		ID:        s.nextEvent,
		JobID:     jobID,
		Type:      eventType,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: time.Now().UTC(),
	}
	s.events[jobID] = append(s.events[jobID], event)
	return event.ID, nil
}

func (s *MemoryStore) GetJobEvents(_ context.Context, jobID string, sinceID int64, limit int) ([]JobEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []JobEvent
	for _, e := range s.events[jobID] {
		if e.ID > sinceID {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) PruneJobs(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	count := 0
	for id, job := range s.jobs {
		if !job.Status.Terminal() || job.FinishedAt == nil || !job.FinishedAt.Before(cutoff) {
			continue
		}
		delete(s.jobs, id)
		delete(s.events, id)
		count++
	}
	for key, id := range s.jobKeys {
		if _, ok := s.jobs[id]; !ok {
			delete(s.jobKeys, key)
		}
	}
	return count, nil
}

// --- hybrid index primitives ---

func docKey(sourceType, sourceID string) string {
	return sourceType + "/" + sourceID
}

func (s *MemoryStore) UpsertIndexDocument(_ context.Context, doc *IndexDocument, termFreqs map[string]int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := docKey(doc.SourceType, doc.SourceID)
	id, ok := s.docKeys[key]
	if !ok {
		s.nextDocID++
		id = s.nextDocID
		s.docKeys[key] = id
	}

	stored := *doc
	stored.ID = id
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	if stored.Embedding == nil && ok {
		stored.Embedding = s.docs[id].Embedding
	}
	s.docs[id] = &stored

	for term, docTFs := range s.postings {
		delete(docTFs, id)
		if len(docTFs) == 0 {
			delete(s.postings, term)
		}
	}
	for term, tf := range termFreqs {
		docTFs, ok := s.postings[term]
		if !ok {
			docTFs = make(map[int64]int)
			s.postings[term] = docTFs
		}
		docTFs[id] = tf
	}

	doc.ID = id
	return id, nil
}

func (s *MemoryStore) GetIndexDocuments(_ context.Context, ids []int64) ([]*IndexDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*IndexDocument
	for _, id := range ids {
		if d, ok := s.docs[id]; ok {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetPostings(_ context.Context, terms []string) ([]Posting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Posting
	for _, term := range terms {
		for docID, tf := range s.postings[term] {
			out = append(out, Posting{Term: term, DocID: docID, TF: tf})
		}
	}
	return out, nil
}

func (s *MemoryStore) GetTermDocFreqs(_ context.Context, terms []string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dfs := make(map[string]int, len(terms))
	for _, term := range terms {
		if n := len(s.postings[term]); n > 0 {
			dfs[term] = n
		}
	}
	return dfs, nil
}

func (s *MemoryStore) GetIndexStats(_ context.Context) (IndexStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := IndexStats{DocCount: len(s.docs)}
	if stats.DocCount == 0 {
		return stats, nil
	}
	total := 0
	for _, d := range s.docs {
		total += d.DocLen
	}
	stats.AvgDocLen = float64(total) / float64(stats.DocCount)
	return stats, nil
}

func (s *MemoryStore) FindDocsByVector(_ context.Context, embedding []float32, k int, sourceType string) ([]DocVectorHit, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var hits []DocVectorHit
	for _, d := range s.docs {
		if d.Embedding == nil {
			continue
		}
		if sourceType != "" && d.SourceType != sourceType {
			continue
		}
		hits = append(hits, DocVectorHit{
			DocID:      d.ID,
			Similarity: CosineSimilarity(embedding, d.Embedding),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *MemoryStore) DocVectorSimilarities(_ context.Context, embedding []float32, ids []int64) (map[int64]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sims := make(map[int64]float64, len(ids))
	if len(embedding) == 0 {
		return sims, nil
	}
	for _, id := range ids {
		if d, ok := s.docs[id]; ok && d.Embedding != nil {
			sims[id] = CosineSimilarity(embedding, d.Embedding)
		}
	}
	return sims, nil
}

func (s *MemoryStore) ReindexVectors(ctx context.Context, embed func(ctx context.Context, texts []string) ([][]float32, error)) error {
	s.mu.Lock()
	reportIDs := make([]int64, 0, len(s.reports))
	reportTexts := make([]string, 0, len(s.reports))
	for id, r := range s.reports {
		reportIDs = append(reportIDs, id)
		reportTexts = append(reportTexts, r.Query)
	}
	docIDs := make([]int64, 0, len(s.docs))
	docTexts := make([]string, 0, len(s.docs))
	for id, d := range s.docs {
		docIDs = append(docIDs, id)
		docTexts = append(docTexts, d.Content)
	}
	s.mu.Unlock()

	if vecs, err := embed(ctx, reportTexts); err == nil && len(vecs) == len(reportIDs) {
		s.mu.Lock()
		for i, id := range reportIDs {
			if r, ok := s.reports[id]; ok {
				r.QueryEmbedding = vecs[i]
			}
		}
		s.mu.Unlock()
	}
	if vecs, err := embed(ctx, docTexts); err == nil && len(vecs) == len(docIDs) {
		s.mu.Lock()
		for i, id := range docIDs {
			if d, ok := s.docs[id]; ok {
				d.Embedding = vecs[i]
			}
		}
		s.mu.Unlock()
	}
	return nil
}

// --- usage, observations, meta ---

func (s *MemoryStore) IncrementUsage(_ context.Context, entityType, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[docKey(entityType, entityID)]++
	return nil
}

func (s *MemoryStore) GetUsageCounts(_ context.Context, entityType string, ids []string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int, len(ids))
	for _, id := range ids {
		if n := s.usage[docKey(entityType, id)]; n > 0 {
			counts[id] = n
		}
	}
	return counts, nil
}

func (s *MemoryStore) RecordToolObservation(_ context.Context, obs ToolObservation) error {
	if obs.CreatedAt.IsZero() {
		obs.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs = append(s.obs, obs)
	return nil
}

func (s *MemoryStore) GetConvergenceMetrics(_ context.Context, window time.Duration) (*ConvergenceMetrics, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-window)
	type agg struct {
		calls      int
		successes  int
		latencySum int64
	}
	perTool := make(map[string]*agg)
	errCounts := make(map[string]int)
	metrics := &ConvergenceMetrics{WindowHours: int(window.Hours())}

	for _, o := range s.obs {
		if o.CreatedAt.Before(cutoff) {
			continue
		}
		a := perTool[o.ToolName]
		if a == nil {
			a = &agg{}
			perTool[o.ToolName] = a
		}
		a.calls++
		a.latencySum += o.LatencyMS
		metrics.TotalCalls++
		if o.Success {
			a.successes++
			metrics.Successes++
		} else if o.ErrorCategory != "" {
			errCounts[o.ErrorCategory]++
		}
	}

	for tool, a := range perTool {
		st := ToolStats{
			Tool:         tool,
			Calls:        a.calls,
			SuccessRate:  float64(a.successes) / float64(a.calls),
			AvgLatencyMS: float64(a.latencySum) / float64(a.calls),
		}
		metrics.PerTool = append(metrics.PerTool, st)
	}
	sort.Slice(metrics.PerTool, func(i, j int) bool {
		if metrics.PerTool[i].Calls == metrics.PerTool[j].Calls {
			return metrics.PerTool[i].Tool < metrics.PerTool[j].Tool
		}
		return metrics.PerTool[i].Calls > metrics.PerTool[j].Calls
	})

	for cat, n := range errCounts {
		metrics.TopErrors = append(metrics.TopErrors, ErrorBucket{Category: cat, Count: n})
	}
	sort.Slice(metrics.TopErrors, func(i, j int) bool {
		if metrics.TopErrors[i].Count == metrics.TopErrors[j].Count {
			return metrics.TopErrors[i].Category < metrics.TopErrors[j].Category
		}
		return metrics.TopErrors[i].Count > metrics.TopErrors[j].Count
	})
	if len(metrics.TopErrors) > 5 {
		metrics.TopErrors = metrics.TopErrors[:5]
	}

	if metrics.TotalCalls > 0 {
		metrics.ConvergenceRate = float64(metrics.Successes) / float64(metrics.TotalCalls)
	}
	metrics.Status = ConvergenceStatus(metrics.ConvergenceRate)
	return metrics, nil
}

func (s *MemoryStore) GetMeta(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.meta[key]
	if !ok {
		return "", fmt.Errorf("meta key %q: %w", key, ErrNotFound)
	}
	return v, nil
}

func (s *MemoryStore) SetMeta(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[key] = value
	return nil
}

// ExecuteQuery implements Store. The fallback has no SQL engine; the
// statement is still validated so callers get consistent guard errors.
func (s *MemoryStore) ExecuteQuery(_ context.Context, query string, _ []any) ([]map[string]any, error) {
	if err := validateReadOnlyQuery(query); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("sql queries are not available on the %s store", s.Identity())
}
