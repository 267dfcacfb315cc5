package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-research/parallax/pkg/cache"
	"github.com/parallax-research/parallax/pkg/config"
	"github.com/parallax-research/parallax/pkg/events"
	"github.com/parallax-research/parallax/pkg/index"
	"github.com/parallax-research/parallax/pkg/llm"
	"github.com/parallax-research/parallax/pkg/queue"
	"github.com/parallax-research/parallax/pkg/research"
	"github.com/parallax-research/parallax/pkg/store"
)

// stubCompleter answers planning, classification, agent, and review calls
// with fixed content so sync research completes without a provider.
type stubCompleter struct{}

func (stubCompleter) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
	system := req.Messages[0].Content
	usage := store.TokenUsage{PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10}
	switch {
	case strings.Contains(system, "research planner"):
		return &llm.CompletionResult{Content: `{"sub_queries": ["one angle"]}`, Usage: usage}, nil
	case strings.Contains(system, "Classify the research query"):
		return &llm.CompletionResult{Content: "simple", Usage: usage}, nil
	case strings.Contains(system, "research agent"):
		return &llm.CompletionResult{Content: "finding", Usage: usage}, nil
	default:
		return &llm.CompletionResult{Content: "No issues found.", Usage: usage}, nil
	}
}

func (stubCompleter) StreamComplete(_ context.Context, _ llm.CompletionRequest, onToken func(string)) (*llm.CompletionResult, error) {
	if onToken != nil {
		onToken("report text")
	}
	return &llm.CompletionResult{
		Content: "report text",
		Usage:   store.TokenUsage{TotalTokens: 10},
	}, nil
}

func newTestSurface(t *testing.T) (*Surface, store.Store) {
	t.Helper()

	st := store.NewMemory()
	answerCache := cache.New(config.DefaultCacheConfig())
	catalog := llm.NewCatalog(config.DefaultModelsConfig())
	router := llm.NewRouter(config.DefaultModelsConfig(), catalog)

	idxCfg := config.DefaultIndexConfig()
	idxCfg.Enabled = true
	idx := index.New(idxCfg, st, nil, nil)

	pipeCfg := config.DefaultPipelineConfig()
	pipeCfg.ReportOutputPath = t.TempDir()
	pipeline := research.NewPipeline(pipeCfg, st, answerCache, idx, nil, stubCompleter{}, router)

	publisher := events.NewPublisher(st, events.NewBroadcaster())
	engine := queue.NewEngine(config.DefaultQueueConfig(), st, publisher)
	engine.Register(JobTypeResearch, func(ctx context.Context, job *store.Job) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})

	s := New(config.DefaultToolsConfig(), config.DefaultProviderConfig(), Deps{
		Store:     st,
		Pipeline:  pipeline,
		Engine:    engine,
		Index:     idx,
		Catalog:   catalog,
		Cache:     answerCache,
		Publisher: publisher,
	})
	return s, st
}

func saveTestReport(t *testing.T, st store.Store) int64 {
	t.Helper()
	id, err := st.SaveReport(context.Background(), &store.Report{
		Query: "postgres autovacuum tuning",
		FinalReport: "Autovacuum keeps table bloat in check.\n\n" +
			"Tuning thresholds matters most for hot tables.\n\n" +
			"Unrelated closing remarks about documentation.",
		Metadata: store.ResearchMetadata{Iterations: 1, SubQueryCount: 2,
			Usage: store.TokenUsage{TotalTokens: 42}},
	})
	require.NoError(t, err)
	return id
}

func TestInvokeUnknownTool(t *testing.T) {
	s, _ := newTestSurface(t)
	_, err := s.Invoke(context.Background(), "launch_missiles", Args{})
	require.Error(t, err)
	assert.Equal(t, research.CategoryValidation, research.Categorize(err))
}

func TestInvokeRejectsUnknownField(t *testing.T) {
	s, st := newTestSurface(t)
	id := saveTestReport(t, st)

	_, err := s.Invoke(context.Background(), "get_report",
		Args{"reportId": float64(id), "frobnicate": true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frobnicate")
}

func TestAliasNormalization(t *testing.T) {
	t.Run("aliases map to canonical fields", func(t *testing.T) {
		args, err := normalizeArgs(Args{
			"q": "x", "cost": "high", "aud": "expert", "fmt": "briefing",
		})
		require.NoError(t, err)
		assert.Equal(t, "x", args["query"])
		assert.Equal(t, "high", args["costPreference"])
		assert.Equal(t, "expert", args["audienceLevel"])
		assert.Equal(t, "summary", args["outputFormat"])
	})

	t.Run("alias colliding with canonical rejected", func(t *testing.T) {
		_, err := normalizeArgs(Args{"q": "a", "query": "b"})
		assert.Error(t, err)
	})
}

func TestAttachmentPromotion(t *testing.T) {
	docs, err := attachmentsArg(Args{"textDocuments": []any{
		"plain string doc",
		map[string]any{"name": "notes.md", "content": "structured doc"},
	}}, "textDocuments", "document")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "document-1", docs[0].Name)
	assert.Equal(t, "plain string doc", docs[0].Content)
	assert.Equal(t, "notes.md", docs[1].Name)

	_, err = attachmentsArg(Args{"textDocuments": []any{
		map[string]any{"name": "empty"},
	}}, "textDocuments", "document")
	assert.Error(t, err)
}

func TestRecursionGuard(t *testing.T) {
	s, st := newTestSurface(t)
	id := saveTestReport(t, st)

	ctx := WithDepth(context.Background(), 3)
	result, err := s.Invoke(ctx, "get_report", Args{"reportId": float64(id)})
	require.NoError(t, err)
	payload, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Max recursion depth reached", payload["error"])
}

func TestGetReportModes(t *testing.T) {
	s, st := newTestSurface(t)
	ctx := context.Background()
	id := saveTestReport(t, st)

	t.Run("full", func(t *testing.T) {
		result, err := s.Invoke(ctx, "get_report", Args{"reportId": float64(id)})
		require.NoError(t, err)
		assert.Contains(t, result.(string), "Autovacuum keeps table bloat")
	})

	t.Run("truncate", func(t *testing.T) {
		result, err := s.Invoke(ctx, "get_report",
			Args{"reportId": float64(id), "mode": "truncate", "maxChars": float64(10)})
		require.NoError(t, err)
		assert.Equal(t, "Autovacuum…", result.(string))
	})

	t.Run("summary", func(t *testing.T) {
		result, err := s.Invoke(ctx, "get_report",
			Args{"reportId": float64(id), "mode": "summary"})
		require.NoError(t, err)
		summary := result.(map[string]any)
		assert.Equal(t, "postgres autovacuum tuning", summary["query"])
		assert.Equal(t, "Autovacuum keeps table bloat in check.", summary["first_paragraph"])
	})

	t.Run("smart picks overlapping paragraphs", func(t *testing.T) {
		result, err := s.Invoke(ctx, "get_report", Args{
			"reportId": float64(id), "mode": "smart",
			"query": "tuning thresholds", "maxChars": float64(60),
		})
		require.NoError(t, err)
		text := result.(string)
		assert.Contains(t, text, "Tuning thresholds")
		assert.NotContains(t, text, "closing remarks")
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := s.Invoke(ctx, "get_report", Args{"reportId": float64(99999)})
		require.Error(t, err)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("bad mode", func(t *testing.T) {
		_, err := s.Invoke(ctx, "get_report",
			Args{"reportId": float64(id), "mode": "psychic"})
		assert.Error(t, err)
	})
}

func TestListHistoryAndRateReport(t *testing.T) {
	s, st := newTestSurface(t)
	ctx := context.Background()
	id := saveTestReport(t, st)

	listing, err := s.Invoke(ctx, "list_research_history", Args{"limit": float64(5)})
	require.NoError(t, err)
	assert.Contains(t, listing.(string), "postgres autovacuum tuning")

	_, err = s.Invoke(ctx, "rate_report",
		Args{"reportId": float64(id), "rating": float64(9)})
	require.Error(t, err)

	result, err := s.Invoke(ctx, "rate_report",
		Args{"reportId": float64(id), "rating": float64(4), "comment": "useful"})
	require.NoError(t, err)
	assert.Equal(t, true, result.(map[string]any)["recorded"])

	report, err := st.GetReportByID(ctx, id)
	require.NoError(t, err)
	require.Len(t, report.Feedback, 1)
	assert.Equal(t, 4, report.Feedback[0].Rating)
}

func TestIndexToolsRoundTrip(t *testing.T) {
	s, _ := newTestSurface(t)
	ctx := context.Background()

	indexed, err := s.Invoke(ctx, "index_texts", Args{"docs": []any{
		"the quick brown fox jumps over the lazy dog",
		map[string]any{"name": "vacuum", "content": "autovacuum thresholds and bloat control"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, indexed.(map[string]any)["indexed"])

	results, err := s.Invoke(ctx, "search_index",
		Args{"query": "autovacuum bloat", "k": float64(5)})
	require.NoError(t, err)
	hits := results.([]index.SearchResult)
	require.NotEmpty(t, hits)
	assert.Equal(t, "vacuum", hits[0].Document.SourceID)

	status, err := s.Invoke(ctx, "index_status", Args{})
	require.NoError(t, err)
	assert.Equal(t, 2, status.(map[string]any)["doc_count"])
}

func TestJobTools(t *testing.T) {
	s, _ := newTestSurface(t)
	ctx := context.Background()

	submitted, err := s.Invoke(ctx, "submit_research",
		Args{"q": "lease based queues", "idempotencyKey": "k1"})
	require.NoError(t, err)
	jobID := submitted.(map[string]any)["job_id"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, false, submitted.(map[string]any)["deduplicated"])

	again, err := s.Invoke(ctx, "submit_research",
		Args{"q": "lease based queues", "idempotencyKey": "k1"})
	require.NoError(t, err)
	assert.Equal(t, jobID, again.(map[string]any)["job_id"])
	assert.Equal(t, true, again.(map[string]any)["deduplicated"])

	summary, err := s.Invoke(ctx, "job_status", Args{"job_id": jobID})
	require.NoError(t, err)
	assert.Contains(t, summary.(string), jobID)
	assert.Contains(t, summary.(string), "queued")

	full, err := s.Invoke(ctx, "job_status", Args{"job_id": jobID, "format": "full"})
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusQueued, full.(*store.Job).Status)

	eventsPage, err := s.Invoke(ctx, "job_status",
		Args{"job_id": jobID, "format": "events"})
	require.NoError(t, err)
	assert.NotEmpty(t, eventsPage.([]store.JobEvent))

	canceled, err := s.Invoke(ctx, "cancel_job", Args{"job_id": jobID})
	require.NoError(t, err)
	assert.Equal(t, true, canceled.(map[string]any)["canceled"])
}

func TestSyncResearchTool(t *testing.T) {
	s, st := newTestSurface(t)

	result, err := s.Invoke(context.Background(), "research",
		Args{"query": "define cosine similarity", "async": false})
	require.NoError(t, err)
	assert.Equal(t, "report text", result.(string))

	reports, err := st.ListRecentReports(context.Background(), 10, "")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "report text", reports[0].FinalReport)
}

func TestServerStatusAndModels(t *testing.T) {
	s, _ := newTestSurface(t)
	ctx := context.Background()

	status, err := s.Invoke(ctx, "get_server_status", Args{})
	require.NoError(t, err)
	payload := status.(map[string]any)
	assert.Equal(t, "in-memory fallback", payload["store"])
	assert.Contains(t, payload, "jobs")
	assert.Equal(t, "unavailable", payload["embedder"])

	models, err := s.Invoke(ctx, "list_models", Args{})
	require.NoError(t, err)
	catalog := models.(map[string]any)["models"].([]llm.ModelInfo)
	assert.NotEmpty(t, catalog)
}

func TestRetrieveSQLOnFallbackStore(t *testing.T) {
	s, _ := newTestSurface(t)
	_, err := s.Invoke(context.Background(), "retrieve",
		Args{"mode": "sql", "sql": "SELECT 1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in-memory")
}

func TestObservationsRecorded(t *testing.T) {
	s, st := newTestSurface(t)
	ctx := context.Background()
	id := saveTestReport(t, st)

	_, err := s.Invoke(ctx, "get_report", Args{"reportId": float64(id)})
	require.NoError(t, err)
	_, err = s.Invoke(ctx, "get_report", Args{"reportId": float64(99999)})
	require.Error(t, err)

	metrics, err := st.GetConvergenceMetrics(ctx, convergenceWindow)
	require.NoError(t, err)
	assert.Equal(t, 2, metrics.TotalCalls)
	assert.Equal(t, 1, metrics.Successes)
	require.NotEmpty(t, metrics.TopErrors)
	assert.Equal(t, "not_found", metrics.TopErrors[0].Category)
}
