package research

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-research/parallax/pkg/cache"
	"github.com/parallax-research/parallax/pkg/config"
	"github.com/parallax-research/parallax/pkg/events"
	"github.com/parallax-research/parallax/pkg/llm"
	"github.com/parallax-research/parallax/pkg/store"
)

// scriptedCompleter answers by prompt role: planner, classifier, agent, and
// editor calls each get a canned response. The first planning call answers
// planJSON; later ones answer refinementJSON (plan_complete by default).
type scriptedCompleter struct {
	mu              sync.Mutex
	agentCalls      int
	planningCalls   int
	planJSON        string
	refinementJSON  string
	classifyAnswer  string
	failAgents      bool
	failSubQuery    string
	synthesisPrompt string
}

func newScriptedCompleter() *scriptedCompleter {
	return &scriptedCompleter{
		planJSON:       `{"sub_queries": ["first angle", "second angle"], "complexity": "moderate"}`,
		refinementJSON: `{"plan_complete": true}`,
		classifyAnswer: "moderate",
	}
}

func (c *scriptedCompleter) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	system := req.Messages[0].Content
	user := req.Messages[1].Content
	usage := store.TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}
	switch {
	case strings.Contains(system, "research planner"):
		c.planningCalls++
		if c.planningCalls == 1 {
			return &llm.CompletionResult{Content: c.planJSON, Usage: usage}, nil
		}
		return &llm.CompletionResult{Content: c.refinementJSON, Usage: usage}, nil
	case strings.Contains(system, "Classify the research query"):
		return &llm.CompletionResult{Content: c.classifyAnswer, Usage: usage}, nil
	case strings.Contains(system, "research agent"):
		if c.failAgents || (c.failSubQuery != "" && strings.Contains(user, c.failSubQuery)) {
			return nil, errors.New("provider unavailable")
		}
		c.agentCalls++
		return &llm.CompletionResult{Content: "A factual finding.", Usage: usage}, nil
	default:
		return &llm.CompletionResult{Content: "No issues found.", Usage: usage}, nil
	}
}

func (c *scriptedCompleter) StreamComplete(_ context.Context, req llm.CompletionRequest, onToken func(string)) (*llm.CompletionResult, error) {
	c.mu.Lock()
	c.synthesisPrompt = req.Messages[1].Content
	c.mu.Unlock()
	for _, token := range []string{"Synthesized ", "report."} {
		if onToken != nil {
			onToken(token)
		}
	}
	return &llm.CompletionResult{
		Content: "Synthesized report.",
		Usage:   store.TokenUsage{PromptTokens: 50, CompletionTokens: 40, TotalTokens: 90},
	}, nil
}

func (c *scriptedCompleter) lastSynthesisPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.synthesisPrompt
}

// recordingEmitter captures pipeline events for assertions.
type recordingEmitter struct {
	mu       sync.Mutex
	payloads []events.Payload
	progress []string
}

func (r *recordingEmitter) Emit(_ context.Context, p events.Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, p)
}

func (r *recordingEmitter) Progress(_ context.Context, _ int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, message)
}

func (r *recordingEmitter) typeCounts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int)
	for _, p := range r.payloads {
		counts[p.EventType()]++
	}
	return counts
}

func (r *recordingEmitter) progressMessages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.progress...)
}

func testPipeline(t *testing.T, completer llm.Completer) (*Pipeline, store.Store, *cache.Cache) {
	t.Helper()
	st := store.NewMemory()
	return testPipelineWithStore(t, completer, st), st, nil
}

func testPipelineWithStore(t *testing.T, completer llm.Completer, st store.Store) *Pipeline {
	t.Helper()
	cfg := config.DefaultPipelineConfig()
	cfg.ReportOutputPath = t.TempDir()
	answerCache := cache.New(config.DefaultCacheConfig())
	router := llm.NewRouter(config.DefaultModelsConfig(), llm.NewCatalog(config.DefaultModelsConfig()))
	return NewPipeline(cfg, st, answerCache, nil, nil, completer, router)
}

func TestPipelineExecute(t *testing.T) {
	ctx := context.Background()
	completer := newScriptedCompleter()
	p, st, _ := testPipeline(t, completer)
	emitter := &recordingEmitter{}

	result, err := p.Execute(ctx, Request{Query: "how do lease-based job queues work"}, emitter)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "Synthesized report.", result.Report)
	assert.False(t, result.FromCache)
	assert.FileExists(t, result.ArtifactURI)

	saved, err := st.GetReportByID(ctx, result.ReportID)
	require.NoError(t, err)
	assert.Equal(t, "Synthesized report.", saved.FinalReport)
	assert.Equal(t, 1, saved.Metadata.Iterations)
	assert.Equal(t, 2, saved.Metadata.SubQueryCount)
	assert.Positive(t, saved.Metadata.Usage.TotalTokens)

	counts := emitter.typeCounts()
	assert.Equal(t, 1, counts[events.TypeSubmitted])
	assert.Equal(t, 1, counts[events.TypePlanningUsage])
	// 2 sub-queries × ensemble of 2
	assert.Equal(t, 4, counts[events.TypeAgentStarted])
	assert.Equal(t, 4, counts[events.TypeAgentCompleted])
	assert.Equal(t, 2, counts[events.TypeSynthesisToken])
	assert.Equal(t, 1, counts[events.TypeSynthesisUsage])
	assert.Equal(t, 1, counts[events.TypeReportSaved])
	assert.Equal(t, 4, completer.agentCalls)
	// the second planning call returned plan_complete
	assert.Equal(t, 2, completer.planningCalls)
}

func TestPipelineExactCacheHit(t *testing.T) {
	ctx := context.Background()
	completer := newScriptedCompleter()
	p, _, _ := testPipeline(t, completer)

	req := Request{Query: "cache me"}
	first, err := p.Execute(ctx, req, nil)
	require.NoError(t, err)

	agentCallsBefore := completer.agentCalls
	second, err := p.Execute(ctx, req, nil)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, "exact", second.CacheTier)
	assert.Equal(t, first.ReportID, second.ReportID)
	assert.Equal(t, agentCallsBefore, completer.agentCalls, "cache hit must not research")
}

func TestPipelineRefinementAccumulatesFindings(t *testing.T) {
	ctx := context.Background()
	completer := newScriptedCompleter()
	completer.refinementJSON = `{"sub_queries": ["deployment angle"]}`
	p, st, _ := testPipeline(t, completer)

	// moderate complexity with default MaxIterations=2: the refinement plan
	// adds one sub-query and all three findings reach the single synthesis
	result, err := p.Execute(ctx, Request{Query: "explain consensus protocols in distributed databases in depth"}, nil)
	require.NoError(t, err)

	saved, err := st.GetReportByID(ctx, result.ReportID)
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Metadata.Iterations)
	assert.Equal(t, 3, saved.Metadata.SubQueryCount)
	assert.Equal(t, 2, completer.planningCalls)
	assert.Equal(t, 6, completer.agentCalls)

	prompt := completer.lastSynthesisPrompt()
	assert.Contains(t, prompt, "first angle")
	assert.Contains(t, prompt, "second angle")
	assert.Contains(t, prompt, "deployment angle")
}

func TestPipelineAgentFailureRecorded(t *testing.T) {
	ctx := context.Background()
	completer := newScriptedCompleter()
	completer.failSubQuery = "second angle"
	p, st, _ := testPipeline(t, completer)
	emitter := &recordingEmitter{}

	result, err := p.Execute(ctx, Request{Query: "resilient"}, emitter)
	require.NoError(t, err, "one failed sub-query must not fail the request")
	assert.Equal(t, 2, completer.agentCalls, "only the healthy sub-query's ensemble ran")

	_, err = st.GetReportByID(ctx, result.ReportID)
	require.NoError(t, err)

	// the failure reaches synthesis as a per-sub-query status
	prompt := completer.lastSynthesisPrompt()
	assert.Contains(t, prompt, "failure: ")
	assert.Contains(t, prompt, "provider unavailable")
	assert.Contains(t, prompt, "success")
}

func TestPipelineAllAgentsFailing(t *testing.T) {
	completer := newScriptedCompleter()
	completer.failAgents = true
	p, _, _ := testPipeline(t, completer)

	_, err := p.Execute(context.Background(), Request{Query: "doomed"}, nil)
	require.Error(t, err)
	assert.Equal(t, CategoryProvider, Categorize(err))
}

func TestPipelineFirstPlanUnparseable(t *testing.T) {
	completer := newScriptedCompleter()
	completer.planJSON = "I cannot plan this."
	p, _, _ := testPipeline(t, completer)

	_, err := p.Execute(context.Background(), Request{Query: "unplannable"}, nil)
	require.Error(t, err)
	var planErr *PlanningError
	require.ErrorAs(t, err, &planErr)
	assert.Equal(t, CategoryPlanning, Categorize(err))
	assert.Zero(t, completer.agentCalls)
}

func TestPipelineRefinementPlanUnparseable(t *testing.T) {
	ctx := context.Background()
	completer := newScriptedCompleter()
	completer.refinementJSON = "garbled"
	p, st, _ := testPipeline(t, completer)

	// a bad refinement artifact ends the loop; the first pass's work stands
	result, err := p.Execute(ctx, Request{Query: "explain consensus protocols in distributed databases in depth"}, nil)
	require.NoError(t, err)

	saved, err := st.GetReportByID(ctx, result.ReportID)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Metadata.Iterations)
}

func TestPipelineSimpleQueryKeepsEnsemble(t *testing.T) {
	completer := newScriptedCompleter()
	completer.classifyAnswer = "simple"
	completer.planJSON = `{"sub_queries": ["only angle"], "complexity": "simple"}`
	p, _, _ := testPipeline(t, completer)
	emitter := &recordingEmitter{}

	_, err := p.Execute(context.Background(), Request{Query: "short lookup"}, emitter)
	require.NoError(t, err)

	// simple caps iterations at 1 but never shrinks the ensemble below 2
	assert.Equal(t, 1, completer.planningCalls)
	assert.Equal(t, 2, completer.agentCalls)
	assert.Equal(t, 2, emitter.typeCounts()[events.TypeAgentStarted])
}

// failingSaveStore simulates a report write outage.
type failingSaveStore struct {
	store.Store
}

func (failingSaveStore) SaveReport(context.Context, *store.Report) (int64, error) {
	return 0, errors.New("disk full")
}

func TestPipelineUnsavedReportStillReturned(t *testing.T) {
	completer := newScriptedCompleter()
	st := failingSaveStore{Store: store.NewMemory()}
	p := testPipelineWithStore(t, completer, st)
	emitter := &recordingEmitter{}

	result, err := p.Execute(context.Background(), Request{Query: "persist me"}, emitter)
	require.NoError(t, err, "persistence failure must not fail the request")
	assert.Zero(t, result.ReportID)
	assert.True(t, strings.HasPrefix(result.Report, unsavedReportWarning))
	assert.Contains(t, result.Report, "Synthesized report.")
	assert.Empty(t, result.ArtifactURI)

	assert.Zero(t, emitter.typeCounts()[events.TypeReportSaved])
	assert.Contains(t, emitter.progressMessages(), "research complete (report not persisted)")
}

func TestPipelineValidation(t *testing.T) {
	p, _, _ := testPipeline(t, newScriptedCompleter())

	_, err := p.Execute(context.Background(), Request{Query: "   "}, nil)
	require.Error(t, err)
	assert.Equal(t, CategoryValidation, Categorize(err))

	_, err = p.Execute(context.Background(), Request{
		Query:  "q",
		Params: store.ResearchParams{CostPreference: "free"},
	}, nil)
	require.Error(t, err)
	assert.Equal(t, CategoryValidation, Categorize(err))
}

func TestValidateRequestDefaults(t *testing.T) {
	req := Request{Query: " q "}
	require.NoError(t, ValidateRequest(&req))
	assert.Equal(t, "q", req.Query)
	assert.Equal(t, "low", req.Params.CostPreference)
	assert.Equal(t, "intermediate", req.Params.AudienceLevel)
	assert.Equal(t, "report", req.Params.OutputFormat)
}

func TestParsePlanArtifact(t *testing.T) {
	t.Run("string sub-queries", func(t *testing.T) {
		plan, err := parsePlanArtifact(`{"sub_queries": ["a", "b"], "complexity": "complex"}`)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, plan.Queries())
		assert.Equal(t, llm.ComplexityComplex, plan.Complexity)
	})

	t.Run("object sub-queries with domains", func(t *testing.T) {
		plan, err := parsePlanArtifact(`{"sub_queries": [
			{"query": "a", "domain": "Software"},
			{"query": "b"}
		]}`)
		require.NoError(t, err)
		require.Len(t, plan.SubQueries, 2)
		assert.Equal(t, "software", plan.SubQueries[0].Domain)
		assert.Empty(t, plan.SubQueries[1].Domain)
	})

	t.Run("prose around JSON", func(t *testing.T) {
		plan, err := parsePlanArtifact("Here is the plan:\n{\"sub_queries\": [\"a\"]}\nDone.")
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, plan.Queries())
		assert.Equal(t, llm.ComplexityModerate, plan.Complexity)
	})

	t.Run("duplicates and blanks dropped", func(t *testing.T) {
		plan, err := parsePlanArtifact(`{"sub_queries": ["a", " ", "A", "b"]}`)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, plan.Queries())
	})

	t.Run("plan_complete signal", func(t *testing.T) {
		plan, err := parsePlanArtifact(`{"plan_complete": true}`)
		require.NoError(t, err)
		assert.True(t, plan.Complete)
		assert.Empty(t, plan.SubQueries)
	})

	t.Run("no JSON", func(t *testing.T) {
		_, err := parsePlanArtifact("I cannot plan this.")
		assert.Error(t, err)
	})

	t.Run("empty sub-queries", func(t *testing.T) {
		_, err := parsePlanArtifact(`{"sub_queries": []}`)
		assert.Error(t, err)
	})
}

func TestPlannerFirstPassFailures(t *testing.T) {
	cfg := config.DefaultPipelineConfig()
	router := llm.NewRouter(config.DefaultModelsConfig(), llm.NewCatalog(config.DefaultModelsConfig()))

	t.Run("unparseable artifact is a PlanningError", func(t *testing.T) {
		completer := newScriptedCompleter()
		completer.planJSON = "no artifact here"
		planner := NewPlanner(cfg, completer, router)

		_, _, err := planner.Plan(context.Background(), Request{Query: "q"}, llm.ComplexityModerate, nil, nil)
		var planErr *PlanningError
		require.ErrorAs(t, err, &planErr)
	})

	t.Run("premature plan_complete is a PlanningError", func(t *testing.T) {
		completer := newScriptedCompleter()
		completer.planJSON = `{"plan_complete": true}`
		planner := NewPlanner(cfg, completer, router)

		_, _, err := planner.Plan(context.Background(), Request{Query: "q"}, llm.ComplexityModerate, nil, nil)
		var planErr *PlanningError
		require.ErrorAs(t, err, &planErr)
	})
}

func TestMergeEnsembles(t *testing.T) {
	usage := func(total int) store.TokenUsage { return store.TokenUsage{TotalTokens: total} }

	t.Run("all members succeed", func(t *testing.T) {
		results := []AgentResult{
			{AgentIndex: 0, SubQuery: "sq1", Model: "m1", Content: "ans A", Usage: usage(10)},
			{AgentIndex: 1, SubQuery: "sq1", Model: "m2", Content: "ans B", Usage: usage(20), Truncated: true},
			{AgentIndex: 2, SubQuery: "sq2", Model: "m1", Content: "ans C", Usage: usage(30)},
			{AgentIndex: 3, SubQuery: "sq2", Model: "m2", Content: "ans D", Usage: usage(40)},
		}

		merged := mergeEnsembles(results, 2)
		require.Len(t, merged, 2)
		assert.Equal(t, "sq1", merged[0].SubQuery)
		assert.Equal(t, "m1+m2", merged[0].Model)
		assert.Contains(t, merged[0].Content, "ans A")
		assert.Contains(t, merged[0].Content, "ans B")
		assert.Equal(t, 30, merged[0].Usage.TotalTokens)
		assert.True(t, merged[0].Truncated)
		assert.Equal(t, 70, merged[1].Usage.TotalTokens)
		assert.False(t, merged[1].Truncated)
	})

	t.Run("one member failed", func(t *testing.T) {
		results := []AgentResult{
			{AgentIndex: 0, SubQuery: "sq1", Model: "m1", Content: "ans A", Usage: usage(10)},
			{AgentIndex: 1, SubQuery: "sq1", Model: "m2", Failed: true, ErrorMessage: "boom"},
		}

		merged := mergeEnsembles(results, 2)
		require.Len(t, merged, 1)
		assert.False(t, merged[0].Failed)
		assert.Equal(t, "m1", merged[0].Model)
		assert.Equal(t, "ans A", merged[0].Content)
	})

	t.Run("all members failed", func(t *testing.T) {
		results := []AgentResult{
			{AgentIndex: 0, SubQuery: "sq1", Model: "m1", Failed: true, ErrorMessage: "timeout"},
			{AgentIndex: 1, SubQuery: "sq1", Model: "m2", Failed: true, ErrorMessage: "refused"},
		}

		merged := mergeEnsembles(results, 2)
		require.Len(t, merged, 1)
		assert.True(t, merged[0].Failed)
		assert.Contains(t, merged[0].ErrorMessage, "m1: timeout")
		assert.Contains(t, merged[0].ErrorMessage, "m2: refused")
	})
}

func TestAssignModelsVisionEnsemble(t *testing.T) {
	models := config.ModelsConfig{
		LowCost:             []string{"text-only-a", "text-only-b"},
		ClassificationModel: "text-only-a",
	}
	router := llm.NewRouter(models, llm.NewCatalog(config.DefaultModelsConfig()))
	r := NewResearcher(config.DefaultPipelineConfig(), nil, router)

	plan := &Plan{
		SubQueries: []SubQuery{{ID: 1, Query: "what does the diagram show"}},
		Complexity: llm.ComplexityModerate,
	}
	req := Request{
		Params: store.ResearchParams{CostPreference: "low"},
		Attachments: []Attachment{
			{Name: "diagram", Content: "architecture sketch", Kind: AttachmentImage},
		},
	}

	tasks := r.assignModels(req, plan, 2, 0)
	require.Len(t, tasks, 2)
	assert.Equal(t, "text-only-a", tasks[0].model)
	// the tier has no vision model, so one member comes from the catalog
	assert.Equal(t, "gpt-4o", tasks[1].model)

	// without images the tier rotation stands
	req.Attachments = nil
	tasks = r.assignModels(req, plan, 2, 0)
	assert.Equal(t, "text-only-b", tasks[1].model)
}

func TestCategorize(t *testing.T) {
	assert.Equal(t, CategoryTimeout, Categorize(context.DeadlineExceeded))
	assert.Equal(t, CategoryCanceled, Categorize(context.Canceled))
	assert.Equal(t, CategoryValidation, Categorize(NewValidationError("query", "empty")))
	assert.Equal(t, CategoryPlanning, Categorize(&PlanningError{Cause: errors.New("no sub-queries")}))
	assert.Equal(t, CategoryProvider, Categorize(&ProviderError{Stage: "s", Cause: errors.New("x")}))
	assert.Equal(t, CategoryInternal, Categorize(errors.New("anything")))
	assert.Empty(t, Categorize(nil))
}
