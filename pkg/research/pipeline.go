package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/parallax-research/parallax/pkg/cache"
	"github.com/parallax-research/parallax/pkg/config"
	"github.com/parallax-research/parallax/pkg/embed"
	"github.com/parallax-research/parallax/pkg/events"
	"github.com/parallax-research/parallax/pkg/index"
	"github.com/parallax-research/parallax/pkg/llm"
	"github.com/parallax-research/parallax/pkg/metrics"
	"github.com/parallax-research/parallax/pkg/store"
)

// Pipeline is the research supervisor: cache lookup, prior-report context,
// the plan→research accumulation loop, one synthesis pass over everything
// gathered, and report persistence.
type Pipeline struct {
	cfg      config.PipelineConfig
	store    store.Store
	cache    *cache.Cache
	index    *index.HybridIndex
	embedder embed.Embedder

	planner     *Planner
	researcher  *Researcher
	synthesizer *Synthesizer
}

// NewPipeline wires the pipeline. index and embedder may be nil; the
// pipeline then skips auto-indexing and all similarity features.
func NewPipeline(cfg config.PipelineConfig, st store.Store, answerCache *cache.Cache, idx *index.HybridIndex, embedder embed.Embedder, completer llm.Completer, router *llm.Router) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		store:       st,
		cache:       answerCache,
		index:       idx,
		embedder:    embedder,
		planner:     NewPlanner(cfg, completer, router),
		researcher:  NewResearcher(cfg, completer, router),
		synthesizer: NewSynthesizer(cfg, completer, router),
	}
}

// Execute runs one research request end to end.
func (p *Pipeline) Execute(ctx context.Context, req Request, emitter Emitter) (*Result, error) {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	if err := ValidateRequest(&req); err != nil {
		return nil, err
	}
	started := time.Now()

	emitter.Emit(ctx, events.Submitted{Query: req.Query})
	if len(req.ClientContext) > 0 {
		emitter.Emit(ctx, events.ClientContext{Context: req.ClientContext})
	}

	cacheKey := cache.Key(req.Query, req.Params, req.AttachmentFingerprints())
	queryVec := embed.TryEmbed(ctx, p.embedder, req.Query)

	if cached := p.lookupCache(ctx, cacheKey, queryVec, emitter); cached != nil {
		return cached, nil
	}

	past := p.pastReports(ctx, queryVec)

	complexity, usage := p.planner.AssessComplexity(ctx, req.Query)
	totalUsage := usage
	maxIterations := p.planner.router.MaxIterations(complexity, p.cfg.MaxIterations)
	emitter.Progress(ctx, 5, fmt.Sprintf("assessed complexity: %s", complexity))

	var (
		results        []AgentResult
		iterations     int
		nextSubQueryID = 1
		nextAgentIndex int
	)
	for iteration := 1; iteration <= maxIterations; iteration++ {
		plan, planUsage, err := p.planner.Plan(ctx, req, complexity, past, results)
		if err != nil {
			return nil, err
		}
		totalUsage.Add(planUsage)
		if plan.Complete {
			slog.Info("Planner signaled completion", "iteration", iteration)
			break
		}
		for i := range plan.SubQueries {
			plan.SubQueries[i].ID = nextSubQueryID
			nextSubQueryID++
		}
		iterations = iteration

		emitter.Emit(ctx, events.PlanningUsage{
			SubQueries: plan.Queries(),
			Complexity: string(plan.Complexity),
			Usage:      planUsage,
		})
		emitter.Progress(ctx, progressFor(iteration, maxIterations, 10),
			fmt.Sprintf("iteration %d: researching %d sub-queries", iteration, len(plan.SubQueries)))

		iterResults, nextIndex, err := p.researcher.Run(ctx, req, plan, nextAgentIndex, emitter)
		if err != nil {
			return nil, err
		}
		nextAgentIndex = nextIndex
		for _, r := range iterResults {
			totalUsage.Add(r.Usage)
		}
		results = append(results, iterResults...)
	}

	emitter.Progress(ctx, 80, "synthesizing")
	outcome, err := p.synthesizer.Synthesize(ctx, req, results, past, emitter)
	if err != nil {
		return nil, err
	}
	totalUsage.Add(outcome.Usage)

	factCheck := ""
	if p.cfg.FactCheckEnabled {
		var fcUsage store.TokenUsage
		factCheck, fcUsage = p.synthesizer.FactCheck(ctx, outcome.Report, results)
		totalUsage.Add(fcUsage)
	}

	metrics.CountUsage(totalUsage.PromptTokens, totalUsage.CompletionTokens)

	report := &store.Report{
		Query:            req.Query,
		Params:           req.Params,
		FinalReport:      outcome.Report,
		FactCheck:        factCheck,
		QueryEmbedding:   queryVec,
		BasedOnReportIDs: basedOnIDs(past),
		Metadata: store.ResearchMetadata{
			DurationMS:      time.Since(started).Milliseconds(),
			Iterations:      iterations,
			SubQueryCount:   len(results),
			Usage:           totalUsage,
			TruncatedAgents: truncatedAgents(results, outcome),
		},
	}

	// Persistence failure is non-fatal: the synthesized text is worth more
	// than the row. The caller gets the report with a warning and no id.
	finalReport := outcome.Report
	artifact := ""
	reportID, saveErr := p.store.SaveReport(ctx, report)
	if saveErr != nil {
		slog.Error("Report persistence failed, returning unsaved report", "error", saveErr)
		reportID = 0
		finalReport = unsavedReportWarning + "\n\n" + finalReport
		emitter.Progress(ctx, 100, "research complete (report not persisted)")
	} else {
		p.afterSave(ctx, report, past)
		artifact = p.writeArtifact(reportID, outcome.Report)
		emitter.Emit(ctx, events.ReportSaved{ReportID: reportID, Path: artifact})
		emitter.Progress(ctx, 100, completionMessage(artifact))
	}

	p.cache.Put(cache.Entry{
		Key:       cacheKey,
		Query:     req.Query,
		Embedding: queryVec,
		ReportID:  reportID,
		Answer:    outcome.Report,
	})

	return &Result{
		ReportID:    reportID,
		Report:      finalReport,
		Metadata:    report.Metadata,
		ArtifactURI: artifact,
	}, nil
}

// unsavedReportWarning prefixes the returned text when the report row could
// not be written; no report id exists in that case.
const unsavedReportWarning = "> **Warning:** this report could not be persisted and has no report id."

// lookupCache checks both cache tiers. A hit emits one progress event and
// short-circuits the pipeline.
func (p *Pipeline) lookupCache(ctx context.Context, key string, queryVec []float32, emitter Emitter) *Result {
	if entry, ok := p.cache.Get(key); ok {
		metrics.CacheHits.WithLabelValues("exact").Inc()
		emitter.Progress(ctx, 100, "answered from cache")
		return &Result{
			ReportID: entry.ReportID, Report: entry.Answer,
			FromCache: true, CacheTier: "exact",
		}
	}
	if entry, sim, ok := p.cache.GetSemantic(queryVec); ok {
		metrics.CacheHits.WithLabelValues("semantic").Inc()
		emitter.Progress(ctx, 100,
			fmt.Sprintf("answered from cache (similar query, %.2f)", sim))
		return &Result{
			ReportID: entry.ReportID, Report: entry.Answer,
			FromCache: true, CacheTier: "semantic",
		}
	}
	return nil
}

// pastReports fetches prior related reports for planning context.
func (p *Pipeline) pastReports(ctx context.Context, queryVec []float32) []store.SimilarReport {
	if queryVec == nil || p.cfg.MaxPastReports <= 0 {
		return nil
	}
	past, err := p.store.FindReportsBySimilarity(ctx, queryVec,
		p.cfg.MaxPastReports, p.cfg.ContextSimilarityFloor)
	if err != nil {
		slog.Warn("Prior report lookup failed, continuing without context", "error", err)
		return nil
	}
	return past
}

// afterSave runs the non-fatal post-persistence hooks: hybrid indexing and
// usage accounting for the reports that informed this one.
func (p *Pipeline) afterSave(ctx context.Context, report *store.Report, past []store.SimilarReport) {
	if p.index != nil && p.index.Enabled() {
		if err := p.index.IndexReport(ctx, report); err != nil {
			slog.Warn("Auto-indexing report failed", "report_id", report.ID, "error", err)
		}
	}
	for _, prior := range past {
		if err := p.store.IncrementUsage(ctx, "report", strconv.FormatInt(prior.Report.ID, 10)); err != nil {
			slog.Warn("Usage increment failed", "report_id", prior.Report.ID, "error", err)
		}
	}
}

// writeArtifact persists the report file, returning its path or "" when
// writing failed (non-fatal).
func (p *Pipeline) writeArtifact(reportID int64, report string) string {
	if p.cfg.ReportOutputPath == "" {
		return ""
	}
	if err := os.MkdirAll(p.cfg.ReportOutputPath, 0o755); err != nil {
		slog.Warn("Creating report output directory failed", "error", err)
		return ""
	}
	path := filepath.Join(p.cfg.ReportOutputPath,
		fmt.Sprintf("research-report-%d.md", reportID))
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		slog.Warn("Writing report artifact failed", "path", path, "error", err)
		return ""
	}
	return path
}

func completionMessage(artifact string) string {
	if artifact == "" {
		return "research complete (report artifact not written)"
	}
	return "research complete"
}

func basedOnIDs(past []store.SimilarReport) []int64 {
	if len(past) == 0 {
		return nil
	}
	ids := make([]int64, len(past))
	for i, p := range past {
		ids[i] = p.Report.ID
	}
	return ids
}

func truncatedAgents(results []AgentResult, outcome *synthesisOutcome) []string {
	var out []string
	for _, r := range results {
		if r.Truncated {
			out = append(out, fmt.Sprintf("agent %d (%s)", r.AgentIndex, r.SubQuery))
		}
	}
	if outcome.Truncated {
		out = append(out, "synthesis")
	}
	return out
}

// progressFor spreads research progress across iterations: base is the
// stage's percent within one iteration.
func progressFor(iteration, maxIterations, base int) int {
	if maxIterations <= 0 {
		maxIterations = 1
	}
	span := 90 / maxIterations
	return min(95, (iteration-1)*span+base*span/100+5)
}

// IsCanceled reports whether an error chain ends in cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
