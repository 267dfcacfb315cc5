// Package tools implements the transport-agnostic tool surface: argument
// normalization, validation, recursion guarding, and the tool
// implementations themselves. Transports (MCP, HTTP) call Invoke by name
// with a structured argument object.
package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/parallax-research/parallax/pkg/cache"
	"github.com/parallax-research/parallax/pkg/config"
	"github.com/parallax-research/parallax/pkg/embed"
	"github.com/parallax-research/parallax/pkg/events"
	"github.com/parallax-research/parallax/pkg/index"
	"github.com/parallax-research/parallax/pkg/llm"
	"github.com/parallax-research/parallax/pkg/metrics"
	"github.com/parallax-research/parallax/pkg/queue"
	"github.com/parallax-research/parallax/pkg/research"
	"github.com/parallax-research/parallax/pkg/store"
)

// Args is one tool's structured argument object.
type Args map[string]any

// handler runs one tool after normalization and validation.
type handler func(ctx context.Context, args Args) (any, error)

// toolSpec binds a tool name to its handler and the closed set of argument
// fields it accepts (post-alias). Unknown fields are rejected.
type toolSpec struct {
	run    handler
	fields []string
}

// Surface is the tool registry and dispatcher.
type Surface struct {
	cfg      config.ToolsConfig
	provider config.ProviderConfig

	store     store.Store
	pipeline  *research.Pipeline
	engine    *queue.Engine
	index     *index.HybridIndex
	embedder  embed.Embedder
	catalog   *llm.Catalog
	cache     *cache.Cache
	publisher *events.Publisher

	httpClient *http.Client
	tools      map[string]toolSpec
}

// Deps carries the surface's collaborators. index, embedder, catalog, cache,
// and publisher may be nil; the corresponding tools degrade or report
// unavailability.
type Deps struct {
	Store     store.Store
	Pipeline  *research.Pipeline
	Engine    *queue.Engine
	Index     *index.HybridIndex
	Embedder  embed.Embedder
	Catalog   *llm.Catalog
	Cache     *cache.Cache
	Publisher *events.Publisher
}

// New builds the surface with every tool registered.
func New(cfg config.ToolsConfig, provider config.ProviderConfig, deps Deps) *Surface {
	s := &Surface{
		cfg:        cfg,
		provider:   provider,
		store:      deps.Store,
		pipeline:   deps.Pipeline,
		engine:     deps.Engine,
		index:      deps.Index,
		embedder:   deps.Embedder,
		catalog:    deps.Catalog,
		cache:      deps.Cache,
		publisher:  deps.Publisher,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	researchFields := []string{
		"query", "costPreference", "audienceLevel", "outputFormat",
		"includeSources", "maxLength", "images", "textDocuments",
		"structuredData", "clientContext", "idempotencyKey",
	}
	s.tools = make(map[string]toolSpec)
	s.register("research", s.toolResearch, append([]string{"async"}, researchFields...))
	s.register("submit_research", s.toolSubmitResearch, researchFields)
	s.register("job_status", s.toolJobStatus, []string{"job_id", "format", "since_event_id", "max_events"})
	s.register("cancel_job", s.toolCancelJob, []string{"job_id"})
	s.register("retrieve", s.toolRetrieve, []string{"mode", "query", "k", "scope", "rerank", "sql", "params"})
	s.register("get_report", s.toolGetReport, []string{"reportId", "mode", "maxChars", "query"})
	s.register("list_research_history", s.toolListHistory, []string{"limit", "queryFilter"})
	s.register("rate_report", s.toolRateReport, []string{"reportId", "rating", "comment"})
	s.register("search_web", s.toolSearchWeb, []string{"query", "k"})
	s.register("fetch_url", s.toolFetchURL, []string{"url"})
	s.register("index_texts", s.toolIndexTexts, []string{"docs", "scope"})
	s.register("index_url", s.toolIndexURL, []string{"url"})
	s.register("search_index", s.toolSearchIndex, []string{"query", "k", "scope", "rerank"})
	s.register("index_status", s.toolIndexStatus, nil)
	s.register("get_server_status", s.toolServerStatus, nil)
	s.register("list_models", s.toolListModels, []string{"refresh"})
	return s
}

func (s *Surface) register(name string, run handler, fields []string) {
	s.tools[name] = toolSpec{run: run, fields: fields}
}

// ToolNames lists the registered tools sorted by name.
func (s *Surface) ToolNames() []string {
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// depthKey threads the per-request tool recursion depth through context.
type depthKey struct{}

// WithDepth returns ctx with the recursion depth set.
func WithDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}

// Depth returns the current recursion depth, zero at the entry point.
func Depth(ctx context.Context) int {
	if d, ok := ctx.Value(depthKey{}).(int); ok {
		return d
	}
	return 0
}

// Invoke dispatches one tool call: alias normalization, field validation,
// recursion guarding, execution, and observation recording. The structured
// recursion-limit payload is a result, not an error, so a tool calling
// another tool past the bound degrades instead of failing its own call.
func (s *Surface) Invoke(ctx context.Context, name string, args Args) (any, error) {
	spec, ok := s.tools[name]
	if !ok {
		return nil, research.NewValidationError("tool", "unknown tool "+name)
	}

	if Depth(ctx) >= s.cfg.MaxToolDepth {
		return map[string]any{"error": "Max recursion depth reached"}, nil
	}
	ctx = WithDepth(ctx, Depth(ctx)+1)

	normalized, err := normalizeArgs(args)
	if err == nil {
		err = validateFields(name, normalized, spec.fields)
	}

	started := time.Now()
	var result any
	if err == nil {
		result, err = spec.run(ctx, normalized)
	}
	s.observe(ctx, name, normalized, result, err, time.Since(started))
	return result, err
}

// observe records the invocation for convergence metrics. Best-effort: a
// failed write only logs.
func (s *Surface) observe(ctx context.Context, name string, args Args, result any, err error, latency time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.ToolInvocations.WithLabelValues(name, outcome).Inc()

	obs := store.ToolObservation{
		ToolName:  name,
		InputHash: argsHash(args),
		Success:   err == nil,
		LatencyMS: latency.Milliseconds(),
		RequestID: uuid.NewString(),
	}
	if err != nil {
		obs.ErrorCategory = errorCategory(err)
	} else if result != nil {
		if body, marshalErr := json.Marshal(result); marshalErr == nil {
			obs.OutputHash = hash16(body)
		}
	}
	if recordErr := s.store.RecordToolObservation(ctx, obs); recordErr != nil {
		slog.Warn("Tool observation write failed", "tool", name, "error", recordErr)
	}
}

// errorCategory folds not-found into the pipeline taxonomy.
func errorCategory(err error) string {
	if isNotFound(err) {
		return "not_found"
	}
	return research.Categorize(err)
}

// argsHash fingerprints the normalized arguments (16 hex chars).
func argsHash(args Args) string {
	body, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return hash16(body)
}

func hash16(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:8])
}
