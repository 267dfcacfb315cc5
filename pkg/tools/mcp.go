package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPServer exposes the tool surface over the Model Context Protocol, as a
// stdio command mode and an HTTP SSE handler.
type MCPServer struct {
	surface *Surface
	server  *mcp.Server
	handler http.Handler
}

type researchInput struct {
	Query          string            `json:"query" jsonschema:"the research question"`
	CostPreference string            `json:"costPreference,omitempty" jsonschema:"low or high"`
	AudienceLevel  string            `json:"audienceLevel,omitempty" jsonschema:"beginner, intermediate, or expert"`
	OutputFormat   string            `json:"outputFormat,omitempty" jsonschema:"report, summary, or bullet_points"`
	IncludeSources bool              `json:"includeSources,omitempty" jsonschema:"cite sub-question provenance"`
	MaxLength      int               `json:"maxLength,omitempty" jsonschema:"approximate word bound"`
	TextDocuments  []any             `json:"textDocuments,omitempty" jsonschema:"attached documents, strings or {name, content}"`
	StructuredData []any             `json:"structuredData,omitempty" jsonschema:"attached structured data"`
	Images         []any             `json:"images,omitempty" jsonschema:"attached image references"`
	ClientContext  map[string]string `json:"clientContext,omitempty" jsonschema:"opaque client context"`
	Async          *bool             `json:"async,omitempty" jsonschema:"queue a job (default) or run synchronously"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty" jsonschema:"submission dedup key"`
}

type jobStatusInput struct {
	JobID        string `json:"job_id" jsonschema:"job identifier"`
	Format       string `json:"format,omitempty" jsonschema:"summary, full, or events"`
	SinceEventID int64  `json:"since_event_id,omitempty" jsonschema:"event log cursor"`
	MaxEvents    int    `json:"max_events,omitempty" jsonschema:"event page size"`
}

type jobIDInput struct {
	JobID string `json:"job_id" jsonschema:"job identifier"`
}

type retrieveInput struct {
	Mode   string `json:"mode,omitempty" jsonschema:"index or sql"`
	Query  string `json:"query,omitempty" jsonschema:"index search query"`
	K      int    `json:"k,omitempty" jsonschema:"result count"`
	Scope  string `json:"scope,omitempty" jsonschema:"source type filter"`
	Rerank *bool  `json:"rerank,omitempty" jsonschema:"apply the rerank pass"`
	SQL    string `json:"sql,omitempty" jsonschema:"single SELECT statement"`
	Params []any  `json:"params,omitempty" jsonschema:"positional $n parameters"`
}

type getReportInput struct {
	ReportID int64  `json:"reportId" jsonschema:"report identifier"`
	Mode     string `json:"mode,omitempty" jsonschema:"full, truncate, summary, or smart"`
	MaxChars int    `json:"maxChars,omitempty" jsonschema:"character bound for truncate/smart"`
	Query    string `json:"query,omitempty" jsonschema:"relevance query for smart mode"`
}

type listHistoryInput struct {
	Limit       int    `json:"limit,omitempty" jsonschema:"max reports returned"`
	QueryFilter string `json:"queryFilter,omitempty" jsonschema:"substring filter on queries"`
}

type rateReportInput struct {
	ReportID int64  `json:"reportId" jsonschema:"report identifier"`
	Rating   int    `json:"rating" jsonschema:"1-5"`
	Comment  string `json:"comment,omitempty" jsonschema:"optional free-text comment"`
}

type searchWebInput struct {
	Query string `json:"query" jsonschema:"web search query"`
	K     int    `json:"k,omitempty" jsonschema:"result count"`
}

type urlInput struct {
	URL string `json:"url" jsonschema:"page URL"`
}

type indexTextsInput struct {
	Docs  []any  `json:"docs" jsonschema:"documents to index, strings or {name, content}"`
	Scope string `json:"scope,omitempty" jsonschema:"source type, default doc"`
}

type searchIndexInput struct {
	Query  string `json:"query" jsonschema:"search query"`
	K      int    `json:"k,omitempty" jsonschema:"result count"`
	Scope  string `json:"scope,omitempty" jsonschema:"source type filter"`
	Rerank *bool  `json:"rerank,omitempty" jsonschema:"apply the rerank pass"`
}

type emptyInput struct{}

type listModelsInput struct {
	Refresh bool `json:"refresh,omitempty" jsonschema:"refetch the catalog first"`
}

// NewMCPServer builds the MCP surface over a tool surface.
func NewMCPServer(surface *Surface, version string) *MCPServer {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "parallax",
		Version: version,
	}, nil)

	m := &MCPServer{surface: surface, server: srv}
	m.registerTools()
	m.handler = mcp.NewSSEHandler(func(_ *http.Request) *mcp.Server {
		return m.server
	}, nil)
	return m
}

// Handler returns the HTTP SSE transport handler.
func (m *MCPServer) Handler() http.Handler { return m.handler }

// RunStdio serves the line-delimited stdio transport until ctx ends.
func (m *MCPServer) RunStdio(ctx context.Context) error {
	return m.server.Run(ctx, &mcp.StdioTransport{})
}

func (m *MCPServer) registerTools() {
	addTool(m, "research",
		"Run deep research on a query: plan, parallel agents, synthesis. Async by default.",
		func(in researchInput) Args { return structArgs(in) })
	addTool(m, "submit_research",
		"Queue an asynchronous research job and return its id.",
		func(in researchInput) Args { return structArgs(in) })
	addTool(m, "job_status",
		"Report a job as a one-line summary, the full record, or its event log.",
		func(in jobStatusInput) Args { return structArgs(in) })
	addTool(m, "cancel_job",
		"Request cancellation of a queued or running job.",
		func(in jobIDInput) Args { return structArgs(in) })
	addTool(m, "retrieve",
		"Retrieve documents by hybrid index search or guarded read-only SQL.",
		func(in retrieveInput) Args { return structArgs(in) })
	addTool(m, "get_report",
		"Fetch a stored research report (full, truncated, summary, or query-relevant extract).",
		func(in getReportInput) Args { return structArgs(in) })
	addTool(m, "list_research_history",
		"List recent research reports.",
		func(in listHistoryInput) Args { return structArgs(in) })
	addTool(m, "rate_report",
		"Record 1-5 feedback on a report.",
		func(in rateReportInput) Args { return structArgs(in) })
	addTool(m, "search_web",
		"Search the web through the configured endpoint.",
		func(in searchWebInput) Args { return structArgs(in) })
	addTool(m, "fetch_url",
		"Fetch a page and return its extracted text.",
		func(in urlInput) Args { return structArgs(in) })
	addTool(m, "index_texts",
		"Index documents into the hybrid index.",
		func(in indexTextsInput) Args { return structArgs(in) })
	addTool(m, "index_url",
		"Fetch a page and index its text.",
		func(in urlInput) Args { return structArgs(in) })
	addTool(m, "search_index",
		"Search the hybrid BM25+vector index.",
		func(in searchIndexInput) Args { return structArgs(in) })
	addTool(m, "index_status",
		"Report index size and state.",
		func(in emptyInput) Args { return structArgs(in) })
	addTool(m, "get_server_status",
		"Report store, job, embedder, cache, and convergence state.",
		func(in emptyInput) Args { return structArgs(in) })
	addTool(m, "list_models",
		"List the model catalog.",
		func(in listModelsInput) Args { return structArgs(in) })
}

// addTool registers one typed MCP tool that dispatches through the surface.
func addTool[T any](m *MCPServer, name, description string, toArgs func(T) Args) {
	mcp.AddTool(m.server, &mcp.Tool{
		Name:        name,
		Description: description,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input T) (*mcp.CallToolResult, any, error) {
		result, err := m.surface.Invoke(ctx, name, toArgs(input))
		if err != nil {
			return nil, nil, err
		}
		if text, ok := result.(string); ok {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: text}},
			}, nil, nil
		}
		return nil, result, nil
	})
}

// structArgs converts a typed input to the surface's argument map through
// its JSON form, so omitted fields stay absent.
func structArgs(in any) Args {
	body, err := json.Marshal(in)
	if err != nil {
		panic(fmt.Sprintf("marshaling tool input: %v", err))
	}
	args := make(Args)
	if err := json.Unmarshal(body, &args); err != nil {
		panic(fmt.Sprintf("decoding tool input: %v", err))
	}
	return args
}
