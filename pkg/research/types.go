// Package research implements the three-stage pipeline: planning decomposes
// a query into sub-queries, bounded-parallel agent ensembles research them,
// and a streaming synthesis pass assembles the final report, with iterative
// refinement for harder queries.
package research

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/parallax-research/parallax/pkg/events"
	"github.com/parallax-research/parallax/pkg/llm"
	"github.com/parallax-research/parallax/pkg/store"
)

// Attachment kinds as supplied by the tool surface.
const (
	AttachmentDocument = "document"
	AttachmentData     = "data"
	AttachmentImage    = "image"
)

// Attachment is client-supplied context riding along with a request.
// Image attachments carry a reference or caption in Content; only
// vision-capable models receive them as image parts.
type Attachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	Kind    string `json:"kind,omitempty"`
}

// Fingerprint identifies the attachment content for cache keying.
func (a Attachment) Fingerprint() string {
	sum := sha256.Sum256([]byte(a.Name + "\x00" + a.Content))
	return hex.EncodeToString(sum[:8])
}

// Request is one normalized research request.
type Request struct {
	Query         string               `json:"query"`
	Params        store.ResearchParams `json:"params"`
	Attachments   []Attachment         `json:"attachments,omitempty"`
	ClientContext map[string]string    `json:"client_context,omitempty"`
}

// AttachmentFingerprints returns the fingerprints for cache keying.
func (r Request) AttachmentFingerprints() []string {
	if len(r.Attachments) == 0 {
		return nil
	}
	out := make([]string, len(r.Attachments))
	for i, a := range r.Attachments {
		out[i] = a.Fingerprint()
	}
	return out
}

// HasImages reports whether the request carries any image attachment.
func (r Request) HasImages() bool {
	for _, a := range r.Attachments {
		if a.Kind == AttachmentImage {
			return true
		}
	}
	return false
}

// SubQuery is one planned research angle. IDs are assigned by the pipeline
// and stay monotonic across refinement iterations.
type SubQuery struct {
	ID     int    `json:"id"`
	Query  string `json:"query"`
	Domain string `json:"domain,omitempty"`
}

// Plan is the planning stage artifact. Complete marks the plan_complete
// signal on refinement iterations: no further research is needed.
type Plan struct {
	SubQueries []SubQuery     `json:"sub_queries"`
	Complexity llm.Complexity `json:"complexity"`
	Complete   bool           `json:"complete,omitempty"`
}

// Queries returns the sub-query texts in plan order.
func (p *Plan) Queries() []string {
	out := make([]string, len(p.SubQueries))
	for i, sq := range p.SubQueries {
		out[i] = sq.Query
	}
	return out
}

// AgentResult is one research agent's answer to one sub-query. A provider
// failure is captured on the result instead of failing the stage: Failed is
// set, ErrorMessage explains, and Content stays empty.
type AgentResult struct {
	AgentIndex   int              `json:"agent_index"`
	SubQuery     string           `json:"sub_query"`
	Model        string           `json:"model"`
	Content      string           `json:"content"`
	Usage        store.TokenUsage `json:"usage"`
	Truncated    bool             `json:"truncated"`
	Failed       bool             `json:"error,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// Result is the pipeline outcome delivered to the caller. ReportID is zero
// and omitted when report persistence failed.
type Result struct {
	ReportID    int64                  `json:"report_id,omitempty"`
	Report      string                 `json:"report"`
	Metadata    store.ResearchMetadata `json:"metadata"`
	FromCache   bool                   `json:"from_cache"`
	CacheTier   string                 `json:"cache_tier,omitempty"`
	ArtifactURI string                 `json:"artifact_uri,omitempty"`
}

// Emitter receives pipeline progress. Implementations must be safe for
// concurrent use; the pipeline emits from parallel agents.
type Emitter interface {
	Emit(ctx context.Context, payload events.Payload)
	Progress(ctx context.Context, percent int, message string)
}

// nopEmitter discards everything; used when no job context exists.
type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, events.Payload)  {}
func (nopEmitter) Progress(context.Context, int, string) {}
