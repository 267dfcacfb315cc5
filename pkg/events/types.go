// Package events defines the job event vocabulary, the durable-log
// publisher, and the in-process broadcaster that fans events out to SSE
// subscribers. The event log in the store is the source of truth; the
// broadcaster only accelerates delivery for connected clients.
package events

import "github.com/parallax-research/parallax/pkg/store"

// The closed set of job event types. Consumers must tolerate unknown types
// for forward compatibility, but producers emit only these.
const (
	TypeSubmitted      = "submitted"
	TypeUIHint         = "ui_hint"
	TypeClientContext  = "client_context"
	TypePlanningUsage  = "planning_usage"
	TypeAgentStarted   = "agent_started"
	TypeAgentUsage     = "agent_usage"
	TypeAgentCompleted = "agent_completed"
	TypeSynthesisToken = "synthesis_token"
	TypeSynthesisUsage = "synthesis_usage"
	TypeSynthesisError = "synthesis_error"
	TypeReportSaved    = "report_saved"
	TypeJobStatus      = "job_status"
)

// Payload is a typed event body that knows its event type.
type Payload interface {
	EventType() string
}

// Submitted announces job acceptance.
type Submitted struct {
	Query string `json:"query"`
}

func (Submitted) EventType() string { return TypeSubmitted }

// UIHint carries presentation hints for streaming clients.
type UIHint struct {
	Hint string `json:"hint"`
}

func (UIHint) EventType() string { return TypeUIHint }

// ClientContext echoes request context back to the stream.
type ClientContext struct {
	Context map[string]string `json:"context"`
}

func (ClientContext) EventType() string { return TypeClientContext }

// PlanningUsage reports the planning stage outcome.
type PlanningUsage struct {
	SubQueries []string         `json:"sub_queries"`
	Complexity string           `json:"complexity"`
	Usage      store.TokenUsage `json:"usage"`
}

func (PlanningUsage) EventType() string { return TypePlanningUsage }

// AgentStarted marks one research agent beginning work.
type AgentStarted struct {
	AgentIndex int    `json:"agent_index"`
	SubQuery   string `json:"sub_query"`
	Model      string `json:"model"`
}

func (AgentStarted) EventType() string { return TypeAgentStarted }

// AgentUsage reports one agent's token spend.
type AgentUsage struct {
	AgentIndex int              `json:"agent_index"`
	Model      string           `json:"model"`
	Usage      store.TokenUsage `json:"usage"`
}

func (AgentUsage) EventType() string { return TypeAgentUsage }

// AgentCompleted marks one research agent finishing. OK is false when the
// provider call failed and the failure was captured on the agent's result.
type AgentCompleted struct {
	AgentIndex int    `json:"agent_index"`
	SubQuery   string `json:"sub_query"`
	OK         bool   `json:"ok"`
	Truncated  bool   `json:"truncated,omitempty"`
}

func (AgentCompleted) EventType() string { return TypeAgentCompleted }

// SynthesisToken streams one synthesis content delta.
type SynthesisToken struct {
	Token string `json:"token"`
}

func (SynthesisToken) EventType() string { return TypeSynthesisToken }

// SynthesisUsage reports the synthesis stage token spend.
type SynthesisUsage struct {
	Model string           `json:"model"`
	Usage store.TokenUsage `json:"usage"`
}

func (SynthesisUsage) EventType() string { return TypeSynthesisUsage }

// SynthesisError reports a synthesis failure before the job fails.
type SynthesisError struct {
	Error string `json:"error"`
}

func (SynthesisError) EventType() string { return TypeSynthesisError }

// ReportSaved announces the persisted report id.
type ReportSaved struct {
	ReportID int64  `json:"report_id"`
	Path     string `json:"path,omitempty"`
}

func (ReportSaved) EventType() string { return TypeReportSaved }

// JobStatus reports a job state or progress change.
type JobStatus struct {
	Status  store.JobStatus `json:"status"`
	Percent int             `json:"percent"`
	Message string          `json:"message,omitempty"`
}

func (JobStatus) EventType() string { return TypeJobStatus }
