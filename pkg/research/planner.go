package research

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/parallax-research/parallax/pkg/config"
	"github.com/parallax-research/parallax/pkg/llm"
	"github.com/parallax-research/parallax/pkg/store"
)

// simpleWordBound: queries at or under this word count are candidates for
// the simple complexity class.
const simpleWordBound = 15

// Planner runs complexity assessment and query decomposition.
type Planner struct {
	cfg       config.PipelineConfig
	completer llm.Completer
	router    *llm.Router
}

// NewPlanner creates a planner.
func NewPlanner(cfg config.PipelineConfig, completer llm.Completer, router *llm.Router) *Planner {
	return &Planner{cfg: cfg, completer: completer, router: router}
}

// AssessComplexity classifies the query. Short queries are simple
// candidates; a classification call confirms the candidate or escalates to
// complex. Classification failures fall back to the heuristic candidate.
func (p *Planner) AssessComplexity(ctx context.Context, query string) (llm.Complexity, store.TokenUsage) {
	candidate := llm.ComplexityModerate
	if len(strings.Fields(query)) <= simpleWordBound {
		candidate = llm.ComplexitySimple
	}

	resp, err := p.completer.Complete(ctx, llm.CompletionRequest{
		Model: p.router.ClassificationModel(),
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: complexityPrompt},
			{Role: llm.RoleUser, Content: query},
		},
		MaxTokens: 8,
	})
	if err != nil {
		slog.Warn("Complexity classification failed, using heuristic",
			"candidate", candidate, "error", err)
		return candidate, store.TokenUsage{}
	}

	classified := llm.Complexity(strings.ToLower(strings.TrimSpace(resp.Content)))
	switch classified {
	case llm.ComplexityComplex:
		return llm.ComplexityComplex, resp.Usage
	case llm.ComplexitySimple:
		// Confirmation required: long queries never classify down to simple.
		if candidate == llm.ComplexitySimple {
			return llm.ComplexitySimple, resp.Usage
		}
		return llm.ComplexityModerate, resp.Usage
	default:
		return llm.ComplexityModerate, resp.Usage
	}
}

// Plan decomposes the query into sub-queries. prior carries the previous
// iterations' findings, empty on the first pass; with findings present the
// planner either fills gaps or signals completion. A first-pass artifact
// with no usable sub-queries is a hard PlanningError; on refinement passes
// it ends the loop instead. The returned plan's complexity is the stronger
// of the assessment and the planning artifact's own claim.
func (p *Planner) Plan(ctx context.Context, req Request, complexity llm.Complexity, past []store.SimilarReport, prior []AgentResult) (*Plan, store.TokenUsage, error) {
	resp, err := p.completer.Complete(ctx, llm.CompletionRequest{
		Model: p.router.ClassificationModel(),
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: planningSystemPrompt},
			{Role: llm.RoleUser, Content: buildPlanningPrompt(req, past, prior, p.cfg.DocSnippetChars)},
		},
		MaxTokens: 1024,
		JSONMode:  true,
	})
	if err != nil {
		return nil, store.TokenUsage{}, &ProviderError{Stage: "planning", Cause: err}
	}

	plan, parseErr := parsePlanArtifact(resp.Content)
	if parseErr != nil {
		if len(prior) > 0 {
			// The work already done stands; treat the bad refinement
			// artifact as plan_complete.
			slog.Warn("Refinement plan unparseable, ending iteration loop", "error", parseErr)
			return &Plan{Complete: true, Complexity: complexity}, resp.Usage, nil
		}
		return nil, resp.Usage, &PlanningError{Cause: parseErr}
	}
	if plan.Complete {
		if len(prior) == 0 {
			return nil, resp.Usage, &PlanningError{
				Cause: errors.New("plan_complete before any research"),
			}
		}
		plan.Complexity = complexity
		return plan, resp.Usage, nil
	}
	plan.Complexity = strongerComplexity(complexity, plan.Complexity)
	return plan, resp.Usage, nil
}

func strongerComplexity(a, b llm.Complexity) llm.Complexity {
	rank := map[llm.Complexity]int{
		llm.ComplexitySimple:   0,
		llm.ComplexityModerate: 1,
		llm.ComplexityComplex:  2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
