package research

import (
	"context"
	"strings"

	"github.com/parallax-research/parallax/pkg/config"
	"github.com/parallax-research/parallax/pkg/events"
	"github.com/parallax-research/parallax/pkg/llm"
	"github.com/parallax-research/parallax/pkg/store"
)

// Synthesizer assembles agent findings into the final report.
type Synthesizer struct {
	cfg       config.PipelineConfig
	completer llm.Completer
	router    *llm.Router
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(cfg config.PipelineConfig, completer llm.Completer, router *llm.Router) *Synthesizer {
	return &Synthesizer{cfg: cfg, completer: completer, router: router}
}

// synthesisOutcome carries the stage result plus its truncation verdict.
type synthesisOutcome struct {
	Report    string
	Model     string
	Usage     store.TokenUsage
	Truncated bool
}

// Synthesize streams the report, emitting one synthesis_token event per
// content delta. The token budget scales with the synthesis load.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request, results []AgentResult, past []store.SimilarReport, emitter Emitter) (*synthesisOutcome, error) {
	model := s.synthesisModel(req.Params.CostPreference)
	budget := llm.SynthesisBudget(s.router.BudgetFor(model), len(results), len(req.Attachments))

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.StageTimeout)
	defer cancel()

	resp, err := s.completer.StreamComplete(callCtx, llm.CompletionRequest{
		Model:     model,
		Messages:  buildSynthesisPrompt(req, results, past, s.cfg.DocSnippetChars),
		MaxTokens: budget,
	}, func(token string) {
		emitter.Emit(ctx, events.SynthesisToken{Token: token})
	})
	if err != nil {
		emitter.Emit(ctx, events.SynthesisError{Error: err.Error()})
		return nil, &ProviderError{Stage: "synthesis", Cause: err}
	}
	if strings.TrimSpace(resp.Content) == "" {
		emitter.Emit(ctx, events.SynthesisError{Error: "empty synthesis result"})
		return nil, &ProviderError{Stage: "synthesis", Cause: errEmptySynthesis}
	}

	emitter.Emit(ctx, events.SynthesisUsage{Model: model, Usage: resp.Usage})
	return &synthesisOutcome{
		Report:    resp.Content,
		Model:     model,
		Usage:     resp.Usage,
		Truncated: llm.Truncated(resp.Content, resp.Usage.CompletionTokens, budget),
	}, nil
}

// FactCheck runs the optional post-synthesis review pass. Failures return
// an empty annotation; the report ships without one.
func (s *Synthesizer) FactCheck(ctx context.Context, report string, results []AgentResult) (string, store.TokenUsage) {
	var findings strings.Builder
	for _, r := range results {
		findings.WriteString(resultText(r))
		findings.WriteString("\n\n")
	}
	resp, err := s.completer.Complete(ctx, llm.CompletionRequest{
		Model: s.router.ClassificationModel(),
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: factCheckPrompt},
			{Role: llm.RoleUser, Content: "Report:\n" + report + "\n\nFindings:\n" + findings.String()},
		},
		MaxTokens: 512,
	})
	if err != nil {
		return "", store.TokenUsage{}
	}
	return strings.TrimSpace(resp.Content), resp.Usage
}

func (s *Synthesizer) synthesisModel(costPreference string) string {
	tier := s.router.Tier(costPreference, llm.ComplexityModerate)
	if len(tier) == 0 {
		return s.router.ClassificationModel()
	}
	// Synthesis gets the strongest model of the tier.
	return tier[len(tier)-1]
}
