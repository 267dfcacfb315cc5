package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/parallax-research/parallax/pkg/config"
	"github.com/parallax-research/parallax/pkg/events"
	"github.com/parallax-research/parallax/pkg/llm"
)

// Researcher fans sub-queries out to model ensembles with bounded
// parallelism.
type Researcher struct {
	cfg       config.PipelineConfig
	completer llm.Completer
	router    *llm.Router
}

// NewResearcher creates a researcher.
func NewResearcher(cfg config.PipelineConfig, completer llm.Completer, router *llm.Router) *Researcher {
	return &Researcher{cfg: cfg, completer: completer, router: router}
}

type agentTask struct {
	agentIndex int
	subQuery   string
	model      string
}

// Run researches every sub-query in parallel (bounded by the configured
// parallelism), each with an ensemble of 2-3 models. A provider failure is
// captured on that agent's result and the stage continues; ensemble
// diversity is the fault tolerance, not retries. The stage only fails when
// no agent produced anything. startIndex keeps agent indices monotonic
// across refinement iterations; the next free index is returned.
func (r *Researcher) Run(ctx context.Context, req Request, plan *Plan, startIndex int, emitter Emitter) ([]AgentResult, int, error) {
	ensemble := r.router.EnsembleSize(r.cfg.EnsembleSize)
	tasks := r.assignModels(req, plan, ensemble, startIndex)

	results := make([]AgentResult, len(tasks))
	var mu sync.Mutex

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Parallelism)
	for i, t := range tasks {
		g.Go(func() error {
			emitter.Emit(groupCtx, events.AgentStarted{
				AgentIndex: t.agentIndex, SubQuery: t.subQuery, Model: t.model,
			})

			callCtx, cancel := context.WithTimeout(groupCtx, r.cfg.StageTimeout)
			defer cancel()

			budget := r.router.BudgetFor(t.model)
			resp, err := r.completer.Complete(callCtx, llm.CompletionRequest{
				Model:       t.model,
				Messages:    buildResearchPrompt(req, t.subQuery, r.cfg.DocSnippetChars),
				MaxTokens:   budget,
				Temperature: r.cfg.ResearchTemperature,
			})

			var result AgentResult
			if err != nil {
				slog.Warn("Research agent call failed",
					"agent_index", t.agentIndex, "model", t.model, "error", err)
				result = AgentResult{
					AgentIndex:   t.agentIndex,
					SubQuery:     t.subQuery,
					Model:        t.model,
					Failed:       true,
					ErrorMessage: err.Error(),
				}
			} else {
				result = AgentResult{
					AgentIndex: t.agentIndex,
					SubQuery:   t.subQuery,
					Model:      t.model,
					Content:    resp.Content,
					Usage:      resp.Usage,
					Truncated:  llm.Truncated(resp.Content, resp.Usage.CompletionTokens, budget),
				}
				emitter.Emit(groupCtx, events.AgentUsage{
					AgentIndex: t.agentIndex, Model: t.model, Usage: resp.Usage,
				})
			}
			mu.Lock()
			results[i] = result
			mu.Unlock()

			emitter.Emit(groupCtx, events.AgentCompleted{
				AgentIndex: t.agentIndex, SubQuery: t.subQuery,
				OK: !result.Failed, Truncated: result.Truncated,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, startIndex, err
	}

	succeeded := 0
	for _, res := range results {
		if !res.Failed {
			succeeded++
		}
	}
	if succeeded == 0 {
		return nil, startIndex, &ProviderError{
			Stage: "research",
			Cause: errors.New("every research agent failed"),
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].AgentIndex < results[j].AgentIndex
	})
	return mergeEnsembles(results, ensemble), startIndex + len(tasks), nil
}

// assignModels lays out the ensemble for each sub-query: round-robin
// within the tier (narrowed by the sub-query's domain when the catalog can),
// and for image-bearing requests at least one vision-capable member when
// the catalog knows one.
func (r *Researcher) assignModels(req Request, plan *Plan, ensemble, startIndex int) []agentTask {
	needsVision := req.HasImages()
	agentIndex := startIndex

	var tasks []agentTask
	for _, sq := range plan.SubQueries {
		group := make([]agentTask, ensemble)
		for member := range group {
			group[member] = agentTask{
				agentIndex: agentIndex,
				subQuery:   sq.Query,
				model:      r.router.ModelFor(req.Params.CostPreference, plan.Complexity, agentIndex, sq.Domain),
			}
			agentIndex++
		}
		if needsVision && !anyVision(r.router, group) {
			if vm := r.router.VisionModel(req.Params.CostPreference, plan.Complexity); vm != "" {
				group[len(group)-1].model = vm
			}
		}
		tasks = append(tasks, group...)
	}
	return tasks
}

func anyVision(router *llm.Router, group []agentTask) bool {
	for _, t := range group {
		if router.Vision(t.model) {
			return true
		}
	}
	return false
}

// mergeEnsembles folds each sub-query's ensemble answers into one finding.
// Successful answers are concatenated with member attribution so synthesis
// can weigh agreement and disagreement; usage is summed onto the merged
// finding. A group where every member failed stays a failed result with
// the members' messages joined.
func mergeEnsembles(results []AgentResult, ensemble int) []AgentResult {
	if ensemble <= 1 {
		return results
	}
	var merged []AgentResult
	for start := 0; start < len(results); start += ensemble {
		end := min(start+ensemble, len(results))
		group := results[start:end]

		var ok, failed []AgentResult
		for _, r := range group {
			if r.Failed {
				failed = append(failed, r)
			} else {
				ok = append(ok, r)
			}
		}

		if len(ok) == 0 {
			combined := group[0]
			messages := make([]string, len(failed))
			for i, r := range failed {
				messages[i] = r.Model + ": " + r.ErrorMessage
			}
			combined.ErrorMessage = strings.Join(messages, "; ")
			merged = append(merged, combined)
			continue
		}

		combined := ok[0]
		if len(ok) > 1 {
			var b strings.Builder
			models := make([]string, 0, len(ok))
			for i, r := range ok {
				if i > 0 {
					b.WriteString("\n\n")
				}
				fmt.Fprintf(&b, "[%s]\n%s", r.Model, r.Content)
				models = append(models, r.Model)
			}
			combined.Content = b.String()
			combined.Model = strings.Join(models, "+")
			for _, r := range ok[1:] {
				combined.Usage.Add(r.Usage)
				combined.Truncated = combined.Truncated || r.Truncated
			}
		}
		merged = append(merged, combined)
	}
	return merged
}
