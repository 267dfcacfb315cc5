package llm

import "github.com/parallax-research/parallax/pkg/config"

// Complexity is the assessed difficulty class of a research query.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Cost preference values accepted by the research tools.
const (
	CostLow  = "low"
	CostHigh = "high"
)

// Ensemble size bounds per sub-query.
const (
	minEnsembleSize = 2
	maxEnsembleSize = 3
)

// Router selects models per sub-query from the configured cost tiers and
// derives iteration and ensemble bounds from the assessed complexity.
type Router struct {
	models  config.ModelsConfig
	catalog *Catalog
}

// NewRouter creates a router over the given tiers and catalog.
func NewRouter(models config.ModelsConfig, catalog *Catalog) *Router {
	return &Router{models: models, catalog: catalog}
}

// Tier returns the model list for a cost preference and complexity. Simple
// queries always use the very-low-cost tier regardless of preference.
func (r *Router) Tier(costPreference string, complexity Complexity) []string {
	if complexity == ComplexitySimple && len(r.models.VeryLowCost) > 0 {
		return r.models.VeryLowCost
	}
	if costPreference == CostHigh && len(r.models.HighCost) > 0 {
		return r.models.HighCost
	}
	return r.models.LowCost
}

// ModelFor round-robins within the tier by agent index so ensemble members
// of one sub-query land on different models when the tier allows. A
// sub-query domain narrows the rotation to the tier's domain-capable
// subset when the catalog knows one.
func (r *Router) ModelFor(costPreference string, complexity Complexity, agentIndex int, domain string) string {
	tier := r.Tier(costPreference, complexity)
	if len(tier) == 0 {
		return r.models.ClassificationModel
	}
	if matching := r.catalog.DomainModels(tier, domain); len(matching) > 0 {
		return matching[agentIndex%len(matching)]
	}
	return tier[agentIndex%len(tier)]
}

// Vision reports whether the catalog marks the model vision-capable.
func (r *Router) Vision(model string) bool {
	return r.catalog.Vision(model)
}

// VisionModel returns a vision-capable model for image-bearing requests,
// preferring the active tier over the rest of the catalog. Empty when no
// vision-capable model is known.
func (r *Router) VisionModel(costPreference string, complexity Complexity) string {
	for _, m := range r.Tier(costPreference, complexity) {
		if r.catalog.Vision(m) {
			return m
		}
	}
	for _, info := range r.catalog.Models() {
		if info.Vision {
			return info.ID
		}
	}
	return ""
}

// EnsembleSize clamps the configured ensemble size to [2, 3].
func (r *Router) EnsembleSize(requested int) int {
	if requested < minEnsembleSize {
		return minEnsembleSize
	}
	if requested > maxEnsembleSize {
		return maxEnsembleSize
	}
	return requested
}

// MaxIterations maps complexity to the refinement iteration bound: simple
// runs once, moderate uses the configured default, complex gets one extra.
func (r *Router) MaxIterations(complexity Complexity, configuredDefault int) int {
	if configuredDefault < 1 {
		configuredDefault = 1
	}
	switch complexity {
	case ComplexitySimple:
		return 1
	case ComplexityComplex:
		return configuredDefault + 1
	default:
		return configuredDefault
	}
}

// ClassificationModel returns the model for short classification calls.
func (r *Router) ClassificationModel() string {
	return r.models.ClassificationModel
}

// BudgetFor derives the completion token ceiling for a model.
func (r *Router) BudgetFor(model string) int {
	return CompletionBudget(r.catalog.ContextWindow(model))
}
