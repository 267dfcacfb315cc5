package config

import "time"

// PipelineConfig controls the research pipeline: iteration bounds,
// parallelism, ensemble sizing, similarity floors, and token budgeting.
type PipelineConfig struct {
	// Parallelism caps concurrent sub-query execution per request.
	Parallelism int

	// EnsembleSize is the target number of models per sub-query,
	// clamped to [2, 3] at runtime.
	EnsembleSize int

	// MaxIterations is the plan→research cycle bound for moderate
	// complexity. Simple queries use 1; complex use MaxIterations+1.
	MaxIterations int

	// ContextSimilarityFloor gates prior reports injected into planning
	// context. Never lowered below 0.80.
	ContextSimilarityFloor float64

	// MaxPastReports caps how many prior related reports feed planning.
	MaxPastReports int

	// Token budget clamps for any LLM call.
	SynthesisMinTokens int
	SynthesisMaxTokens int
	TokensPerSubQuery  int
	TokensPerDoc       int

	// DocSnippetChars truncates attached text documents in prompts.
	DocSnippetChars int

	// ResearchTemperature is the sampling temperature for sub-query calls.
	ResearchTemperature float32

	// FactCheckEnabled runs the optional post-synthesis fact-check pass.
	FactCheckEnabled bool

	// ReportOutputPath is the directory for persisted report artifacts.
	ReportOutputPath string

	// StageTimeout bounds each individual LLM call.
	StageTimeout time.Duration
}

// DefaultPipelineConfig returns the built-in pipeline defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Parallelism:            4,
		EnsembleSize:           2,
		MaxIterations:          2,
		ContextSimilarityFloor: 0.80,
		MaxPastReports:         3,
		SynthesisMinTokens:     512,
		SynthesisMaxTokens:     8192,
		TokensPerSubQuery:      256,
		TokensPerDoc:           128,
		DocSnippetChars:        500,
		ResearchTemperature:    0.3,
		ReportOutputPath:       "./reports",
		StageTimeout:           5 * time.Minute,
	}
}

func (c *PipelineConfig) loadEnv() error {
	var err error
	if c.Parallelism, err = envInt("RESEARCH_PARALLELISM", c.Parallelism); err != nil {
		return err
	}
	if c.EnsembleSize, err = envInt("ENSEMBLE_SIZE", c.EnsembleSize); err != nil {
		return err
	}
	if c.MaxIterations, err = envInt("MAX_ITERATIONS", c.MaxIterations); err != nil {
		return err
	}
	if c.ContextSimilarityFloor, err = envFloat("CONTEXT_SIMILARITY_FLOOR", c.ContextSimilarityFloor); err != nil {
		return err
	}
	// The floor is a contamination guard: configured values below 0.80 are
	// clamped up, never honored.
	if c.ContextSimilarityFloor < 0.80 {
		c.ContextSimilarityFloor = 0.80
	}
	if c.MaxPastReports, err = envInt("MAX_PAST_REPORTS", c.MaxPastReports); err != nil {
		return err
	}
	if c.SynthesisMinTokens, err = envInt("SYNTHESIS_MIN_TOKENS", c.SynthesisMinTokens); err != nil {
		return err
	}
	if c.SynthesisMaxTokens, err = envInt("SYNTHESIS_MAX_TOKENS", c.SynthesisMaxTokens); err != nil {
		return err
	}
	c.FactCheckEnabled = envBool("FACT_CHECK_ENABLED", c.FactCheckEnabled)
	c.ReportOutputPath = envString("REPORT_OUTPUT_PATH", c.ReportOutputPath)
	if c.StageTimeout, err = envDuration("STAGE_TIMEOUT", c.StageTimeout); err != nil {
		return err
	}
	return nil
}
