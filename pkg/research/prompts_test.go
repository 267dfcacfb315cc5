package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-research/parallax/pkg/store"
)

func TestPlanningPromptInvariants(t *testing.T) {
	assert.Contains(t, planningSystemPrompt, "official and primary sources")
	assert.Contains(t, planningSystemPrompt, "verifying claims")
	assert.Contains(t, planningSystemPrompt, "[Unverified]")
	assert.Contains(t, planningSystemPrompt, "Never fabricate identifiers, package names, or URLs")
}

func TestPlanningPromptRefinementMode(t *testing.T) {
	req := Request{Query: "q", Params: store.ResearchParams{AudienceLevel: "expert"}}

	first := buildPlanningPrompt(req, nil, nil, 500)
	assert.NotContains(t, first, "plan_complete")

	prior := []AgentResult{
		{AgentIndex: 0, SubQuery: "angle one", Content: "what we learned"},
		{AgentIndex: 1, SubQuery: "angle two", Failed: true, ErrorMessage: "timed out"},
	}
	refinement := buildPlanningPrompt(req, nil, prior, 500)
	assert.Contains(t, refinement, "Previous research findings")
	assert.Contains(t, refinement, "what we learned")
	assert.Contains(t, refinement, "timed out")
	assert.Contains(t, refinement, `{"plan_complete": true}`)
}

func TestResearchPromptInvariants(t *testing.T) {
	msgs := buildResearchPrompt(Request{
		Query:  "q",
		Params: store.ResearchParams{AudienceLevel: "beginner"},
	}, "sub", 500)
	require.Len(t, msgs, 2)

	system := msgs[0].Content
	assert.Contains(t, system, "[Source: Title — https://full-url]")
	assert.Contains(t, system, "[Unverified]")
	assert.Contains(t, system, "official and primary sources")
	assert.Contains(t, system, "Never fabricate identifiers, package names, or URLs")
	assert.Contains(t, system, "beginner audience")
}

func TestSynthesisPromptInvariants(t *testing.T) {
	results := []AgentResult{
		{AgentIndex: 0, SubQuery: "angle one", Model: "m1", Content: "finding one"},
		{AgentIndex: 1, SubQuery: "angle two", Model: "m2", Failed: true, ErrorMessage: "provider down"},
	}
	msgs := buildSynthesisPrompt(Request{
		Query:  "q",
		Params: store.ResearchParams{AudienceLevel: "expert", OutputFormat: "report"},
	}, results, nil, 500)
	require.Len(t, msgs, 2)

	system := msgs[0].Content
	assert.Contains(t, system, "per-sub-query status list")
	assert.Contains(t, system, "consensus")
	assert.Contains(t, system, "contradictions")
	assert.Contains(t, system, "[Source: Title — https://full-url]")
	assert.Contains(t, system, "[Unverified]")
	assert.Contains(t, system, "High, Medium, or Low confidence")

	user := msgs[1].Content
	assert.Contains(t, user, "success")
	assert.Contains(t, user, "failure: provider down")
	assert.Contains(t, user, "finding one")
	assert.Contains(t, user, "(no result: provider down)")
}
