package research

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/parallax-research/parallax/pkg/llm"
	"github.com/parallax-research/parallax/pkg/store"
)

const planningSystemPrompt = `You are a research planner. Decompose the user's query into focused,
independently researchable sub-queries. Respond with only a JSON object:
{"sub_queries": [{"query": "...", "domain": "..."}], "complexity": "simple|moderate|complex"}
The domain field is optional (for example "software", "medicine", "finance").
Use 1 sub-query for simple lookups, 2-4 for moderate questions, and up to 6
for broad or multi-faceted topics. Prefer official and primary sources, and
bias sub-queries toward verifying claims over restating them. Downstream
answers must cite URLs and label anything unverifiable as [Unverified].
Never fabricate identifiers, package names, or URLs.`

// planningRefinementInstruction switches the planner into refinement mode:
// prior findings are in the prompt and the planner decides between more
// sub-queries and the plan_complete signal.
const planningRefinementInstruction = `Findings from the previous research pass are included above. Either emit
additional sub-queries that fill concrete gaps in those findings, or respond
with only {"plan_complete": true} when they already cover the query.`

const complexityPrompt = `Classify the research query's complexity as exactly one word:
simple (single factual lookup), moderate (needs a few angles), or complex
(broad, multi-faceted, or requires deep synthesis).`

func buildPlanningPrompt(req Request, past []store.SimilarReport, prior []AgentResult, snippetChars int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n", req.Query)
	fmt.Fprintf(&b, "Audience: %s\n", req.Params.AudienceLevel)

	for _, a := range req.Attachments {
		fmt.Fprintf(&b, "\nAttached context %q:\n%s\n", a.Name, snippet(a.Content, snippetChars))
	}
	for _, p := range past {
		fmt.Fprintf(&b, "\nRelated past report #%d (%q, similarity %.2f):\n%s\n",
			p.Report.ID, p.Report.Query, p.Similarity,
			snippet(p.Report.FinalReport, snippetChars))
	}
	if len(prior) > 0 {
		b.WriteString("\nPrevious research findings:\n")
		for _, r := range prior {
			fmt.Fprintf(&b, "\n[%d] %s:\n%s\n", r.AgentIndex, r.SubQuery,
				snippet(resultText(r), snippetChars))
		}
		b.WriteString("\n" + planningRefinementInstruction + "\n")
	}
	return b.String()
}

func buildResearchPrompt(req Request, subQuery string, snippetChars int) []llm.Message {
	system := fmt.Sprintf(`You are a research agent answering one focused sub-question as part of a
larger research effort. Be factual and concise. Write for a %s audience.
Prefer official and primary sources. Cite every source you rely on as
[Source: Title — https://full-url] and label claims you cannot source as
[Unverified]. Never fabricate identifiers, package names, or URLs.`,
		req.Params.AudienceLevel)

	var b strings.Builder
	fmt.Fprintf(&b, "Overall research query: %s\n\nYour sub-question: %s\n", req.Query, subQuery)
	for _, a := range req.Attachments {
		fmt.Fprintf(&b, "\nAttached context %q:\n%s\n", a.Name, snippet(a.Content, snippetChars))
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

func buildSynthesisPrompt(req Request, results []AgentResult, past []store.SimilarReport, snippetChars int) []llm.Message {
	format := "a well-structured markdown report"
	switch req.Params.OutputFormat {
	case "summary":
		format = "a concise prose summary"
	case "bullet_points":
		format = "a structured bullet-point briefing"
	}
	system := fmt.Sprintf(`You are a research editor. Synthesize the agent findings below into %s
for a %s audience. Integrate every sub-query's findings and open with a
per-sub-query status list (success or failure). Call out consensus and
contradictions between the models that researched the same sub-query.
Cite every factual claim as [Source: Title — https://full-url]; label
unsourced claims [Unverified]. Attach a High, Medium, or Low confidence
marker to each significant claim. Do not invent facts beyond the
findings.`, format, req.Params.AudienceLevel)

	var b strings.Builder
	fmt.Fprintf(&b, "Research query: %s\n", req.Query)
	if req.Params.IncludeSources {
		b.WriteString("Cite which sub-question each claim came from.\n")
	}
	if req.Params.MaxLength > 0 {
		fmt.Fprintf(&b, "Keep the result under roughly %d words.\n", req.Params.MaxLength)
	}
	for _, r := range results {
		status := "success"
		if r.Failed {
			status = "failure: " + r.ErrorMessage
		}
		fmt.Fprintf(&b, "\n--- Finding for %q (agent %d, %s, %s):\n%s\n",
			r.SubQuery, r.AgentIndex, r.Model, status, resultText(r))
	}
	for _, p := range past {
		fmt.Fprintf(&b, "\n--- Related past report #%d:\n%s\n",
			p.Report.ID, snippet(p.Report.FinalReport, snippetChars))
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

const factCheckPrompt = `Review the report below for claims that look unsupported or dubious given
the agent findings it was synthesized from. Respond with a short annotation
listing any such claims, or "No issues found."`

// resultText is the prompt body for one finding; failed results contribute
// their failure note instead of content.
func resultText(r AgentResult) string {
	if r.Failed {
		return "(no result: " + r.ErrorMessage + ")"
	}
	return r.Content
}

// snippet truncates s for prompt inclusion.
func snippet(s string, limit int) string {
	if limit > 0 && len(s) > limit {
		return s[:limit] + "…"
	}
	return s
}

// parsePlanArtifact extracts the planning JSON from a model answer. The
// parse is lenient: the first {...} span is decoded, sub-queries may be
// plain strings or {query, domain} objects, duplicates and blanks are
// dropped, and a missing complexity defaults to moderate. A plan_complete
// artifact parses into an empty Plan with Complete set.
func parsePlanArtifact(answer string) (*Plan, error) {
	start := strings.Index(answer, "{")
	end := strings.LastIndex(answer, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in planning answer")
	}

	var raw struct {
		SubQueries   []json.RawMessage `json:"sub_queries"`
		Complexity   string            `json:"complexity"`
		PlanComplete bool              `json:"plan_complete"`
	}
	if err := json.Unmarshal([]byte(answer[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("decoding planning artifact: %w", err)
	}
	if raw.PlanComplete {
		return &Plan{Complete: true}, nil
	}

	plan := &Plan{Complexity: llm.ComplexityModerate}
	seen := make(map[string]struct{})
	for _, elem := range raw.SubQueries {
		sq, err := parseSubQuery(elem)
		if err != nil {
			return nil, err
		}
		if sq.Query == "" {
			continue
		}
		if _, dup := seen[strings.ToLower(sq.Query)]; dup {
			continue
		}
		seen[strings.ToLower(sq.Query)] = struct{}{}
		plan.SubQueries = append(plan.SubQueries, sq)
	}
	if len(plan.SubQueries) == 0 {
		return nil, fmt.Errorf("planning artifact has no sub-queries")
	}
	switch llm.Complexity(strings.ToLower(raw.Complexity)) {
	case llm.ComplexitySimple:
		plan.Complexity = llm.ComplexitySimple
	case llm.ComplexityComplex:
		plan.Complexity = llm.ComplexityComplex
	}
	return plan, nil
}

// parseSubQuery accepts either the bare string or the object form of one
// sub-query element.
func parseSubQuery(elem json.RawMessage) (SubQuery, error) {
	var s string
	if err := json.Unmarshal(elem, &s); err == nil {
		return SubQuery{Query: strings.TrimSpace(s)}, nil
	}
	var obj struct {
		Query  string `json:"query"`
		Domain string `json:"domain"`
	}
	if err := json.Unmarshal(elem, &obj); err != nil {
		return SubQuery{}, fmt.Errorf("decoding sub-query element: %w", err)
	}
	return SubQuery{
		Query:  strings.TrimSpace(obj.Query),
		Domain: strings.ToLower(strings.TrimSpace(obj.Domain)),
	}, nil
}
