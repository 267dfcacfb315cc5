package llm

import "strings"

// Token budget bounds and synthesis increments.
const (
	minCompletionTokens = 512
	maxCompletionTokens = 8192

	tokensPerSubQuery = 256
	tokensPerDoc      = 128

	// promptMargin is reserved for the prompt side of the context window.
	promptMargin = 2048

	// truncationRatio: a completion consuming at least this share of its
	// ceiling is a truncation candidate.
	truncationRatio = 0.95
)

// CompletionBudget derives the max completion tokens for a model from its
// context window, clamped to [512, 8192].
func CompletionBudget(contextWindow int) int {
	budget := contextWindow - promptMargin
	return clampTokens(budget)
}

// SynthesisBudget extends a base budget by the synthesis load: 256 tokens
// per sub-query answer and 128 per attached document, clamped to the same
// bounds.
func SynthesisBudget(base, subQueries, docs int) int {
	return clampTokens(base + subQueries*tokensPerSubQuery + docs*tokensPerDoc)
}

func clampTokens(n int) int {
	if n < minCompletionTokens {
		return minCompletionTokens
	}
	if n > maxCompletionTokens {
		return maxCompletionTokens
	}
	return n
}

// EstimateTokens approximates the token count of text (≈4 chars/token).
// Used only when the provider omits usage accounting.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Truncated reports whether a completion looks cut off: the last
// non-whitespace character is not sentence-terminal AND the completion
// consumed at least 95% of its token ceiling.
func Truncated(content string, completionTokens, ceiling int) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" || ceiling <= 0 {
		return false
	}
	if float64(completionTokens) < truncationRatio*float64(ceiling) {
		return false
	}
	last := trimmed[len(trimmed)-1]
	switch last {
	case '.', '!', '?', '"', '\'', '`', ')', ']', '}':
		return false
	}
	return true
}
