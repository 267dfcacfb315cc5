package index

import (
	"fmt"
	"strconv"
	"strings"
)

const rerankSnippetChars = 200

// buildRerankPrompt lists the window as numbered snippets and asks for a
// JSON array of zero-based indices, most relevant first.
func buildRerankPrompt(query string, window []SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rank the following documents by relevance to the query.\n\nQuery: %s\n\n", query)
	for i, r := range window {
		snippet := r.Document.Content
		if len(snippet) > rerankSnippetChars {
			snippet = snippet[:rerankSnippetChars]
		}
		fmt.Fprintf(&b, "[%d] %s: %s\n", i, r.Document.Title, snippet)
	}
	b.WriteString("\nRespond with only a JSON array of document indices, most relevant first, e.g. [2,0,1].")
	return b.String()
}

// parseRerankOrder extracts the index ordering from a model answer. The
// parse is lenient: any integer sequence in the text counts, out-of-range
// and duplicate indices are dropped.
func parseRerankOrder(answer string, window int) []int {
	var order []int
	seen := make(map[int]struct{})
	var digits strings.Builder

	flush := func() {
		if digits.Len() == 0 {
			return
		}
		idx, err := strconv.Atoi(digits.String())
		digits.Reset()
		if err != nil || idx < 0 || idx >= window {
			return
		}
		if _, dup := seen[idx]; dup {
			return
		}
		seen[idx] = struct{}{}
		order = append(order, idx)
	}

	for _, r := range answer {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return order
}
