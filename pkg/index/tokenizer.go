// Package index implements hybrid retrieval over the store's index tables:
// BM25 over an inverted posting list fused with cosine similarity over
// document embeddings, with an optional LLM rerank of the top window.
package index

import (
	"strings"
	"unicode"
)

// tokenizer lowercases, splits on non-alphanumerics, and drops stopwords
// and single-character fragments. Both indexing and query parsing use it so
// term surfaces always agree.
type tokenizer struct {
	stopwords map[string]struct{}
}

func newTokenizer(stopwords []string) *tokenizer {
	set := make(map[string]struct{}, len(stopwords))
	for _, w := range stopwords {
		set[strings.ToLower(w)] = struct{}{}
	}
	return &tokenizer{stopwords: set}
}

// Tokenize returns the term stream of text in order, duplicates included.
func (t *tokenizer) Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := fields[:0]
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := t.stopwords[f]; stop {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// TermFreqs folds a term stream into term→count.
func (t *tokenizer) TermFreqs(text string) (map[string]int, int) {
	terms := t.Tokenize(text)
	freqs := make(map[string]int, len(terms))
	for _, term := range terms {
		freqs[term]++
	}
	return freqs, len(terms)
}

// QueryTerms returns the deduplicated query terms in first-seen order.
func (t *tokenizer) QueryTerms(query string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, term := range t.Tokenize(query) {
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return out
}
