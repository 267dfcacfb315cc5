package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/parallax-research/parallax/pkg/config"
	"github.com/parallax-research/parallax/pkg/embed"
	"github.com/parallax-research/parallax/pkg/llm"
	"github.com/parallax-research/parallax/pkg/store"
)

// SearchResult is one hybrid hit with its score breakdown.
type SearchResult struct {
	Document    *store.IndexDocument `json:"document"`
	Score       float64              `json:"score"`
	BM25Score   float64              `json:"bm25_score"`
	VectorScore float64              `json:"vector_score"`
}

// HybridIndex fuses lexical and vector retrieval over the store's index
// tables. The reranker is optional; when absent results keep fused order.
type HybridIndex struct {
	cfg      config.IndexConfig
	store    store.Store
	embedder embed.Embedder
	reranker llm.Completer
}

// New creates the hybrid index. embedder and reranker may be nil; either
// absence degrades the corresponding signal rather than failing searches.
func New(cfg config.IndexConfig, st store.Store, embedder embed.Embedder, reranker llm.Completer) *HybridIndex {
	return &HybridIndex{cfg: cfg, store: st, embedder: embedder, reranker: reranker}
}

// Enabled reports whether auto-indexing hooks should run.
func (h *HybridIndex) Enabled() bool { return h.cfg.Enabled }

// IndexContent tokenizes, embeds, and upserts one document. Content beyond
// the configured cap is truncated before indexing.
func (h *HybridIndex) IndexContent(ctx context.Context, sourceType, sourceID, title, content string) (int64, error) {
	if h.cfg.MaxContentChars > 0 && len(content) > h.cfg.MaxContentChars {
		content = content[:h.cfg.MaxContentChars]
	}

	tok := newTokenizer(h.cfg.Stopwords)
	freqs, docLen := tok.TermFreqs(title + " " + content)

	doc := &store.IndexDocument{
		SourceType: sourceType,
		SourceID:   sourceID,
		Title:      title,
		Content:    content,
		DocLen:     docLen,
		Embedding:  embed.TryEmbed(ctx, h.embedder, content),
	}
	id, err := h.store.UpsertIndexDocument(ctx, doc, freqs)
	if err != nil {
		return 0, fmt.Errorf("indexing %s/%s: %w", sourceType, sourceID, err)
	}
	return id, nil
}

// IndexReport indexes a saved research report under the report source type.
func (h *HybridIndex) IndexReport(ctx context.Context, r *store.Report) error {
	_, err := h.IndexContent(ctx, store.SourceTypeReport,
		strconv.FormatInt(r.ID, 10), r.Query, r.Query+"\n\n"+r.FinalReport)
	return err
}

// Search runs the hybrid query: BM25 over query-term postings, min-max
// normalized, fused with cosine similarity over document embeddings. Top
// vector hits of report type pad the candidate set so strong semantic
// matches surface even without lexical overlap.
func (h *HybridIndex) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	if k <= 0 {
		k = 10
	}
	tok := newTokenizer(h.cfg.Stopwords)
	terms := tok.QueryTerms(query)

	bm25 := make(map[int64]float64)
	if len(terms) > 0 {
		stats, err := h.store.GetIndexStats(ctx)
		if err != nil {
			return nil, err
		}
		dfs, err := h.store.GetTermDocFreqs(ctx, terms)
		if err != nil {
			return nil, err
		}
		postings, err := h.store.GetPostings(ctx, terms)
		if err != nil {
			return nil, err
		}

		docLens, err := h.docLens(ctx, postings)
		if err != nil {
			return nil, err
		}
		for _, p := range postings {
			bm25[p.DocID] += bm25Score(p.TF, dfs[p.Term], docLens[p.DocID],
				stats.AvgDocLen, stats.DocCount, h.cfg.BM25K1, h.cfg.BM25B)
		}
	}
	minMaxNormalize(bm25)

	vector := make(map[int64]float64)
	if queryVec := embed.TryEmbed(ctx, h.embedder, query); queryVec != nil {
		candidates := make([]int64, 0, len(bm25))
		for id := range bm25 {
			candidates = append(candidates, id)
		}
		sims, err := h.store.DocVectorSimilarities(ctx, queryVec, candidates)
		if err != nil {
			return nil, err
		}
		for id, sim := range sims {
			vector[id] = sim
		}

		// Pad with the strongest report-type vector hits.
		hits, err := h.store.FindDocsByVector(ctx, queryVec, k, store.SourceTypeReport)
		if err != nil {
			return nil, err
		}
		for _, hit := range hits {
			if _, ok := vector[hit.DocID]; !ok {
				vector[hit.DocID] = hit.Similarity
			}
		}
	}

	fused := make(map[int64]SearchResult)
	for id, s := range bm25 {
		fused[id] = SearchResult{BM25Score: s}
	}
	for id, s := range vector {
		r := fused[id]
		r.VectorScore = s
		fused[id] = r
	}

	results := make([]SearchResult, 0, len(fused))
	ids := make([]int64, 0, len(fused))
	for id, r := range fused {
		r.Score = h.cfg.WeightBM25*r.BM25Score + h.cfg.WeightVector*r.VectorScore
		results = append(results, r)
		ids = append(ids, id)
	}
	docs, err := h.store.GetIndexDocuments(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*store.IndexDocument, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	kept := results[:0]
	for i, id := range ids {
		if d, ok := byID[id]; ok {
			results[i].Document = d
			kept = append(kept, results[i])
		}
	}
	results = kept

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].Document.ID < results[j].Document.ID
		}
		return results[i].Score > results[j].Score
	})

	if h.cfg.RerankEnabled && h.reranker != nil && len(results) > 1 {
		results = h.rerank(ctx, query, results)
	}

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (h *HybridIndex) docLens(ctx context.Context, postings []store.Posting) (map[int64]int, error) {
	seen := make(map[int64]struct{}, len(postings))
	ids := make([]int64, 0, len(postings))
	for _, p := range postings {
		if _, ok := seen[p.DocID]; ok {
			continue
		}
		seen[p.DocID] = struct{}{}
		ids = append(ids, p.DocID)
	}
	docs, err := h.store.GetIndexDocuments(ctx, ids)
	if err != nil {
		return nil, err
	}
	lens := make(map[int64]int, len(docs))
	for _, d := range docs {
		lens[d.ID] = d.DocLen
	}
	return lens, nil
}

// rerank sends the top fused window to the rerank model and reorders by the
// returned index list. Any failure or malformed answer keeps fused order.
func (h *HybridIndex) rerank(ctx context.Context, query string, results []SearchResult) []SearchResult {
	window := min(h.cfg.RerankWindow, len(results))
	if window < 2 {
		return results
	}

	prompt := buildRerankPrompt(query, results[:window])
	resp, err := h.reranker.Complete(ctx, llm.CompletionRequest{
		Model:     h.cfg.RerankModel,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens: 512,
	})
	if err != nil {
		slog.Warn("Rerank call failed, keeping fused order", "error", err)
		return results
	}

	order := parseRerankOrder(resp.Content, window)
	if len(order) == 0 {
		return results
	}

	reordered := make([]SearchResult, 0, len(results))
	taken := make(map[int]struct{}, window)
	for _, idx := range order {
		reordered = append(reordered, results[idx])
		taken[idx] = struct{}{}
	}
	for i := range window {
		if _, ok := taken[i]; !ok {
			reordered = append(reordered, results[i])
		}
	}
	return append(reordered, results[window:]...)
}
