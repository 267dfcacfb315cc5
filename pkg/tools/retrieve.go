package tools

import (
	"context"
	"fmt"

	"github.com/parallax-research/parallax/pkg/research"
	"github.com/parallax-research/parallax/pkg/store"
)

// toolRetrieve is the combined retrieval entry point: hybrid index search or
// guarded read-only SQL.
func (s *Surface) toolRetrieve(ctx context.Context, args Args) (any, error) {
	switch mode := stringArg(args, "mode"); mode {
	case "", "index":
		return s.toolSearchIndex(ctx, args)
	case "sql":
		return s.executeSQL(ctx, args)
	default:
		return nil, research.NewValidationError("mode", "must be index or sql")
	}
}

// executeSQL runs one guarded SELECT through the store.
func (s *Surface) executeSQL(ctx context.Context, args Args) (any, error) {
	sql, err := requiredString(args, "sql")
	if err != nil {
		return nil, err
	}
	params, _ := args["params"].([]any)
	rows, err := s.store.ExecuteQuery(ctx, sql, params)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// toolSearchIndex runs a hybrid search over the index.
func (s *Surface) toolSearchIndex(ctx context.Context, args Args) (any, error) {
	if s.index == nil {
		return nil, research.NewValidationError("tool", "index is not configured")
	}
	query, err := requiredString(args, "query")
	if err != nil {
		return nil, err
	}
	k, err := intArg(args, "k", 10)
	if err != nil {
		return nil, err
	}

	results, err := s.index.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	if scope := stringArg(args, "scope"); scope != "" {
		kept := results[:0]
		for _, r := range results {
			if r.Document.SourceType == scope {
				kept = append(kept, r)
			}
		}
		results = kept
	}
	return results, nil
}

// toolIndexTexts indexes an array of documents (strings or {name, content}
// objects) and returns their document ids.
func (s *Surface) toolIndexTexts(ctx context.Context, args Args) (any, error) {
	if s.index == nil {
		return nil, research.NewValidationError("tool", "index is not configured")
	}
	docs, err := attachmentsArg(args, "docs", "text")
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, research.NewValidationError("docs", "required")
	}

	sourceType := stringArg(args, "scope")
	if sourceType == "" {
		sourceType = store.SourceTypeDoc
	}

	ids := make([]int64, 0, len(docs))
	for _, doc := range docs {
		id, err := s.index.IndexContent(ctx, sourceType, doc.Name, doc.Name, doc.Content)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return map[string]any{"indexed": len(ids), "doc_ids": ids}, nil
}

// toolIndexURL fetches a page and indexes its extracted text under the URL.
func (s *Surface) toolIndexURL(ctx context.Context, args Args) (any, error) {
	if s.index == nil {
		return nil, research.NewValidationError("tool", "index is not configured")
	}
	url, err := requiredString(args, "url")
	if err != nil {
		return nil, err
	}

	text, err := s.fetchText(ctx, url)
	if err != nil {
		return nil, err
	}
	id, err := s.index.IndexContent(ctx, store.SourceTypeDoc, url, url, text)
	if err != nil {
		return nil, err
	}
	return map[string]any{"doc_id": id, "chars": len(text)}, nil
}

// toolIndexStatus reports corpus-level index statistics.
func (s *Surface) toolIndexStatus(ctx context.Context, _ Args) (any, error) {
	stats, err := s.store.GetIndexStats(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"enabled":     s.index != nil && s.index.Enabled(),
		"doc_count":   stats.DocCount,
		"avg_doc_len": fmt.Sprintf("%.1f", stats.AvgDocLen),
	}, nil
}
