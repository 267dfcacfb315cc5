package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/parallax-research/parallax/pkg/research"
	"github.com/parallax-research/parallax/pkg/store"
)

// toolGetReport returns a stored report in one of four modes: the full text,
// a character-bounded prefix, a summary, or a query-relevant extraction.
func (s *Surface) toolGetReport(ctx context.Context, args Args) (any, error) {
	reportID, err := int64Arg(args, "reportId", 0)
	if err != nil {
		return nil, err
	}
	if reportID <= 0 {
		return nil, research.NewValidationError("reportId", "required")
	}

	report, err := s.store.GetReportByID(ctx, reportID)
	if err != nil {
		return nil, err
	}

	switch mode := stringArg(args, "mode"); mode {
	case "", "full":
		return report.FinalReport, nil

	case "truncate":
		maxChars, err := intArg(args, "maxChars", 2000)
		if err != nil {
			return nil, err
		}
		text := report.FinalReport
		if maxChars > 0 && len(text) > maxChars {
			text = text[:maxChars] + "…"
		}
		return text, nil

	case "summary":
		return map[string]any{
			"report_id":       report.ID,
			"query":           report.Query,
			"created_at":      report.CreatedAt,
			"metadata":        report.Metadata,
			"first_paragraph": firstParagraph(report.FinalReport),
		}, nil

	case "smart":
		query := stringArg(args, "query")
		if query == "" {
			query = report.Query
		}
		maxChars, err := intArg(args, "maxChars", 2000)
		if err != nil {
			return nil, err
		}
		return smartExtract(report.FinalReport, query, maxChars), nil

	default:
		return nil, research.NewValidationError("mode", "must be full, truncate, summary, or smart")
	}
}

// toolListHistory returns a human-readable recent-report listing.
func (s *Surface) toolListHistory(ctx context.Context, args Args) (any, error) {
	limit, err := intArg(args, "limit", 10)
	if err != nil {
		return nil, err
	}
	reports, err := s.store.ListRecentReports(ctx, limit, stringArg(args, "queryFilter"))
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return "no reports found", nil
	}

	var b strings.Builder
	for _, r := range reports {
		fmt.Fprintf(&b, "#%d  %s  %q  (%d iterations, %d tokens)\n",
			r.ID, r.CreatedAt.Format("2006-01-02 15:04"), r.Query,
			r.Metadata.Iterations, r.Metadata.Usage.TotalTokens)
	}
	return b.String(), nil
}

// toolRateReport appends a feedback entry to a report.
func (s *Surface) toolRateReport(ctx context.Context, args Args) (any, error) {
	reportID, err := int64Arg(args, "reportId", 0)
	if err != nil {
		return nil, err
	}
	if reportID <= 0 {
		return nil, research.NewValidationError("reportId", "required")
	}
	rating, err := intArg(args, "rating", 0)
	if err != nil {
		return nil, err
	}
	if rating < 1 || rating > 5 {
		return nil, research.NewValidationError("rating", "must be between 1 and 5")
	}

	if err := s.store.AddFeedback(ctx, reportID, newFeedback(rating, stringArg(args, "comment"))); err != nil {
		return nil, err
	}
	return map[string]any{"recorded": true}, nil
}

func newFeedback(rating int, comment string) store.Feedback {
	return store.Feedback{Rating: rating, Comment: comment, CreatedAt: time.Now().UTC()}
}

func firstParagraph(text string) string {
	for _, para := range strings.Split(text, "\n\n") {
		if trimmed := strings.TrimSpace(para); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// smartExtract returns the paragraphs most relevant to the query, ranked by
// distinct query-term overlap and re-emitted in document order up to
// maxChars.
func smartExtract(text, query string, maxChars int) string {
	paragraphs := strings.Split(text, "\n\n")
	terms := make(map[string]struct{})
	for _, t := range strings.Fields(strings.ToLower(query)) {
		if len(t) >= 2 {
			terms[t] = struct{}{}
		}
	}

	type scored struct {
		position int
		overlap  int
		text     string
	}
	var ranked []scored
	for i, para := range paragraphs {
		trimmed := strings.TrimSpace(para)
		if trimmed == "" {
			continue
		}
		seen := make(map[string]struct{})
		for _, w := range strings.Fields(strings.ToLower(trimmed)) {
			w = strings.Trim(w, ".,;:!?()[]\"'")
			if _, isTerm := terms[w]; isTerm {
				seen[w] = struct{}{}
			}
		}
		ranked = append(ranked, scored{position: i, overlap: len(seen), text: trimmed})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].overlap > ranked[j].overlap
	})

	var picked []scored
	total := 0
	for _, p := range ranked {
		if maxChars > 0 && total+len(p.text) > maxChars && len(picked) > 0 {
			continue
		}
		picked = append(picked, p)
		total += len(p.text)
		if maxChars > 0 && total >= maxChars {
			break
		}
	}
	sort.Slice(picked, func(i, j int) bool { return picked[i].position < picked[j].position })

	parts := make([]string, len(picked))
	for i, p := range picked {
		parts[i] = p.text
	}
	return strings.Join(parts, "\n\n")
}
