package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/parallax-research/parallax/pkg/research"
)

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe         = regexp.MustCompile(`(?s)<[^>]*>`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

// stripTags reduces an HTML body to whitespace-normalized text.
func stripTags(html string) string {
	text := scriptStyleRe.ReplaceAllString(html, " ")
	text = tagRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// fetchText GETs a URL with the configured size cap and returns the page's
// extracted, length-bounded text.
func (s *Surface) fetchText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", research.NewValidationError("url", err.Error())
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.FetchMaxBytes))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", url, err)
	}

	text := stripTags(string(body))
	if s.cfg.FetchMaxChars > 0 && len(text) > s.cfg.FetchMaxChars {
		text = text[:s.cfg.FetchMaxChars]
	}
	return text, nil
}

// toolFetchURL fetches one page and returns its extracted text.
func (s *Surface) toolFetchURL(ctx context.Context, args Args) (any, error) {
	url, err := requiredString(args, "url")
	if err != nil {
		return nil, err
	}
	text, err := s.fetchText(ctx, url)
	if err != nil {
		return nil, err
	}
	return map[string]any{"url": url, "text": text, "chars": len(text)}, nil
}

// toolSearchWeb posts the query to the configured search endpoint. Without
// one, a structured unavailability payload is returned instead of an error
// so research continues on internal sources.
func (s *Surface) toolSearchWeb(ctx context.Context, args Args) (any, error) {
	query, err := requiredString(args, "query")
	if err != nil {
		return nil, err
	}
	if s.provider.SearchEndpoint == "" {
		return map[string]any{
			"error":   "search unavailable",
			"message": "no search endpoint configured; use fetch_url or the local index",
		}, nil
	}
	k, err := intArg(args, "k", 5)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]any{"query": query, "k": k})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.provider.SearchEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.provider.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.provider.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search request: status %d", resp.StatusCode)
	}

	var results any
	if err := json.NewDecoder(io.LimitReader(resp.Body, s.cfg.FetchMaxBytes)).Decode(&results); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return results, nil
}
