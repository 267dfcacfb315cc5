package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parallax-research/parallax/pkg/config"
)

// defaultContextWindow is assumed for models absent from the catalog.
const defaultContextWindow = 16384

// builtinModels seeds the catalog for the default model tiers so the
// router works before (or without) a catalog fetch.
var builtinModels = []ModelInfo{
	{ID: "gpt-4o", ContextWindow: 128000, Vision: true},
	{ID: "gpt-4o-mini", ContextWindow: 128000, Vision: true},
	{ID: "o3-mini", ContextWindow: 200000},
}

// ModelInfo is one catalog entry: the model id plus its capability set.
type ModelInfo struct {
	ID            string   `json:"id"`
	ContextWindow int      `json:"context_window"`
	Domains       []string `json:"domains,omitempty"`
	Vision        bool     `json:"vision,omitempty"`
	LongContext   bool     `json:"long_context,omitempty"`
}

// ServesDomain reports whether the entry's capability set lists the domain.
func (m ModelInfo) ServesDomain(domain string) bool {
	for _, d := range m.Domains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}

// Catalog serves per-model capability entries, refreshed periodically from a
// configured catalog endpoint. All lookups are served from memory.
type Catalog struct {
	cfg        config.ModelsConfig
	httpClient *http.Client

	mu      sync.RWMutex
	entries map[string]ModelInfo
}

// NewCatalog creates a catalog seeded with the builtin entries.
func NewCatalog(cfg config.ModelsConfig) *Catalog {
	entries := make(map[string]ModelInfo, len(builtinModels))
	for _, m := range builtinModels {
		entries[m.ID] = m
	}
	return &Catalog{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		entries:    entries,
	}
}

// Start launches the periodic refresh loop. A missing catalog URL disables
// refresh entirely; fetch failures keep the last good data.
func (c *Catalog) Start(ctx context.Context) {
	if c.cfg.CatalogURL == "" {
		return
	}
	if err := c.Refresh(ctx); err != nil {
		slog.Warn("Initial model catalog fetch failed", "error", err)
	}
	go func() {
		ticker := time.NewTicker(c.cfg.CatalogRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					slog.Warn("Model catalog refresh failed", "error", err)
				}
			}
		}
	}()
}

// Refresh fetches the catalog once and merges it over the current data.
func (c *Catalog) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.CatalogURL, nil)
	if err != nil {
		return fmt.Errorf("building catalog request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching model catalog: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching model catalog: status %d", resp.StatusCode)
	}

	var payload struct {
		Models []ModelInfo `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decoding model catalog: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range payload.Models {
		if m.ID == "" {
			continue
		}
		entry := c.entries[m.ID]
		entry.ID = m.ID
		if m.ContextWindow > 0 {
			entry.ContextWindow = m.ContextWindow
		}
		if len(m.Domains) > 0 {
			entry.Domains = m.Domains
		}
		entry.Vision = entry.Vision || m.Vision
		entry.LongContext = entry.LongContext || m.LongContext
		c.entries[m.ID] = entry
	}
	slog.Info("Model catalog refreshed", "models", len(payload.Models))
	return nil
}

// Models lists the catalog's current entries sorted by id.
func (c *Catalog) Models() []ModelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ModelInfo, 0, len(c.entries))
	for _, m := range c.entries {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ContextWindow returns the model's context window, defaulting when unknown.
func (c *Catalog) ContextWindow(model string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[model]; ok && e.ContextWindow > 0 {
		return e.ContextWindow
	}
	return defaultContextWindow
}

// Vision reports whether the model is known to accept image input.
func (c *Catalog) Vision(model string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[model].Vision
}

// DomainModels filters candidates down to the ones whose capability set
// lists the domain, preserving order.
func (c *Catalog) DomainModels(candidates []string, domain string) []string {
	if domain == "" {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for _, id := range candidates {
		if c.entries[id].ServesDomain(domain) {
			out = append(out, id)
		}
	}
	return out
}
