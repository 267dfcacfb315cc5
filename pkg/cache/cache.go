// Package cache implements the two-tier answer cache: an exact tier keyed
// by a fingerprint of the normalized request, and a semantic tier matching
// on query-embedding cosine similarity. Both tiers share one TTL'd LRU.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parallax-research/parallax/pkg/config"
	"github.com/parallax-research/parallax/pkg/store"
)

// Entry is one cached research answer.
type Entry struct {
	Key       string
	Query     string
	Embedding []float32
	ReportID  int64
	Answer    string

	storedAt time.Time
}

// Cache is the process-wide answer cache. Entries expire after the TTL and
// the least recently used entry is evicted at capacity.
type Cache struct {
	cfg config.CacheConfig

	mu    sync.Mutex
	order *list.List // front = most recently used
	items map[string]*list.Element
}

// New creates an empty cache.
func New(cfg config.CacheConfig) *Cache {
	return &Cache{
		cfg:   cfg,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

// Key fingerprints a normalized request: query, parameters, and attachment
// fingerprints, hashed with SHA-256. Two requests with the same key are
// answer-equivalent.
func Key(query string, params store.ResearchParams, attachmentFingerprints []string) string {
	h := sha256.New()
	fmt.Fprintf(h, "q=%s|cost=%s|aud=%s|fmt=%s|src=%t|len=%d",
		strings.ToLower(strings.TrimSpace(query)),
		params.CostPreference, params.AudienceLevel, params.OutputFormat,
		params.IncludeSources, params.MaxLength)
	sorted := append([]string(nil), attachmentFingerprints...)
	sort.Strings(sorted)
	for _, fp := range sorted {
		fmt.Fprintf(h, "|att=%s", fp)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the exact-tier entry for key, if present and fresh.
func (c *Cache) Get(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*Entry)
	if c.expired(entry) {
		c.remove(el)
		return nil, false
	}
	c.order.MoveToFront(el)
	cp := *entry
	return &cp, true
}

// GetSemantic returns the freshest entry whose embedding clears the
// semantic floor against the query embedding, preferring the best match.
func (c *Cache) GetSemantic(embedding []float32) (*Entry, float64, bool) {
	if len(embedding) == 0 {
		return nil, 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		best    *list.Element
		bestSim float64
	)
	var stale []*list.Element
	for el := c.order.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*Entry)
		if c.expired(entry) {
			stale = append(stale, el)
			continue
		}
		if entry.Embedding == nil {
			continue
		}
		sim := store.CosineSimilarity(embedding, entry.Embedding)
		if sim >= c.cfg.SemanticFloor && sim > bestSim {
			best, bestSim = el, sim
		}
	}
	for _, el := range stale {
		c.remove(el)
	}
	if best == nil {
		return nil, 0, false
	}
	c.order.MoveToFront(best)
	cp := *best.Value.(*Entry)
	return &cp, bestSim, true
}

// Put stores an entry, replacing any entry with the same key and evicting
// the least recently used entry at capacity.
func (c *Cache) Put(entry Entry) {
	if c.cfg.Capacity <= 0 {
		return
	}
	entry.storedAt = time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[entry.Key]; ok {
		el.Value = &entry
		c.order.MoveToFront(el)
		return
	}
	for c.order.Len() >= c.cfg.Capacity {
		c.remove(c.order.Back())
	}
	c.items[entry.Key] = c.order.PushFront(&entry)
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) expired(entry *Entry) bool {
	return c.cfg.TTL > 0 && time.Since(entry.storedAt) > c.cfg.TTL
}

func (c *Cache) remove(el *list.Element) {
	if el == nil {
		return
	}
	entry := el.Value.(*Entry)
	delete(c.items, entry.Key)
	c.order.Remove(el)
}
