package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-research/parallax/pkg/config"
	"github.com/parallax-research/parallax/pkg/store"
)

func TestKey(t *testing.T) {
	params := store.ResearchParams{CostPreference: "low", AudienceLevel: "expert"}

	t.Run("query normalization", func(t *testing.T) {
		assert.Equal(t,
			Key("  What Is Raft? ", params, nil),
			Key("what is raft?", params, nil))
	})

	t.Run("params are significant", func(t *testing.T) {
		other := params
		other.CostPreference = "high"
		assert.NotEqual(t, Key("q", params, nil), Key("q", other, nil))
	})

	t.Run("attachment order is insignificant", func(t *testing.T) {
		assert.Equal(t,
			Key("q", params, []string{"fp-a", "fp-b"}),
			Key("q", params, []string{"fp-b", "fp-a"}))
		assert.NotEqual(t,
			Key("q", params, []string{"fp-a"}),
			Key("q", params, nil))
	})
}

func TestCacheExactTier(t *testing.T) {
	c := New(config.DefaultCacheConfig())

	entry := Entry{Key: "k1", Query: "q", Answer: "a", ReportID: 7}
	c.Put(entry)

	got, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "a", got.Answer)
	assert.Equal(t, int64(7), got.ReportID)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCacheTTL(t *testing.T) {
	cfg := config.DefaultCacheConfig()
	cfg.TTL = 10 * time.Millisecond
	c := New(cfg)

	c.Put(Entry{Key: "k1", Answer: "a"})
	_, ok := c.Get("k1")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("k1")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestCacheLRUEviction(t *testing.T) {
	cfg := config.DefaultCacheConfig()
	cfg.Capacity = 2
	c := New(cfg)

	c.Put(Entry{Key: "a", Answer: "1"})
	c.Put(Entry{Key: "b", Answer: "2"})

	// touch "a" so "b" becomes the eviction victim
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put(Entry{Key: "c", Answer: "3"})
	assert.Equal(t, 2, c.Len())

	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestCacheSemanticTier(t *testing.T) {
	c := New(config.DefaultCacheConfig())

	c.Put(Entry{Key: "a", Query: "raft consensus", Answer: "raft answer",
		Embedding: []float32{1, 0, 0}})
	c.Put(Entry{Key: "b", Query: "paxos", Answer: "paxos answer",
		Embedding: []float32{0, 1, 0}})
	c.Put(Entry{Key: "c", Query: "no vector", Answer: "x"})

	t.Run("best match above floor", func(t *testing.T) {
		entry, sim, ok := c.GetSemantic([]float32{0.99, 0.14, 0})
		require.True(t, ok)
		assert.Equal(t, "raft answer", entry.Answer)
		assert.GreaterOrEqual(t, sim, 0.85)
	})

	t.Run("below floor misses", func(t *testing.T) {
		_, _, ok := c.GetSemantic([]float32{0.6, 0.6, 0.52})
		assert.False(t, ok)
	})

	t.Run("nil embedding misses", func(t *testing.T) {
		_, _, ok := c.GetSemantic(nil)
		assert.False(t, ok)
	})
}
