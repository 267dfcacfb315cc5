package config

// IndexConfig controls the hybrid BM25+vector index.
type IndexConfig struct {
	// Enabled turns on auto-indexing of saved reports and fetched documents.
	Enabled bool

	// MaxContentChars truncates indexed document content.
	MaxContentChars int

	// BM25 parameters.
	BM25K1 float64
	BM25B  float64

	// Fusion weights for normalized BM25 and cosine vector scores.
	WeightBM25   float64
	WeightVector float64

	// RerankEnabled sends the top fused window to a small LLM for reordering.
	RerankEnabled bool

	// RerankWindow caps how many fused hits are sent to the reranker.
	RerankWindow int

	// RerankModel is the model id used for reranking.
	RerankModel string

	// Stopwords removed during tokenization.
	Stopwords []string
}

// DefaultIndexConfig returns the built-in index defaults.
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		Enabled:         true,
		MaxContentChars: 8000,
		BM25K1:          1.2,
		BM25B:           0.75,
		WeightBM25:      0.5,
		WeightVector:    0.5,
		RerankWindow:    50,
		Stopwords: []string{
			"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
			"has", "he", "in", "is", "it", "its", "of", "on", "or", "that",
			"the", "to", "was", "were", "will", "with",
		},
	}
}

func (c *IndexConfig) loadEnv() error {
	var err error
	c.Enabled = envBool("INDEX_ENABLED", c.Enabled)
	if c.MaxContentChars, err = envInt("INDEX_MAX_CONTENT_CHARS", c.MaxContentChars); err != nil {
		return err
	}
	if c.BM25K1, err = envFloat("BM25_K1", c.BM25K1); err != nil {
		return err
	}
	if c.BM25B, err = envFloat("BM25_B", c.BM25B); err != nil {
		return err
	}
	if c.WeightBM25, err = envFloat("INDEX_WEIGHT_BM25", c.WeightBM25); err != nil {
		return err
	}
	if c.WeightVector, err = envFloat("INDEX_WEIGHT_VECTOR", c.WeightVector); err != nil {
		return err
	}
	c.RerankEnabled = envBool("INDEX_RERANK_ENABLED", c.RerankEnabled)
	c.RerankModel = envString("INDEX_RERANK_MODEL", c.RerankModel)
	c.Stopwords = envList("INDEX_STOPWORDS", c.Stopwords)
	return nil
}
