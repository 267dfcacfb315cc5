package config

import "time"

// ModelsConfig holds the static model tiers and catalog settings for the
// model router. Tiers are ordered lists of model ids; the router round-robins
// within a tier by agent index.
type ModelsConfig struct {
	// VeryLowCost models handle simple-complexity sub-queries.
	VeryLowCost []string

	// LowCost and HighCost back the costPreference argument.
	LowCost  []string
	HighCost []string

	// ClassificationModel runs short complexity/classification calls.
	ClassificationModel string

	// CatalogURL serves the dynamic model listing; empty disables refresh.
	CatalogURL string

	// CatalogRefresh is the periodic catalog refresh interval.
	CatalogRefresh time.Duration
}

// DefaultModelsConfig returns the built-in model tier defaults.
func DefaultModelsConfig() ModelsConfig {
	return ModelsConfig{
		VeryLowCost:         []string{"gpt-4o-mini"},
		LowCost:             []string{"gpt-4o-mini", "gpt-4o"},
		HighCost:            []string{"gpt-4o", "o3-mini"},
		ClassificationModel: "gpt-4o-mini",
		CatalogRefresh:      15 * time.Minute,
	}
}

func (c *ModelsConfig) loadEnv() {
	c.VeryLowCost = envList("MODELS_VERY_LOW_COST", c.VeryLowCost)
	c.LowCost = envList("MODELS_LOW_COST", c.LowCost)
	c.HighCost = envList("MODELS_HIGH_COST", c.HighCost)
	c.ClassificationModel = envString("CLASSIFICATION_MODEL", c.ClassificationModel)
	c.CatalogURL = envString("MODEL_CATALOG_URL", c.CatalogURL)
	if d, err := envDuration("MODEL_CATALOG_REFRESH", c.CatalogRefresh); err == nil {
		c.CatalogRefresh = d
	}
}

// ProviderConfig configures the remote chat-completion provider endpoint.
type ProviderConfig struct {
	// APIKey authenticates against the provider.
	APIKey string

	// BaseURL points at any OpenAI-compatible API; empty uses the default.
	BaseURL string

	// EmbeddingModel generates query/document embeddings.
	EmbeddingModel string

	// EmbedBatchSize is the embedding batch size.
	EmbedBatchSize int

	// RequestsPerSecond rate-limits provider calls; 0 disables limiting.
	RequestsPerSecond float64

	// SearchEndpoint is an optional web-search API URL for the search_web
	// tool; empty reports search as unavailable.
	SearchEndpoint string
}

// DefaultProviderConfig returns the built-in provider defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		EmbeddingModel: "text-embedding-3-small",
		EmbedBatchSize: 16,
	}
}

func (c *ProviderConfig) loadEnv() {
	c.APIKey = envString("PROVIDER_API_KEY", c.APIKey)
	c.BaseURL = envString("PROVIDER_BASE_URL", c.BaseURL)
	c.EmbeddingModel = envString("EMBEDDING_MODEL", c.EmbeddingModel)
	if n, err := envInt("EMBED_BATCH_SIZE", c.EmbedBatchSize); err == nil {
		c.EmbedBatchSize = n
	}
	if f, err := envFloat("PROVIDER_RPS", c.RequestsPerSecond); err == nil {
		c.RequestsPerSecond = f
	}
	c.SearchEndpoint = envString("SEARCH_ENDPOINT", c.SearchEndpoint)
}
