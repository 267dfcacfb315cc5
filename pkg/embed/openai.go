package embed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/parallax-research/parallax/pkg/config"
)

// OpenAIEmbedder embeds text through an OpenAI-compatible embeddings
// endpoint. The underlying client is created lazily on first use so a
// missing API key only fails embedding calls, never construction.
type OpenAIEmbedder struct {
	cfg config.ProviderConfig
	dim int

	once    sync.Once
	client  *openai.Client
	initErr error
}

// NewOpenAI creates an embedder producing dim-dimensional vectors.
func NewOpenAI(cfg config.ProviderConfig, dim int) *OpenAIEmbedder {
	return &OpenAIEmbedder{cfg: cfg, dim: dim}
}

func (e *OpenAIEmbedder) ensureClient() (*openai.Client, error) {
	e.once.Do(func() {
		if e.cfg.APIKey == "" {
			e.initErr = errors.New("provider API key is not configured")
			return
		}
		clientCfg := openai.DefaultConfig(e.cfg.APIKey)
		if e.cfg.BaseURL != "" {
			clientCfg.BaseURL = e.cfg.BaseURL
		}
		e.client = openai.NewClientWithConfig(clientCfg)
	})
	return e.client, e.initErr
}

// EmbedBatch implements Embedder. Inputs beyond the configured batch size
// are split into sequential provider calls.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	client, err := e.ensureClient()
	if err != nil {
		return nil, err
	}

	batchSize := e.cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 16
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model:      openai.EmbeddingModel(e.cfg.EmbeddingModel),
			Input:      texts[start:end],
			Dimensions: e.dim,
		})
		if err != nil {
			return nil, fmt.Errorf("embedding batch [%d:%d]: %w", start, end, err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("embedding batch [%d:%d]: got %d vectors", start, end, len(resp.Data))
		}
		for _, d := range resp.Data {
			out = append(out, d.Embedding)
		}
	}
	return out, nil
}

// Dimension implements Embedder.
func (e *OpenAIEmbedder) Dimension() int { return e.dim }

// Version implements Embedder.
func (e *OpenAIEmbedder) Version() string {
	return VersionString(e.cfg.EmbeddingModel, e.dim)
}
