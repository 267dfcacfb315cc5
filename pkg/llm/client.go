// Package llm wraps the chat-completion provider: a rate-limited client
// speaking the OpenAI wire API, a periodically refreshed model catalog, the
// cost/complexity model router, and token budget arithmetic.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/parallax-research/parallax/pkg/config"
	"github.com/parallax-research/parallax/pkg/store"
)

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

// Message role constants, matching the provider wire values.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// CompletionRequest is a provider-agnostic chat completion request.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float32
	JSONMode    bool
}

// CompletionResult carries the completion plus its token accounting.
type CompletionResult struct {
	Content      string
	Usage        store.TokenUsage
	FinishReason string
}

// Completer is the minimal provider surface the pipeline needs.
type Completer interface {
	// Complete performs one blocking chat completion.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)

	// StreamComplete streams the completion, invoking onToken for each
	// content delta, and returns the assembled result. Implementations that
	// cannot stream may fall back to a single onToken call.
	StreamComplete(ctx context.Context, req CompletionRequest, onToken func(token string)) (*CompletionResult, error)
}

// Client is the rate-limited OpenAI-compatible Completer.
type Client struct {
	cfg     config.ProviderConfig
	limiter *rate.Limiter

	once    sync.Once
	client  *openai.Client
	initErr error
}

// NewClient creates a provider client. The rate limiter spans every call,
// streaming included; RequestsPerSecond <= 0 disables limiting.
func NewClient(cfg config.ProviderConfig) *Client {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Client{cfg: cfg, limiter: limiter}
}

func (c *Client) ensureClient() (*openai.Client, error) {
	c.once.Do(func() {
		if c.cfg.APIKey == "" {
			c.initErr = errors.New("provider API key is not configured")
			return
		}
		clientCfg := openai.DefaultConfig(c.cfg.APIKey)
		if c.cfg.BaseURL != "" {
			clientCfg.BaseURL = c.cfg.BaseURL
		}
		c.client = openai.NewClientWithConfig(clientCfg)
	})
	return c.client, c.initErr
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func buildRequest(req CompletionRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSONMode {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return out
}

// Complete implements Completer.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	client, err := c.ensureClient()
	if err != nil {
		return nil, err
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	resp, err := client.CreateChatCompletion(ctx, buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("chat completion with %s: %w", req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion with %s: empty response", req.Model)
	}

	choice := resp.Choices[0]
	return &CompletionResult{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: store.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// StreamComplete implements Completer. Usage comes from the stream's final
// usage frame when the provider sends one, otherwise it is estimated from
// the assembled content.
func (c *Client) StreamComplete(ctx context.Context, req CompletionRequest, onToken func(token string)) (*CompletionResult, error) {
	client, err := c.ensureClient()
	if err != nil {
		return nil, err
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	wireReq := buildRequest(req)
	wireReq.Stream = true
	wireReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := client.CreateChatCompletionStream(ctx, wireReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion stream with %s: %w", req.Model, err)
	}
	defer stream.Close()

	result := &CompletionResult{}
	var content []byte
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading completion stream: %w", err)
		}
		if chunk.Usage != nil {
			result.Usage = store.TokenUsage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta != "" {
			content = append(content, delta...)
			if onToken != nil {
				onToken(delta)
			}
		}
		if chunk.Choices[0].FinishReason != "" {
			result.FinishReason = string(chunk.Choices[0].FinishReason)
		}
	}

	result.Content = string(content)
	if result.Usage.TotalTokens == 0 {
		result.Usage.CompletionTokens = EstimateTokens(result.Content)
		result.Usage.TotalTokens = result.Usage.CompletionTokens
	}
	return result, nil
}
