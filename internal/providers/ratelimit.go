package providers

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
)

// RateLimitedClient gates every call on a token bucket shared by all callers of the client.
type RateLimitedClient struct {
	engine.LLMClient
	limiter *rate.Limiter
}

// NewRateLimitedClient wraps client with a limit of rps requests per second.
func NewRateLimitedClient(client engine.LLMClient, rps rate.Limit, burst int) *RateLimitedClient {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedClient{LLMClient: client, limiter: rate.NewLimiter(rps, burst)}
}

func (c *RateLimitedClient) Chat(ctx context.Context, model string, messages []engine.ChatMessage, opts engine.ChatOptions) (engine.LLMResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return engine.LLMResponse{}, err
	}
	return c.LLMClient.Chat(ctx, model, messages, opts)
}

func (c *RateLimitedClient) Stream(ctx context.Context, model string, messages []engine.ChatMessage, opts engine.ChatOptions) (<-chan engine.StreamEvent, <-chan error) {
	if err := c.limiter.Wait(ctx); err != nil {
		events := make(chan engine.StreamEvent)
		errs := make(chan error, 1)
		close(events)
		errs <- err
		return events, errs
	}
	return c.LLMClient.Stream(ctx, model, messages, opts)
}

// RateLimitedEmbedder gates embedding calls the same way.
type RateLimitedEmbedder struct {
	engine.Embedder
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder wraps embedder with a limit of rps requests per second.
func NewRateLimitedEmbedder(embedder engine.Embedder, rps rate.Limit, burst int) *RateLimitedEmbedder {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedEmbedder{Embedder: embedder, limiter: rate.NewLimiter(rps, burst)}
}

func (e *RateLimitedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.Embedder.Embed(ctx, texts)
}
