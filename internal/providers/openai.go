package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIClient implements engine.LLMClient for OpenAI and OpenAI-compatible endpoints.
type OpenAIClient struct {
	client   *openai.Client
	provider string
	baseURL  string
}

// NewOpenAIClient creates a client. An empty baseURL means api.openai.com.
func NewOpenAIClient(provider, apiKey, baseURL string) (*OpenAIClient, error) {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIClient{
		client:   openai.NewClientWithConfig(config),
		provider: provider,
		baseURL:  baseURL,
	}, nil
}

func (c *OpenAIClient) request(modelName string, messages []engine.ChatMessage, opts engine.ChatOptions) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case engine.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case engine.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}

	req := openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: msgs,
	}
	if opts.MaxOutputTokens > 0 {
		req.MaxTokens = opts.MaxOutputTokens
	}
	if opts.Temperature > 0 {
		temperature := opts.Temperature
		req.Temperature = &temperature
	}
	if opts.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return req
}

func openaiUsage(u openai.Usage) engine.Usage {
	return engine.Usage{Prompt: u.PromptTokens, Completion: u.CompletionTokens, Total: u.TotalTokens}
}

func openaiFinish(r openai.FinishReason) string {
	switch r {
	case openai.FinishReasonLength:
		return "length"
	case openai.FinishReasonContentFilter:
		return "content_filter"
	}
	return "stop"
}

// Chat implements engine.LLMClient.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []engine.ChatMessage, opts engine.ChatOptions) (engine.LLMResponse, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.request(model, messages, opts))
	if err != nil {
		return engine.LLMResponse{}, wrapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return engine.LLMResponse{}, fmt.Errorf("empty response from %s", c.provider)
	}
	first := resp.Choices[0]
	return engine.LLMResponse{
		Text:         first.Message.Content,
		Usage:        openaiUsage(resp.Usage),
		FinishReason: openaiFinish(first.FinishReason),
	}, nil
}

// Stream implements engine.LLMClient. The final chunk carries usage when the
// endpoint honours stream_options; it is forwarded after the last delta.
func (c *OpenAIClient) Stream(ctx context.Context, model string, messages []engine.ChatMessage, opts engine.ChatOptions) (<-chan engine.StreamEvent, <-chan error) {
	events := make(chan engine.StreamEvent, 16)
	errc := make(chan error, 1)

	go func() {
		var failure error
		defer func() {
			close(events)
			errc <- failure
			close(errc)
		}()

		req := c.request(model, messages, opts)
		req.Stream = true
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

		stream, err := c.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			failure = wrapOpenAIError(err)
			return
		}
		defer stream.Close()

		send := func(ev engine.StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				failure = ctx.Err()
				return false
			}
		}

		var usage engine.Usage
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if failure = ctx.Err(); failure == nil {
					failure = wrapOpenAIError(err)
				}
				return
			}
			if chunk.Usage != nil && chunk.Usage.TotalTokens > 0 {
				usage = openaiUsage(*chunk.Usage)
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				if !send(engine.StreamEvent{Type: engine.StreamTextDelta, Text: chunk.Choices[0].Delta.Content}) {
					return
				}
			}
		}
		if usage.Total > 0 {
			send(engine.StreamEvent{Type: engine.StreamUsage, Usage: usage})
		}
	}()

	return events, errc
}

// OpenAIEmbedder implements engine.Embedder through the /embeddings endpoint.
type OpenAIEmbedder struct {
	client    *openai.Client
	provider  string
	model     string
	maxBatch  int
	dimension atomic.Int64
}

// NewOpenAIEmbedder creates an embedder. Common models: "text-embedding-3-small" (1536 dims),
// "text-embedding-3-large" (3072 dims).
func NewOpenAIEmbedder(provider, apiKey, baseURL, model string, maxBatch int) *OpenAIEmbedder {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if maxBatch <= 0 {
		maxBatch = 256
	}
	return &OpenAIEmbedder{
		client:   openai.NewClientWithConfig(config),
		provider: provider,
		model:    model,
		maxBatch: maxBatch,
	}
}

// Embed implements engine.Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%s returned %d embeddings for %d inputs", e.provider, len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("%s returned embedding index %d out of range", e.provider, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	if len(vectors[0]) > 0 {
		e.dimension.Store(int64(len(vectors[0])))
	}
	return vectors, nil
}

// ModelID implements engine.Embedder.
func (e *OpenAIEmbedder) ModelID() string { return e.provider + "/" + e.model }

// Dimension implements engine.Embedder; it is known after the first call.
func (e *OpenAIEmbedder) Dimension() int { return int(e.dimension.Load()) }

// MaxBatch implements engine.Embedder.
func (e *OpenAIEmbedder) MaxBatch() int { return e.maxBatch }

// wrapOpenAIError attaches HTTP status and Retry-After to SDK errors for retry classification.
func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		_, retryAfter := extractErrorMetadata(err)
		return engine.WrapProviderError(err, apiErr.HTTPStatusCode, retryAfter)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		_, retryAfter := extractErrorMetadata(err)
		return engine.WrapProviderError(err, reqErr.HTTPStatusCode, retryAfter)
	}
	httpStatus, retryAfter := extractErrorMetadata(err)
	return engine.WrapProviderError(err, httpStatus, retryAfter)
}

// extractErrorMetadata recovers an HTTP status and Retry-After hint from an error message.
func extractErrorMetadata(err error) (int, string) {
	if err == nil {
		return 0, ""
	}

	errStr := err.Error()
	var httpStatus int
	for _, code := range []int{429, 500, 502, 503, 504, 401, 403, 400, 402} {
		if strings.Contains(errStr, fmt.Sprintf("%d", code)) {
			httpStatus = code
			break
		}
	}

	// Common patterns: "Retry-After: 60", "retry after 60"
	lower := strings.ToLower(errStr)
	var retryAfter string
	for _, marker := range []string{"retry-after", "retry after"} {
		if idx := strings.Index(lower, marker); idx != -1 {
			parts := strings.Fields(strings.TrimLeft(errStr[idx+len(marker):], ": "))
			if len(parts) > 0 {
				retryAfter = parts[0]
			}
			break
		}
	}
	return httpStatus, retryAfter
}
