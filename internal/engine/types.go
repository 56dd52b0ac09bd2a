package engine

import (
	"context"
	"fmt"
	"time"
)

// MessageRole represents the role of a chat message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ChatMessage is the provider-agnostic message we pass around.
type ChatMessage struct {
	Role    MessageRole
	Content string
}

// Validate checks if the ChatMessage is valid.
func (m ChatMessage) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("invalid message role: %s", m.Role)
	}
	return nil
}

// Usage holds token accounting returned by providers.
type Usage struct {
	Prompt     int
	Completion int
	Total      int
}

// Add accumulates another usage record.
func (u *Usage) Add(other Usage) {
	u.Prompt += other.Prompt
	u.Completion += other.Completion
	u.Total += other.Total
}

// LLMResponse is a normalized result of one chat call.
type LLMResponse struct {
	Text         string
	Usage        Usage
	FinishReason string // "stop" | "length" | "content_filter"
}

// LLMClient abstracts a generation provider (OpenAI, Anthropic, OpenAI-compatible hosts).
type LLMClient interface {
	Chat(ctx context.Context, model string, messages []ChatMessage, opts ChatOptions) (LLMResponse, error)
	// Stream delivers text deltas on the first channel. The error channel receives exactly
	// one value (nil on success) after the event channel is closed.
	Stream(ctx context.Context, model string, messages []ChatMessage, opts ChatOptions) (<-chan StreamEvent, <-chan error)
}

// ChatOptions keeps knobs forwarded to the SDK.
type ChatOptions struct {
	Temperature     float32
	MaxOutputTokens int
	JSONMode        bool // ask for a JSON object when the provider supports it
}

// StreamEventType tags a StreamEvent.
type StreamEventType string

const (
	StreamTextDelta StreamEventType = "text_delta"
	StreamUsage     StreamEventType = "usage"
)

// StreamEvent represents a streaming event from the LLM.
type StreamEvent struct {
	Type  StreamEventType
	Text  string
	Usage Usage
}

// Embedder turns texts into fixed-dimension vectors.
// Implementations must return exactly one vector per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// ModelID identifies the embedding space. Vectors from different ModelIDs never mix.
	ModelID() string
	// Dimension reports the vector size, or 0 when it is only known after the first call.
	Dimension() int
	// MaxBatch is the provider's largest accepted batch.
	MaxBatch() int
}

// Generator couples a client with the model it is bound to.
type Generator struct {
	Client   LLMClient
	Model    string
	Provider string
}

// Timeouts bounds every external call.
type Timeouts struct {
	Embed    time.Duration
	Generate time.Duration
	Fetch    time.Duration
}
