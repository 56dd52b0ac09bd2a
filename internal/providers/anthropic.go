package providers

import (
	"context"
	"fmt"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

const (
	anthropicMaxTokens   = 4096
	anthropicTemperature = float32(0.1)
	jsonOnlyInstruction  = "Respond with a single JSON object and no surrounding prose."
)

// finishReasons maps Anthropic stop reasons onto the OpenAI vocabulary used by engine.LLMResponse.
var finishReasons = map[string]string{
	"max_tokens":       "length",
	"content_filtered": "content_filter",
}

// AnthropicClient implements engine.LLMClient on the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a client. An empty baseURL means the public API.
func NewAnthropicClient(apiKey, baseURL string) (*AnthropicClient, error) {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &AnthropicClient{client: anthropic.NewClient(apiKey, opts...)}, nil
}

// splitSystem separates system prompts, which Anthropic takes out of band,
// from the user/assistant turns.
func splitSystem(messages []engine.ChatMessage) ([]anthropic.MessageSystemPart, []anthropic.Message) {
	var system []anthropic.MessageSystemPart
	turns := make([]anthropic.Message, 0, len(messages))
	for _, m := range messages {
		content := []anthropic.MessageContent{anthropic.NewTextMessageContent(m.Content)}
		switch m.Role {
		case engine.RoleSystem:
			system = append(system, anthropic.MessageSystemPart{Type: "text", Text: m.Content})
		case engine.RoleUser:
			turns = append(turns, anthropic.Message{Role: anthropic.RoleUser, Content: content})
		case engine.RoleAssistant:
			turns = append(turns, anthropic.Message{Role: anthropic.RoleAssistant, Content: content})
		}
	}
	return system, turns
}

func (c *AnthropicClient) request(model string, messages []engine.ChatMessage, opts engine.ChatOptions) anthropic.MessagesRequest {
	system, turns := splitSystem(messages)
	if opts.JSONMode {
		system = append(system, anthropic.MessageSystemPart{Type: "text", Text: jsonOnlyInstruction})
	}

	temp := anthropicTemperature
	if opts.Temperature > 0 {
		temp = opts.Temperature
	}
	req := anthropic.MessagesRequest{
		Model:       anthropic.Model(model),
		Messages:    turns,
		MaxTokens:   anthropicMaxTokens,
		Temperature: &temp,
	}
	if opts.MaxOutputTokens > 0 {
		req.MaxTokens = opts.MaxOutputTokens
	}
	if len(system) > 0 {
		req.MultiSystem = system
	}
	return req
}

func anthropicUsage(in, out int) engine.Usage {
	return engine.Usage{Prompt: in, Completion: out, Total: in + out}
}

func wrapAnthropicError(err error) error {
	status, retryAfter := extractErrorMetadata(err)
	return engine.WrapProviderError(err, status, retryAfter)
}

// Chat implements engine.LLMClient.
func (c *AnthropicClient) Chat(ctx context.Context, model string, messages []engine.ChatMessage, opts engine.ChatOptions) (engine.LLMResponse, error) {
	resp, err := c.client.CreateMessages(ctx, c.request(model, messages, opts))
	if err != nil {
		return engine.LLMResponse{}, wrapAnthropicError(err)
	}

	out := engine.LLMResponse{Usage: anthropicUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens), FinishReason: "stop"}
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			out.Text += *block.Text
		}
	}
	if r, ok := finishReasons[string(resp.StopReason)]; ok {
		out.FinishReason = r
	}
	return out, nil
}

// Stream implements engine.LLMClient. Text deltas are forwarded as they arrive;
// usage is sent once the message completes.
func (c *AnthropicClient) Stream(ctx context.Context, model string, messages []engine.ChatMessage, opts engine.ChatOptions) (<-chan engine.StreamEvent, <-chan error) {
	events := make(chan engine.StreamEvent, 16)
	errc := make(chan error, 1)

	go func() {
		var failure error
		defer func() {
			close(events)
			errc <- failure
			close(errc)
		}()

		send := func(ev engine.StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		req := anthropic.MessagesStreamRequest{MessagesRequest: c.request(model, messages, opts)}
		req.OnError = func(e anthropic.ErrorResponse) {
			if failure == nil {
				failure = fmt.Errorf("anthropic streaming error: %s", e.Error.Message)
			}
		}
		req.OnContentBlockDelta = func(d anthropic.MessagesEventContentBlockDeltaData) {
			if d.Delta.Type == "text_delta" && d.Delta.Text != nil {
				send(engine.StreamEvent{Type: engine.StreamTextDelta, Text: *d.Delta.Text})
			}
		}

		resp, err := c.client.CreateMessagesStream(ctx, req)
		switch {
		case err != nil && ctx.Err() != nil:
			failure = ctx.Err()
		case err != nil:
			failure = wrapAnthropicError(err)
		case failure != nil:
			failure = engine.WrapProviderError(failure, 0, "")
		case resp.Usage.InputTokens > 0:
			if !send(engine.StreamEvent{Type: engine.StreamUsage, Usage: anthropicUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens)}) {
				failure = ctx.Err()
			}
		}
	}()

	return events, errc
}
