package providers

import (
	"context"
	"errors"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/relaycore/agentcore/internal/llmadapter"
)

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey     string
	MaxRetries int
}

// AnthropicProvider implements llmadapter.Provider over the Anthropic
// Messages API, streaming text deltas only; tool-call parsing is the ReAct
// engine's job, not this adapter's.
type AnthropicProvider struct {
	Base
	client anthropic.Client
	apiKey string
}

var _ llmadapter.Provider = (*AnthropicProvider)(nil)

// NewAnthropicProvider builds a provider from cfg.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	return &AnthropicProvider{
		Base:   NewBase("anthropic", cfg.MaxRetries, 0),
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		apiKey: cfg.APIKey,
	}
}

func (p *AnthropicProvider) Models() []string {
	return []string{
		"claude-opus-4-6",
		"claude-sonnet-4-6",
		"claude-haiku-4-6",
	}
}

func (p *AnthropicProvider) Complete(ctx context.Context, req llmadapter.CompletionRequest) (<-chan llmadapter.Chunk, error) {
	if p.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	out := make(chan llmadapter.Chunk)

	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	var system string
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			// The first system message is the prompt; later ones are
			// mid-conversation observations, which the Messages API only
			// accepts as user-role content.
			if system == "" && len(msgs) == 0 {
				system = m.Content
				continue
			}
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "user":
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "assistant":
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	go func() {
		defer close(out)
		finish := llmadapter.FinishStop
		var inputTokens, outputTokens int

		err := p.Retry(ctx, isRetryableHTTP, func() error {
			stream := p.client.Messages.NewStreaming(ctx, params)
			for stream.Next() {
				switch event := stream.Current().AsAny().(type) {
				case anthropic.ContentBlockDeltaEvent:
					if text := event.Delta.Text; text != "" {
						out <- llmadapter.Chunk{Type: llmadapter.ChunkText, Text: text}
					}
				case anthropic.MessageStartEvent:
					inputTokens = int(event.Message.Usage.InputTokens)
				case anthropic.MessageDeltaEvent:
					outputTokens = int(event.Usage.OutputTokens)
					if event.Delta.StopReason == "max_tokens" {
						finish = llmadapter.FinishLength
					}
				}
			}
			return stream.Err()
		})
		if err != nil {
			if cancelled(err) {
				out <- llmadapter.Chunk{Type: llmadapter.ChunkDone, FinishReason: llmadapter.FinishCancelled}
				return
			}
			out <- llmadapter.Chunk{Type: llmadapter.ChunkError, Err: err, FinishReason: llmadapter.FinishError}
			return
		}
		out <- llmadapter.Chunk{
			Type:         llmadapter.ChunkDone,
			FinishReason: finish,
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
		}
	}()

	return out, nil
}

func isRetryableHTTP(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return false
}
