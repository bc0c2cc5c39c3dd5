package providers

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"github.com/relaycore/agentcore/internal/llmadapter"
)

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // override for OpenAI-compatible endpoints
	MaxRetries int
}

// OpenAIProvider implements llmadapter.Provider over the Chat Completions
// streaming API.
type OpenAIProvider struct {
	Base
	client *openai.Client
	apiKey string
}

var _ llmadapter.Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider builds a provider from cfg.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		Base:   NewBase("openai", cfg.MaxRetries, 0),
		client: openai.NewClientWithConfig(clientCfg),
		apiKey: cfg.APIKey,
	}
}

func (p *OpenAIProvider) Models() []string {
	return []string{
		openai.GPT4o,
		openai.GPT4oMini,
		openai.O3Mini,
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, req llmadapter.CompletionRequest) (<-chan llmadapter.Chunk, error) {
	if p.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	params := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Stream:      true,
	}

	out := make(chan llmadapter.Chunk)
	go func() {
		defer close(out)
		finish := llmadapter.FinishStop

		err := p.Retry(ctx, isRetryableOpenAI, func() error {
			stream, err := p.client.CreateChatCompletionStream(ctx, params)
			if err != nil {
				return err
			}
			defer stream.Close()
			for {
				resp, err := stream.Recv()
				if errors.Is(err, context.Canceled) {
					return err
				}
				if err != nil {
					return nonEOFOrNil(err)
				}
				if len(resp.Choices) > 0 {
					choice := resp.Choices[0]
					if choice.Delta.Content != "" {
						out <- llmadapter.Chunk{Type: llmadapter.ChunkText, Text: choice.Delta.Content}
					}
					if choice.FinishReason == openai.FinishReasonLength {
						finish = llmadapter.FinishLength
					}
				}
			}
		})
		if err != nil {
			if cancelled(err) {
				out <- llmadapter.Chunk{Type: llmadapter.ChunkDone, FinishReason: llmadapter.FinishCancelled}
				return
			}
			out <- llmadapter.Chunk{Type: llmadapter.ChunkError, Err: err, FinishReason: llmadapter.FinishError}
			return
		}
		out <- llmadapter.Chunk{Type: llmadapter.ChunkDone, FinishReason: finish}
	}()

	return out, nil
}

// nonEOFOrNil treats the stream's end-of-stream sentinel as success.
func nonEOFOrNil(err error) error {
	if err.Error() == "EOF" {
		return nil
	}
	return err
}

func isRetryableOpenAI(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	return false
}
