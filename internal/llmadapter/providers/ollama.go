package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/relaycore/agentcore/internal/llmadapter"
)

// OllamaConfig configures the local provider. There is no official Ollama
// Go SDK in this codebase's dependency stack, so the client speaks the
// line-delimited JSON streaming protocol directly over net/http.
type OllamaConfig struct {
	BaseURL string
	Timeout time.Duration
}

// OllamaProvider implements llmadapter.Provider against a local
// Ollama-compatible /api/chat endpoint.
type OllamaProvider struct {
	Base
	client  *http.Client
	baseURL string
}

var _ llmadapter.Provider = (*OllamaProvider)(nil)

// NewOllamaProvider builds a provider from cfg.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OllamaProvider{
		Base:    NewBase("ollama", 0, 0),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (p *OllamaProvider) Models() []string {
	return []string{"llama3.1", "qwen2.5-coder", "mistral"}
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatChunk struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

func (p *OllamaProvider) Complete(ctx context.Context, req llmadapter.CompletionRequest) (<-chan llmadapter.Chunk, error) {
	body := ollamaChatRequest{Model: req.Model, Stream: true}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, ollamaChatMessage{Role: m.Role, Content: m.Content})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call ollama: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	out := make(chan llmadapter.Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var chunk ollamaChatChunk
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				out <- llmadapter.Chunk{Type: llmadapter.ChunkError, Err: fmt.Errorf("decode ollama chunk: %w", err), FinishReason: llmadapter.FinishError}
				return
			}
			if chunk.Message.Content != "" {
				out <- llmadapter.Chunk{Type: llmadapter.ChunkText, Text: chunk.Message.Content}
			}
			if chunk.Done {
				out <- llmadapter.Chunk{Type: llmadapter.ChunkDone, FinishReason: llmadapter.FinishStop}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if cancelled(err) || ctx.Err() != nil {
				out <- llmadapter.Chunk{Type: llmadapter.ChunkDone, FinishReason: llmadapter.FinishCancelled}
				return
			}
			out <- llmadapter.Chunk{Type: llmadapter.ChunkError, Err: err, FinishReason: llmadapter.FinishError}
			return
		}
		// The server closed the stream without a done marker; still honor
		// the single-terminal-chunk contract.
		out <- llmadapter.Chunk{Type: llmadapter.ChunkDone, FinishReason: llmadapter.FinishStop}
	}()

	return out, nil
}
