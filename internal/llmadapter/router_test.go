package llmadapter

import (
	"context"
	"testing"
)

type stubProvider struct{ name string }

func (s *stubProvider) Name() string    { return s.name }
func (s *stubProvider) Models() []string { return nil }
func (s *stubProvider) Complete(context.Context, CompletionRequest) (<-chan Chunk, error) {
	return nil, nil
}

func TestRouter_Resolve(t *testing.T) {
	providers := map[string]Provider{
		"anthropic": &stubProvider{name: "anthropic"},
		"openai":    &stubProvider{name: "openai"},
	}
	router := NewRouter([]Route{
		{ModelID: "claude-opus-4-6", Provider: "anthropic"},
	}, providers, "openai")

	p, err := router.Resolve("claude-opus-4-6")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("got %q, want anthropic", p.Name())
	}

	p, err = router.Resolve("unrouted-model")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("got %q, want openai (fallback)", p.Name())
	}
}

func TestRouter_ResolveMissingFallback(t *testing.T) {
	router := NewRouter(nil, map[string]Provider{}, "openai")
	if _, err := router.Resolve("anything"); err == nil {
		t.Fatal("expected error when fallback provider is unregistered")
	}
}
