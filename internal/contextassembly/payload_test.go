package contextassembly

import (
	"context"
	"strings"
	"testing"

	"github.com/relaycore/agentcore/internal/tools"
	"github.com/relaycore/agentcore/pkg/models"
)

type fixedHistory struct {
	messages []models.Message
	err      error
}

func (h *fixedHistory) GetHistory(context.Context, string, int) ([]models.Message, error) {
	return h.messages, h.err
}

type fixedMemory struct {
	items []models.MemoryItem
	err   error
}

func (m *fixedMemory) Recall(context.Context, string, string, int) ([]models.MemoryItem, error) {
	return m.items, m.err
}

type fixedKnowledge struct {
	chunks []string
	err    error
}

func (k *fixedKnowledge) Lookup(context.Context, []string, string, int) ([]string, error) {
	return k.chunks, k.err
}

func TestBuildMessages_AssemblesSystemPromptAndHistory(t *testing.T) {
	history := &fixedHistory{messages: []models.Message{
		{Role: models.RoleUser, Content: "what's the weather"},
		{Role: models.RoleAssistant, Content: "sunny"},
	}}
	memoryStore := &fixedMemory{items: []models.MemoryItem{
		{Kind: models.MemoryKindLongTerm, Content: "user prefers metric units", Importance: 0.9},
	}}
	knowledge := &fixedKnowledge{chunks: []string{"Celsius is used outside the US."}}
	a := New(history, memoryStore, knowledge, nil)

	agent := &models.Agent{
		ID:              "agent-1",
		SystemPrompt:    "You are a weather assistant.",
		MemoryPolicy:    models.MemoryPolicy{ShortTermWindow: 10, LongTermEnabled: true},
		KnowledgePolicy: models.KnowledgePolicy{Enabled: true, TopK: 5, Collections: []string{"docs"}},
	}

	messages, assembled, err := a.BuildMessages(context.Background(), BuildRequest{
		Agent:          agent,
		ConversationID: "conv-1",
		UserMessage:    "is it cold today",
		Tools: []tools.LLMTool{
			{Name: "get_forecast", Description: "fetches the forecast"},
		},
	})
	if err != nil {
		t.Fatalf("BuildMessages() error = %v", err)
	}
	if assembled.MemoryErr != nil || assembled.KnowledgeErr != nil {
		t.Fatalf("unexpected degraded lookups: memErr=%v knowErr=%v", assembled.MemoryErr, assembled.KnowledgeErr)
	}

	if len(messages) != 4 {
		t.Fatalf("expected system + 2 history + user messages, got %d: %+v", len(messages), messages)
	}
	system := messages[0]
	if system.Role != string(models.RoleSystem) {
		t.Fatalf("messages[0].Role = %q, want system", system.Role)
	}
	if !strings.Contains(system.Content, "You are a weather assistant.") {
		t.Errorf("system prompt missing agent base prompt: %q", system.Content)
	}
	if !strings.Contains(system.Content, "user prefers metric units") {
		t.Errorf("system prompt missing memory context: %q", system.Content)
	}
	if !strings.Contains(system.Content, "Celsius is used outside the US.") {
		t.Errorf("system prompt missing knowledge context: %q", system.Content)
	}
	if !strings.Contains(system.Content, "get_forecast") {
		t.Errorf("system prompt missing tool description: %q", system.Content)
	}

	last := messages[len(messages)-1]
	if last.Role != string(models.RoleUser) || last.Content != "is it cold today" {
		t.Errorf("last message = %+v, want the current user message", last)
	}
}

func TestBuildMessages_RequiresAgent(t *testing.T) {
	a := New(&fixedHistory{}, nil, nil, nil)
	if _, _, err := a.BuildMessages(context.Background(), BuildRequest{ConversationID: "conv-1"}); err == nil {
		t.Fatal("expected an error when Agent is nil")
	}
}

func TestBoundedHistory_DropsOldestFirstUnderBudget(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleUser, Content: strings.Repeat("a", 400)},
		{Role: models.RoleAssistant, Content: strings.Repeat("b", 400)},
		{Role: models.RoleUser, Content: "short"},
	}
	// Budget only large enough for the last message plus a little slack.
	out := boundedHistory(history, 0, 10)
	if len(out) != 1 || out[0].Content != "short" {
		t.Fatalf("expected only the most recent message to survive, got %+v", out)
	}
}

func TestBoundedHistory_NeverDropsSystemMessages(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleSystem, Content: strings.Repeat("s", 4000)},
		{Role: models.RoleUser, Content: "hi"},
	}
	out := boundedHistory(history, 0, 1)
	foundSystem := false
	for _, m := range out {
		if m.Role == string(models.RoleSystem) {
			foundSystem = true
		}
	}
	if !foundSystem {
		t.Fatalf("expected system message to survive a tight budget, got %+v", out)
	}
}

func TestFilterTools_EmptyAllowlistKeepsAll(t *testing.T) {
	toolList := []tools.LLMTool{{Name: "a"}, {Name: "b"}}
	if got := FilterTools(toolList, nil); len(got) != 2 {
		t.Fatalf("expected no restriction with an empty allowlist, got %d", len(got))
	}
}

func TestFilterToolsByPolicy(t *testing.T) {
	toolList := []tools.LLMTool{
		{Name: "read_file"},
		{Name: "execute_command"},
		{Name: "git_push"},
	}

	readsOnly := FilterToolsByPolicy(toolList, models.WorkspacePolicy{AllowContextReads: true})
	if len(readsOnly) != 1 || readsOnly[0].Name != "read_file" {
		t.Fatalf("reads-only policy kept %+v", readsOnly)
	}

	actionsOnly := FilterToolsByPolicy(toolList, models.WorkspacePolicy{AllowActions: true})
	if len(actionsOnly) != 2 {
		t.Fatalf("actions-only policy kept %+v", actionsOnly)
	}
}

func TestFilterTools_RestrictsToAllowlist(t *testing.T) {
	toolList := []tools.LLMTool{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	got := FilterTools(toolList, []string{"b"})
	if len(got) != 1 || got[0].Name != "b" {
		t.Fatalf("FilterTools() = %+v, want only b", got)
	}
}
