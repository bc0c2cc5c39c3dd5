package contextassembly

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/relaycore/agentcore/internal/llmadapter"
	"github.com/relaycore/agentcore/internal/policy"
	"github.com/relaycore/agentcore/internal/tools"
	"github.com/relaycore/agentcore/pkg/models"
)

// DefaultModelContextWindow is used when a BuildRequest doesn't name the
// target model's context window, sized for the smallest model this system
// routes to rather than the largest, so the budget stays conservative.
const DefaultModelContextWindow = 32_000

// HistoryTokenBudgetFraction is the share of the model's context window this
// assembler reserves for conversational history. The remainder covers the
// system prompt, tool descriptions, and the model's own reply.
const HistoryTokenBudgetFraction = 0.7

// approxTokens estimates a token count from rune count using the common
// ~4-characters-per-token heuristic. This avoids depending on a
// provider-specific tokenizer just to size a truncation budget; it only
// needs to be in the right ballpark, not exact, since the real limit is
// enforced server-side by the provider.
func approxTokens(s string) int {
	return (len([]rune(s)) + 3) / 4
}

// BuildRequest carries everything BuildMessages needs beyond the turn's raw
// user text: the agent whose policies govern assembly, the conversation
// being assembled for, and the tool descriptors available this turn.
type BuildRequest struct {
	Agent              *models.Agent
	ConversationID     string
	UserMessage        string
	ModelContextWindow int // 0 uses DefaultModelContextWindow
	Tools              []tools.LLMTool
}

// BuildMessages assembles the final message list for a turn following the
// Context Assembler's ordered rules: system prompt, then an optional Memory
// Context section, then an optional Knowledge Base Context section, then a
// token- and window-bounded slice of conversation history (oldest dropped
// first), then the current user message. It returns the raw assembled
// Context alongside the messages so the caller can log what was recalled
// (and whether memory/knowledge degraded) without re-running the lookups.
func (a *Assembler) BuildMessages(ctx context.Context, req BuildRequest) ([]llmadapter.Message, *Context, error) {
	agent := req.Agent
	if agent == nil {
		return nil, nil, fmt.Errorf("contextassembly: BuildRequest.Agent is required")
	}

	historyLimit := agent.MemoryPolicy.ShortTermWindow
	if historyLimit <= 0 {
		historyLimit = 20
	}
	memoryLimit := agent.MemoryPolicy.MaxLongTermItems
	if memoryLimit <= 0 {
		memoryLimit = 10
	}
	knowledgeLimit := agent.KnowledgePolicy.TopK
	if knowledgeLimit <= 0 {
		knowledgeLimit = 5
	}

	assembled, err := a.Assemble(ctx, Request{
		ConversationID:   req.ConversationID,
		Query:            req.UserMessage,
		HistoryLimit:     historyLimit,
		MemoryEnabled:    agent.MemoryPolicy.ShortTermWindow > 0 || agent.MemoryPolicy.LongTermEnabled,
		MemoryLimit:      memoryLimit,
		KnowledgeEnabled: agent.KnowledgePolicy.Enabled,
		KnowledgeLimit:   knowledgeLimit,
		KnowledgeScope:   agent.KnowledgePolicy.Collections,
	})
	if err != nil {
		return nil, nil, err
	}

	window := req.ModelContextWindow
	if window <= 0 {
		window = DefaultModelContextWindow
	}

	systemPrompt := buildSystemPrompt(agent, assembled, req.UserMessage, req.Tools)
	budget := int(float64(window)*HistoryTokenBudgetFraction) - approxTokens(systemPrompt)
	if budget < 0 {
		budget = 0
	}

	messages := make([]llmadapter.Message, 0, len(assembled.History)+2)
	messages = append(messages, llmadapter.Message{Role: string(models.RoleSystem), Content: systemPrompt})
	messages = append(messages, boundedHistory(assembled.History, historyLimit, budget)...)
	messages = append(messages, llmadapter.Message{Role: string(models.RoleUser), Content: req.UserMessage})

	return messages, assembled, nil
}

// boundedHistory returns the most recent messages of history subject to a
// hard count (limit) and a token budget, oldest messages truncated first.
// System-role messages are never truncated: system-level instructions must
// survive even a tight budget.
func boundedHistory(history []models.Message, limit, tokenBudget int) []llmadapter.Message {
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	kept := make([]models.Message, 0, len(history))
	spent := 0
	full := false
	// Walk newest-to-oldest so truncation drops the oldest entries first,
	// then reverse back into chronological order.
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Role == models.RoleSystem {
			kept = append(kept, m)
			continue
		}
		if full {
			continue
		}
		cost := approxTokens(m.Content)
		if spent+cost > tokenBudget && len(kept) > 0 {
			full = true
			continue
		}
		spent += cost
		kept = append(kept, m)
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	out := make([]llmadapter.Message, 0, len(kept))
	for _, m := range kept {
		out = append(out, llmadapter.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// buildSystemPrompt renders the agent's base prompt plus the Memory Context,
// Knowledge Base Context, and Available Tools sections rule 2, 3, and 6 of
// the assembly order call for. Tool descriptions are folded into the text
// prompt (rather than sent as a structured field) because the text-envelope
// protocol this system uses for tool calls requires the model to already
// know, from the prompt, which `<tool_call>` names are legal.
func buildSystemPrompt(agent *models.Agent, assembled *Context, query string, toolList []tools.LLMTool) string {
	var b strings.Builder
	b.WriteString(agent.SystemPrompt)

	if len(assembled.Memory) > 0 {
		shortTerm, longTerm := splitMemoryByKind(assembled.Memory)
		b.WriteString("\n\n## Memory Context\n")
		fmt.Fprintf(&b, "%d relevant memor%s recalled for this turn.\n", len(assembled.Memory), pluralySuffix(len(assembled.Memory)))

		recent := mostRecentShortTerm(shortTerm, 3)
		if len(recent) > 0 {
			b.WriteString("\nRecent interactions:\n")
			for _, m := range recent {
				fmt.Fprintf(&b, "- %s\n", m.Content)
			}
		}

		lessons := RankByRelevance(longTerm, query, 3)
		if len(lessons) > 0 {
			b.WriteString("\nRelevant lessons:\n")
			for _, m := range lessons {
				fmt.Fprintf(&b, "- %s\n", m.Content)
			}
		}
	}

	if len(assembled.Knowledge) > 0 {
		b.WriteString("\n\n## Knowledge Base Context\n")
		for i, chunk := range assembled.Knowledge {
			fmt.Fprintf(&b, "\n### Chunk %d\n%s\n", i+1, chunk)
		}
	}

	if len(toolList) > 0 {
		b.WriteString("\n\n## Available Tools\n")
		b.WriteString("Invoke a tool by emitting <tool_call>{\"name\": \"...\", \"arguments\": {...}}</tool_call> in your reply.\n")
		for _, t := range toolList {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		}
	}

	return b.String()
}

func pluralySuffix(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

func splitMemoryByKind(items []models.MemoryItem) (shortTerm, longTerm []models.MemoryItem) {
	for _, item := range items {
		if item.Kind == models.MemoryKindShortTerm {
			shortTerm = append(shortTerm, item)
		} else {
			longTerm = append(longTerm, item)
		}
	}
	return shortTerm, longTerm
}

func mostRecentShortTerm(items []models.MemoryItem, limit int) []models.MemoryItem {
	ranked := append([]models.MemoryItem(nil), items...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].CreatedAt.After(ranked[j].CreatedAt)
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// FilterToolsByPolicy removes tools the agent's workspace policy forbids:
// allow_actions=false drops the side-effecting tools, allow_context_reads=false
// drops the read-only ones, so the model never sees a tool it could not run.
func FilterToolsByPolicy(toolList []tools.LLMTool, wp models.WorkspacePolicy) []tools.LLMTool {
	out := make([]tools.LLMTool, 0, len(toolList))
	for _, t := range toolList {
		if policy.ToolPermitted(t.Name, wp) {
			out = append(out, t)
		}
	}
	return out
}

// FilterTools narrows toolList to the names in allowlist. An empty allowlist
// means no restriction (every registered tool is offered), matching an
// agent whose workspace_policy places no limit beyond the registry itself.
func FilterTools(toolList []tools.LLMTool, allowlist []string) []tools.LLMTool {
	if len(allowlist) == 0 {
		return toolList
	}
	allowed := make(map[string]struct{}, len(allowlist))
	for _, name := range allowlist {
		allowed[name] = struct{}{}
	}
	out := make([]tools.LLMTool, 0, len(toolList))
	for _, t := range toolList {
		if _, ok := allowed[t.Name]; ok {
			out = append(out, t)
		}
	}
	return out
}
