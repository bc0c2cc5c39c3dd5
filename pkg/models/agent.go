package models

import "time"

// WorkspacePolicy bounds what an agent's tool calls may do to its workspace.
// AllowActions gates the side-effecting tools (shell, git, file writes);
// AllowContextReads gates the read-only ones (read_file, list_files).
type WorkspacePolicy struct {
	Root              string `json:"root"`
	AllowActions      bool   `json:"allow_actions"`
	AllowContextReads bool   `json:"allow_context_reads"`
}

// MemoryPolicy controls how much conversational history an agent retains and
// when items are promoted from short-term to long-term recall.
type MemoryPolicy struct {
	ShortTermWindow             int     `json:"short_term_window"`
	LongTermEnabled             bool    `json:"long_term_enabled"`
	LongTermImportanceThreshold float64 `json:"long_term_importance_threshold"`
	MaxLongTermItems            int     `json:"max_long_term_items,omitempty"`
}

// KnowledgePolicy scopes a turn's knowledge-base retrieval.
type KnowledgePolicy struct {
	Enabled     bool     `json:"enabled"`
	TopK        int      `json:"top_k"`
	Collections []string `json:"collections,omitempty"`
}

// Agent is a configured execution identity: a model binding plus the
// policies that gate what its turns may do. Immutable during a turn.
type Agent struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id,omitempty"`
	Name            string          `json:"name"`
	SystemPrompt    string          `json:"system_prompt,omitempty"`
	ModelID         string          `json:"model_id"`
	Temperature     float64         `json:"temperature,omitempty"`
	MaxTokens       int             `json:"max_tokens,omitempty"`
	ToolAllowlist   []string        `json:"tool_allowlist,omitempty"`
	WorkspacePolicy WorkspacePolicy `json:"workspace_policy"`
	MemoryPolicy    MemoryPolicy    `json:"memory_policy"`
	KnowledgePolicy KnowledgePolicy `json:"knowledge_policy"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
