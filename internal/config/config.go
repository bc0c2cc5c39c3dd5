// Package config loads and validates the execution core's configuration:
// server addresses, LLM provider routing, workspace and approval policy,
// event bus sizing, and the conversation store backend.
package config

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Approval  ApprovalConfig  `yaml:"approval"`
	EventBus  EventBusConfig  `yaml:"event_bus"`
	Session   SessionConfig   `yaml:"session"`
	Log       LogConfig       `yaml:"log"`
	React     ReactConfig     `yaml:"react"`
	Agent     AgentConfig     `yaml:"agent"`
}

// AgentConfig configures the single default agent this deployment runs
// every conversation under. Full multi-agent CRUD and persistence is an
// external collaborator outside this system's scope; this gives every
// conversation a working default without it.
type AgentConfig struct {
	ID              string                `yaml:"id"`
	Name            string                `yaml:"name"`
	SystemPrompt    string                `yaml:"system_prompt"`
	ModelID         string                `yaml:"model_id"`
	Temperature     float64               `yaml:"temperature"`
	MaxTokens       int                   `yaml:"max_tokens"`
	ToolAllowlist   []string              `yaml:"tool_allowlist"`
	MemoryPolicy    MemoryPolicyConfig    `yaml:"memory_policy"`
	KnowledgePolicy KnowledgePolicyConfig `yaml:"knowledge_policy"`
}

// MemoryPolicyConfig mirrors models.MemoryPolicy.
type MemoryPolicyConfig struct {
	ShortTermWindow             int     `yaml:"short_term_window"`
	LongTermEnabled             bool    `yaml:"long_term_enabled"`
	LongTermImportanceThreshold float64 `yaml:"long_term_importance_threshold"`
	MaxLongTermItems            int     `yaml:"max_long_term_items"`
}

// KnowledgePolicyConfig mirrors models.KnowledgePolicy.
type KnowledgePolicyConfig struct {
	Enabled     bool     `yaml:"enabled"`
	TopK        int      `yaml:"top_k"`
	Collections []string `yaml:"collections"`
}

// ReactConfig bounds the ReAct engine's act-observe loop. MaxIterations
// corresponds to the MAX_REACT_ITERATIONS environment variable; 0 uses the
// engine's own default (react.MaxIterations). ChunkIdleTimeout corresponds
// to LLM_CHUNK_IDLE_TIMEOUT_MS; 0 uses llmadapter.DefaultChunkIdleTimeout.
type ReactConfig struct {
	MaxIterations    int      `yaml:"max_iterations"`
	ChunkIdleTimeout Duration `yaml:"chunk_idle_timeout"`
}

// ServerConfig controls the gateway's listening address.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
	// MaxConcurrentTurns bounds how many turns the coordinator's Budget
	// allows to run at once. Zero or negative means unbounded.
	MaxConcurrentTurns int `yaml:"max_concurrent_turns"`
	// StopOnDisconnect cancels a conversation's in-flight turns when its
	// last streaming subscriber disconnects.
	StopOnDisconnect bool `yaml:"stop_on_disconnect"`
}

// WorkspaceConfig bounds filesystem and shell tool access, mirroring
// models.WorkspacePolicy. Root corresponds to the WORKSPACE_ROOT
// environment variable; ShortCommandTimeout to SHORT_COMMAND_TIMEOUT_MS.
type WorkspaceConfig struct {
	Root                string   `yaml:"root"`
	AllowActions        bool     `yaml:"allow_actions"`
	AllowContextReads   bool     `yaml:"allow_context_reads"`
	ShortCommandTimeout Duration `yaml:"short_command_timeout"`
	// ExecutorURL, when set, routes every tool invocation to an external
	// executor service over its /tools/execute HTTP interface instead of
	// running in-process.
	ExecutorURL string `yaml:"executor_url"`
}

// ApprovalConfig configures the approval arbiter. RequestTTL corresponds to
// the APPROVAL_TIMEOUT_MS environment variable and is the base window that
// kind-specific timeouts scale from; 0 uses approval.DefaultRequestTTL.
type ApprovalConfig struct {
	RequestTTL Duration `yaml:"request_ttl"`
	// StoreDriver selects the approval.Store backend: "memory" or
	// "postgres". Defaults to "memory".
	StoreDriver string `yaml:"store_driver"`
	PostgresURL string `yaml:"postgres_url"`
}

// EventBusConfig sizes the event bus's per-subscriber backpressure buffer.
type EventBusConfig struct {
	Buffer int `yaml:"buffer"`
}

// SessionConfig selects and configures the conversation store backend:
// "memory" or "sqlite".
type SessionConfig struct {
	StoreDriver    string `yaml:"store_driver"`
	SQLitePath     string `yaml:"sqlite_path"`
	DefaultAgentID string `yaml:"default_agent_id"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}
