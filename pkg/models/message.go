package models

import "time"

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// MessageStatus tracks a message through its streaming lifecycle.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusStreaming MessageStatus = "streaming"
	MessageStatusComplete  MessageStatus = "complete"
	MessageStatusStopped   MessageStatus = "stopped"
	MessageStatusFailed    MessageStatus = "failed"
)

// Message is a single turn-scoped entry in a conversation's transcript.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	TurnID         string         `json:"turn_id,omitempty"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	Status         MessageStatus  `json:"status"`
	ToolCalls      []ToolCall     `json:"tool_calls,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
