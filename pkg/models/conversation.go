package models

import "time"

// Conversation is a durable thread of messages between a user and an
// agent; access requires both the owner and the agent to match.
type Conversation struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"owner_id,omitempty"`
	AgentID   string         `json:"agent_id"`
	Title     string         `json:"title,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ConversationKey derives the lookup key a Store implementation indexes
// conversations by, mirroring the agent/channel composite keys used
// elsewhere in this codebase for session identity.
func ConversationKey(agentID, externalRef string) string {
	if externalRef == "" {
		return agentID
	}
	return agentID + ":" + externalRef
}
