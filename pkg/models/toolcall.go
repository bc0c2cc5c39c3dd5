package models

import (
	"encoding/json"
	"time"
)

// RiskLevel classifies how much damage a tool invocation could do if it
// behaves unexpectedly or maliciously.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ToolCall is the in-flight request parsed out of a model's streamed text by
// the ReAct engine, before it has been validated or approved.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallStatus tracks a ToolCallRecord through the gateway pipeline.
type ToolCallStatus string

const (
	ToolCallProposed         ToolCallStatus = "proposed"
	ToolCallAwaitingApproval ToolCallStatus = "awaiting_approval"
	ToolCallApproved         ToolCallStatus = "approved"
	ToolCallRejected         ToolCallStatus = "rejected"
	ToolCallExecuting        ToolCallStatus = "executing"
	ToolCallCompleted        ToolCallStatus = "completed"
	ToolCallFailed           ToolCallStatus = "failed"
	ToolCallTimedOut         ToolCallStatus = "timed_out"
)

// ToolCallRecord is the durable post-mortem of one tool invocation, from
// parse through approval through execution, embedded in the assistant
// message's metadata for audit.
type ToolCallRecord struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	TurnID         string          `json:"turn_id"`
	Name           string          `json:"name"`
	Arguments      json.RawMessage `json:"arguments"`
	Risk           RiskLevel       `json:"risk"`
	Status         ToolCallStatus  `json:"status"`
	Result         string          `json:"result,omitempty"`
	IsError        bool            `json:"is_error,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
