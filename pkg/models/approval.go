package models

import (
	"encoding/json"
	"time"
)

// ApprovalKind categorizes what a pending approval request would let the
// agent do, so clients can render a kind-specific preview and the arbiter
// can apply kind-specific timeouts.
type ApprovalKind string

const (
	ApprovalKindCommandExecution  ApprovalKind = "command_execution"
	ApprovalKindDependencyInstall ApprovalKind = "dependency_install"
	ApprovalKindFileWrite         ApprovalKind = "file_write"
	ApprovalKindFileDelete        ApprovalKind = "file_delete"
	ApprovalKindGitOp             ApprovalKind = "git_op"
)

// ApprovalDecision is an operator's answer to a pending request.
type ApprovalDecision string

const (
	DecisionApprove ApprovalDecision = "approve"
	DecisionReject  ApprovalDecision = "reject"
	DecisionModify  ApprovalDecision = "modify"
)

// ApprovalStatus tracks an ApprovalRequest's lifecycle in the audit store.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusModified ApprovalStatus = "modified"
	ApprovalStatusTimedOut ApprovalStatus = "timed_out"
)

// ApprovalRequest is created by the arbiter when a tool call's risk level
// requires a human decision before execution can proceed. Payload is a
// kind-specific preview of what would run (the command string, the file
// path and a content excerpt, the package list).
type ApprovalRequest struct {
	ID                  string          `json:"id"`
	ConversationID      string          `json:"conversation_id"`
	TurnID              string          `json:"turn_id"`
	ToolCallID          string          `json:"tool_call_id"`
	ToolName            string          `json:"tool_name"`
	Kind                ApprovalKind    `json:"kind"`
	Payload             json.RawMessage `json:"payload,omitempty"`
	Risk                RiskLevel       `json:"risk"`
	EstimatedDurationMs int64           `json:"estimated_duration_ms,omitempty"`
	Status              ApprovalStatus  `json:"status"`
	ExpiresAt           time.Time       `json:"expires_at"`
	DecidedAt           *time.Time      `json:"decided_at,omitempty"`
	DecidedBy           string          `json:"decided_by,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// ApprovalResponse is submitted by a client to resolve a pending
// ApprovalRequest. ModifiedArguments is honored only when Decision is
// DecisionModify. Exactly one response per request is honored; duplicates
// are ignored.
type ApprovalResponse struct {
	RequestID          string           `json:"request_id"`
	Decision           ApprovalDecision `json:"decision"`
	ModifiedArguments  json.RawMessage  `json:"modified_arguments,omitempty"`
	RememberForSession bool             `json:"remember_for_session,omitempty"`
	DecidedBy          string           `json:"decided_by,omitempty"`
	Note               string           `json:"note,omitempty"`
}
