package models

import "time"

// TurnStatus tracks a Turn through the coordinator's state machine.
type TurnStatus string

const (
	TurnStatusRunning   TurnStatus = "running"
	TurnStatusCompleted TurnStatus = "completed"
	TurnStatusStopped   TurnStatus = "stopped"
	TurnStatusFailed    TurnStatus = "failed"
)

// Turn is the in-memory construct the turn coordinator owns for the
// lifetime of a single run_turn call: one user message in, zero or more
// ReAct iterations, one final assistant message out.
type Turn struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	MessageID      string     `json:"message_id,omitempty"`
	Status         TurnStatus `json:"status"`
	Iteration      int        `json:"iteration"`
	Plan           *TaskPlan  `json:"plan,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// MilestoneStatus tracks a single step of a TaskPlan.
type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in_progress"
	MilestoneCompleted  MilestoneStatus = "completed"
	MilestoneFailed     MilestoneStatus = "failed"
)

// Milestone is one step of a turn's task plan, as produced by the ReAct
// engine's dedicated planning call.
type Milestone struct {
	ID                 string          `json:"id"`
	Title              string          `json:"title"`
	Description        string          `json:"description,omitempty"`
	Type               string          `json:"type,omitempty"`
	EstimatedToolCalls int             `json:"estimated_tool_calls,omitempty"`
	RequiresApproval   bool            `json:"requires_approval,omitempty"`
	Status             MilestoneStatus `json:"status"`
	Note               string          `json:"note,omitempty"`
}

// TaskPlan is the ordered milestone list a planning pass produces for
// multi-step requests.
type TaskPlan struct {
	ID          string      `json:"plan_id"`
	Objective   string      `json:"objective"`
	Description string      `json:"description,omitempty"`
	Milestones  []Milestone `json:"milestones"`
}
