package models

import (
	"encoding/json"
	"time"
)

// EventKind enumerates the event taxonomy the event bus fans out to
// subscribers. The string values are stable wire identifiers consumed by
// streaming clients; renaming one is a protocol break. message.delta is the
// only droppable kind under backpressure; every other kind is a lifecycle
// or terminal signal and is never dropped.
type EventKind string

const (
	EventMessageCreated   EventKind = "message.created"
	EventMessageDelta     EventKind = "message.delta"
	EventMessageCompleted EventKind = "message.completed"
	EventMessageStopped   EventKind = "message.stopped"

	EventToolProposed  EventKind = "tool.proposed"
	EventToolStarted   EventKind = "tool.started"
	EventToolProgress  EventKind = "tool.progress"
	EventToolCompleted EventKind = "tool.completed"
	EventToolFailed    EventKind = "tool.failed"

	EventApprovalRequest  EventKind = "approval.request"
	EventApprovalResponse EventKind = "approval.response"

	EventTaskPlan            EventKind = "task.plan"
	EventTaskMilestoneUpdate EventKind = "task.milestone_update"

	EventAgentActivity EventKind = "agent.activity"

	// EventSubscriptionOverflow is the terminal event a subscriber
	// receives when it falls too far behind and is dropped.
	EventSubscriptionOverflow EventKind = "subscription.overflow"

	// EventStopGeneration is a client-originated control event asking the
	// coordinator to cancel an in-flight turn.
	EventStopGeneration EventKind = "stop_generation"
)

// Event is the envelope published on the event bus and streamed to gateway
// clients. Seq is assigned per-conversation and is monotonically increasing,
// letting a reconnecting subscriber detect gaps.
type Event struct {
	Kind           EventKind       `json:"event"`
	ConversationID string          `json:"conversation_id"`
	TurnID         string          `json:"turn_id,omitempty"`
	Seq            uint64          `json:"seq"`
	Timestamp      time.Time       `json:"ts"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// IsDroppable reports whether this event kind may be coalesced or dropped
// under sustained subscriber backpressure.
func (k EventKind) IsDroppable() bool {
	return k == EventMessageDelta
}
