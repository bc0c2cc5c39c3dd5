package models

import "testing"

func TestEventKind_IsDroppable(t *testing.T) {
	tests := []struct {
		kind EventKind
		want bool
	}{
		{EventMessageDelta, true},
		{EventMessageCreated, false},
		{EventMessageCompleted, false},
		{EventMessageStopped, false},
		{EventToolProposed, false},
		{EventToolStarted, false},
		{EventToolCompleted, false},
		{EventToolFailed, false},
		{EventApprovalRequest, false},
		{EventTaskPlan, false},
		{EventTaskMilestoneUpdate, false},
		{EventSubscriptionOverflow, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.IsDroppable(); got != tt.want {
				t.Errorf("IsDroppable() = %v, want %v", got, tt.want)
			}
		})
	}
}
