package memory

import (
	"context"
	"testing"

	"github.com/relaycore/agentcore/pkg/models"
)

func TestStore_Append_TrimsShortTermWindow(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := s.Append(ctx, "conv-1", "note", nil, 0.1, 3); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	items, err := s.Recall(ctx, "conv-1", "", 100)
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected window to trim to 3 items, got %d", len(items))
	}
}

func TestStore_PromoteDue_PromotesAboveThreshold(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	if _, err := s.Append(ctx, "conv-1", "important lesson", nil, 0.9, 0); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := s.Append(ctx, "conv-1", "trivial aside", nil, 0.1, 0); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	promoted, err := s.PromoteDue(ctx, "conv-1", 0.5, 0)
	if err != nil {
		t.Fatalf("PromoteDue() error = %v", err)
	}
	if promoted != 1 {
		t.Fatalf("promoted = %d, want 1", promoted)
	}

	items, _ := s.Recall(ctx, "conv-1", "", 100)
	var longTerm, shortTerm int
	for _, it := range items {
		if it.Kind == models.MemoryKindLongTerm {
			longTerm++
		} else {
			shortTerm++
		}
	}
	if longTerm != 1 || shortTerm != 1 {
		t.Fatalf("expected 1 long-term and 1 short-term item, got long=%d short=%d", longTerm, shortTerm)
	}
}

func TestStore_PromoteDue_CapsLongTermItems(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := s.Append(ctx, "conv-1", "lesson", nil, 0.9, 0); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	if _, err := s.PromoteDue(ctx, "conv-1", 0.5, 2); err != nil {
		t.Fatalf("PromoteDue() error = %v", err)
	}

	items, _ := s.Recall(ctx, "conv-1", "", 100)
	if len(items) != 2 {
		t.Fatalf("expected long-term cap to leave 2 items, got %d", len(items))
	}
}

func TestStore_Recall_StampsLastRecalledAt(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	if _, err := s.Append(ctx, "conv-1", "note", nil, 0.5, 0); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	items, err := s.Recall(ctx, "conv-1", "note", 10)
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if len(items) != 1 || items[0].LastRecalledAt == nil {
		t.Fatalf("expected LastRecalledAt to be stamped, got %+v", items)
	}
}
