// Package memory persists MemoryItems: short-term interaction notes bounded
// per conversation by an agent's memory policy, and long-term lessons
// promoted from short-term once their importance clears a threshold. It
// implements contextassembly.MemorySource directly so a *Store can be wired
// into the Context Assembler without an adapter.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaycore/agentcore/internal/contextassembly"
	"github.com/relaycore/agentcore/pkg/models"
)

// Store is an in-process MemoryItem store, keyed by conversation. It is
// safe for concurrent use. A durable implementation (e.g. backed by the
// same SQL store sessions uses) would satisfy the same interface.
type Store struct {
	mu    sync.RWMutex
	items map[string][]models.MemoryItem // conversationID -> items, oldest first
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{items: make(map[string][]models.MemoryItem)}
}

// Append records a new short-term MemoryItem for a conversation, trimming
// the oldest short-term items once the count exceeds shortTermWindow. A
// non-positive window leaves short-term history unbounded.
func (s *Store) Append(ctx context.Context, conversationID, content string, tags []string, importance float64, shortTermWindow int) (models.MemoryItem, error) {
	item := models.MemoryItem{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Kind:           models.MemoryKindShortTerm,
		Category:       categoryFromTags(tags),
		Content:        content,
		Tags:           tags,
		Importance:     importance,
		CreatedAt:      time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[conversationID] = append(s.items[conversationID], item)
	if shortTermWindow > 0 {
		s.trimShortTermLocked(conversationID, shortTermWindow)
	}
	return item, nil
}

// categoryFromTags picks the item's category when one of its tags names a
// known MemoryCategory; interaction otherwise.
func categoryFromTags(tags []string) models.MemoryCategory {
	for _, t := range tags {
		switch c := models.MemoryCategory(t); c {
		case models.MemoryCategoryInteraction, models.MemoryCategoryLesson,
			models.MemoryCategoryChallenge, models.MemoryCategoryFeedback:
			return c
		}
	}
	return models.MemoryCategoryInteraction
}

// trimShortTermLocked drops the oldest short-term items for conversationID
// once their count exceeds window, leaving long-term items untouched. Caller
// must hold s.mu.
func (s *Store) trimShortTermLocked(conversationID string, window int) {
	all := s.items[conversationID]
	shortTermCount := 0
	for _, it := range all {
		if it.Kind == models.MemoryKindShortTerm {
			shortTermCount++
		}
	}
	if shortTermCount <= window {
		return
	}
	excess := shortTermCount - window
	kept := make([]models.MemoryItem, 0, len(all))
	for _, it := range all {
		if it.Kind == models.MemoryKindShortTerm && excess > 0 {
			excess--
			continue
		}
		kept = append(kept, it)
	}
	s.items[conversationID] = kept
}

// PromoteDue scans conversationID's short-term items and promotes any whose
// importance meets threshold to long-term, subject to maxLongTerm (the
// oldest long-term items are dropped to make room, 0 means unbounded). It
// runs lazily, out-of-turn, rather than inline with every Append.
func (s *Store) PromoteDue(ctx context.Context, conversationID string, threshold float64, maxLongTerm int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.items[conversationID]
	promoted := 0
	for i := range all {
		if all[i].Kind == models.MemoryKindShortTerm && all[i].Importance >= threshold {
			all[i].Kind = models.MemoryKindLongTerm
			promoted++
		}
	}
	if promoted == 0 {
		return 0, nil
	}

	if maxLongTerm > 0 {
		longTermIdx := make([]int, 0)
		for i, it := range all {
			if it.Kind == models.MemoryKindLongTerm {
				longTermIdx = append(longTermIdx, i)
			}
		}
		if len(longTermIdx) > maxLongTerm {
			sort.Slice(longTermIdx, func(a, b int) bool {
				return all[longTermIdx[a]].CreatedAt.Before(all[longTermIdx[b]].CreatedAt)
			})
			drop := len(longTermIdx) - maxLongTerm
			dropSet := make(map[int]struct{}, drop)
			for _, idx := range longTermIdx[:drop] {
				dropSet[idx] = struct{}{}
			}
			kept := make([]models.MemoryItem, 0, len(all))
			for i, it := range all {
				if _, ok := dropSet[i]; ok {
					continue
				}
				kept = append(kept, it)
			}
			all = kept
		}
	}
	s.items[conversationID] = all
	return promoted, nil
}

// Recall implements contextassembly.MemorySource: it ranks every item held
// for conversationID by deterministic relevance against query and returns
// the top limit.
func (s *Store) Recall(ctx context.Context, conversationID, query string, limit int) ([]models.MemoryItem, error) {
	s.mu.RLock()
	items := append([]models.MemoryItem(nil), s.items[conversationID]...)
	s.mu.RUnlock()

	ranked := contextassembly.RankByRelevance(items, query, limit)
	for i := range ranked {
		now := time.Now().UTC()
		ranked[i].LastRecalledAt = &now
	}
	return ranked, nil
}

var _ contextassembly.MemorySource = (*Store)(nil)
