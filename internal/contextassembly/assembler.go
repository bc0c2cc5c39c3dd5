// Package contextassembly builds the message list a turn sends to the
// model: recent conversation history plus recalled long-term memory and
// knowledge-base snippets, gathered concurrently and bounded by an
// errgroup so a slow lookup can't stall a turn indefinitely.
package contextassembly

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/relaycore/agentcore/pkg/models"
)

// HistorySource returns the most recent messages of a conversation, newest
// last.
type HistorySource interface {
	GetHistory(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
}

// MemorySource recalls MemoryItems relevant to a query.
type MemorySource interface {
	Recall(ctx context.Context, conversationID, query string, limit int) ([]models.MemoryItem, error)
}

// KnowledgeSource looks up snippets from a knowledge base scoped by a set
// of allowed collections.
type KnowledgeSource interface {
	Lookup(ctx context.Context, collections []string, query string, limit int) ([]string, error)
}

// Assembler fans out to each configured source and merges the results into
// an ordered context.
type Assembler struct {
	history   HistorySource
	memory    MemorySource
	knowledge KnowledgeSource
	logger    *slog.Logger
}

// New builds an Assembler. Any source may be nil to skip that lookup
// (e.g. an agent with no knowledge base configured). logger may be nil, in
// which case slog.Default() is used.
func New(history HistorySource, memory MemorySource, knowledge KnowledgeSource, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{history: history, memory: memory, knowledge: knowledge, logger: logger}
}

// Request describes what a single turn needs assembled. MemoryEnabled and
// KnowledgeEnabled mirror the agent's policies; a disabled lookup is
// skipped even when a source is wired.
type Request struct {
	ConversationID   string
	Query            string
	HistoryLimit     int
	MemoryEnabled    bool
	MemoryLimit      int
	KnowledgeEnabled bool
	KnowledgeLimit   int
	KnowledgeScope   []string
}

// Context is the assembled material for a turn. MemoryErr/KnowledgeErr are
// set when the corresponding lookup failed; per the graceful-degradation
// rule an answer with less context beats no answer, so a failure there
// never aborts assembly; only a history fetch failure does, since a turn
// can't proceed without its own conversation.
type Context struct {
	History      []models.Message
	Memory       []models.MemoryItem
	Knowledge    []string
	MemoryErr    error
	KnowledgeErr error
}

// Assemble runs the three lookups concurrently via golang.org/x/sync/errgroup,
// the same fan-out primitive this codebase uses elsewhere for bounded
// concurrency. Only the history fetch can fail the whole call; memory recall
// and knowledge-base lookup failures are captured on the returned Context
// instead of aborting assembly.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Context, error) {
	var result Context
	group, groupCtx := errgroup.WithContext(ctx)

	if a.history != nil {
		group.Go(func() error {
			history, err := a.history.GetHistory(groupCtx, req.ConversationID, req.HistoryLimit)
			if err != nil {
				return fmt.Errorf("fetch history: %w", err)
			}
			result.History = history
			return nil
		})
	}

	if a.memory != nil && req.MemoryEnabled {
		group.Go(func() error {
			items, err := a.memory.Recall(ctx, req.ConversationID, req.Query, req.MemoryLimit)
			if err != nil {
				result.MemoryErr = fmt.Errorf("recall memory: %w", err)
				a.logger.Warn("memory recall failed, continuing without it", "error", err, "conversation_id", req.ConversationID)
				return nil
			}
			result.Memory = items
			return nil
		})
	}

	if a.knowledge != nil && req.KnowledgeEnabled {
		group.Go(func() error {
			snippets, err := a.knowledge.Lookup(ctx, req.KnowledgeScope, req.Query, req.KnowledgeLimit)
			if err != nil {
				result.KnowledgeErr = fmt.Errorf("lookup knowledge: %w", err)
				a.logger.Warn("knowledge lookup failed, continuing without it", "error", err, "conversation_id", req.ConversationID)
				return nil
			}
			result.Knowledge = snippets
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return &result, nil
}
