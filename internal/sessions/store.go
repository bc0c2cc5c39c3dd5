// Package sessions persists conversations and their message history.
package sessions

import (
	"context"

	"github.com/relaycore/agentcore/pkg/models"
)

// ListOptions configures conversation listing.
type ListOptions struct {
	Limit  int
	Offset int
}

// Store is the interface for conversation persistence. Implementations must
// be safe for concurrent use.
type Store interface {
	// Conversation CRUD
	Create(ctx context.Context, conv *models.Conversation) error
	Get(ctx context.Context, id string) (*models.Conversation, error)
	Update(ctx context.Context, conv *models.Conversation) error
	Delete(ctx context.Context, id string) error

	// GetByKey looks up a conversation by its agent+external-reference key,
	// as produced by models.ConversationKey.
	GetByKey(ctx context.Context, key string) (*models.Conversation, error)
	// GetOrCreate returns the existing conversation for key, or creates one
	// scoped to agentID.
	GetOrCreate(ctx context.Context, key, agentID string) (*models.Conversation, error)
	List(ctx context.Context, agentID string, opts ListOptions) ([]*models.Conversation, error)

	// Message history. GetHistory's signature matches
	// contextassembly.HistorySource so a Store can be passed directly as
	// one. UpdateMessage overwrites a streaming message's content, status,
	// and metadata; the batched writer flushes through it.
	AppendMessage(ctx context.Context, msg *models.Message) error
	UpdateMessage(ctx context.Context, msg *models.Message) error
	GetHistory(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
}
