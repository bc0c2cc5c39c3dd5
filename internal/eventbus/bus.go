// Package eventbus implements the conversation-scoped publish/subscribe fan
// out that streams turn events to gateway subscribers, plus the one-shot
// request/reply mailboxes the approval arbiter suspends on.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/relaycore/agentcore/pkg/models"
)

// ErrReplyTimeout is returned by RequestReply when no subscriber answered
// within the timeout.
var ErrReplyTimeout = errors.New("eventbus: reply timed out")

// Bus holds one Room per conversation and assigns each published event a
// monotonically increasing per-conversation sequence number.
type Bus struct {
	mu        sync.Mutex
	rooms     map[string]*Room
	seq       map[string]uint64
	mailboxes map[string]chan json.RawMessage
	cfg       BackpressureConfig
}

// New returns a Bus whose rooms use cfg for subscriber buffer sizing.
func New(cfg BackpressureConfig) *Bus {
	return &Bus{
		rooms:     make(map[string]*Room),
		seq:       make(map[string]uint64),
		mailboxes: make(map[string]chan json.RawMessage),
		cfg:       cfg.orDefaults(),
	}
}

// Publish delivers e to every subscriber of e.ConversationID, stamping Seq
// and returning the stamped event. Non-blocking: a conversation with no
// subscribers drops the event.
func (b *Bus) Publish(e models.Event) models.Event {
	b.mu.Lock()
	b.seq[e.ConversationID]++
	e.Seq = b.seq[e.ConversationID]
	room := b.rooms[e.ConversationID]
	b.mu.Unlock()

	if room != nil {
		room.publish(e)
	}
	return e
}

// Subscribe returns a channel of events for conversationID and an unsubscribe
// function. The channel is closed when Unsubscribe is called or the
// subscriber is dropped for persistent overflow, in which case a terminal
// subscription.overflow event is delivered first.
func (b *Bus) Subscribe(conversationID string) (<-chan models.Event, func()) {
	b.mu.Lock()
	room, ok := b.rooms[conversationID]
	if !ok {
		room = newRoom(b.cfg)
		b.rooms[conversationID] = room
	}
	b.mu.Unlock()

	return room.subscribe()
}

// SubscriberCount reports how many subscribers a conversation currently
// has; the gateway's disconnect-cancellation policy consults it.
func (b *Bus) SubscriberCount(conversationID string) int {
	b.mu.Lock()
	room := b.rooms[conversationID]
	b.mu.Unlock()
	if room == nil {
		return 0
	}
	return room.subscriberCount()
}

// RequestReply publishes request on conversationID's room with a one-shot
// mailbox registered under correlationID, then suspends until a subscriber
// answers via Reply, the timeout fires, or ctx is cancelled. The reply's
// raw payload is returned as published.
func (b *Bus) RequestReply(ctx context.Context, correlationID string, request models.Event, timeout time.Duration) (json.RawMessage, error) {
	mailbox := make(chan json.RawMessage, 1)

	b.mu.Lock()
	b.mailboxes[correlationID] = mailbox
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.mailboxes, correlationID)
		b.mu.Unlock()
	}()

	b.Publish(request)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case payload := <-mailbox:
		return payload, nil
	case <-timer.C:
		return nil, ErrReplyTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reply fills the one-shot mailbox registered under correlationID. The
// first reply wins; it reports false when no waiter exists or one already
// answered, so the caller can log and drop the duplicate.
func (b *Bus) Reply(correlationID string, payload json.RawMessage) bool {
	b.mu.Lock()
	mailbox, ok := b.mailboxes[correlationID]
	b.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case mailbox <- payload:
		return true
	default:
		return false
	}
}

// Close tears down the room for conversationID, closing every subscriber
// channel. Safe to call on a conversation with no room.
func (b *Bus) Close(conversationID string) {
	b.mu.Lock()
	room := b.rooms[conversationID]
	delete(b.rooms, conversationID)
	delete(b.seq, conversationID)
	b.mu.Unlock()

	if room != nil {
		room.close()
	}
}
