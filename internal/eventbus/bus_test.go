package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/relaycore/agentcore/pkg/models"
)

func TestBus_PublishAssignsMonotonicSeq(t *testing.T) {
	b := New(DefaultBackpressureConfig())
	ch, unsubscribe := b.Subscribe("conv-1")
	defer unsubscribe()

	b.Publish(models.Event{Kind: models.EventMessageCreated, ConversationID: "conv-1"})
	b.Publish(models.Event{Kind: models.EventMessageCompleted, ConversationID: "conv-1"})

	first := recv(t, ch)
	second := recv(t, ch)

	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("expected seq 1,2 got %d,%d", first.Seq, second.Seq)
	}
}

func TestBus_CoalescesDeltasUnderBackpressure(t *testing.T) {
	cfg := BackpressureConfig{Buffer: 4}
	b := New(cfg)
	ch, unsubscribe := b.Subscribe("conv-1")
	defer unsubscribe()

	// Flood without draining: deltas for the same message coalesce rather
	// than blocking Publish or dropping the subscriber.
	var want string
	for i := 0; i < 64; i++ {
		piece := string(rune('a' + i%26))
		want += piece
		data, _ := json.Marshal(map[string]string{"message_id": "msg-1", "delta": piece})
		b.Publish(models.Event{Kind: models.EventMessageDelta, ConversationID: "conv-1", TurnID: "turn-1", Data: data})
	}
	b.Publish(models.Event{Kind: models.EventMessageCompleted, ConversationID: "conv-1", TurnID: "turn-1"})

	// Drain: the concatenation of every delivered delta must reconstruct
	// the full content, and message.completed must arrive after them.
	var got string
	for {
		e := recv(t, ch)
		if e.Kind == models.EventMessageCompleted {
			break
		}
		if e.Kind != models.EventMessageDelta {
			t.Fatalf("unexpected event %s", e.Kind)
		}
		var payload struct {
			Delta string `json:"delta"`
		}
		if err := json.Unmarshal(e.Data, &payload); err != nil {
			t.Fatalf("decode delta: %v", err)
		}
		got += payload.Delta
	}
	if got != want {
		t.Fatalf("reconstructed %q, want %q", got, want)
	}
}

func TestBus_DeliveryPreservesPublishOrder(t *testing.T) {
	b := New(DefaultBackpressureConfig())
	ch, unsubscribe := b.Subscribe("conv-1")
	defer unsubscribe()

	b.Publish(models.Event{Kind: models.EventMessageDelta, ConversationID: "conv-1"})
	b.Publish(models.Event{Kind: models.EventToolProposed, ConversationID: "conv-1"})
	b.Publish(models.Event{Kind: models.EventMessageDelta, ConversationID: "conv-1"})

	var lastSeq uint64
	for i := 0; i < 3; i++ {
		e := recv(t, ch)
		if e.Seq <= lastSeq {
			t.Fatalf("seq went backwards: %d after %d", e.Seq, lastSeq)
		}
		lastSeq = e.Seq
		if i == 1 && e.Kind != models.EventToolProposed {
			t.Fatalf("event %d = %s, want tool.proposed in publish position", i, e.Kind)
		}
	}
}

func TestBus_UnknownConversationSubscribeThenPublish(t *testing.T) {
	b := New(DefaultBackpressureConfig())
	ch, unsubscribe := b.Subscribe("conv-2")
	defer unsubscribe()

	b.Publish(models.Event{Kind: models.EventMessageStopped, ConversationID: "conv-2"})
	e := recv(t, ch)
	if e.Kind != models.EventMessageStopped {
		t.Fatalf("expected message.stopped, got %s", e.Kind)
	}
}

func TestBus_RequestReplyRoundTrip(t *testing.T) {
	b := New(DefaultBackpressureConfig())
	ch, unsubscribe := b.Subscribe("conv-1")
	defer unsubscribe()

	// A subscriber answers the request it sees.
	go func() {
		e := <-ch
		if e.Kind != models.EventApprovalRequest {
			return
		}
		b.Reply("req-1", json.RawMessage(`{"decision":"approve"}`))
	}()

	payload, err := b.RequestReply(context.Background(), "req-1", models.Event{
		Kind:           models.EventApprovalRequest,
		ConversationID: "conv-1",
	}, time.Second)
	if err != nil {
		t.Fatalf("RequestReply: %v", err)
	}
	var resp struct {
		Decision string `json:"decision"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil || resp.Decision != "approve" {
		t.Fatalf("unexpected reply payload %s (err %v)", payload, err)
	}
}

func TestBus_RequestReplyTimeout(t *testing.T) {
	b := New(DefaultBackpressureConfig())

	_, err := b.RequestReply(context.Background(), "req-2", models.Event{
		Kind:           models.EventApprovalRequest,
		ConversationID: "conv-1",
	}, 20*time.Millisecond)
	if !errors.Is(err, ErrReplyTimeout) {
		t.Fatalf("expected ErrReplyTimeout, got %v", err)
	}
}

func TestBus_RequestReplyCancelled(t *testing.T) {
	b := New(DefaultBackpressureConfig())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := b.RequestReply(ctx, "req-3", models.Event{
			Kind:           models.EventApprovalRequest,
			ConversationID: "conv-1",
		}, time.Minute)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RequestReply did not observe cancellation")
	}
}

func TestBus_ReplyFirstResponseWins(t *testing.T) {
	b := New(DefaultBackpressureConfig())

	payload := make(chan json.RawMessage, 1)
	go func() {
		p, err := b.RequestReply(context.Background(), "req-4", models.Event{ConversationID: "c"}, 5*time.Second)
		if err == nil {
			payload <- p
		}
	}()

	// Poll until the waiter's mailbox is registered and the first reply
	// lands.
	deadline := time.Now().Add(2 * time.Second)
	for !b.Reply("req-4", json.RawMessage(`{"decision":"approve"}`)) {
		if time.Now().After(deadline) {
			t.Fatal("reply never found the waiter")
		}
		time.Sleep(time.Millisecond)
	}

	select {
	case p := <-payload:
		if string(p) != `{"decision":"approve"}` {
			t.Fatalf("unexpected payload %s", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reply delivered")
	}

	// The waiter is gone: a duplicate response reports undeliverable.
	deadline = time.Now().Add(2 * time.Second)
	for b.Reply("req-4", json.RawMessage(`{"decision":"reject"}`)) {
		if time.Now().After(deadline) {
			t.Fatal("duplicate reply kept finding a waiter")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBus_ReplyWithoutWaiter(t *testing.T) {
	b := New(DefaultBackpressureConfig())
	if b.Reply("nope", json.RawMessage(`{}`)) {
		t.Fatal("Reply with no registered mailbox should return false")
	}
}

func recv(t *testing.T, ch <-chan models.Event) models.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return models.Event{}
	}
}
