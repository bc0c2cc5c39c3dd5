package eventbus

import (
	"encoding/json"
	"sync"

	"github.com/relaycore/agentcore/pkg/models"
)

// Room fans out events published for one conversation to all of its
// subscribers, each isolated behind its own bounded queue so a slow
// subscriber cannot stall others or the publisher.
type Room struct {
	cfg  BackpressureConfig
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func newRoom(cfg BackpressureConfig) *Room {
	return &Room{cfg: cfg, subs: make(map[*subscriber]struct{})}
}

func (r *Room) subscribe() (<-chan models.Event, func()) {
	s := newSubscriber(r.cfg)

	r.mu.Lock()
	r.subs[s] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, s)
			r.mu.Unlock()
			s.close()
		})
	}
	return s.out, unsubscribe
}

func (r *Room) publish(e models.Event) {
	r.mu.Lock()
	subs := make([]*subscriber, 0, len(r.subs))
	for s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	for _, s := range subs {
		if s.emit(e) {
			continue
		}
		r.mu.Lock()
		delete(r.subs, s)
		r.mu.Unlock()
		s.overflow(e.ConversationID)
	}
}

func (r *Room) subscriberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (r *Room) close() {
	r.mu.Lock()
	subs := make([]*subscriber, 0, len(r.subs))
	for s := range r.subs {
		subs = append(subs, s)
	}
	r.subs = make(map[*subscriber]struct{})
	r.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}

// subscriber buffers events in a single ordered queue drained by a pump
// goroutine, so delivery order always matches publish order. Under
// backpressure, adjacent message.delta entries are coalesced; only a
// consumer that stays behind even then is disconnected.
type subscriber struct {
	cfg    BackpressureConfig
	out    chan models.Event
	notify chan struct{}
	done   chan struct{}

	mu        sync.Mutex
	queue     []models.Event
	coalesced uint64
	closed    bool
	doneOnce  sync.Once
}

func newSubscriber(cfg BackpressureConfig) *subscriber {
	s := &subscriber{
		cfg:    cfg,
		out:    make(chan models.Event),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			if s.closed {
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			<-s.notify
			continue
		}
		e := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		// done unblocks the send when the consumer unsubscribed without
		// draining.
		select {
		case s.out <- e:
		case <-s.done:
			return
		}
	}
}

func (s *subscriber) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// emit appends e to the queue, coalescing deltas when the cap is hit. It
// returns false once the subscriber is over capacity even after
// coalescing, signaling the room to tear it down.
func (s *subscriber) emit(e models.Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return true
	}
	s.queue = append(s.queue, e)
	if len(s.queue) > s.cfg.Buffer {
		s.coalesceLocked()
	}
	over := len(s.queue) > s.cfg.Buffer
	s.mu.Unlock()
	s.wake()
	return !over
}

// deltaPayload is the wire shape of a message.delta event's data.
type deltaPayload struct {
	MessageID string `json:"message_id"`
	Delta     string `json:"delta"`
}

// coalesceLocked merges runs of adjacent message.delta events for the same
// message into single events with concatenated delta text, preserving the
// relative order of everything else. Caller holds s.mu.
func (s *subscriber) coalesceLocked() {
	merged := s.queue[:0:0]
	for _, e := range s.queue {
		if e.Kind.IsDroppable() && len(merged) > 0 {
			prev := &merged[len(merged)-1]
			if prev.Kind.IsDroppable() && prev.TurnID == e.TurnID {
				if combined, ok := mergeDeltas(prev.Data, e.Data); ok {
					prev.Data = combined
					prev.Seq = e.Seq
					prev.Timestamp = e.Timestamp
					s.coalesced++
					continue
				}
			}
		}
		merged = append(merged, e)
	}
	s.queue = merged
}

// mergeDeltas concatenates two message.delta payloads for the same message.
func mergeDeltas(a, b json.RawMessage) (json.RawMessage, bool) {
	var pa, pb deltaPayload
	if json.Unmarshal(a, &pa) != nil || json.Unmarshal(b, &pb) != nil {
		return nil, false
	}
	if pa.MessageID != pb.MessageID {
		return nil, false
	}
	out, err := json.Marshal(deltaPayload{MessageID: pa.MessageID, Delta: pa.Delta + pb.Delta})
	if err != nil {
		return nil, false
	}
	return out, true
}

// overflow delivers the terminal subscription.overflow event and closes the
// subscriber. The queue is replaced so the terminal event is the next (and
// last) thing the consumer sees.
func (s *subscriber) overflow(conversationID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	data, _ := json.Marshal(map[string]uint64{"coalesced": s.coalesced, "pending": uint64(len(s.queue))})
	s.queue = append(s.queue[:0:0], models.Event{
		Kind:           models.EventSubscriptionOverflow,
		ConversationID: conversationID,
		Data:           data,
	})
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
	s.wake()
}
