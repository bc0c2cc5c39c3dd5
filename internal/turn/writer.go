package turn

import (
	"context"
	"strings"
	"sync"
	"time"
)

// flushThresholdBytes and flushInterval bound how much streamed content a
// Write lets sit in memory before it's durably persisted, so a burst of
// deltas doesn't hammer the message store. Both limits are checked only when
// a delta arrives: there is no background timer, so content buffered before
// a lull stays unpersisted until the next Write or the final Flush.
const (
	flushThresholdBytes = 1024
	flushInterval       = 500 * time.Millisecond
)

// Persister durably appends content to a message. Flush is called with the
// full accumulated content seen so far, not just the delta, so a Persister
// implementation can simply overwrite.
type Persister interface {
	Flush(ctx context.Context, messageID string, content string) error
}

// BatchedWriter accumulates a message's streamed content in memory and
// flushes to a Persister from Write once the unflushed size or the time since
// the last flush crosses its threshold.
type BatchedWriter struct {
	ctx       context.Context
	persister Persister
	messageID string

	mu        sync.Mutex
	buffer    strings.Builder
	unflushed int
	lastFlush time.Time
}

func NewBatchedWriter(ctx context.Context, persister Persister, messageID string) *BatchedWriter {
	w := &BatchedWriter{
		ctx:       ctx,
		persister: persister,
		messageID: messageID,
		lastFlush: time.Now(),
	}
	return w
}

// Write appends delta to the accumulated content, flushing immediately if
// the size threshold is crossed.
func (w *BatchedWriter) Write(delta string) error {
	w.mu.Lock()
	w.buffer.WriteString(delta)
	w.unflushed += len(delta)
	shouldFlush := w.unflushed >= flushThresholdBytes || time.Since(w.lastFlush) >= flushInterval
	w.mu.Unlock()

	if shouldFlush {
		return w.Flush()
	}
	return nil
}

// Flush persists the full accumulated content regardless of threshold;
// callers use this to force a final write at the end of a turn.
func (w *BatchedWriter) Flush() error {
	w.mu.Lock()
	content := w.buffer.String()
	w.unflushed = 0
	w.lastFlush = time.Now()
	w.mu.Unlock()

	return w.persister.Flush(w.ctx, w.messageID, content)
}
