package eventbus

// BackpressureConfig sizes a subscriber's pending-event queue. When the
// queue is full, adjacent message.delta events are coalesced (their delta
// payloads concatenated) to make room; every other event kind is preserved.
// A subscriber that stays over capacity even after coalescing is torn down
// with a terminal subscription.overflow event, so a slow consumer can never
// block the publisher.
type BackpressureConfig struct {
	// Buffer is the per-subscriber pending-event cap.
	Buffer int
}

// DefaultBackpressureConfig sizes a subscriber for one active turn's event
// volume.
func DefaultBackpressureConfig() BackpressureConfig {
	return BackpressureConfig{Buffer: 256}
}

func (c BackpressureConfig) orDefaults() BackpressureConfig {
	d := DefaultBackpressureConfig()
	if c.Buffer > 0 {
		d.Buffer = c.Buffer
	}
	return d
}
