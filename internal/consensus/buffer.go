package consensus

import "strings"

// Buffer accumulates accepted text messages in arrival order until the
// trigger threshold is reached.
//
// Buffer is not safe for concurrent use; the owning Machine serializes access.
type Buffer struct {
	threshold int
	policy    RetriggerPolicy

	msgs []Message
	// restored counts messages put back at the front after a failed
	// generation. Under RetriggerReaccumulate they do not count toward
	// the threshold.
	restored int
}

// NewBuffer returns an empty buffer. Thresholds below 1 are coerced to 1.
func NewBuffer(threshold int, policy RetriggerPolicy) *Buffer {
	if threshold < 1 {
		threshold = 1
	}
	if policy == "" {
		policy = RetriggerImmediate
	}
	return &Buffer{threshold: threshold, policy: policy}
}

// Ingest appends m if it is a text message and reports whether the buffer has
// reached its trigger threshold. Messages with no sender, blank text or a bot
// command (leading '/') are dropped; accepted is false for those.
func (b *Buffer) Ingest(m Message) (full, accepted bool) {
	if !IsTextMessage(m) {
		return b.Ready(), false
	}
	b.msgs = append(b.msgs, m)
	return b.Ready(), true
}

// Ready is the trigger predicate evaluated after every ingest.
func (b *Buffer) Ready() bool {
	counted := len(b.msgs)
	if b.policy == RetriggerReaccumulate {
		counted -= b.restored
	}
	return counted >= b.threshold
}

// Len returns the number of buffered messages.
func (b *Buffer) Len() int { return len(b.msgs) }

// Threshold returns the configured trigger threshold.
func (b *Buffer) Threshold() int { return b.threshold }

// Drain empties the buffer and returns its contents in arrival order.
func (b *Buffer) Drain() []Message {
	out := b.msgs
	b.msgs = nil
	b.restored = 0
	return out
}

// Restore puts msgs back at the front of the buffer, ahead of anything that
// arrived since they were drained.
func (b *Buffer) Restore(msgs []Message) {
	if len(msgs) == 0 {
		return
	}
	merged := make([]Message, 0, len(msgs)+len(b.msgs))
	merged = append(merged, msgs...)
	merged = append(merged, b.msgs...)
	b.msgs = merged
	b.restored += len(msgs)
}

// IsTextMessage is the structural filter applied before buffering.
func IsTextMessage(m Message) bool {
	if strings.TrimSpace(m.SenderID) == "" {
		return false
	}
	t := strings.TrimSpace(m.Text)
	if t == "" {
		return false
	}
	return !strings.HasPrefix(t, "/")
}
