// Package transcript is the consumer side of message delivery: it appends
// incoming envelopes to a channel transcript without duplicates.
//
// Two envelopes are the same message when they share a message id, or, when
// either lacks one (an optimistic local echo), when sender and content match
// and their timestamps are within the tolerance window.
package transcript

import (
	"sync"
	"time"

	"go-realtime/internal/realtime"
)

const DefaultTolerance = 2 * time.Second

type Transcript struct {
	mu        sync.Mutex
	tolerance time.Duration
	entries   []realtime.Envelope
	ids       map[string]int
}

func New(tolerance time.Duration) *Transcript {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Transcript{tolerance: tolerance, ids: make(map[string]int)}
}

// Append adds msg unless it duplicates an existing entry. When the existing
// entry is an optimistic echo without an id, it is replaced in place by the
// server copy. It reports whether the transcript grew.
func (t *Transcript) Append(msg realtime.Envelope) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.MessageID != "" {
		if _, ok := t.ids[msg.MessageID]; ok {
			return false
		}
	}

	for i := len(t.entries) - 1; i >= 0; i-- {
		existing := t.entries[i]
		if existing.MessageID != "" && msg.MessageID != "" {
			continue
		}
		if !t.sameContent(existing, msg) {
			continue
		}
		if existing.MessageID == "" && msg.MessageID != "" {
			t.entries[i] = msg
			t.ids[msg.MessageID] = i
		}
		return false
	}

	if msg.MessageID != "" {
		t.ids[msg.MessageID] = len(t.entries)
	}
	t.entries = append(t.entries, msg)
	return true
}

// Messages returns a copy in arrival order.
func (t *Transcript) Messages() []realtime.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]realtime.Envelope(nil), t.entries...)
}

func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Transcript) sameContent(a, b realtime.Envelope) bool {
	if a.SenderID != b.SenderID || a.Content != b.Content {
		return false
	}
	delta := a.CreatedAt.Sub(b.CreatedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta <= t.tolerance
}

// IsDuplicate applies the same rule to a single pair.
func IsDuplicate(a, b realtime.Envelope, tolerance time.Duration) bool {
	if a.MessageID != "" && b.MessageID != "" {
		return a.MessageID == b.MessageID
	}
	return (&Transcript{tolerance: tolerance}).sameContent(a, b)
}
