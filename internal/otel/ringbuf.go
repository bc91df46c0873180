package otel

import "sync"

// DefaultRingSize is the capacity used when NewRingBuffer is given a
// non-positive size.
const DefaultRingSize = 1024

// RingBuffer keeps the most recent Events in a fixed-size ring so a
// running process can be inspected without reading the event log back
// from disk. Safe for concurrent use.
type RingBuffer struct {
	mu     sync.RWMutex
	slots  []Event
	size   int
	next   int // slot the next Push lands in
	filled int // live entries, capped at size
}

// NewRingBuffer returns a ring holding up to size events. Sizes below 1
// fall back to DefaultRingSize.
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = DefaultRingSize
	}
	return &RingBuffer{slots: make([]Event, size), size: size}
}

// Push stores ev, evicting the oldest entry once the ring is full.
// The Extra map is copied so later mutation by the caller cannot reach
// into the ring.
func (r *RingBuffer) Push(ev Event) {
	if ev.Extra != nil {
		cp := make(map[string]any, len(ev.Extra))
		for k, v := range ev.Extra {
			cp[k] = v
		}
		ev.Extra = cp
	}
	r.mu.Lock()
	r.slots[r.next] = ev
	r.next = (r.next + 1) % r.size
	if r.filled < r.size {
		r.filled++
	}
	r.mu.Unlock()
}

// Snapshot returns every buffered event, oldest first. Returns nil when
// the ring is empty. The slice is a copy and needs no locking.
func (r *RingBuffer) Snapshot() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tail(r.filled)
}

// Last returns the n most recent events, oldest first. n larger than
// the current length returns everything; n below 1 returns nil.
func (r *RingBuffer) Last(n int) []Event {
	if n < 1 {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tail(n)
}

// tail copies the n newest entries in order. The ring holds them in at
// most two contiguous runs around the wrap point. Caller holds mu.
func (r *RingBuffer) tail(n int) []Event {
	if n > r.filled {
		n = r.filled
	}
	if n == 0 {
		return nil
	}
	out := make([]Event, n)
	if start := r.next - n; start >= 0 {
		copy(out, r.slots[start:r.next])
	} else {
		head := copy(out, r.slots[r.size+start:])
		copy(out[head:], r.slots[:r.next])
	}
	return out
}

// Len reports how many events the ring currently holds.
func (r *RingBuffer) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filled
}

// Cap reports the fixed capacity.
func (r *RingBuffer) Cap() int {
	return r.size
}

// Stats counts the buffered events by kind.
func (r *RingBuffer) Stats() map[EventKind]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[EventKind]int, 8)
	for _, ev := range r.slots[:r.filled] {
		counts[ev.Kind]++
	}
	return counts
}
