package gateway

import (
	"container/heap"
	"encoding/json"
)

// buffer reorders event frames by sequence number. Frames at or below the
// current sequence are dropped; frames ahead of the next expected number
// wait in a min-heap until the gap closes.
type buffer struct {
	pending eventHeap
	current uint64
}

func newBuffer(current uint64) *buffer {
	return &buffer{current: current}
}

// Insert offers an event frame to the buffer. It reports whether the
// frame was accepted or dropped as a duplicate.
func (b *buffer) Insert(sn uint64, data json.RawMessage) bool {
	if sn <= b.current {
		return false
	}
	heap.Push(&b.pending, event{sn: sn, data: data})
	return true
}

// Release pops every payload that is now contiguous with the current
// sequence, in order, advancing the current sequence past them.
func (b *buffer) Release() []json.RawMessage {
	var out []json.RawMessage
	for b.pending.Len() > 0 {
		head := b.pending[0]
		switch {
		case head.sn <= b.current:
			// Duplicate that slipped into the heap before a gap closed.
			heap.Pop(&b.pending)
		case head.sn == b.current+1:
			heap.Pop(&b.pending)
			b.current = head.sn
			out = append(out, head.data)
		default:
			return out
		}
	}
	return out
}

// Reset drops every pending frame and rewinds the sequence.
func (b *buffer) Reset(sn uint64) {
	b.pending = nil
	b.current = sn
}

// Current returns the highest released sequence number.
func (b *buffer) Current() uint64 {
	return b.current
}

// Len returns the number of frames waiting for a gap to close.
func (b *buffer) Len() int {
	return b.pending.Len()
}

type event struct {
	sn   uint64
	data json.RawMessage
}

type eventHeap []event

func (h eventHeap) Len() int           { return len(h) }
func (h eventHeap) Less(i, j int) bool { return h[i].sn < h[j].sn }
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)        { *h = append(*h, x.(event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
