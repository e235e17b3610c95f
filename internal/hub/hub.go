// Package hub implements the Broadcast Hub: a bounded ring of opaque byte
// chunks written by a single producer (the active source) and read by
// many subscribers (rovers), each at its own pace. A subscriber that
// falls behind the ring's capacity is dropped rather than allowed to
// stall the producer, grounded on the slow-client eviction in
// alorle-iptv-manager's streamBroadcaster.Write (other_examples).
package hub

import (
	"context"
	"sync"
)

// DefaultCapacity is the ring capacity the Supervisor gives every
// station's Hub, and the one New falls back to for capacity <= 0.
const DefaultCapacity = 100

// Result is the outcome of a Next call.
type Result int

const (
	// Chunk means a chunk was returned.
	Chunk Result = iota
	// Timeout means the deadline elapsed with nothing new to deliver.
	Timeout
	// Dropped means this cursor fell behind the ring and must disconnect.
	Dropped
)

// Hub is a single-producer, many-consumer bounded broadcast ring.
//
// Publish never blocks on slow consumers: the ring holds at most
// capacity chunks, and publishing past capacity evicts the oldest chunk.
// Each subscriber tracks the next sequence number it expects; if that
// sequence was evicted before the subscriber consumed it, the subscriber
// is marked dropped and its next Next call reports Dropped.
type Hub struct {
	capacity int

	mu       sync.Mutex
	chunks   [][]byte // ring contents, oldest first
	baseSeq  uint64   // sequence number of chunks[0]
	writeSeq uint64   // next sequence number to assign on publish
	subs     map[uint64]*subscriber
	nextSub  uint64
	waitCh   chan struct{} // closed and replaced on every publish/reset
}

type subscriber struct {
	next    uint64 // next sequence number this subscriber expects
	dropped bool
}

// New creates a Hub with the given ring capacity. capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{
		capacity: capacity,
		subs:     make(map[uint64]*subscriber),
		waitCh:   make(chan struct{}),
	}
}

// Publish appends chunk to the ring, evicting the oldest chunk if the
// ring is full, and wakes any subscriber blocked in Next. It never
// blocks on subscriber state and must only ever be called by the one
// attached producer.
func (h *Hub) Publish(chunk []byte) {
	h.mu.Lock()
	h.chunks = append(h.chunks, chunk)
	h.writeSeq++
	if len(h.chunks) > h.capacity {
		h.chunks = h.chunks[1:]
		h.baseSeq++
		// Any subscriber still expecting a sequence we just evicted
		// can no longer catch up without a gap; mark it dropped.
		for _, s := range h.subs {
			if !s.dropped && s.next < h.baseSeq {
				s.dropped = true
			}
		}
	}
	h.wake()
	h.mu.Unlock()
}

// Reset advances the Hub's baseline past the current tail so that
// chunks queued before this call are never delivered to subscribers
// that subscribe after it. Used when a push source (re)attaches, per
// spec.md's stale-chunk-drain design note. It does not move already
// subscribed cursors: a cursor that had caught up keeps receiving new
// chunks, while one still waiting on a cleared chunk reports Dropped on
// its next Next call.
func (h *Hub) Reset() {
	h.mu.Lock()
	h.chunks = nil
	h.baseSeq = h.writeSeq
	h.wake()
	h.mu.Unlock()
}

// wake closes the current waitCh (broadcasting to anyone parked in
// Next) and installs a fresh one. Callers must hold mu.
func (h *Hub) wake() {
	close(h.waitCh)
	h.waitCh = make(chan struct{})
}

// Subscribe registers a new cursor positioned at the current write
// sequence: the subscriber receives only chunks published after this
// call, never history.
func (h *Hub) Subscribe() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = &subscriber{next: h.writeSeq}
	return id
}

// Unsubscribe removes a cursor. Safe to call more than once.
func (h *Hub) Unsubscribe(cursor uint64) {
	h.mu.Lock()
	delete(h.subs, cursor)
	h.mu.Unlock()
}

// Next blocks until a new chunk is available for cursor, ctx is done
// (the caller's deadline), or the cursor has been dropped for lagging.
// The returned slice must be treated as read-only.
func (h *Hub) Next(ctx context.Context, cursor uint64) (Result, []byte) {
	for {
		h.mu.Lock()
		s, ok := h.subs[cursor]
		if !ok || s.dropped {
			h.mu.Unlock()
			return Dropped, nil
		}
		if s.next < h.baseSeq {
			s.dropped = true
			h.mu.Unlock()
			return Dropped, nil
		}
		if s.next < h.writeSeq {
			idx := s.next - h.baseSeq
			chunk := h.chunks[idx]
			s.next++
			h.mu.Unlock()
			return Chunk, chunk
		}

		wait := h.waitCh
		h.mu.Unlock()

		select {
		case <-wait:
			// A publish or reset happened; loop and re-check.
		case <-ctx.Done():
			return Timeout, nil
		}
	}
}

// Len reports the number of chunks currently buffered, for tests and
// diagnostics.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.chunks)
}
