// Package sourceslot implements the push-mode source slot: a mutually
// exclusive token admitting at most one active SOURCE connection at a
// time, per spec.md §3 and §5(ii)'s atomic-test-and-set requirement.
package sourceslot

import "sync/atomic"

// Slot is safe for concurrent use; TryAcquire performs the
// test-and-set the Listener needs at dispatch time so a burst of
// concurrent SOURCE connections cannot both be admitted.
type Slot struct {
	occupied atomic.Bool
}

// TryAcquire attempts Empty -> Occupied. Reports whether it succeeded.
func (s *Slot) TryAcquire() bool {
	return s.occupied.CompareAndSwap(false, true)
}

// Release transitions Occupied -> Empty. Safe to call even if already
// empty (idempotent), matching the Source Acceptor's release-on-exit
// contract regardless of how it terminated.
func (s *Slot) Release() {
	s.occupied.Store(false)
}

// Occupied reports the current state, for diagnostics only; callers
// that need the admission decision itself must use TryAcquire, never
// check-then-acquire, to avoid the race §5(ii) forbids.
func (s *Slot) Occupied() bool {
	return s.occupied.Load()
}
