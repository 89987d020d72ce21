// Package spinlock implements an interrupt-aware spinlock with
// nested-disable counting: holding any spinlock implies interrupts are
// disabled on the holding hart, and re-entrant acquire by the same hart
// is a fatal assertion. Grounded on
// original_source/kernel/src/spinlock.rs, with the acquire/release fences
// it documents.
package spinlock

import (
	"runtime"
	"sync/atomic"

	"sv39kernel/hart"
	"sv39kernel/kprint"
)

// Spinlock guards a value of type T with a simple test-and-set lock plus
// the hart-level interrupt-nesting discipline. It is not re-entrant.
type Spinlock[T any] struct {
	locked atomic.Bool
	owner  atomic.Pointer[hart.Hart]
	name   string
	value  T
}

// New constructs a spinlock protecting v, named for diagnostics: panic
// messages include the name so a deadlock or reentrant-acquire report
// identifies which lock misbehaved.
func New[T any](name string, v T) *Spinlock[T] {
	s := &Spinlock[T]{name: name, value: v}
	return s
}

// Guard is the proof-of-possession returned by Acquire; all access to the
// protected value goes through it.
type Guard[T any] struct {
	lock *Spinlock[T]
	h    *hart.Hart
}

// Acquire disables interrupts on h (nested), asserts h does not already
// hold this lock, spins until the lock is free, and records h as owner.
func (s *Spinlock[T]) Acquire(h *hart.Hart) *Guard[T] {
	h.PushOff()
	if s.owner.Load() == h && s.locked.Load() {
		kprint.Panic("spinlock %q: re-entrant acquire by hart %d", s.name, h.ID)
	}
	for !s.locked.CompareAndSwap(false, true) {
		// spin; real hardware would pause here, nothing to do in a
		// hosted simulation but yield the Go scheduler's timeslice.
		runtime.Gosched()
	}
	s.owner.Store(h)
	return &Guard[T]{lock: s, h: h}
}

// TryAcquire attempts a non-blocking acquire, returning nil if the lock is
// currently held.
func (s *Spinlock[T]) TryAcquire(h *hart.Hart) *Guard[T] {
	h.PushOff()
	if s.owner.Load() == h && s.locked.Load() {
		kprint.Panic("spinlock %q: re-entrant acquire by hart %d", s.name, h.ID)
	}
	if !s.locked.CompareAndSwap(false, true) {
		h.PopOff()
		return nil
	}
	s.owner.Store(h)
	return &Guard[T]{lock: s, h: h}
}

// Holding reports whether h currently holds s, for assertions.
func (s *Spinlock[T]) Holding(h *hart.Hart) bool {
	return s.locked.Load() && s.owner.Load() == h
}

// Value exposes the protected value for mutation; only valid while the
// guard is live.
func (g *Guard[T]) Value() *T { return &g.lock.value }

// Hart returns the hart that holds this guard.
func (g *Guard[T]) Hart() *hart.Hart { return g.h }

// Release asserts the calling hart is the owner, clears ownership, and
// re-enables interrupts if this was the outermost disable.
func (g *Guard[T]) Release() {
	s := g.lock
	if s.owner.Load() != g.h {
		kprint.Panic("spinlock %q: release by non-owner hart %d", s.name, g.h.ID)
	}
	s.owner.Store(nil)
	s.locked.Store(false)
	g.h.PopOff()
}

// UnlockTemporarily releases g, runs f, then re-acquires the same lock on
// the same hart, returning the new guard. Used by sleep paths that must
// drop a lock while suspended.
func UnlockTemporarily[T any](g *Guard[T], f func()) *Guard[T] {
	s, h := g.lock, g.h
	g.Release()
	f()
	return s.Acquire(h)
}
