// Package sleeplock implements a blocking mutex layered on top of a
// spinlock and the proc package's sleep/wakeup primitive: unlike
// spinlock.Spinlock, holding one does not disable interrupts or spin the
// hart, and the holder may itself block while holding it (e.g. on disk
// I/O). Grounded on original_source/kernel/src/sleeplock.rs.
package sleeplock

import (
	"unsafe"

	"sv39kernel/hart"
	"sv39kernel/proc"
	"sv39kernel/spinlock"
)

// state is the small piece of bookkeeping Lock protects with an
// ordinary spinlock: whether it is currently held.
type state struct {
	locked bool
}

// Lock is a sleep-lock: Acquire blocks the calling process, not the
// hart, until the lock is free.
type Lock struct {
	mu *spinlock.Spinlock[state]
}

// New constructs an unlocked sleep-lock.
func New(name string) *Lock {
	return &Lock{mu: spinlock.New(name, state{})}
}

// token is the address used as the sleep/wakeup token for this lock: a
// sleeper waiting on it matches exactly the wakeups Release issues for
// it, and nothing else.
func (l *Lock) token() uintptr { return uintptr(unsafe.Pointer(l)) }

// Acquire blocks the calling process until the lock is free, then marks
// it held. h must be the hart currently running self.
func (l *Lock) Acquire(h *hart.Hart, self *proc.Proc) {
	g := l.mu.Acquire(h)
	for g.Value().locked {
		proc.GoSleep(h, self, l.token(), g.Release, func() { g = l.mu.Acquire(h) })
	}
	g.Value().locked = true
	g.Release()
}

// Release marks the lock free and wakes any process sleeping on it.
func (l *Lock) Release(h *hart.Hart, table *proc.Table, self *proc.Proc) {
	g := l.mu.Acquire(h)
	g.Value().locked = false
	g.Release()
	table.Wakeup(h, l.token(), self)
}

// Holding reports whether the lock is currently held, for assertions
// (e.g. a caller that must not re-enter).
func (l *Lock) Holding(h *hart.Hart) bool {
	g := l.mu.Acquire(h)
	v := g.Value().locked
	g.Release()
	return v
}
