// Package hart models per-hardware-thread kernel state: a nested
// interrupt-disable counter, the flag recording whether interrupts were
// enabled before the outermost disable, and a tagged scheduler state.
// Grounded on original_source/kernel/src/process/cpu.rs and the per-hart
// discipline biscuit/src/mem/mem.go assumes via runtime.CPUHint(); here
// the hart is an explicit value threaded through calls rather than
// recovered from a modified runtime, since this module runs hosted with
// no bare-metal runtime to patch.
package hart

import "sync/atomic"

// State tags what a hart is doing right now.
type State int

const (
	Ready       State = iota /// idle, about to scan the process table
	Dispatching              /// about to context-switch into a process
	Running                  /// a process is executing on this hart
	Pausing                  /// about to switch back to the scheduler
	Preempting               /// timer fired, about to force a yield
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Dispatching:
		return "dispatching"
	case Running:
		return "running"
	case Pausing:
		return "pausing"
	case Preempting:
		return "preempting"
	default:
		return "unknown"
	}
}

// Hart is one hardware thread's kernel-visible state. Nothing in Hart is
// safe for concurrent use by two goroutines simultaneously — by
// construction exactly one goroutine (the scheduler loop or the process
// currently dispatched on it) ever touches a given Hart at a time.
type Hart struct {
	ID int

	noff      int  // nested spinlock-disable count
	introEna  bool // were interrupts enabled before the outermost disable
	intsOn    bool // this hart's current notion of "interrupts enabled"

	state   atomic.Int32 // State, read cross-hart for diagnostics only
	timerPending bool    // set by the (external) timer ISR; checked at trap return
}

// New constructs a hart with interrupts enabled and no spinlock held, the
// state a hart boots into.
func New(id int) *Hart {
	h := &Hart{ID: id, intsOn: true}
	h.state.Store(int32(Ready))
	return h
}

// State returns the hart's current tagged state. Safe to call from any
// goroutine; it is a diagnostic snapshot, not a lock.
func (h *Hart) State() State { return State(h.state.Load()) }

// SetState updates the tagged state; called only by the goroutine that
// currently owns this hart (the scheduler loop, or the dispatched
// process).
func (h *Hart) SetState(s State) { h.state.Store(int32(s)) }

// PushOff increments the nested-disable count. On the 0→1 transition it
// records whether interrupts were enabled and disables them. Interrupts
// here are simulated: InterruptsEnabled reports h.intsOn, which nothing
// but PushOff/PopOff ever mutates — there is no real IRQ line to mask,
// since trap vectors and PLIC wiring are out of scope for this module.
func (h *Hart) PushOff() {
	wasEna := h.intsOn
	h.noff++
	if h.noff == 1 {
		h.introEna = wasEna
	}
	h.intsOn = false
}

// PopOff reverses one PushOff. When the nested count reaches zero and
// interrupts were enabled before the outermost disable, it re-enables
// them.
func (h *Hart) PopOff() {
	if h.noff == 0 {
		panic("hart: PopOff: not disabled")
	}
	h.noff--
	if h.noff == 0 && h.introEna {
		h.intsOn = true
	}
}

// InterruptsEnabled reports this hart's simulated interrupt-enable flag.
func (h *Hart) InterruptsEnabled() bool { return h.intsOn }

// Noff reports the current nesting depth, for invariant assertions: a
// process yielding to the scheduler must do so with Noff()==1.
func (h *Hart) Noff() int { return h.noff }

// RequestPreempt records that the timer ISR fired on this hart; the next
// controlled point (trap return, in the real kernel) observes it and
// pauses the running process.
func (h *Hart) RequestPreempt() { h.timerPending = true }

// TakePendingPreempt reports and clears the pending-preemption flag.
func (h *Hart) TakePendingPreempt() bool {
	v := h.timerPending
	h.timerPending = false
	return v
}
