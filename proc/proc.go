// Package proc implements the process state machine and per-hart
// scheduler: process slots, state transitions, sleep/wakeup on opaque
// tokens, fork/exit/wait, and kill. Grounded on
// original_source/kernel/src/process/table.rs for the slot array plus
// side-table parent map, and original_source/kernel/src/process.rs for the
// state variants.
//
// There is no register-level context switch here: this module runs
// hosted, not on bare metal, so the other half of a dispatch is expressed
// as a rendezvous between the scheduler's goroutine and the process's
// goroutine over a pair of channels rather than a saved register frame
// and an assembly-level switch.
package proc

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"sv39kernel/conf"
	"sv39kernel/hart"
	"sv39kernel/mem"
	"sv39kernel/spinlock"
)

// State tags a process slot's lifecycle stage.
type State int

const (
	Unused State = iota
	Runnable
	Running
	Sleeping
	Zombie
)

func (s State) String() string {
	switch s {
	case Unused:
		return "unused"
	case Runnable:
		return "runnable"
	case Running:
		return "running"
	case Sleeping:
		return "sleeping"
	case Zombie:
		return "zombie"
	default:
		return "?"
	}
}

// Body is the function a process slot runs once first dispatched. It
// receives the dispatching hart and must call Pause, GoSleep, or Exit to
// give control back to the scheduler — those are the only sanctioned
// ways to yield. A process holds no lock between such calls; each of
// Pause/GoSleep/Exit acquires the slot lock itself around its own state
// transition.
type Body func(p *Proc, h *hart.Hart)

// Fields holds everything a slot's spinlock protects. Only
// Runnable/Running/Sleeping/Zombie own UserRoot/TrapFrame/KStack;
// transitioning to Unused releases them.
type Fields struct {
	State      State
	Token      uintptr
	ExitStatus int
	Pid        int
	Killed     bool

	UserRoot  mem.Pa
	UserSize  int
	TrapFrame mem.Pa
	KStack    mem.Pa

	cpu *hart.Hart // hart currently running this slot, else nil
}

// Proc is one process table slot.
type Proc struct {
	Lock *spinlock.Spinlock[Fields]

	toProc  chan *hart.Hart // scheduler -> process: you're dispatched, on this hart
	toSched chan struct{}   // process -> scheduler: I yielded

	body Body
}

func newProc() *Proc {
	return &Proc{
		Lock:    spinlock.New("proc", Fields{State: Unused}),
		toProc:  make(chan *hart.Hart),
		toSched: make(chan struct{}),
	}
}

// Token returns this slot's identity as a sleep/wakeup token, e.g. for a
// parent to sleep on "one of my children changed state". The token is,
// by convention, the address of whatever object the sleeper and waker
// agree on — here, the slot's own address.
func (p *Proc) Token() uintptr { return uintptr(unsafe.Pointer(p)) }

// parentEntry records a child/parent relationship in a side table,
// avoiding the cyclic-ownership problem of embedding back-pointers in
// Proc: slots never point at each other directly.
type parentEntry struct {
	child, parent *Proc
}

// Table is the fixed-size process table plus the parent-map side table
// and PID allocator, mirroring original_source/kernel/src/process/table.rs.
type Table struct {
	slots [conf.NPROC]*Proc

	mu       sync.Mutex // protects parents/initProc, and doubles as the wait-channel lock
	parents  []parentEntry
	initProc *Proc
	nextPid  atomic.Int64
}

// NewTable constructs an empty table. Call SetInit once the init process
// exists so exit() has somewhere to reparent orphans.
func NewTable() *Table {
	t := &Table{}
	for i := range t.slots {
		t.slots[i] = newProc()
	}
	return t
}

// Slots exposes the fixed slot array for the scheduler loop and tests.
func (t *Table) Slots() []*Proc { return t.slots[:] }

// allocPid returns the next PID, starting at 1. nextPid is zero-valued at
// construction (not seeded), so the first Add(1) itself returns 1.
func (t *Table) allocPid() int { return int(t.nextPid.Add(1)) }
