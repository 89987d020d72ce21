// Package mem implements the physical page allocator: a singly linked
// LIFO free list threaded through the free frames themselves, with no
// coalescing and no refcounting — every allocation is exactly one
// 4096-byte frame. Grounded on biscuit/src/mem/mem.go's Physmem_t,
// trimmed to a single free list with no per-CPU lists and no page
// reference counts, which belong to biscuit's x86 physical memory model
// and are not needed for Sv39.
package mem

import (
	"sync"
	"unsafe"

	"sv39kernel/conf"
	"sv39kernel/defs"
	"sv39kernel/kprint"
)

const (
	pgSize       = conf.PGSIZE
	allocPoison  = 0x5a
	freePoison   = 0xa5
)

// Pa is a physical address.
type Pa uintptr

// Page is the byte contents of one physical frame.
type Page [conf.PGSIZE]byte

// freeNode is overlaid on the first bytes of a free frame; this is how the
// list is threaded without any separate bookkeeping allocation.
type freeNode struct {
	next Pa
}

// Allocator is the single-lock-protected free list of physical frames.
type Allocator struct {
	mu       sync.Mutex
	freelist Pa // 0 means empty; frame 0 is never a valid page, see Init
	base     Pa
	top      Pa
	toPage   func(Pa) *Page // physical-to-virtual, supplied by the caller
}

// New constructs an allocator over [base, top) with no pages populated
// yet; call Init to seed the free list.
func New(toPage func(Pa) *Page) *Allocator {
	return &Allocator{toPage: toPage}
}

// Init seeds the free list with every page-aligned frame in
// [kernelEnd, phystop), in decreasing address order (so the list pops in
// increasing order — this detail is not load-bearing, only deterministic
// for tests). kernelEnd and phystop must both be page-aligned.
func (a *Allocator) Init(kernelEnd, phystop Pa) {
	if uintptr(kernelEnd)%uintptr(pgSize) != 0 || uintptr(phystop)%uintptr(pgSize) != 0 {
		kprint.Panic("mem: Init: unaligned bound")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.base, a.top = kernelEnd, phystop
	a.freelist = 0
	npages := (int(phystop) - int(kernelEnd)) / pgSize
	for i := npages - 1; i >= 0; i-- {
		a.freePageLocked(kernelEnd + Pa(i*pgSize))
	}
}

// AllocatePage returns one physical frame filled with a poison byte, or
// EMEM if the free list is empty.
func (a *Allocator) AllocatePage() (Pa, defs.Err_t) {
	a.mu.Lock()
	p := a.freelist
	if p == 0 {
		a.mu.Unlock()
		return 0, defs.EMEM
	}
	node := (*freeNode)(unsafe.Pointer(a.toPage(p)))
	a.freelist = node.next
	a.mu.Unlock()

	pg := a.toPage(p)
	for i := range pg {
		pg[i] = allocPoison
	}
	return p, 0
}

// FreePage returns a frame to the allocator. p must be page-aligned, must
// lie within [base, top), and must not currently be on the free list —
// violating any precondition is a fatal kernel invariant, not a
// recoverable error.
func (a *Allocator) FreePage(p Pa) {
	if uintptr(p)%uintptr(pgSize) != 0 {
		kprint.Panic("mem: FreePage: unaligned frame %#x", p)
	}
	if p < a.base || p >= a.top {
		kprint.Panic("mem: FreePage: frame %#x out of range", p)
	}
	pg := a.toPage(p)
	for i := range pg {
		pg[i] = freePoison
	}
	a.mu.Lock()
	a.freePageLocked(p)
	a.mu.Unlock()
}

// freePageLocked links p at the head of the free list. Caller holds a.mu.
func (a *Allocator) freePageLocked(p Pa) {
	pg := a.toPage(p)
	node := (*freeNode)(unsafe.Pointer(pg))
	node.next = a.freelist
	a.freelist = p
}

// Free reports the number of frames currently on the free list, for
// diagnostics and tests.
func (a *Allocator) Free() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for p := a.freelist; p != 0; {
		n++
		node := (*freeNode)(unsafe.Pointer(a.toPage(p)))
		p = node.next
	}
	return n
}
