// Package console defines the capability boundary between the kernel
// and a character device: a small read/write interface plus the
// fixed-size registry devices bind into, mirroring
// biscuit/src/fs/blk.go's Disk_i/Block_cb_i small-interface style. The
// UART wire protocol and line discipline (echo, backspace, ^U/^D
// handling) that a real implementation would sit behind are out of
// scope; tests needing a concrete device use the Buffered
// implementation below.
package console

import (
	"sv39kernel/defs"
	"sv39kernel/hart"
	"sv39kernel/proc"
	"sv39kernel/spinlock"
)

// Device is the capability a driver registers: Write sends n bytes out,
// returning how many were accepted before any blocking stop condition;
// Read blocks (via proc.GoSleep) until at least one byte is available
// and fills dst, returning how many it wrote.
type Device interface {
	Write(h *hart.Hart, self *proc.Proc, src []byte) (int, defs.Err_t)
	Read(h *hart.Hart, self *proc.Proc, dst []byte) (int, defs.Err_t)
}

// registry is the devsw-style table devices bind into by device number.
type registry struct {
	devices [defs.D_LAST + 1]Device
}

var global registry

// Register binds dev to its Device capability. Called once per device
// at boot.
func Register(dev int, d Device) { global.devices[dev] = d }

// Lookup returns the Device bound to dev, or nil if none is registered.
func Lookup(dev int) Device { return global.devices[dev] }

// ringState is the fixed-size byte ring backing Buffered.
type ringState struct {
	buf               [inputBufLen]byte
	readIdx, writeIdx int
}

const inputBufLen = 128

// Buffered is a Device over an in-memory ring buffer with no line
// discipline: every byte written to it is immediately available to
// Read, in order. It exists so tests have a concrete Device without
// depending on a real UART.
type Buffered struct {
	mu    *spinlock.Spinlock[ringState]
	table *proc.Table
}

// NewBuffered constructs an empty ring-buffered console device.
func NewBuffered(table *proc.Table) *Buffered {
	return &Buffered{
		mu:    spinlock.New("console", ringState{}),
		table: table,
	}
}

func (b *Buffered) token() uintptr { return uintptr(1) }

// Write appends src to the ring, dropping bytes once it is full rather
// than blocking the writer: a real UART's putc_blocking is the only
// backpressure point in a line-discipline implementation, which this
// capability-only layer has no analogue for.
func (b *Buffered) Write(h *hart.Hart, self *proc.Proc, src []byte) (int, defs.Err_t) {
	g := b.mu.Acquire(h)
	n := 0
	for _, c := range src {
		if g.Value().writeIdx-g.Value().readIdx >= inputBufLen {
			break
		}
		g.Value().buf[g.Value().writeIdx%inputBufLen] = c
		g.Value().writeIdx++
		n++
	}
	g.Release()
	b.table.Wakeup(h, b.token(), self)
	return n, 0
}

// Read blocks until at least one byte is available, then copies as many
// buffered bytes as fit in dst (no line-at-a-time semantics: that is
// the line discipline this package deliberately omits).
func (b *Buffered) Read(h *hart.Hart, self *proc.Proc, dst []byte) (int, defs.Err_t) {
	g := b.mu.Acquire(h)
	for g.Value().readIdx == g.Value().writeIdx {
		proc.GoSleep(h, self, b.token(), g.Release, func() { g = b.mu.Acquire(h) })
	}
	n := 0
	for n < len(dst) && g.Value().readIdx != g.Value().writeIdx {
		dst[n] = g.Value().buf[g.Value().readIdx%inputBufLen]
		g.Value().readIdx++
		n++
	}
	g.Release()
	return n, 0
}
