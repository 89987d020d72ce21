// Package bio implements the block buffer cache: a fixed pool of
// sleep-lockable blocks, indexed by (device, block number) under a
// spinlock that tracks reference counts and LRU recency. Grounded on
// biscuit/src/fs/blk.go's Bdev_block_t/BlkList_t, re-keyed to the
// simpler reference-counted LRU index this kernel's superblock-free
// block cache needs instead of biscuit's buffer-list-per-inode
// bookkeeping.
package bio

import (
	"sync/atomic"

	"sv39kernel/conf"
	"sv39kernel/defs"
	"sv39kernel/hart"
	"sv39kernel/proc"
	"sv39kernel/sleeplock"
	"sv39kernel/spinlock"
	"sv39kernel/virtio"
)

type key struct {
	dev int
	blk int
}

// Buffer is one cached block: its contents, whether they have been read
// from disk at least once, and its own sleep-lock. Callers hold the
// sleep-lock for the duration of any access to Data.
type Buffer struct {
	Data        [conf.BSIZE]byte
	Initialized bool
	lock        *sleeplock.Lock
	key         key
}

type slot struct {
	buf      *Buffer
	refcount int
	recency  uint64
	valid    bool // false until first assigned a key
}

// indexState is the index-lock-protected map from key to slot; each
// slot's recency stamp (from the package-level tick clock) picks the
// LRU-eviction candidate.
type indexState struct {
	slots []slot
	byKey map[key]int
}

// Cache is the block buffer cache: N fixed buffers plus the disk they
// are backed by.
type Cache struct {
	disk  virtio.Disk
	index *spinlock.Spinlock[indexState]
}

// New constructs a cache of n buffers over disk.
func New(disk virtio.Disk, n int) *Cache {
	st := indexState{
		slots: make([]slot, n),
		byKey: make(map[key]int, n),
	}
	for i := range st.slots {
		st.slots[i].buf = &Buffer{lock: sleeplock.New("bio")}
	}
	return &Cache{disk: disk, index: spinlock.New("bio-index", st)}
}

var tick atomic.Uint64 // monotonic recency counter, shared across all caches

func nextTick() uint64 { return tick.Add(1) }

// Get returns the sleep-locked buffer for (dev, blk), reading it from
// disk synchronously on first use. Fails with EBUFFER if every buffer is
// currently pinned (refcount > 0).
func (c *Cache) Get(h *hart.Hart, self *proc.Proc, dev, blk int) (*Buffer, defs.Err_t) {
	k := key{dev, blk}

	g := c.index.Acquire(h)
	if i, ok := g.Value().byKey[k]; ok {
		g.Value().slots[i].refcount++
		buf := g.Value().slots[i].buf
		g.Release()
		buf.lock.Acquire(h, self)
		return buf, 0
	}

	idx := -1
	var oldest uint64 = ^uint64(0)
	for i := range g.Value().slots {
		s := &g.Value().slots[i]
		if s.refcount == 0 && (idx == -1 || s.recency < oldest) {
			idx = i
			oldest = s.recency
		}
	}
	if idx == -1 {
		g.Release()
		return nil, defs.EBUFFER
	}

	if g.Value().slots[idx].valid {
		delete(g.Value().byKey, g.Value().slots[idx].buf.key)
	}
	buf := g.Value().slots[idx].buf
	buf.key = k
	buf.Initialized = false
	g.Value().slots[idx].valid = true
	g.Value().slots[idx].refcount = 1
	g.Value().byKey[k] = idx
	g.Release()

	buf.lock.Acquire(h, self)
	if !buf.Initialized {
		c.disk.ReadBlock(blk, &buf.Data)
		buf.Initialized = true
	}
	return buf, 0
}

// Release drops buf's sleep-lock and, under the index lock, decrements
// its refcount; at zero it becomes LRU-evictable, most-recently so.
func (c *Cache) Release(h *hart.Hart, table *proc.Table, self *proc.Proc, buf *Buffer) {
	buf.lock.Release(h, table, self)

	g := c.index.Acquire(h)
	if i, ok := g.Value().byKey[buf.key]; ok {
		g.Value().slots[i].refcount--
		if g.Value().slots[i].refcount == 0 {
			g.Value().slots[i].recency = nextTick()
		}
	}
	g.Release()
}

// Pin increments buf's refcount without touching its contents or
// sleep-lock state, keeping it resident while e.g. a journal commit is
// in flight.
func (c *Cache) Pin(h *hart.Hart, buf *Buffer) {
	g := c.index.Acquire(h)
	if i, ok := g.Value().byKey[buf.key]; ok {
		g.Value().slots[i].refcount++
	}
	g.Release()
}

// Unpin reverses Pin.
func (c *Cache) Unpin(h *hart.Hart, buf *Buffer) {
	g := c.index.Acquire(h)
	if i, ok := g.Value().byKey[buf.key]; ok {
		g.Value().slots[i].refcount--
		if g.Value().slots[i].refcount == 0 {
			g.Value().slots[i].recency = nextTick()
		}
	}
	g.Release()
}

// WriteThrough writes buf's contents directly to its home block,
// bypassing the journal. Used by the log to install shadow blocks and by
// recovery; ordinary filesystem writers must go through fslog instead.
func (c *Cache) WriteThrough(buf *Buffer) {
	c.disk.WriteBlock(buf.key.blk, &buf.Data)
}

// BlockNo reports the block number buf is currently keyed to.
func (buf *Buffer) BlockNo() int { return buf.key.blk }
