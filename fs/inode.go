package fs

import (
	"sync"
	"unsafe"

	"sv39kernel/bio"
	"sv39kernel/conf"
	"sv39kernel/fslog"
	"sv39kernel/hart"
	"sv39kernel/proc"
	"sv39kernel/sleeplock"
)

// Kind tags what an inode denotes.
type Kind int

const (
	KindUnused Kind = iota
	KindDirectory
	KindFile
	KindDevice
)

// onDiskInodeSize is the fixed 64-byte on-disk inode record: kind(2) +
// major(2) + minor(2) + nlink(2) + size(4) + direct[12](48) + indirect(4).
const onDiskInodeSize = 64

type onDiskInode struct {
	Kind     Kind
	Major    int
	Minor    int
	NLink    int
	Size     int
	Direct   [conf.NDIRECT]int
	Indirect int
}

func (d *onDiskInode) encode(b []byte) {
	putU32(b[0:4], uint32(uint16(d.Kind))|uint32(uint16(d.Major))<<16)
	putU32(b[4:8], uint32(uint16(d.Minor))|uint32(uint16(d.NLink))<<16)
	putU32(b[8:12], uint32(d.Size))
	for i, v := range d.Direct {
		putU32(b[12+4*i:16+4*i], uint32(v))
	}
	putU32(b[12+4*conf.NDIRECT:16+4*conf.NDIRECT], uint32(d.Indirect))
}

func (d *onDiskInode) decode(b []byte) {
	w0, w1 := getU32(b[0:4]), getU32(b[4:8])
	d.Kind, d.Major = Kind(w0&0xffff), int(w0>>16)
	d.Minor, d.NLink = int(w1&0xffff), int(w1>>16)
	d.Size = int(getU32(b[8:12]))
	for i := range d.Direct {
		d.Direct[i] = int(getU32(b[12+4*i : 16+4*i]))
	}
	d.Indirect = int(getU32(b[12+4*conf.NDIRECT : 16+4*conf.NDIRECT]))
}

// Inode is a cached, sleep-lockable in-memory inode: a cheap clonable
// reference until Lock is called, which reads the on-disk copy the
// first time.
type Inode struct {
	dev, inum int

	lock *sleeplock.Lock
	body onDiskInode
	// valid is true once the on-disk contents have been read into body
	// at least once since this slot was assigned to (dev, inum).
	valid bool
}

type cacheEntry struct {
	inode    *Inode
	refcount int
}

// Cache is the reference-counted inode cache, keyed by (device, inum),
// mirroring bio.Cache's structure.
type Cache struct {
	sb    *Superblock
	disk  int
	bio   *bio.Cache
	log   *fslog.Log
	table *proc.Table

	mu      sync.Mutex
	entries map[[2]int]*cacheEntry
}

// NewCache constructs an inode cache over sb on disk, backed by bc and
// journaled through log.
func NewCache(sb *Superblock, disk int, bc *bio.Cache, log *fslog.Log, table *proc.Table) *Cache {
	return &Cache{sb: sb, disk: disk, bio: bc, log: log, table: table, entries: make(map[[2]int]*cacheEntry)}
}

// Get returns a reference to the cached inode for inum, allocating a
// cache slot on first reference. It does not read from disk; call Lock
// to do that.
func (c *Cache) Get(inum int) *Inode {
	key := [2]int{c.disk, inum}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.refcount++
		return e.inode
	}
	ino := &Inode{dev: c.disk, inum: inum, lock: sleeplock.New("inode")}
	c.entries[key] = &cacheEntry{inode: ino, refcount: 1}
	return ino
}

// Dup increments the reference count on an inode already held, for e.g.
// duplicating an open file descriptor or a process's cwd on fork.
func (c *Cache) Dup(ino *Inode) *Inode {
	key := [2]int{ino.dev, ino.inum}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.refcount++
	}
	return ino
}

// inodeBlock returns the block and byte offset within it holding inum's
// on-disk record.
func (c *Cache) inodeBlock(inum int) (int, int) {
	perBlock := InodesPerBlock()
	return c.sb.InodeStart + inum/perBlock, (inum % perBlock) * onDiskInodeSize
}

// Lock sleep-locks ino, reading its on-disk contents the first time
// this cache slot is locked since being assigned.
func (c *Cache) Lock(h *hart.Hart, self *proc.Proc, ino *Inode) {
	ino.lock.Acquire(h, self)
	if !ino.valid {
		blk, off := c.inodeBlock(ino.inum)
		buf, _ := c.bio.Get(h, self, c.disk, blk)
		ino.body.decode(buf.Data[off : off+onDiskInodeSize])
		c.bio.Release(h, c.table, self, buf)
		ino.valid = true
	}
}

// Unlock releases ino's sleep-lock without affecting its reference
// count.
func (c *Cache) Unlock(h *hart.Hart, self *proc.Proc, ino *Inode) {
	ino.lock.Release(h, c.table, self)
}

// writeBack persists ino's in-memory body to its on-disk slot through
// the log. Caller must hold ino locked and be inside a log session.
func (c *Cache) writeBack(h *hart.Hart, self *proc.Proc, ino *Inode) {
	blk, off := c.inodeBlock(ino.inum)
	buf, _ := c.bio.Get(h, self, c.disk, blk)
	ino.body.encode(buf.Data[off : off+onDiskInodeSize])
	c.log.Write(h, buf)
	c.bio.Release(h, c.table, self, buf)
}

// Put drops one reference to ino. If it reaches zero and the inode's
// link count is zero, its disk space and slot are reclaimed: truncate
// releases its data blocks and the on-disk record is marked Unused. This
// is how unlinking a file with no more open descriptors finally frees
// it; until then the cache keeps it alive even though it has nlink==0,
// which is the "orphan inode" case (unlink-with-open-fd).
func (c *Cache) Put(h *hart.Hart, self *proc.Proc, ino *Inode) {
	key := [2]int{ino.dev, ino.inum}

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	e.refcount--
	goingAway := e.refcount == 0
	c.mu.Unlock()
	if !goingAway {
		return
	}

	c.Lock(h, self, ino)
	if ino.valid && ino.body.NLink == 0 && ino.body.Kind != KindUnused {
		c.log.Begin(h, self)
		c.truncateLocked(h, self, ino)
		ino.body.Kind = KindUnused
		c.writeBack(h, self, ino)
		c.orphanRemove(h, self, ino.inum)
		c.log.End(h, self)
	}
	c.Unlock(h, self, ino)

	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Token returns this inode's identity for use as a sleep/wakeup token by
// higher layers (e.g. a reader blocked waiting for a pipe-backed inode's
// writer); it is not used within this package.
func (ino *Inode) Token() uintptr { return uintptr(unsafe.Pointer(ino)) }

// Stat is the subset of inode metadata exposed to fstat.
type Stat struct {
	Dev   int
	Inum  int
	Kind  Kind
	NLink int
	Size  int
}

// Stat snapshots ino's metadata; caller must hold it locked.
func (ino *Inode) Stat() Stat {
	return Stat{Dev: ino.dev, Inum: ino.inum, Kind: ino.body.Kind, NLink: ino.body.NLink, Size: ino.body.Size}
}

// SetKind, SetLinks and friends let the creating/linking code initialize
// a fresh inode before its first writeback; caller must hold ino locked
// and be inside a log session when persisting.
func (ino *Inode) SetKind(k Kind)   { ino.body.Kind = k }
func (ino *Inode) SetLinks(n int)   { ino.body.NLink = n }
func (ino *Inode) Links() int       { return ino.body.NLink }
func (ino *Inode) SetMajorMinor(major, minor int) {
	ino.body.Major, ino.body.Minor = major, minor
}
func (ino *Inode) MajorMinor() (int, int) { return ino.body.Major, ino.body.Minor }

// WriteBack persists ino's current in-memory fields to disk through the
// log. Caller must hold ino locked and be inside a log session (fslog.Begin
// already called).
func (c *Cache) WriteBack(h *hart.Hart, self *proc.Proc, ino *Inode) {
	c.writeBack(h, self, ino)
}
