// Package fslog implements the physical redo-log journal: filesystem
// calls that touch multiple blocks bracket them in a session, and the
// last session to end performs a group commit that is safe to replay
// after a crash at any point. Grounded on
// original_source/kernel/src/filesystem/log.rs for the session/commit/
// recovery shape, expressed here over bio.Cache instead of that code's
// direct disk access.
package fslog

import (
	"sv39kernel/bio"
	"sv39kernel/conf"
	"sv39kernel/defs"
	"sv39kernel/hart"
	"sv39kernel/proc"
	"sv39kernel/spinlock"
)

// header is the on-disk layout of the log's block 0: a count followed
// by that many absolute destination block numbers.
type header struct {
	n      int
	blocks [conf.LOGSIZE]int
}

func (hd *header) encode(dst *[conf.BSIZE]byte) {
	putInt(dst[0:4], hd.n)
	for i := 0; i < hd.n; i++ {
		putInt(dst[4+4*i:8+4*i], hd.blocks[i])
	}
}

func (hd *header) decode(src *[conf.BSIZE]byte) {
	hd.n = getInt(src[0:4])
	for i := 0; i < hd.n; i++ {
		hd.blocks[i] = getInt(src[4+4*i : 8+4*i])
	}
}

func putInt(b []byte, v int) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getInt(b []byte) int {
	return int(b[0]) | int(b[1])<<8 | int(b[2])<<16 | int(b[3])<<24
}

type state struct {
	hdr         header
	outstanding int
	committing  bool
}

// Log is the journal: it owns no disk directly, only the buffer cache
// and the block range [start, start+size) reserved for it by the
// superblock.
type Log struct {
	cache      *bio.Cache
	table      *proc.Table
	dev        int
	start      int // log span's first block (the header)
	size       int // span length in blocks, including the header
	mu         *spinlock.Spinlock[state]
}

// token used for sleep/wakeup: processes waiting for log admission or
// for a commit to finish all share this one.
func (l *Log) token() uintptr { return uintptr(l.start)<<1 | 1 }

// New constructs a Log over [start, start+size) of dev. Call Recover
// once at boot before any session begins.
func New(cache *bio.Cache, table *proc.Table, dev, start, size int) *Log {
	return &Log{
		cache: cache,
		table: table,
		dev:   dev,
		start: start,
		size:  size,
		mu:    spinlock.New("log", state{}),
	}
}

// Recover replays a crash-interrupted commit: if the header names any
// blocks, install them from their shadow slots and clear the header.
// Safe to call unconditionally at boot, including when nothing needs
// recovering.
func (l *Log) Recover(h *hart.Hart, self *proc.Proc) {
	var hd header
	hbuf, _ := l.cache.Get(h, self, l.dev, l.start)
	hd.decode(&hbuf.Data)
	l.cache.Release(h, l.table, self, hbuf)

	if hd.n == 0 {
		return
	}
	l.installAndClear(h, self, &hd)
}

// Begin admits a new session, sleeping if the log cannot currently
// accommodate one more MAXOPBLOCKS-sized session or a commit is already
// in progress.
func (l *Log) Begin(h *hart.Hart, self *proc.Proc) {
	for {
		g := l.mu.Acquire(h)
		if !g.Value().committing && g.Value().hdr.n+(g.Value().outstanding+1)*conf.MAXOPBLOCKS <= conf.LOGSIZE {
			g.Value().outstanding++
			g.Release()
			return
		}
		proc.GoSleep(h, self, l.token(), g.Release, func() {})
	}
}

// Write records that buf has been modified within the current session:
// it is pinned so it cannot be evicted before commit, and its block
// number is appended to the header if not already present. Pin is only
// taken on first recording: pinning on every call (as the literal
// "log_write pins buf" reads in isolation) would leave a block permanently
// pinned once a session wrote the same buffer twice, since commit only
// unpins once per distinct header entry.
func (l *Log) Write(h *hart.Hart, buf *bio.Buffer) {
	g := l.mu.Acquire(h)
	hd := &g.Value().hdr
	found := false
	for i := 0; i < hd.n; i++ {
		if hd.blocks[i] == buf.BlockNo() {
			found = true
			break
		}
	}
	if !found {
		hd.blocks[hd.n] = buf.BlockNo()
		hd.n++
	}
	g.Release()

	if !found {
		l.cache.Pin(h, buf)
	}
}

// End closes the calling session; if it is the last outstanding one, it
// performs the group commit.
func (l *Log) End(h *hart.Hart, self *proc.Proc) {
	g := l.mu.Acquire(h)
	g.Value().outstanding--
	last := g.Value().outstanding == 0
	if last {
		g.Value().committing = true
	}
	hd := g.Value().hdr
	g.Release()

	if !last {
		return
	}

	l.commit(h, self, &hd)

	g = l.mu.Acquire(h)
	g.Value().hdr = header{}
	g.Value().committing = false
	g.Release()

	l.table.Wakeup(h, l.token(), self)
}

// commit writes shadow copies, then the committing header (the true
// commit point), then installs each block to its home location.
func (l *Log) commit(h *hart.Hart, self *proc.Proc, hd *header) {
	if hd.n == 0 {
		return
	}
	for i := 0; i < hd.n; i++ {
		src, _ := l.cache.Get(h, self, l.dev, hd.blocks[i])
		shadow, _ := l.cache.Get(h, self, l.dev, l.start+1+i)
		shadow.Data = src.Data
		l.cache.WriteThrough(shadow)
		l.cache.Release(h, l.table, self, shadow)
		l.cache.Release(h, l.table, self, src)
	}

	l.writeHeader(h, self, hd)

	l.installAndClear(h, self, hd)
}

func (l *Log) writeHeader(h *hart.Hart, self *proc.Proc, hd *header) {
	hbuf, _ := l.cache.Get(h, self, l.dev, l.start)
	hd.encode(&hbuf.Data)
	l.cache.WriteThrough(hbuf)
	l.cache.Release(h, l.table, self, hbuf)
}

// installAndClear copies each shadow block to its home block and unpins
// the logged buffer, then rewrites the header with n=0. Shared between
// commit's final step and crash recovery, since both must be idempotent
// over the same shadow->home copy.
func (l *Log) installAndClear(h *hart.Hart, self *proc.Proc, hd *header) {
	for i := 0; i < hd.n; i++ {
		shadow, _ := l.cache.Get(h, self, l.dev, l.start+1+i)
		home, _ := l.cache.Get(h, self, l.dev, hd.blocks[i])
		home.Data = shadow.Data
		l.cache.WriteThrough(home)
		l.cache.Release(h, l.table, self, home)
		l.cache.Release(h, l.table, self, shadow)
		l.cache.Unpin(h, home)
	}
	cleared := header{}
	l.writeHeader(h, self, &cleared)
}

// WithSession runs f inside a Begin/End bracket, returning f's error (or
// 0). Callers that need multiple logged writes should call Begin/Write/
// End directly; this is a single-call-site convenience.
func (l *Log) WithSession(h *hart.Hart, self *proc.Proc, f func() defs.Err_t) defs.Err_t {
	l.Begin(h, self)
	defer l.End(h, self)
	return f()
}
