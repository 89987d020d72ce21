// Package fs implements the on-disk superblock layout and the
// reference-counted, sleep-locked inode cache on top of bio and fslog:
// block mapping (direct + single-indirect), directory entries, and
// orphan-inode handling for unlink of a file with an open descriptor.
// Grounded on biscuit/src/fs/super.go for the on-disk field layout and
// biscuit/src/ufs/ufs.go for the inode cache/lock/truncate shape,
// re-keyed to this kernel's 64-byte inode and single-indirect-only
// block map.
package fs

import (
	"sv39kernel/bio"
	"sv39kernel/conf"
	"sv39kernel/hart"
	"sv39kernel/proc"
)

// Superblock mirrors the on-disk layout at block 1: magic, total size,
// data-block count, inode count, log span, and the start blocks of each
// region. All fields are little-endian on disk, decoded into native int
// here.
type Superblock struct {
	Magic       uint32
	Size        int
	DataBlocks  int
	NInodes     int
	NLog        int
	LogStart    int
	InodeStart  int
	BmapStart   int
	OrphanStart int
}

func (sb *Superblock) encode(dst *[conf.BSIZE]byte) {
	vals := []int{int(sb.Magic), sb.Size, sb.DataBlocks, sb.NInodes, sb.NLog, sb.LogStart, sb.InodeStart, sb.BmapStart, sb.OrphanStart}
	for i, v := range vals {
		putU32(dst[4*i:4*i+4], uint32(v))
	}
}

func (sb *Superblock) decode(src *[conf.BSIZE]byte) {
	sb.Magic = getU32(src[0:4])
	sb.Size = int(getU32(src[4:8]))
	sb.DataBlocks = int(getU32(src[8:12]))
	sb.NInodes = int(getU32(src[12:16]))
	sb.NLog = int(getU32(src[16:20]))
	sb.LogStart = int(getU32(src[20:24]))
	sb.InodeStart = int(getU32(src[24:28]))
	sb.BmapStart = int(getU32(src[28:32]))
	sb.OrphanStart = int(getU32(src[32:36]))
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// ReadSuperblock reads and decodes the superblock from block 1 of dev.
func ReadSuperblock(h *hart.Hart, self *proc.Proc, cache *bio.Cache, table *proc.Table, dev int) *Superblock {
	buf, _ := cache.Get(h, self, dev, 1)
	sb := &Superblock{}
	sb.decode(&buf.Data)
	cache.Release(h, table, self, buf)
	return sb
}

// WriteSuperblock encodes and writes sb to block 1 of dev, bypassing the
// log: the superblock is written once at mkfs time, never by a running
// kernel.
func WriteSuperblock(h *hart.Hart, self *proc.Proc, cache *bio.Cache, table *proc.Table, dev int, sb *Superblock) {
	buf, _ := cache.Get(h, self, dev, 1)
	sb.encode(&buf.Data)
	cache.WriteThrough(buf)
	cache.Release(h, table, self, buf)
}

// InodesPerBlock reports how many 64-byte on-disk inodes fit in one
// conf.BSIZE block.
func InodesPerBlock() int { return conf.BSIZE / onDiskInodeSize }
