package fs

import (
	"sv39kernel/conf"
	"sv39kernel/defs"
	"sv39kernel/hart"
	"sv39kernel/proc"
)

// bmap returns the absolute data block number holding ino's logical
// block n, allocating it (and, if n falls in the indirect range, the
// indirect block itself) on first reference. Caller must hold ino
// locked and be inside a log session.
func (c *Cache) bmap(h *hart.Hart, self *proc.Proc, ino *Inode, n int) (int, defs.Err_t) {
	if n < conf.NDIRECT {
		if ino.body.Direct[n] == 0 {
			blk, err := c.allocBlock(h, self)
			if err != 0 {
				return 0, err
			}
			ino.body.Direct[n] = blk
		}
		return ino.body.Direct[n], 0
	}

	n -= conf.NDIRECT
	if n >= conf.NINDIRECT {
		return 0, defs.EINVAL
	}
	if ino.body.Indirect == 0 {
		blk, err := c.allocBlock(h, self)
		if err != 0 {
			return 0, err
		}
		ino.body.Indirect = blk
	}
	ibuf, _ := c.bio.Get(h, self, c.disk, ino.body.Indirect)
	off := 4 * n
	entry := int(getU32(ibuf.Data[off : off+4]))
	if entry == 0 {
		blk, err := c.allocBlock(h, self)
		if err != 0 {
			c.bio.Release(h, c.table, self, ibuf)
			return 0, err
		}
		putU32(ibuf.Data[off:off+4], uint32(blk))
		c.log.Write(h, ibuf)
		entry = blk
	}
	c.bio.Release(h, c.table, self, ibuf)
	return entry, 0
}

// allocBlock finds a free data block via the on-disk bitmap, marks it
// used, and returns its absolute block number zero-filled.
func (c *Cache) allocBlock(h *hart.Hart, self *proc.Proc) (int, defs.Err_t) {
	bitsPerBlock := conf.BSIZE * 8
	for b := 0; b < c.sb.DataBlocks; b += bitsPerBlock {
		bmapBlk := c.sb.BmapStart + b/bitsPerBlock
		buf, _ := c.bio.Get(h, self, c.disk, bmapBlk)
		for bi := 0; bi < bitsPerBlock && b+bi < c.sb.DataBlocks; bi++ {
			byteIdx, bit := bi/8, uint(bi%8)
			if buf.Data[byteIdx]&(1<<bit) == 0 {
				buf.Data[byteIdx] |= 1 << bit
				c.log.Write(h, buf)
				c.bio.Release(h, c.table, self, buf)

				abs := c.dataBlockStart() + b + bi
				zbuf, _ := c.bio.Get(h, self, c.disk, abs)
				zbuf.Data = [conf.BSIZE]byte{}
				c.log.Write(h, zbuf)
				c.bio.Release(h, c.table, self, zbuf)
				return abs, 0
			}
		}
		c.bio.Release(h, c.table, self, buf)
	}
	return 0, defs.ENOMEM
}

// freeBlock clears abs's bit in the on-disk bitmap.
func (c *Cache) freeBlock(h *hart.Hart, self *proc.Proc, abs int) {
	rel := abs - c.dataBlockStart()
	bitsPerBlock := conf.BSIZE * 8
	bmapBlk := c.sb.BmapStart + rel/bitsPerBlock
	bi := rel % bitsPerBlock
	byteIdx, bit := bi/8, uint(bi%8)

	buf, _ := c.bio.Get(h, self, c.disk, bmapBlk)
	buf.Data[byteIdx] &^= 1 << bit
	c.log.Write(h, buf)
	c.bio.Release(h, c.table, self, buf)
}

func (c *Cache) dataBlockStart() int {
	bitsPerBlock := conf.BSIZE * 8
	bmapBlocks := (c.sb.DataBlocks + bitsPerBlock - 1) / bitsPerBlock
	return c.sb.BmapStart + bmapBlocks + 1 // skip the orphan-list block
}

// truncateLocked releases every data block and the indirect block (if
// any) owned by ino, and zeroes its size and block pointers. Caller
// must hold ino locked and be inside a log session.
func (c *Cache) truncateLocked(h *hart.Hart, self *proc.Proc, ino *Inode) {
	for i := 0; i < conf.NDIRECT; i++ {
		if ino.body.Direct[i] != 0 {
			c.freeBlock(h, self, ino.body.Direct[i])
			ino.body.Direct[i] = 0
		}
	}
	if ino.body.Indirect != 0 {
		ibuf, _ := c.bio.Get(h, self, c.disk, ino.body.Indirect)
		for n := 0; n < conf.NINDIRECT; n++ {
			entry := int(getU32(ibuf.Data[4*n : 4*n+4]))
			if entry != 0 {
				c.freeBlock(h, self, entry)
			}
		}
		c.bio.Release(h, c.table, self, ibuf)
		c.freeBlock(h, self, ino.body.Indirect)
		ino.body.Indirect = 0
	}
	ino.body.Size = 0
}

// Truncate is the public, session-bracketing form of truncateLocked, for
// callers outside this package's own commit paths (e.g. open(O_TRUNC)).
func (c *Cache) Truncate(h *hart.Hart, self *proc.Proc, ino *Inode) {
	c.log.Begin(h, self)
	c.truncateLocked(h, self, ino)
	c.writeBack(h, self, ino)
	c.log.End(h, self)
}

// ReadAt copies min(len(dst), size-off) bytes from ino's data starting
// at off into dst, returning the count read. Reading past EOF yields
// zero bytes read, not an error. Caller must hold ino locked.
func (c *Cache) ReadAt(h *hart.Hart, self *proc.Proc, ino *Inode, dst []byte, off int) int {
	if off >= ino.body.Size {
		return 0
	}
	n := len(dst)
	if off+n > ino.body.Size {
		n = ino.body.Size - off
	}
	read := 0
	for read < n {
		blkIdx := (off + read) / conf.BSIZE
		blkOff := (off + read) % conf.BSIZE
		abs, err := c.bmap(h, self, ino, blkIdx)
		if err != 0 {
			break
		}
		buf, _ := c.bio.Get(h, self, c.disk, abs)
		chunk := conf.BSIZE - blkOff
		if chunk > n-read {
			chunk = n - read
		}
		copy(dst[read:read+chunk], buf.Data[blkOff:blkOff+chunk])
		c.bio.Release(h, c.table, self, buf)
		read += chunk
	}
	return read
}

// WriteAt writes src into ino's data starting at off, extending size (and
// allocating blocks) as needed. Caller must hold ino locked.
//
// One logical block's worth of write is journaled per session (data
// block, plus a possible indirect-block allocation, bitmap block, and
// the inode's own block writeback): at most four distinct buffers, well
// under MAXOPBLOCKS. A single session spanning the whole call would let
// a large write dirty more distinct blocks than the log's fixed-size
// header can record — fslog.Log.Write would index past the end of
// hd.blocks and panic — so WriteAt chunks internally rather than
// assuming a caller already chunks its calls.
func (c *Cache) WriteAt(h *hart.Hart, self *proc.Proc, ino *Inode, src []byte, off int) (int, defs.Err_t) {
	if off+len(src) > (conf.NDIRECT+conf.NINDIRECT)*conf.BSIZE {
		return 0, defs.EINVAL
	}

	written := 0
	for written < len(src) {
		blkIdx := (off + written) / conf.BSIZE
		blkOff := (off + written) % conf.BSIZE
		chunk := conf.BSIZE - blkOff
		if chunk > len(src)-written {
			chunk = len(src) - written
		}

		c.log.Begin(h, self)
		abs, err := c.bmap(h, self, ino, blkIdx)
		if err != 0 {
			c.log.End(h, self)
			break
		}
		buf, _ := c.bio.Get(h, self, c.disk, abs)
		copy(buf.Data[blkOff:blkOff+chunk], src[written:written+chunk])
		c.log.Write(h, buf)
		c.bio.Release(h, c.table, self, buf)
		written += chunk

		if off+written > ino.body.Size {
			ino.body.Size = off + written
		}
		c.writeBack(h, self, ino)
		c.log.End(h, self)
	}
	return written, 0
}
