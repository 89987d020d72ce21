package fs

import (
	"sv39kernel/conf"
	"sv39kernel/defs"
	"sv39kernel/hart"
	"sv39kernel/proc"
)

// dirEntSize is a fixed-size directory entry: a 2-byte inode number
// followed by a conf.DIRSIZ-byte name, unused trailing bytes zero.
const dirEntSize = 2 + conf.DIRSIZ

func encodeDirEnt(inum int, name string) [dirEntSize]byte {
	var e [dirEntSize]byte
	e[0] = byte(inum)
	e[1] = byte(inum >> 8)
	copy(e[2:], name)
	return e
}

func decodeDirEnt(b []byte) (inum int, name string) {
	inum = int(b[0]) | int(b[1])<<8
	end := 2
	for end < dirEntSize && b[end] != 0 {
		end++
	}
	name = string(b[2:end])
	return
}

// Lookup scans dirIno (which must be a locked Kind==Directory inode) for
// name, returning its inode number. ENOENT if absent.
func (c *Cache) Lookup(h *hart.Hart, self *proc.Proc, dirIno *Inode, name string) (int, defs.Err_t) {
	if dirIno.body.Kind != KindDirectory {
		return 0, defs.ENOTDIR
	}
	n := dirIno.body.Size / dirEntSize
	var buf [dirEntSize]byte
	for i := 0; i < n; i++ {
		c.ReadAt(h, self, dirIno, buf[:], i*dirEntSize)
		inum, ename := decodeDirEnt(buf[:])
		if inum != 0 && ename == name {
			return inum, 0
		}
	}
	return 0, defs.ENOENT
}

// Link adds a (name -> inum) entry to dirIno, reusing an empty slot
// (inum==0) if one exists, else appending. EEXIST if name is already
// present.
func (c *Cache) Link(h *hart.Hart, self *proc.Proc, dirIno *Inode, name string, inum int) defs.Err_t {
	if _, err := c.Lookup(h, self, dirIno, name); err == 0 {
		return defs.EEXIST
	}
	n := dirIno.body.Size / dirEntSize
	var buf [dirEntSize]byte
	slot := n
	for i := 0; i < n; i++ {
		c.ReadAt(h, self, dirIno, buf[:], i*dirEntSize)
		existingInum, _ := decodeDirEnt(buf[:])
		if existingInum == 0 {
			slot = i
			break
		}
	}
	entry := encodeDirEnt(inum, name)
	_, err := c.WriteAt(h, self, dirIno, entry[:], slot*dirEntSize)
	return err
}

// removeDirEnt clears name's directory entry in dirIno. ENOENT if
// absent. This only removes the directory entry; the caller is
// responsible for decrementing the target's link count and calling Put
// on its Inode, which performs the deferred truncate-and-free once the
// last reference (open fd or otherwise) drops, per the orphan-inode
// rule.
func (c *Cache) removeDirEnt(h *hart.Hart, self *proc.Proc, dirIno *Inode, name string) defs.Err_t {
	n := dirIno.body.Size / dirEntSize
	var buf [dirEntSize]byte
	for i := 0; i < n; i++ {
		c.ReadAt(h, self, dirIno, buf[:], i*dirEntSize)
		inum, ename := decodeDirEnt(buf[:])
		if inum != 0 && ename == name {
			var empty [dirEntSize]byte
			_, err := c.WriteAt(h, self, dirIno, empty[:], i*dirEntSize)
			return err
		}
	}
	return defs.ENOENT
}

// AllocInode scans the inode region for an on-disk entry with
// Kind==Unused, claims it by writing the given kind, and returns an
// unlocked, cached reference to it. ENOMEM if the region is full.
func (c *Cache) AllocInode(h *hart.Hart, self *proc.Proc, kind Kind) (*Inode, defs.Err_t) {
	c.log.Begin(h, self)
	defer c.log.End(h, self)

	perBlock := InodesPerBlock()
	for inum := 1; inum < c.sb.NInodes; inum++ {
		blk := c.sb.InodeStart + inum/perBlock
		off := (inum % perBlock) * onDiskInodeSize
		buf, _ := c.bio.Get(h, self, c.disk, blk)
		var d onDiskInode
		d.decode(buf.Data[off : off+onDiskInodeSize])
		if d.Kind == KindUnused {
			d = onDiskInode{Kind: kind}
			d.encode(buf.Data[off : off+onDiskInodeSize])
			c.log.Write(h, buf)
			c.bio.Release(h, c.table, self, buf)

			ino := c.Get(inum)
			c.Lock(h, self, ino)
			ino.body = d
			ino.valid = true
			c.Unlock(h, self, ino)
			return ino, 0
		}
		c.bio.Release(h, c.table, self, buf)
	}
	return nil, defs.ENOMEM
}
