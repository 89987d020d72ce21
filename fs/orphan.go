package fs

import (
	"sv39kernel/conf"
	"sv39kernel/hart"
	"sv39kernel/proc"
)

// orphanSlots is how many pending-free inode numbers fit in the
// single orphan-list block reserved between the bitmap and data regions.
const orphanSlots = conf.BSIZE / 4

// orphanAdd records inum as pending-free. Caller must already be inside
// a log session (this is always called alongside the directory-entry
// removal and link-count writeback that drove nlink to zero, so the
// record survives a crash between unlink and the inode's last close).
func (c *Cache) orphanAdd(h *hart.Hart, self *proc.Proc, inum int) {
	buf, _ := c.bio.Get(h, self, c.disk, c.sb.OrphanStart)
	for i := 0; i < orphanSlots; i++ {
		off := 4 * i
		if getU32(buf.Data[off:off+4]) == 0 {
			putU32(buf.Data[off:off+4], uint32(inum))
			c.log.Write(h, buf)
			break
		}
	}
	c.bio.Release(h, c.table, self, buf)
}

// orphanRemove clears inum's pending-free record, once its space has
// actually been reclaimed. Caller must be inside a log session.
func (c *Cache) orphanRemove(h *hart.Hart, self *proc.Proc, inum int) {
	buf, _ := c.bio.Get(h, self, c.disk, c.sb.OrphanStart)
	for i := 0; i < orphanSlots; i++ {
		off := 4 * i
		if int(getU32(buf.Data[off:off+4])) == inum {
			putU32(buf.Data[off:off+4], 0)
			c.log.Write(h, buf)
			break
		}
	}
	c.bio.Release(h, c.table, self, buf)
}

// orphanScan returns every inode number currently marked pending-free.
func (c *Cache) orphanScan(h *hart.Hart, self *proc.Proc) []int {
	buf, _ := c.bio.Get(h, self, c.disk, c.sb.OrphanStart)
	var out []int
	for i := 0; i < orphanSlots; i++ {
		off := 4 * i
		if inum := int(getU32(buf.Data[off : off+4])); inum != 0 {
			out = append(out, inum)
		}
	}
	c.bio.Release(h, c.table, self, buf)
	return out
}

// RecoverOrphans frees the data blocks of every inode left pending-free
// by a crash between its last directory-entry removal and its last
// in-memory close. Call once at boot, after the log's own crash
// recovery (fslog.Recover) has already replayed any committed session.
func (c *Cache) RecoverOrphans(h *hart.Hart, self *proc.Proc) {
	for _, inum := range c.orphanScan(h, self) {
		ino := c.Get(inum)
		c.Put(h, self, ino) // refcount drops to zero immediately: Put does the free
	}
}
