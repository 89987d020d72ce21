package fs

import (
	"sv39kernel/conf"
	"sv39kernel/hart"
	"sv39kernel/proc"
)

// Usage summarizes a filesystem's occupancy, the counters a host-side
// reporting tool needs, mirroring biscuit/src/stats/stats.go's
// counter-struct-to-report idiom (adapted here to disk occupancy
// instead of in-kernel call counts, since that is what an offline image
// inspector can actually observe).
type Usage struct {
	TotalInodes, UsedInodes     int
	TotalDataBlocks, UsedBlocks int
	OrphanCount                 int
}

// Usage scans the inode region and bitmap to report current occupancy.
// Safe to call on a mounted filesystem; it takes no locks beyond each
// inode's and each block's own as it visits them.
func (c *Cache) Usage(h *hart.Hart, self *proc.Proc) Usage {
	u := Usage{TotalInodes: c.sb.NInodes, TotalDataBlocks: c.sb.DataBlocks}

	for inum := 1; inum < c.sb.NInodes; inum++ {
		ino := c.Get(inum)
		c.Lock(h, self, ino)
		if ino.Stat().Kind != KindUnused {
			u.UsedInodes++
		}
		c.Unlock(h, self, ino)
		c.Put(h, self, ino)
	}

	bitsPerBlock := conf.BSIZE * 8
	bmapBlocks := (c.sb.DataBlocks + bitsPerBlock - 1) / bitsPerBlock
	for b := 0; b < bmapBlocks; b++ {
		buf, _ := c.bio.Get(h, self, c.disk, c.sb.BmapStart+b)
		for _, byteVal := range buf.Data {
			for bit := 0; bit < 8; bit++ {
				if byteVal&(1<<uint(bit)) != 0 {
					u.UsedBlocks++
				}
			}
		}
		c.bio.Release(h, c.table, self, buf)
	}

	u.OrphanCount = len(c.orphanScan(h, self))
	return u
}
