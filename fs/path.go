package fs

import (
	"strings"

	"sv39kernel/defs"
	"sv39kernel/hart"
	"sv39kernel/proc"
)

// RootInum is the fixed inode number of the root directory, claimed by
// mkimage when it formats a new image.
const RootInum = 1

// namei walks an absolute slash-separated path to the inode number of
// its final component and, when present, the inode number and name of
// its parent directory. Every path is resolved relative to the root
// directory; there is no per-process working directory in this layer.
func (c *Cache) namei(h *hart.Hart, self *proc.Proc, path string) (inum, parent int, name string, err defs.Err_t) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return RootInum, 0, "", 0
	}
	dir := RootInum
	for i, part := range parts {
		dirIno := c.Get(dir)
		c.Lock(h, self, dirIno)
		next, lerr := c.Lookup(h, self, dirIno, part)
		c.Unlock(h, self, dirIno)
		c.Put(h, self, dirIno)
		if lerr != 0 {
			if i == len(parts)-1 {
				return 0, dir, part, defs.ENOENT
			}
			return 0, 0, "", defs.ENOENT
		}
		if i == len(parts)-1 {
			return next, dir, part, 0
		}
		dir = next
	}
	panic("unreachable")
}

func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// LookupPath resolves path to an inode number. ENOENT if any component
// is missing or a non-final component is not a directory.
func (c *Cache) LookupPath(h *hart.Hart, self *proc.Proc, path string) (int, defs.Err_t) {
	inum, _, _, err := c.namei(h, self, path)
	return inum, err
}

// Create makes a new file or special device node at path, which must
// not already exist; its parent directory must exist. maj/minor are
// only meaningful when kind is KindDevice.
func (c *Cache) Create(h *hart.Hart, self *proc.Proc, path string, kind Kind, maj, minor int) (*Inode, defs.Err_t) {
	_, parent, name, err := c.namei(h, self, path)
	if err == 0 {
		return nil, defs.EEXIST
	}
	if parent == 0 {
		return nil, defs.ENOENT
	}

	ino, aerr := c.AllocInode(h, self, kind)
	if aerr != 0 {
		return nil, aerr
	}
	c.Lock(h, self, ino)
	ino.SetLinks(1)
	if kind == KindDevice {
		ino.SetMajorMinor(maj, minor)
	}
	c.log.Begin(h, self)
	c.writeBack(h, self, ino)
	c.log.End(h, self)
	c.Unlock(h, self, ino)

	dirIno := c.Get(parent)
	c.Lock(h, self, dirIno)
	linum := ino.Stat().Inum
	lerr := c.Link(h, self, dirIno, name, linum)
	c.Unlock(h, self, dirIno)
	c.Put(h, self, dirIno)
	if lerr != 0 {
		c.Lock(h, self, ino)
		ino.SetLinks(0)
		c.log.Begin(h, self)
		c.writeBack(h, self, ino)
		c.log.End(h, self)
		c.Unlock(h, self, ino)
		c.Put(h, self, ino)
		return nil, lerr
	}
	return ino, 0
}

// Mkdir creates an empty directory at path, populating the conventional
// "." and ".." entries.
func (c *Cache) Mkdir(h *hart.Hart, self *proc.Proc, path string) defs.Err_t {
	_, parent, name, err := c.namei(h, self, path)
	if err == 0 {
		return defs.EEXIST
	}
	if parent == 0 {
		return defs.ENOENT
	}

	ino, aerr := c.AllocInode(h, self, KindDirectory)
	if aerr != 0 {
		return aerr
	}
	inum := ino.Stat().Inum
	c.Lock(h, self, ino)
	ino.SetLinks(1)
	c.log.Begin(h, self)
	c.writeBack(h, self, ino)
	c.log.End(h, self)
	if e := c.Link(h, self, ino, ".", inum); e != 0 {
		c.Unlock(h, self, ino)
		c.Put(h, self, ino)
		return e
	}
	if e := c.Link(h, self, ino, "..", parent); e != 0 {
		c.Unlock(h, self, ino)
		c.Put(h, self, ino)
		return e
	}
	c.Unlock(h, self, ino)

	dirIno := c.Get(parent)
	c.Lock(h, self, dirIno)
	dirIno.SetLinks(dirIno.Links() + 1) // ".." in the new directory
	c.log.Begin(h, self)
	c.writeBack(h, self, dirIno)
	c.log.End(h, self)
	lerr := c.Link(h, self, dirIno, name, inum)
	c.Unlock(h, self, dirIno)
	c.Put(h, self, dirIno)
	c.Put(h, self, ino)
	return lerr
}

// Unlink removes path's directory entry and drops the target's link
// count. If that reaches zero, the inode is recorded in the orphan list
// in the same transaction so a crash before the last open reference
// drops cannot leak its blocks; Cache.Put performs the actual free once
// the in-memory reference count also reaches zero.
func (c *Cache) Unlink(h *hart.Hart, self *proc.Proc, path string) defs.Err_t {
	inum, parent, name, err := c.namei(h, self, path)
	if err != 0 {
		return err
	}
	if parent == 0 {
		return defs.EPERM // refusing to unlink "/"
	}

	ino := c.Get(inum)
	c.Lock(h, self, ino)
	if ino.body.Kind == KindDirectory {
		c.Unlock(h, self, ino)
		c.Put(h, self, ino)
		return defs.EISDIR
	}

	dirIno := c.Get(parent)
	c.Lock(h, self, dirIno)

	c.log.Begin(h, self)
	if derr := c.removeDirEnt(h, self, dirIno, name); derr != 0 {
		c.log.End(h, self)
		c.Unlock(h, self, dirIno)
		c.Put(h, self, dirIno)
		c.Unlock(h, self, ino)
		c.Put(h, self, ino)
		return derr
	}
	ino.SetLinks(ino.Links() - 1)
	c.writeBack(h, self, ino)
	if ino.Links() == 0 {
		c.orphanAdd(h, self, inum)
	}
	c.log.End(h, self)

	c.Unlock(h, self, dirIno)
	c.Put(h, self, dirIno)
	c.Unlock(h, self, ino)
	c.Put(h, self, ino)
	return 0
}

// LinkPath adds a new directory entry at newPath naming the same inode as
// oldPath, incrementing its link count. Refuses directories with EPERM.
func (c *Cache) LinkPath(h *hart.Hart, self *proc.Proc, oldPath, newPath string) defs.Err_t {
	inum, _, _, err := c.namei(h, self, oldPath)
	if err != 0 {
		return err
	}
	_, parent, name, nerr := c.namei(h, self, newPath)
	if nerr == 0 {
		return defs.EEXIST
	}
	if parent == 0 {
		return defs.ENOENT
	}

	ino := c.Get(inum)
	c.Lock(h, self, ino)
	if ino.body.Kind == KindDirectory {
		c.Unlock(h, self, ino)
		c.Put(h, self, ino)
		return defs.EPERM
	}
	c.log.Begin(h, self)
	ino.SetLinks(ino.Links() + 1)
	c.writeBack(h, self, ino)
	c.log.End(h, self)
	c.Unlock(h, self, ino)

	dirIno := c.Get(parent)
	c.Lock(h, self, dirIno)
	lerr := c.Link(h, self, dirIno, name, inum)
	c.Unlock(h, self, dirIno)
	c.Put(h, self, dirIno)
	c.Put(h, self, ino)
	return lerr
}
