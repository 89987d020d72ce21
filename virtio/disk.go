// Package virtio defines the block-device capability this kernel needs
// and a RAM-backed implementation for testing. The virtio-mmio wire
// protocol (descriptor rings, device discovery, interrupt-driven
// completion) is out of scope; what remains is the synchronous
// read/write contract every caller above this package actually depends
// on. Grounded on biscuit/src/fs/blk.go's Disk_i interface and
// original_source/kernel/src/virtio/disk.rs for the read/write shape
// that interface stands in for.
package virtio

import "sv39kernel/conf"

// Disk is the block device contract: synchronous read/write of one
// conf.BSIZE-byte block, identified by block number. A real
// implementation issues a descriptor chain and blocks the caller on the
// completion interrupt; callers here do not know or care which.
type Disk interface {
	ReadBlock(blockNo int, dst *[conf.BSIZE]byte)
	WriteBlock(blockNo int, src *[conf.BSIZE]byte)
}

// RAMDisk is an in-memory Disk, used by tests and by host-side tools
// that build a filesystem image without real hardware underneath.
type RAMDisk struct {
	blocks [][conf.BSIZE]byte
}

// NewRAMDisk constructs a zero-filled disk of the given block count.
func NewRAMDisk(nblocks int) *RAMDisk {
	return &RAMDisk{blocks: make([][conf.BSIZE]byte, nblocks)}
}

func (d *RAMDisk) ReadBlock(blockNo int, dst *[conf.BSIZE]byte) {
	*dst = d.blocks[blockNo]
}

func (d *RAMDisk) WriteBlock(blockNo int, src *[conf.BSIZE]byte) {
	d.blocks[blockNo] = *src
}

// NBlocks reports the disk's total block count.
func (d *RAMDisk) NBlocks() int { return len(d.blocks) }
