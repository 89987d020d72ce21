// Package conf gathers the kernel's compile-time limits in one place, a
// singleton-of-constants pattern rather than scattered magic numbers.
package conf

// Sv39 layout and platform memory-map constants.
const (
	PGSHIFT uint = 12
	PGSIZE  int  = 1 << PGSHIFT

	// Physical memory map, fixed per the "virt" platform.
	UART0      uintptr = 0x1000_0000
	VIRTIO0    uintptr = 0x1000_1000
	CLINT      uintptr = 0x0200_0000
	PLIC       uintptr = 0x0c00_0000
	KERNBASE   uintptr = 0x8000_0000
	PHYSTOP    uintptr = 0x8800_0000
	PLIC_SIZE  uintptr = 4 << 20

	// Top of the Sv39 virtual address space; the trampoline page sits at
	// the very top, the trap frame one page below it.
	MAXVA      uintptr = 1 << 38
	TRAMPOLINE uintptr = MAXVA - uintptr(PGSIZE)
	TRAPFRAME  uintptr = TRAMPOLINE - uintptr(PGSIZE)
)

// Scheduler and process-table sizing.
const (
	NCPU    = 8    /// fixed number of harts
	NPROC   = 64   /// fixed number of process slots
	NOFILE  = 16   /// open files per process
	ROOTDEV = 1    /// device holding the root filesystem
)

// Block layer sizing.
const (
	BSIZE      = 1024 /// on-disk block size in bytes
	NBUF       = 64   /// block buffer cache pool size
	MAXOPBLOCKS = 10  /// max distinct blocks a single fs syscall may log
	LOGSIZE    = 3 * MAXOPBLOCKS /// max blocks held in the log at once
	NINDIRECT  = BSIZE / 4       /// pointers per indirect block
	NDIRECT    = 12              /// direct block pointers per inode
	MAXFILE    = NDIRECT + NINDIRECT
)

// Directory layout.
const (
	DIRSIZ = 14 /// max bytes in a directory entry name
)

// SuperblockMagic identifies a valid on-disk filesystem.
const SuperblockMagic uint32 = 0x10203040
