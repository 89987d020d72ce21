// Package vm implements the Sv39 three-level page table: walk, map,
// unmap, copy, and free. Grounded on the walk/map/unmap/copy/free API
// shape of biscuit/src/vm/as.go, re-derived for RISC-V Sv39's 9/9/9/12
// virtual address split and PTE layout from
// original_source/kernel/src/riscv/paging.rs instead of biscuit's x86-64
// 4-level tables with COW bits — there is no demand paging or
// copy-on-write here.
package vm

import (
	"unsafe"

	"sv39kernel/conf"
	"sv39kernel/defs"
	"sv39kernel/mem"
)

// PTE flag bits, RISC-V Sv39 layout.
const (
	PteV  uint64 = 1 << 0 /// valid
	PteR  uint64 = 1 << 1 /// readable
	PteW  uint64 = 1 << 2 /// writable
	PteX  uint64 = 1 << 3 /// executable
	PteU  uint64 = 1 << 4 /// user-accessible
	PteG  uint64 = 1 << 5 /// global
)

const (
	pteFlagBits = 10
	ppnBits     = 44
	vpnBits     = 9
	levels      = 3
)

// PageTable is one 4096-byte array of 512 64-bit entries: a single level of
// the Sv39 radix tree, keyed by physical address through the allocator's
// direct map.
type PageTable [512]uint64

// Allocator is the subset of mem.Allocator a page table needs: it is
// expressed as an interface (not *mem.Allocator directly) so tests can
// supply a fake, mirroring the capability-record style the design notes
// call for at "dynamic dispatch" boundaries.
type Allocator interface {
	AllocatePage() (mem.Pa, defs.Err_t)
	FreePage(mem.Pa)
}

// Space maps physical frames to virtual page-table pointers; real boot code
// supplies the kernel's direct map, tests supply a plain Go map.
type Space interface {
	ToPageTable(mem.Pa) *PageTable
}

func pteFlags(flags uint64) uint64 { return flags & (uint64(1)<<pteFlagBits - 1) }

func paToPte(pa mem.Pa, flags uint64) uint64 {
	return (uint64(pa)>>conf.PGSHIFT)<<pteFlagBits | pteFlags(flags)
}

func pteToPa(pte uint64) mem.Pa {
	return mem.Pa((pte >> pteFlagBits) << conf.PGSHIFT)
}

// vpn extracts the 9-bit index for level lvl (2 = top, 0 = leaf) from va.
func vpn(va uintptr, lvl int) int {
	shift := conf.PGSHIFT + uint(vpnBits*lvl)
	return int((va >> shift) & ((1 << vpnBits) - 1))
}

// Walk returns a pointer to the leaf PTE for va within root, allocating
// intermediate tables when alloc is true. va must be below MAXVA.
func Walk(sp Space, al Allocator, root mem.Pa, va uintptr, alloc bool) (*uint64, defs.Err_t) {
	if va >= conf.MAXVA {
		return nil, defs.EINVAL
	}
	pt := sp.ToPageTable(root)
	for lvl := levels - 1; lvl > 0; lvl-- {
		pte := &pt[vpn(va, lvl)]
		if *pte&PteV != 0 {
			pt = sp.ToPageTable(pteToPa(*pte))
			continue
		}
		if !alloc {
			return nil, defs.EINVAL
		}
		frame, err := al.AllocatePage()
		if err != 0 {
			return nil, defs.EMEM
		}
		zero(sp.ToPageTable(frame))
		*pte = paToPte(frame, PteV)
		pt = sp.ToPageTable(frame)
	}
	return &pt[vpn(va, 0)], 0
}

func zero(pt *PageTable) {
	for i := range pt {
		pt[i] = 0
	}
}

func pageRound(x uintptr) uintptr { return x &^ uintptr(conf.PGSIZE-1) }

// Map installs leaf entries translating [va, va+size) to [pa, pa+size),
// page-rounded down. Each new entry must not already be valid — Map
// never silently overwrites a mapping.
func Map(sp Space, al Allocator, root mem.Pa, va uintptr, pa mem.Pa, size int, flags uint64) defs.Err_t {
	if size <= 0 {
		return defs.EINVAL
	}
	first := pageRound(va)
	last := pageRound(va + uintptr(size) - 1)
	pa = mem.Pa(pageRound(uintptr(pa)))

	for v, p := first, pa; ; v, p = v+uintptr(conf.PGSIZE), p+mem.Pa(conf.PGSIZE) {
		pte, err := Walk(sp, al, root, v, true)
		if err != 0 {
			return err
		}
		if *pte&PteV != 0 {
			return defs.EEXIST
		}
		*pte = paToPte(p, flags|PteV)
		if v == last {
			break
		}
	}
	return 0
}

// Unmap removes npages leaf entries starting at va (page-rounded down),
// optionally returning the backing frames to al.
func Unmap(sp Space, al Allocator, root mem.Pa, va uintptr, npages int, freeBacking bool) defs.Err_t {
	first := pageRound(va)
	for i := 0; i < npages; i++ {
		v := first + uintptr(i*conf.PGSIZE)
		pte, err := Walk(sp, al, root, v, false)
		if err != 0 || pte == nil || *pte&PteV == 0 {
			continue
		}
		if freeBacking {
			al.FreePage(pteToPa(*pte))
		}
		*pte = 0
	}
	return 0
}

// Copy allocates fresh frames for [0, size), copies src's contents into
// them, and installs the same flags in dst. Used by fork; on any
// allocation failure it is all-or-nothing: everything copied so far is
// torn down before returning the error.
func Copy(sp Space, al Allocator, srcRoot, dstRoot mem.Pa, size int) defs.Err_t {
	npages := (size + conf.PGSIZE - 1) / conf.PGSIZE
	done := 0
	for i := 0; i < npages; i++ {
		va := uintptr(i * conf.PGSIZE)
		spte, err := Walk(sp, al, srcRoot, va, false)
		if err != 0 || spte == nil || *spte&PteV == 0 {
			continue
		}
		frame, aerr := al.AllocatePage()
		if aerr != 0 {
			Unmap(sp, al, dstRoot, 0, done, true)
			return defs.EMEM
		}
		srcPg := sp.ToPageTable(pteToPa(*spte))
		dstPg := sp.ToPageTable(frame)
		copy(asBytes(dstPg)[:], asBytes(srcPg)[:])

		dpte, err := Walk(sp, al, dstRoot, va, true)
		if err != 0 {
			al.FreePage(frame)
			Unmap(sp, al, dstRoot, 0, done, true)
			return defs.EMEM
		}
		*dpte = paToPte(frame, pteFlags(*spte))
		done = i + 1
	}
	return 0
}

// Free unmaps the user region [0, size) freeing backing frames, then
// frees every page-table frame reachable from root, recursively,
// depth-first.
func Free(sp Space, al Allocator, root mem.Pa, size int) {
	npages := (size + conf.PGSIZE - 1) / conf.PGSIZE
	Unmap(sp, al, root, 0, npages, true)
	freeWalk(sp, al, root, levels)
}

// asBytes reinterprets a page-table frame's backing array as raw bytes; it
// is also used for ordinary data pages since both are exactly one PGSIZE
// frame.
func asBytes(pt *PageTable) *[conf.PGSIZE]byte {
	return (*[conf.PGSIZE]byte)(unsafe.Pointer(pt))
}

func freeWalk(sp Space, al Allocator, tableFrame mem.Pa, lvl int) {
	pt := sp.ToPageTable(tableFrame)
	if lvl > 1 {
		for i := range pt {
			pte := pt[i]
			if pte&PteV != 0 {
				freeWalk(sp, al, pteToPa(pte), lvl-1)
			}
		}
	}
	al.FreePage(tableFrame)
}
