package vm

import (
	"testing"

	"sv39kernel/conf"
	"sv39kernel/defs"
	"sv39kernel/mem"
)

// fakeSpace backs every PageTable frame with a plain Go map, so tests don't
// need a real physical allocator's direct map.
type fakeSpace struct {
	tables map[mem.Pa]*PageTable
}

func newFakeSpace() *fakeSpace { return &fakeSpace{tables: map[mem.Pa]*PageTable{}} }

func (f *fakeSpace) ToPageTable(p mem.Pa) *PageTable {
	pt, ok := f.tables[p]
	if !ok {
		pt = &PageTable{}
		f.tables[p] = pt
	}
	return pt
}

// fakeAlloc hands out successive frame addresses from a counter; Free just
// records the frame as released so double-free can be detected.
type fakeAlloc struct {
	next mem.Pa
	cap  int
	used int
	freed map[mem.Pa]bool
}

func newFakeAlloc(n int) *fakeAlloc {
	return &fakeAlloc{next: mem.Pa(conf.PGSIZE), cap: n, freed: map[mem.Pa]bool{}}
}

func (a *fakeAlloc) AllocatePage() (mem.Pa, defs.Err_t) {
	if a.used >= a.cap {
		return 0, defs.EMEM
	}
	p := a.next
	a.next += mem.Pa(conf.PGSIZE)
	a.used++
	return p, 0
}

func (a *fakeAlloc) FreePage(p mem.Pa) {
	if a.freed[p] {
		panic("double free")
	}
	a.freed[p] = true
}

func TestMapWalkRoundTrip(t *testing.T) {
	sp := newFakeSpace()
	al := newFakeAlloc(16)
	root, _ := al.AllocatePage()

	va := uintptr(0x1000)
	pa := mem.Pa(0x8000_1000)
	if err := Map(sp, al, root, va, pa, conf.PGSIZE, PteV|PteR|PteW); err != 0 {
		t.Fatalf("Map: %v", err)
	}

	pte, err := Walk(sp, al, root, va, false)
	if err != 0 {
		t.Fatalf("Walk: %v", err)
	}
	if pteToPa(*pte) != pa {
		t.Fatalf("pte pa = %#x, want %#x", pteToPa(*pte), pa)
	}
	if *pte&(PteR|PteW) != (PteR | PteW) {
		t.Fatalf("flags lost: %#x", *pte)
	}
}

func TestMapNoOverwrite(t *testing.T) {
	sp := newFakeSpace()
	al := newFakeAlloc(16)
	root, _ := al.AllocatePage()

	if err := Map(sp, al, root, 0, mem.Pa(conf.PGSIZE), conf.PGSIZE, PteV|PteR); err != 0 {
		t.Fatalf("first Map: %v", err)
	}
	if err := Map(sp, al, root, 0, mem.Pa(2*conf.PGSIZE), conf.PGSIZE, PteV|PteR); err != defs.EEXIST {
		t.Fatalf("second Map = %v, want EEXIST", err)
	}
}

func TestWalkRejectsTooLargeVA(t *testing.T) {
	sp := newFakeSpace()
	al := newFakeAlloc(16)
	root, _ := al.AllocatePage()

	_, err := Walk(sp, al, root, conf.MAXVA, true)
	if err != defs.EINVAL {
		t.Fatalf("Walk past MAXVA = %v, want EINVAL", err)
	}
}

func TestUnmapFreesBacking(t *testing.T) {
	sp := newFakeSpace()
	al := newFakeAlloc(16)
	root, _ := al.AllocatePage()

	pa, _ := al.AllocatePage()
	if err := Map(sp, al, root, 0, pa, conf.PGSIZE, PteV|PteR|PteW); err != 0 {
		t.Fatalf("Map: %v", err)
	}
	Unmap(sp, al, root, 0, 1, true)
	if !al.freed[pa] {
		t.Fatalf("backing frame %#x was not freed", pa)
	}
	pte, _ := Walk(sp, al, root, 0, false)
	if pte != nil && *pte&PteV != 0 {
		t.Fatalf("pte still valid after unmap")
	}
}

func TestCopyPreservesContentsAndFlags(t *testing.T) {
	sp := newFakeSpace()
	al := newFakeAlloc(16)
	srcRoot, _ := al.AllocatePage()
	dstRoot, _ := al.AllocatePage()

	dataPa, _ := al.AllocatePage()
	if err := Map(sp, al, srcRoot, 0, dataPa, conf.PGSIZE, PteV|PteR|PteW|PteU); err != 0 {
		t.Fatalf("Map: %v", err)
	}
	srcPg := sp.ToPageTable(dataPa)
	asBytes(srcPg)[0] = 0x42

	if err := Copy(sp, al, srcRoot, dstRoot, conf.PGSIZE); err != 0 {
		t.Fatalf("Copy: %v", err)
	}

	dpte, err := Walk(sp, al, dstRoot, 0, false)
	if err != 0 || dpte == nil || *dpte&PteV == 0 {
		t.Fatalf("dst mapping missing")
	}
	if *dpte&PteU == 0 {
		t.Fatalf("flags not preserved across copy")
	}
	dstPg := sp.ToPageTable(pteToPa(*dpte))
	if asBytes(dstPg)[0] != 0x42 {
		t.Fatalf("contents not copied")
	}
	if pteToPa(*dpte) == dataPa {
		t.Fatalf("Copy must allocate a fresh frame, not alias the source")
	}
}

func TestFreeReleasesAllTableFrames(t *testing.T) {
	sp := newFakeSpace()
	al := newFakeAlloc(32)
	root, _ := al.AllocatePage()

	pa, _ := al.AllocatePage()
	if err := Map(sp, al, root, 0, pa, conf.PGSIZE, PteV|PteR); err != 0 {
		t.Fatalf("Map: %v", err)
	}
	Free(sp, al, root, conf.PGSIZE)
	if !al.freed[root] {
		t.Fatalf("root table frame was not freed")
	}
}
