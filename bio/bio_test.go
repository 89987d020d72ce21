package bio

import (
	"testing"

	"sv39kernel/conf"
	"sv39kernel/defs"
	"sv39kernel/hart"
	"sv39kernel/proc"
	"sv39kernel/virtio"
)

func newTestProc(t *testing.T) (*proc.Table, *proc.Proc, *hart.Hart) {
	t.Helper()
	table := proc.NewTable()
	h := hart.New(0)
	p, err := table.Setup(h, 0, 0, 0, 0, func(p *proc.Proc, h *hart.Hart) {})
	if err != 0 {
		t.Fatalf("Setup: %v", err)
	}
	return table, p, h
}

func TestGetReadsThroughOnFirstUse(t *testing.T) {
	disk := virtio.NewRAMDisk(16)
	var seed [conf.BSIZE]byte
	seed[0] = 0x42
	disk.WriteBlock(3, &seed)

	c := New(disk, 4)
	table, p, h := newTestProc(t)

	buf, err := c.Get(h, p, 1, 3)
	if err != 0 {
		t.Fatalf("Get: %v", err)
	}
	if buf.Data[0] != 0x42 {
		t.Fatalf("buf.Data[0] = %x, want 0x42", buf.Data[0])
	}
	c.Release(h, table, p, buf)
}

func TestGetSameKeyReturnsSameBuffer(t *testing.T) {
	disk := virtio.NewRAMDisk(16)
	c := New(disk, 4)
	table, p, h := newTestProc(t)

	b1, _ := c.Get(h, p, 1, 5)
	b1.Data[0] = 9
	c.Release(h, table, p, b1)

	b2, _ := c.Get(h, p, 1, 5)
	if b2.Data[0] != 9 {
		t.Fatalf("cached contents lost: %d", b2.Data[0])
	}
	c.Release(h, table, p, b2)
}

func TestGetFailsWhenAllPinned(t *testing.T) {
	disk := virtio.NewRAMDisk(16)
	c := New(disk, 2)
	table, p, h := newTestProc(t)

	b1, _ := c.Get(h, p, 1, 0)
	b2, _ := c.Get(h, p, 1, 1)
	_, err := c.Get(h, p, 1, 2)
	if err != defs.EBUFFER {
		t.Fatalf("err = %v, want EBUFFER", err)
	}
	c.Release(h, table, p, b1)
	c.Release(h, table, p, b2)
}

func TestReleasedBufferIsEvictable(t *testing.T) {
	disk := virtio.NewRAMDisk(16)
	c := New(disk, 1)
	table, p, h := newTestProc(t)

	b1, _ := c.Get(h, p, 1, 0)
	c.Release(h, table, p, b1)

	b2, err := c.Get(h, p, 1, 1)
	if err != 0 {
		t.Fatalf("Get after release should reuse the freed buffer: %v", err)
	}
	c.Release(h, table, p, b2)
}

func TestPinPreventsReuseEvenAfterRelease(t *testing.T) {
	disk := virtio.NewRAMDisk(16)
	c := New(disk, 1)
	table, p, h := newTestProc(t)

	b1, _ := c.Get(h, p, 1, 0)
	c.Pin(h, b1)
	c.Release(h, table, p, b1) // refcount now 1 (pinned), not evictable

	_, err := c.Get(h, p, 1, 1)
	if err != defs.EBUFFER {
		t.Fatalf("err = %v, want EBUFFER while pinned", err)
	}
	c.Unpin(h, b1)
}
