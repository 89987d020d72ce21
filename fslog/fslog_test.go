package fslog

import (
	"testing"

	"sv39kernel/bio"
	"sv39kernel/conf"
	"sv39kernel/hart"
	"sv39kernel/proc"
	"sv39kernel/virtio"
)

func newFixture(t *testing.T, nblocks int) (*bio.Cache, *proc.Table, *proc.Proc, *hart.Hart, *virtio.RAMDisk) {
	t.Helper()
	disk := virtio.NewRAMDisk(nblocks)
	cache := bio.New(disk, conf.NBUF)
	table := proc.NewTable()
	h := hart.New(0)
	p, err := table.Setup(h, 0, 0, 0, 0, func(p *proc.Proc, h *hart.Hart) {})
	if err != 0 {
		t.Fatalf("Setup: %v", err)
	}
	return cache, table, p, h, disk
}

func TestSessionCommitsWriteToHome(t *testing.T) {
	const logStart, logSize = 1, 1 + conf.LOGSIZE
	cache, table, p, h, disk := newFixture(t, logStart+logSize+10)
	log := New(cache, table, 0, logStart, logSize)
	log.Recover(h, p)

	log.Begin(h, p)
	buf, _ := cache.Get(h, p, 0, logStart+logSize+2)
	buf.Data[0] = 0x77
	log.Write(h, buf)
	cache.Release(h, table, p, buf)
	log.End(h, p)

	var raw [conf.BSIZE]byte
	disk.ReadBlock(logStart+logSize+2, &raw)
	if raw[0] != 0x77 {
		t.Fatalf("home block = %x, want 0x77", raw[0])
	}

	var hdr [conf.BSIZE]byte
	disk.ReadBlock(logStart, &hdr)
	if getInt(hdr[0:4]) != 0 {
		t.Fatalf("header not cleared after commit: n=%d", getInt(hdr[0:4]))
	}
}

func TestRecoverInstallsCommittedUninstalledSession(t *testing.T) {
	const logStart, logSize = 1, 1 + conf.LOGSIZE
	cache, table, p, h, disk := newFixture(t, logStart+logSize+10)

	// Simulate a crash right after the commit-point header write: the
	// shadow slot holds the new data, the header names the destination,
	// but the home block was never installed.
	var shadow [conf.BSIZE]byte
	shadow[0] = 0x99
	disk.WriteBlock(logStart+1, &shadow)
	var hdr [conf.BSIZE]byte
	putInt(hdr[0:4], 1)
	putInt(hdr[4:8], logStart+logSize+3)
	disk.WriteBlock(logStart, &hdr)

	log := New(cache, table, 0, logStart, logSize)
	log.Recover(h, p)

	var home [conf.BSIZE]byte
	disk.ReadBlock(logStart+logSize+3, &home)
	if home[0] != 0x99 {
		t.Fatalf("recovery did not install shadow block: %x", home[0])
	}
	disk.ReadBlock(logStart, &hdr)
	if getInt(hdr[0:4]) != 0 {
		t.Fatal("recovery did not clear header")
	}
}

func TestRecoverNoopWhenHeaderEmpty(t *testing.T) {
	const logStart, logSize = 1, 1 + conf.LOGSIZE
	cache, table, p, h, _ := newFixture(t, logStart+logSize+10)
	log := New(cache, table, 0, logStart, logSize)
	log.Recover(h, p) // must not panic or touch any home block
}

func TestSequentialSessionsEachAdmitted(t *testing.T) {
	const logStart, logSize = 1, 1 + conf.LOGSIZE
	cache, table, p, h, _ := newFixture(t, logStart+logSize+10)
	log := New(cache, table, 0, logStart, logSize)

	log.Begin(h, p)
	log.End(h, p)
	log.Begin(h, p)
	log.End(h, p)
	// Sequential Begin/End pairs must each be admitted without blocking
	// forever, exercising the admission arithmetic end to end.

	_ = cache
}
