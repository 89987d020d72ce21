// Command mkimage builds a bootable disk image for the kernel: the
// superblock, log span, inode and bitmap regions, and (optionally) a
// skeleton directory tree copied in from the host filesystem. Grounded
// on biscuit/src/mkfs/mkfs.go's addfiles/copydata walk, rebuilt over
// this kernel's fs package instead of biscuit's ufs.Ufs_t, and using
// golang.org/x/sys/unix for positioned reads/writes instead of a
// buffered os.File, the way a disk image tool needs raw block-aligned
// I/O rather than stream I/O.
package main

import (
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"sv39kernel/bio"
	"sv39kernel/conf"
	sv39fs "sv39kernel/fs"
	"sv39kernel/fslog"
	"sv39kernel/hart"
	"sv39kernel/proc"
	"sv39kernel/virtio"
)

// fileDisk adapts a host file to virtio.Disk via pread/pwrite so each
// block access is independent of the file's current offset, matching
// how a real virtio-blk device addresses blocks by number rather than
// stream position.
type fileDisk struct {
	f *os.File
}

func (d *fileDisk) ReadBlock(blockNo int, dst *[conf.BSIZE]byte) {
	n, err := unix.Pread(int(d.f.Fd()), dst[:], int64(blockNo)*conf.BSIZE)
	if err != nil {
		panic(err)
	}
	for i := n; i < conf.BSIZE; i++ {
		dst[i] = 0
	}
}

func (d *fileDisk) WriteBlock(blockNo int, src *[conf.BSIZE]byte) {
	if _, err := unix.Pwrite(int(d.f.Fd()), src[:], int64(blockNo)*conf.BSIZE); err != nil {
		panic(err)
	}
}

var _ virtio.Disk = (*fileDisk)(nil)

func main() {
	out := flag.String("o", "disk.img", "output image path")
	ninodes := flag.Int("ninodes", 200, "number of inodes")
	ndatablocks := flag.Int("ndatablocks", 8192, "number of data blocks")
	skel := flag.String("skel", "", "optional host directory tree to copy into the image")
	flag.Parse()

	total, sb := layout(*ninodes, *ndatablocks)

	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkimage: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	if err := f.Truncate(int64(total) * conf.BSIZE); err != nil {
		fmt.Fprintf(os.Stderr, "mkimage: %v\n", err)
		os.Exit(1)
	}

	disk := &fileDisk{f: f}
	bc := bio.New(disk, conf.NBUF)
	table := proc.NewTable()
	h := hart.New(0)
	p, perr := table.Setup(h, 0, 0, 0, 0, func(p *proc.Proc, h *hart.Hart) {})
	if perr != 0 {
		fmt.Fprintf(os.Stderr, "mkimage: could not allocate a process slot\n")
		os.Exit(1)
	}

	sv39fs.WriteSuperblock(h, p, bc, table, 0, sb)
	log := fslog.New(bc, table, 0, sb.LogStart, sb.NLog)
	log.Recover(h, p) // a freshly truncated image has an empty header; harmless

	cache := sv39fs.NewCache(sb, 0, bc, log, table)
	root, aerr := cache.AllocInode(h, p, sv39fs.KindDirectory)
	if aerr != 0 || root.Stat().Inum != sv39fs.RootInum {
		fmt.Fprintf(os.Stderr, "mkimage: failed to claim the root inode\n")
		os.Exit(1)
	}
	cache.Lock(h, p, root)
	root.SetLinks(1)
	cache.WriteBack(h, p, root)
	if e := cache.Link(h, p, root, ".", sv39fs.RootInum); e != 0 {
		fmt.Fprintf(os.Stderr, "mkimage: %v\n", e)
		os.Exit(1)
	}
	if e := cache.Link(h, p, root, "..", sv39fs.RootInum); e != 0 {
		fmt.Fprintf(os.Stderr, "mkimage: %v\n", e)
		os.Exit(1)
	}
	cache.Unlock(h, p, root)
	cache.Put(h, p, root)

	if *skel != "" {
		addFiles(h, p, cache, *skel)
	}

	fmt.Printf("mkimage: wrote %s (%d blocks, %d inodes, %d data blocks)\n", *out, total, *ninodes, *ndatablocks)
}

// layout computes region placement the same way newFixture does in the
// fs package's own tests: log, then inodes, then bitmap, then a single
// orphan-list block, then data.
func layout(ninodes, ndatablocks int) (int, *sv39fs.Superblock) {
	const logStart = 2
	logSize := 1 + conf.LOGSIZE
	perBlock := sv39fs.InodesPerBlock()
	inodeBlocks := (ninodes + perBlock - 1) / perBlock
	inodeStart := logStart + logSize
	bitsPerBlock := conf.BSIZE * 8
	bmapBlocks := (ndatablocks + bitsPerBlock - 1) / bitsPerBlock
	bmapStart := inodeStart + inodeBlocks
	orphanStart := bmapStart + bmapBlocks
	dataStart := orphanStart + 1
	total := dataStart + ndatablocks

	sb := &sv39fs.Superblock{
		Magic:       conf.SuperblockMagic,
		Size:        total,
		DataBlocks:  ndatablocks,
		NInodes:     ninodes,
		NLog:        logSize,
		LogStart:    logStart,
		InodeStart:  inodeStart,
		BmapStart:   bmapStart,
		OrphanStart: orphanStart,
	}
	return total, sb
}

// addFiles walks skeldir on the host and replicates its contents into
// the image, mirroring mkfs.go's addfiles/copydata.
func addFiles(h *hart.Hart, p *proc.Proc, cache *sv39fs.Cache, skeldir string) {
	err := filepath.WalkDir(skeldir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			fmt.Fprintf(os.Stderr, "mkimage: failed to access %q: %v\n", path, err)
			return err
		}
		rel := strings.TrimPrefix(path, skeldir)
		if rel == "" {
			return nil
		}
		rel = "/" + strings.TrimPrefix(rel, "/")

		if d.IsDir() {
			if e := cache.Mkdir(h, p, rel); e != 0 {
				fmt.Fprintf(os.Stderr, "mkimage: mkdir %v: %v\n", rel, e)
			}
			return nil
		}

		ino, e := cache.Create(h, p, rel, sv39fs.KindFile, 0, 0)
		if e != 0 {
			fmt.Fprintf(os.Stderr, "mkimage: create %v: %v\n", rel, e)
			return nil
		}
		copyData(h, p, cache, ino, path)
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkimage: error walking %q: %v\n", skeldir, err)
		os.Exit(1)
	}
}

func copyData(h *hart.Hart, p *proc.Proc, cache *sv39fs.Cache, ino *sv39fs.Inode, src string) {
	srcFile, err := os.Open(src)
	if err != nil {
		panic(err)
	}
	defer srcFile.Close()

	cache.Lock(h, p, ino)
	defer cache.Unlock(h, p, ino)

	buf := make([]byte, conf.BSIZE)
	off := 0
	for {
		n, rerr := srcFile.Read(buf)
		if n > 0 {
			if _, werr := cache.WriteAt(h, p, ino, buf[:n], off); werr != 0 {
				fmt.Fprintf(os.Stderr, "mkimage: write %v: %v\n", src, werr)
				return
			}
			off += n
		}
		if rerr == io.EOF {
			return
		}
		if rerr != nil {
			panic(rerr)
		}
	}
}
