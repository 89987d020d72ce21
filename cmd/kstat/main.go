// Command kstat reports filesystem occupancy statistics for a disk
// image built by mkimage: used/free inodes, used/free data blocks, and
// the count of inodes still pending free from an interrupted unlink.
// Counter shape grounded on biscuit/src/stats/stats.go's
// Counter_t/Stats2String reporting idiom; the interactive keypress-
// driven refresh loop is grounded on smoynes-elsie's internal/tty.Console,
// which puts the terminal in raw mode via golang.org/x/term so single
// keystrokes (not whole lines) drive the read loop, exercising that
// dependency for the purpose it was already pulled in for.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"golang.org/x/term"

	"sv39kernel/bio"
	"sv39kernel/conf"
	sv39fs "sv39kernel/fs"
	"sv39kernel/fslog"
	"sv39kernel/hart"
	"sv39kernel/proc"
)

// readOnlyFileDisk adapts a host file opened read-only to virtio.Disk;
// WriteBlock is never reachable since kstat never journals anything.
type readOnlyFileDisk struct{ f *os.File }

func (d *readOnlyFileDisk) ReadBlock(blockNo int, dst *[conf.BSIZE]byte) {
	if _, err := d.f.ReadAt(dst[:], int64(blockNo)*conf.BSIZE); err != nil {
		panic(err)
	}
}

func (d *readOnlyFileDisk) WriteBlock(blockNo int, src *[conf.BSIZE]byte) {
	panic("kstat: read-only image, write not supported")
}

func collect(path string) (sv39fs.Usage, error) {
	f, err := os.Open(path)
	if err != nil {
		return sv39fs.Usage{}, err
	}
	defer f.Close()

	disk := &readOnlyFileDisk{f: f}
	bc := bio.New(disk, conf.NBUF)
	table := proc.NewTable()
	h := hart.New(0)
	p, perr := table.Setup(h, 0, 0, 0, 0, func(p *proc.Proc, h *hart.Hart) {})
	if perr != 0 {
		return sv39fs.Usage{}, fmt.Errorf("kstat: could not allocate a process slot")
	}

	sb := sv39fs.ReadSuperblock(h, p, bc, table, 0)
	if sb.Magic != conf.SuperblockMagic {
		return sv39fs.Usage{}, fmt.Errorf("kstat: %s is not a valid filesystem image", path)
	}

	log := fslog.New(bc, table, 0, sb.LogStart, sb.NLog)
	cache := sv39fs.NewCache(sb, 0, bc, log, table)
	return cache.Usage(h, p), nil
}

func report(st sv39fs.Usage) string {
	return fmt.Sprintf(
		"inodes: %d/%d used\nblocks: %d/%d used\norphans pending free: %d\n",
		st.UsedInodes, st.TotalInodes, st.UsedBlocks, st.TotalDataBlocks, st.OrphanCount,
	)
}

func main() {
	path := flag.String("i", "disk.img", "disk image path")
	interactive := flag.Bool("interactive", false, "refresh on keypress using a raw terminal")
	flag.Parse()

	if !*interactive {
		st, err := collect(*path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Print(report(st))
		return
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		fmt.Fprintln(os.Stderr, "kstat: -interactive requires a terminal on stdin")
		os.Exit(1)
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kstat:", err)
		os.Exit(1)
	}
	defer term.Restore(fd, state)

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("kstat: press any key to refresh, q to quit\r\n")
	for {
		st, err := collect(*path)
		if err != nil {
			fmt.Fprintf(os.Stdout, "%v\r\n", err)
		} else {
			for _, line := range splitLines(report(st)) {
				fmt.Fprintf(os.Stdout, "%s\r\n", line)
			}
		}
		b, rerr := reader.ReadByte()
		if rerr != nil || b == 'q' {
			return
		}
	}
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
