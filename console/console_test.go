package console

import (
	"testing"
	"time"

	"sv39kernel/defs"
	"sv39kernel/hart"
	"sv39kernel/proc"
)

func runScheduler(table *proc.Table, h *hart.Hart) (stop func(), done chan struct{}) {
	quit := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		proc.SchedulerLoop(table, h, func() bool {
			select {
			case <-quit:
				return true
			default:
				return false
			}
		})
		close(stopped)
	}()
	return func() { close(quit) }, stopped
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	table := proc.NewTable()
	h := hart.New(0)
	c := NewBuffered(table)

	result := make(chan string, 1)
	body := func(p *proc.Proc, bh *hart.Hart) {
		n, err := c.Write(bh, p, []byte("hi"))
		if err != 0 || n != 2 {
			t.Errorf("Write = (%d, %v), want (2, nil)", n, err)
		}
		dst := make([]byte, 8)
		rn, rerr := c.Read(bh, p, dst)
		if rerr != 0 {
			t.Errorf("Read err = %v", rerr)
		}
		result <- string(dst[:rn])
		proc.Exit(bh, table, p, 0, func() {})
	}
	table.Setup(h, 0, 0, 0, 0, body)

	stop, done := runScheduler(table, h)
	defer func() { stop(); <-done }()

	select {
	case got := <-result:
		if got != "hi" {
			t.Fatalf("Read = %q, want hi", got)
		}
	case <-time.After(time.Second):
		t.Fatal("body never completed")
	}
}

func TestReadBlocksUntilWriteArrives(t *testing.T) {
	table := proc.NewTable()
	h := hart.New(0)
	c := NewBuffered(table)

	readerStarted := make(chan struct{})
	result := make(chan string, 1)
	reader := func(p *proc.Proc, bh *hart.Hart) {
		close(readerStarted)
		dst := make([]byte, 4)
		n, _ := c.Read(bh, p, dst)
		result <- string(dst[:n])
		proc.Exit(bh, table, p, 0, func() {})
	}
	writer := func(p *proc.Proc, bh *hart.Hart) {
		<-readerStarted
		c.Write(bh, p, []byte("ok"))
		proc.Exit(bh, table, p, 0, func() {})
	}
	table.Setup(h, 0, 0, 0, 0, reader)
	table.Setup(h, 0, 0, 0, 0, writer)

	stop, done := runScheduler(table, h)
	defer func() { stop(); <-done }()

	select {
	case got := <-result:
		if got != "ok" {
			t.Fatalf("Read = %q, want ok", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Read never woke after Write")
	}
}

func TestRegistryLookup(t *testing.T) {
	table := proc.NewTable()
	c := NewBuffered(table)
	Register(defs.D_CONSOLE, c)
	if Lookup(defs.D_CONSOLE) != Device(c) {
		t.Fatal("Lookup did not return the registered device")
	}
	if Lookup(defs.D_DEVNULL) != nil {
		t.Fatal("Lookup returned a device for an unregistered slot")
	}
}
