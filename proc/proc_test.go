package proc

import (
	"testing"
	"time"

	"sv39kernel/defs"
	"sv39kernel/hart"
	"sv39kernel/mem"
)

func noopFree(root, tf, kstack mem.Pa, userSize int) {}

// runScheduler drives one hart's scheduler loop in the background until
// stop is called, then signals done.
func runScheduler(t *Table, h *hart.Hart) (stop func(), done chan struct{}) {
	stopped := make(chan struct{})
	quit := make(chan struct{})
	go func() {
		SchedulerLoop(t, h, func() bool {
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

// waitForState polls p's state using its own observer hart (never the
// scheduler's hart, which only that goroutine may touch) until it
// matches want or the deadline passes.
func waitForState(t *testing.T, obs *hart.Hart, p *Proc, want State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		g := p.Lock.Acquire(obs)
		st := g.Value().State
		g.Release()
		if st == want {
			return
		}
	}
	t.Fatalf("process never reached state %v", want)
}

func TestSetupRunnableDispatchedAndPauses(t *testing.T) {
	table := NewTable()
	h := hart.New(0)
	obs := hart.New(1)

	ran := make(chan int, 10)
	body := func(p *Proc, bh *hart.Hart) {
		ran <- 1
		Pause(bh, p)
		ran <- 2
		Exit(bh, table, p, 7, func() {})
	}

	p, err := table.Setup(h, 0, 0, 0, 0, body)
	if err != 0 {
		t.Fatalf("Setup failed: %v", err)
	}

	stop, done := runScheduler(table, h)
	defer func() { stop(); <-done }()

	select {
	case v := <-ran:
		if v != 1 {
			t.Fatalf("expected first dispatch, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("process never ran")
	}
	select {
	case v := <-ran:
		if v != 2 {
			t.Fatalf("expected second dispatch after pause, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("process never redispatched after Pause")
	}

	waitForState(t, obs, p, Zombie)
}

func TestSleepWakeupTokenMatch(t *testing.T) {
	table := NewTable()
	h := hart.New(0)
	obs := hart.New(1)
	const token uintptr = 0xdead

	woke := make(chan struct{})
	body := func(p *Proc, bh *hart.Hart) {
		GoSleep(bh, p, token, func() {}, func() {})
		close(woke)
		Exit(bh, table, p, 0, func() {})
	}
	p, _ := table.Setup(h, 0, 0, 0, 0, body)

	stop, done := runScheduler(table, h)
	defer func() { stop(); <-done }()

	waitForState(t, obs, p, Sleeping)
	table.Wakeup(obs, token, nil)

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("sleeper never woke")
	}
}

func TestForkExitWaitRoundTrip(t *testing.T) {
	table := NewTable()
	h := hart.New(0)

	finished := make(chan struct{})
	parentBody := func(p *Proc, bh *hart.Hart) {
		copyAS := func(mem.Pa) defs.Err_t { return 0 }
		childBody := func(cp *Proc, ch *hart.Hart) {
			Exit(ch, table, cp, 42, func() {})
		}
		child, err := table.Fork(bh, p, 0, 1, 1, 1, copyAS, childBody)
		if err != 0 {
			t.Errorf("Fork failed: %v", err)
		}
		_ = child
		pid, status, werr := table.Wait(bh, p, noopFree)
		if werr != 0 {
			t.Errorf("Wait failed: %v", werr)
		}
		if status != 42 {
			t.Errorf("status = %d, want 42", status)
		}
		if pid == 0 {
			t.Errorf("pid = 0")
		}
		close(finished)
		Exit(bh, table, p, 0, func() {})
	}
	table.Setup(h, 0, 0, 0, 0, parentBody)

	stop, done := runScheduler(table, h)
	defer func() { stop(); <-done }()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("parent never returned from Wait")
	}
}

func TestWaitNoChildrenReturnsENOENT(t *testing.T) {
	table := NewTable()
	h := hart.New(0)

	checked := make(chan defs.Err_t, 1)
	body := func(p *Proc, bh *hart.Hart) {
		_, _, err := table.Wait(bh, p, noopFree)
		checked <- err
		Exit(bh, table, p, 0, func() {})
	}
	table.Setup(h, 0, 0, 0, 0, body)

	stop, done := runScheduler(table, h)
	defer func() { stop(); <-done }()

	select {
	case err := <-checked:
		if err != defs.ENOENT {
			t.Fatalf("err = %v, want ENOENT", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait never returned")
	}
}

func TestKillMarksKilledAndWakesSleeper(t *testing.T) {
	table := NewTable()
	h := hart.New(0)
	obs := hart.New(1)
	const token uintptr = 0xbeef

	observedKilled := make(chan bool, 1)
	body := func(p *Proc, bh *hart.Hart) {
		GoSleep(bh, p, token, func() {}, func() {})
		g := p.Lock.Acquire(bh)
		observedKilled <- g.Value().Killed
		g.Release()
		Exit(bh, table, p, 0, func() {})
	}
	p, _ := table.Setup(h, 0, 0, 0, 0, body)

	stop, done := runScheduler(table, h)
	defer func() { stop(); <-done }()

	waitForState(t, obs, p, Sleeping)

	g := p.Lock.Acquire(obs)
	pid := g.Value().Pid
	g.Release()

	if err := table.Kill(obs, pid); err != 0 {
		t.Fatalf("Kill failed: %v", err)
	}

	select {
	case killed := <-observedKilled:
		if !killed {
			t.Fatal("process did not observe Killed flag")
		}
	case <-time.After(time.Second):
		t.Fatal("killed sleeper never woke and ran")
	}
}

func TestKillUnknownPidReturnsENOENT(t *testing.T) {
	table := NewTable()
	h := hart.New(0)
	if err := table.Kill(h, 99999); err != defs.ENOENT {
		t.Fatalf("err = %v, want ENOENT", err)
	}
}

func TestAssertSoleLockPanicsWithExtraLockHeld(t *testing.T) {
	h := hart.New(0)
	self := newProc()
	other := newProc()
	gs := self.Lock.Acquire(h)
	defer gs.Release()
	g := other.Lock.Acquire(h)
	defer g.Release()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic: Noff != 1")
		}
	}()
	assertSoleLock(h)
}
