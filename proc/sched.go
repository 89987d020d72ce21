package proc

import (
	"sv39kernel/defs"
	"sv39kernel/hart"
	"sv39kernel/mem"
)

// Setup transitions an Unused slot to Runnable, installing the resources
// only a non-Unused slot may own, and starts the goroutine that will run
// body once this slot is first dispatched. Returns EPROC if no slot is
// free.
func (t *Table) Setup(h *hart.Hart, root, trapFrame, kstack mem.Pa, userSize int, body Body) (*Proc, defs.Err_t) {
	for _, p := range t.slots {
		g := p.Lock.Acquire(h)
		if g.Value().State != Unused {
			g.Release()
			continue
		}
		pid := t.allocPid()
		*g.Value() = Fields{
			State:     Runnable,
			Pid:       pid,
			UserRoot:  root,
			TrapFrame: trapFrame,
			KStack:    kstack,
			UserSize:  userSize,
		}
		p.body = body
		g.Release()
		go p.loop()
		return p, 0
	}
	return nil, defs.EPROC
}

// loop is the trampoline that starts a process slot's goroutine: it waits
// to be dispatched once, then runs body for the remainder of the
// process's life. body blocks internally (inside Pause/GoSleep) on every
// subsequent dispatch, so loop only ever receives once per process; it
// returns, ending the goroutine, only after body calls Exit.
func (p *Proc) loop() {
	h := <-p.toProc
	p.body(p, h)
}

// SchedulerLoop is the per-hart scheduler: scan slots, skip non-Runnable,
// and for a Runnable slot transition it to Running, hand the hart to its
// goroutine, and block until it yields back via Pause, GoSleep, or Exit.
// It returns only when stop reports true, checked between full scan
// passes.
func SchedulerLoop(t *Table, h *hart.Hart, stop func() bool) {
	for !stop() {
		for _, p := range t.slots {
			g := p.Lock.Acquire(h)
			if g.Value().State != Runnable {
				g.Release()
				continue
			}
			g.Value().State = Running
			g.Value().cpu = h
			g.Release()

			h.SetState(hart.Dispatching)
			p.toProc <- h
			<-p.toSched
			h.SetState(hart.Ready)
		}
	}
}

// assertSoleLock enforces that a process holds exactly its own slot lock
// (Noff==1) at the moment it switches to the scheduler; holding anything
// else there would deadlock the scheduler on some other hart.
func assertSoleLock(h *hart.Hart) {
	if h.Noff() != 1 {
		panic("proc: switch to scheduler with more than the slot lock held")
	}
}

// Pause is called by a process's body to voluntarily give up the hart
// (Running -> Runnable) and yield to the scheduler; it blocks until the
// scheduler redispatches this slot.
func Pause(h *hart.Hart, p *Proc) {
	g := p.Lock.Acquire(h)
	g.Value().State = Runnable
	assertSoleLock(h)
	g.Release()

	p.toSched <- struct{}{}
	<-p.toProc
}

// GoSleep implements sleep(token, guard): with a foreign lock held,
// released and reacquired through the supplied closures, acquire the
// slot lock, release the foreign lock, record Sleeping(token), and yield
// to the scheduler. On wakeup, release the slot lock and reacquire the
// foreign lock before returning. Callers must not already hold the slot
// lock.
func GoSleep(h *hart.Hart, p *Proc, token uintptr, unlockForeign, relockForeign func()) {
	g := p.Lock.Acquire(h)
	unlockForeign()
	g.Value().State = Sleeping
	g.Value().Token = token
	assertSoleLock(h)
	g.Release()

	p.toSched <- struct{}{}
	<-p.toProc

	relockForeign()
}

// Wakeup transitions every Sleeping slot whose token matches to
// Runnable, skipping self. Must be called with no slot lock held by h.
func (t *Table) Wakeup(h *hart.Hart, token uintptr, self *Proc) {
	for _, p := range t.slots {
		if p == self {
			continue
		}
		g := p.Lock.Acquire(h)
		if g.Value().State == Sleeping && g.Value().Token == token {
			g.Value().State = Runnable
		}
		g.Release()
	}
}

// Kill marks pid's slot killed and, if it is sleeping, wakes it so it
// can observe the flag at its next controlled check. Returns ENOENT if
// pid is not found.
func (t *Table) Kill(h *hart.Hart, pid int) defs.Err_t {
	for _, p := range t.slots {
		g := p.Lock.Acquire(h)
		if g.Value().Pid == pid && g.Value().State != Unused {
			g.Value().Killed = true
			if g.Value().State == Sleeping {
				g.Value().State = Runnable
			}
			g.Release()
			return 0
		}
		g.Release()
	}
	return defs.ENOENT
}

// Reap transitions a Zombie slot to Unused, then invokes free with the
// resources that slot owned so the caller (which knows about page
// tables, this package does not) can release them, and returns the exit
// status.
func Reap(h *hart.Hart, p *Proc, free func(root, trapFrame, kstack mem.Pa, userSize int)) int {
	g := p.Lock.Acquire(h)
	status := g.Value().ExitStatus
	root, tf, ks, sz := g.Value().UserRoot, g.Value().TrapFrame, g.Value().KStack, g.Value().UserSize
	*g.Value() = Fields{State: Unused}
	g.Release()
	free(root, tf, ks, sz)
	return status
}
