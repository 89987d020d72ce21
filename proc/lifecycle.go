package proc

import (
	"sv39kernel/defs"
	"sv39kernel/hart"
	"sv39kernel/mem"
)

// Exit implements exit(status): run the caller-supplied cleanup (closing
// open files, releasing the cwd — both opaque to this package), reparent
// this process's children to init, move self to Zombie(status), wake the
// parent if it is waiting, and yield for the last time. Unlike Pause and
// GoSleep, the caller must not already hold the slot lock; Exit acquires
// it itself around the final transition.
//
// Every child is reparented unconditionally, matching standard Unix
// semantics and original_source's process table
// (table.rs::remove_parent).
func Exit(h *hart.Hart, t *Table, p *Proc, status int, cleanup func()) {
	cleanup()

	t.mu.Lock()
	var parent *Proc
	for i := range t.parents {
		if t.parents[i].child == p {
			parent = t.parents[i].parent
		}
		if t.parents[i].parent == p {
			t.parents[i].parent = t.initProc
		}
	}
	t.mu.Unlock()

	g := p.Lock.Acquire(h)
	g.Value().State = Zombie
	g.Value().ExitStatus = status
	assertSoleLock(h)
	g.Release()

	if parent != nil {
		t.Wakeup(h, parent.Token(), p)
	}
	p.toSched <- struct{}{}
	// Never redispatched: Zombie never becomes Runnable again until reaped.
}

// Fork implements fork(): allocate a slot, clone the parent's address
// space and trap frame via the supplied copier, and register the
// parent/child relationship in the side table. copyAS is called with the
// new child's page-table root so the caller can perform the address-space
// copy and trap-frame duplication; childBody is the child's Body, which
// must arrange for the child to observe a zero return value by however
// the trap-frame convention encodes a syscall result.
func (t *Table) Fork(h *hart.Hart, parent *Proc, userSize int, newRoot, newTrapFrame, newKStack mem.Pa, copyAS func(dstRoot mem.Pa) defs.Err_t, childBody Body) (*Proc, defs.Err_t) {
	child, err := t.Setup(h, newRoot, newTrapFrame, newKStack, userSize, childBody)
	if err != 0 {
		return nil, err
	}
	if cerr := copyAS(newRoot); cerr != 0 {
		g := child.Lock.Acquire(h)
		*g.Value() = Fields{State: Unused}
		g.Release()
		return nil, cerr
	}

	t.mu.Lock()
	t.parents = append(t.parents, parentEntry{child: child, parent: parent})
	t.mu.Unlock()

	return child, 0
}

// Wait implements wait(): block until any child of caller is Zombie,
// then reap it via the supplied free and return (pid, status). Returns
// ENOENT immediately if the caller currently has no children.
func (t *Table) Wait(h *hart.Hart, caller *Proc, free func(root, trapFrame, kstack mem.Pa, userSize int)) (int, int, defs.Err_t) {
	for {
		t.mu.Lock()
		hasChildren := false
		for _, e := range t.parents {
			if e.parent == caller {
				hasChildren = true
				break
			}
		}
		t.mu.Unlock()
		if !hasChildren {
			return 0, 0, defs.ENOENT
		}

		for _, p := range t.slots {
			t.mu.Lock()
			isChild := false
			for _, e := range t.parents {
				if e.parent == caller && e.child == p {
					isChild = true
					break
				}
			}
			t.mu.Unlock()
			if !isChild {
				continue
			}

			g := p.Lock.Acquire(h)
			if g.Value().State == Zombie {
				pid := g.Value().Pid
				g.Release()
				status := Reap(h, p, free)
				t.mu.Lock()
				t.removeChild(p)
				t.mu.Unlock()
				return pid, status, 0
			}
			g.Release()
		}

		GoSleep(h, caller, caller.Token(), func() {}, func() {})
	}
}

func (t *Table) removeChild(child *Proc) {
	for i, e := range t.parents {
		if e.child == child {
			t.parents = append(t.parents[:i], t.parents[i+1:]...)
			return
		}
	}
}

// SetInit records which slot is the reparent target for orphans. Call
// once during boot after the init process is created.
func (t *Table) SetInit(p *Proc) {
	t.mu.Lock()
	t.initProc = p
	t.mu.Unlock()
}
