package spinlock

import (
	"testing"

	"sv39kernel/hart"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	h := hart.New(0)
	s := New("counter", 0)

	g := s.Acquire(h)
	*g.Value() = 42
	if h.InterruptsEnabled() {
		t.Fatal("interrupts must be disabled while a spinlock is held")
	}
	g.Release()
	if !h.InterruptsEnabled() {
		t.Fatal("interrupts must be restored after release")
	}
	if got := *g.Value(); got != 42 {
		t.Fatalf("value = %d, want 42", got)
	}
}

func TestReentrantAcquirePanics(t *testing.T) {
	h := hart.New(0)
	s := New("lock", 0)
	_ = s.Acquire(h)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on re-entrant acquire")
		}
	}()
	s.Acquire(h)
}

func TestNestedDisableRestoresOnOutermostRelease(t *testing.T) {
	h := hart.New(0)
	a := New("a", 0)
	b := New("b", 0)

	ga := a.Acquire(h)
	gb := b.Acquire(h)
	if h.Noff() != 2 {
		t.Fatalf("Noff = %d, want 2", h.Noff())
	}
	gb.Release()
	if h.InterruptsEnabled() {
		t.Fatal("interrupts must stay disabled until the outermost release")
	}
	ga.Release()
	if !h.InterruptsEnabled() {
		t.Fatal("interrupts must be enabled after outermost release")
	}
}

func TestReleaseByNonOwnerPanics(t *testing.T) {
	h1 := hart.New(0)
	h2 := hart.New(1)
	s := New("lock", 0)
	g := s.Acquire(h1)

	// Simulate a different hart's guard incorrectly trying to release it.
	forged := &Guard[int]{lock: s, h: h2}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic releasing a lock from the wrong hart")
		}
	}()
	_ = g
	forged.Release()
}

func TestUnlockTemporarily(t *testing.T) {
	h := hart.New(0)
	s := New("lock", 7)

	g := s.Acquire(h)
	ran := false
	g = UnlockTemporarily(g, func() {
		ran = true
		if !h.InterruptsEnabled() {
			t.Fatal("interrupts must be re-enabled while the lock is dropped")
		}
	})
	if !ran {
		t.Fatal("UnlockTemporarily did not run f")
	}
	if *g.Value() != 7 {
		t.Fatalf("value lost across UnlockTemporarily: %d", *g.Value())
	}
	g.Release()
}

func TestTryAcquireFailsWhenHeld(t *testing.T) {
	h1 := hart.New(0)
	h2 := hart.New(1)
	s := New("lock", 0)
	g1 := s.Acquire(h1)

	if g2 := s.TryAcquire(h2); g2 != nil {
		t.Fatal("TryAcquire succeeded while lock was held")
	}
	if h2.Noff() != 0 {
		t.Fatalf("TryAcquire must undo PushOff on failure, Noff=%d", h2.Noff())
	}
	g1.Release()
	g2 := s.TryAcquire(h2)
	if g2 == nil {
		t.Fatal("TryAcquire failed once lock was free")
	}
	g2.Release()
}
