package sessions

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func mustRegister(t *testing.T, tr *Tracker, id string, h Handle) func() {
	t.Helper()
	unregister, err := tr.Register(id, h)
	if err != nil {
		t.Fatalf("Register(%q) error: %v", id, err)
	}
	return unregister
}

func TestTracker_RegisterUnregister_CountAndWait(t *testing.T) {
	tr := NewTracker(0)
	if tr.Count() != 0 {
		t.Fatalf("initial count=%d, want 0", tr.Count())
	}

	u1 := mustRegister(t, tr, "s1", Handle{})
	u2 := mustRegister(t, tr, "s2", Handle{})
	if tr.Count() != 2 {
		t.Fatalf("count=%d, want 2", tr.Count())
	}

	u1()
	u1()
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}

	u2()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if ok := tr.Wait(ctx); !ok {
		t.Fatalf("expected Wait to return true")
	}
}

func TestTracker_RejectsOverCapacity(t *testing.T) {
	tr := NewTracker(1)
	u1 := mustRegister(t, tr, "s1", Handle{})

	if _, err := tr.Register("s2", Handle{}); !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("err=%v, want ErrAtCapacity", err)
	}
	u1()
	u2 := mustRegister(t, tr, "s2", Handle{})
	defer u2()
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}
}

func TestTracker_WaitTimesOutWhileSessionsRun(t *testing.T) {
	tr := NewTracker(0)
	u := mustRegister(t, tr, "s1", Handle{})
	defer u()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if tr.Wait(ctx) {
		t.Fatalf("Wait returned true with a live session")
	}
}

func TestTracker_CancelAll_CallsCancel(t *testing.T) {
	tr := NewTracker(0)
	var c1, c2 atomic.Int64
	mustRegister(t, tr, "s1", Handle{Cancel: func() { c1.Add(1) }})
	mustRegister(t, tr, "s2", Handle{Cancel: func() { c2.Add(1) }})

	if n := tr.CancelAll(); n != 2 {
		t.Fatalf("canceled=%d, want 2", n)
	}
	if c1.Load() != 1 || c2.Load() != 1 {
		t.Fatalf("cancel calls=%d/%d, want 1/1", c1.Load(), c2.Load())
	}
}

func TestTracker_NotifyAll_BestEffortAndUpdate(t *testing.T) {
	tr := NewTracker(0)
	var n1, n2 atomic.Int64
	mustRegister(t, tr, "s1", Handle{})
	tr.Update("s1", Handle{Notify: func(message string) error {
		n1.Add(1)
		return nil
	}})
	mustRegister(t, tr, "s2", Handle{Notify: func(message string) error {
		n2.Add(1)
		return errors.New("queue full")
	}})

	if sent := tr.NotifyAll("Server is restarting"); sent != 2 {
		t.Fatalf("sent=%d, want 2", sent)
	}
	if n1.Load() != 1 || n2.Load() != 1 {
		t.Fatalf("notify calls=%d/%d, want 1/1", n1.Load(), n2.Load())
	}
}
