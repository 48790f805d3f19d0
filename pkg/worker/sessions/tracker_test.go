package sessions

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestTracker_RegisterUnregister_CountAndWait(t *testing.T) {
	tr := NewTracker()
	if tr.Count() != 0 {
		t.Fatalf("initial count=%d, want 0", tr.Count())
	}

	u1 := tr.Register("call-1", Handle{})
	u2 := tr.Register("call-2", Handle{})
	if tr.Count() != 2 {
		t.Fatalf("count=%d, want 2", tr.Count())
	}

	u1()
	u1() // idempotent
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}

	u2()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if ok := tr.Wait(ctx); !ok {
		t.Fatalf("expected Wait to return true")
	}
	if tr.Count() != 0 {
		t.Fatalf("count=%d, want 0", tr.Count())
	}
}

func TestTracker_WaitTimesOutWithActiveSessions(t *testing.T) {
	tr := NewTracker()
	unregister := tr.Register("call-1", Handle{})
	defer unregister()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if ok := tr.Wait(ctx); ok {
		t.Fatal("Wait returned true with a session still registered")
	}
}

func TestTracker_CancelAll_CallsCancel(t *testing.T) {
	tr := NewTracker()
	var c1, c2 atomic.Int64
	tr.Register("call-1", Handle{Cancel: func() { c1.Add(1) }})
	tr.Register("call-2", Handle{Cancel: func() { c2.Add(1) }})

	if n := tr.CancelAll(); n != 2 {
		t.Fatalf("canceled=%d, want 2", n)
	}
	if c1.Load() != 1 || c2.Load() != 1 {
		t.Fatalf("cancel calls=%d/%d, want 1/1", c1.Load(), c2.Load())
	}
}

func TestTracker_WarnAll_BestEffort(t *testing.T) {
	tr := NewTracker()
	var w1, w2 atomic.Int64
	tr.Register("call-1", Handle{Warn: func(message string) error {
		w1.Add(1)
		return nil
	}})
	tr.Register("call-2", Handle{Warn: func(message string) error {
		w2.Add(1)
		return errors.New("nope")
	}})

	if sent := tr.WarnAll("worker draining"); sent != 2 {
		t.Fatalf("sent=%d, want 2", sent)
	}
	if w1.Load() != 1 || w2.Load() != 1 {
		t.Fatalf("warn calls=%d/%d, want 1/1", w1.Load(), w2.Load())
	}
}

func TestTracker_ActiveAndStartedAt(t *testing.T) {
	tr := NewTracker()
	u1 := tr.Register("call-b", Handle{})
	tr.Register("call-a", Handle{})

	if got := tr.Active(); len(got) != 2 || got[0] != "call-a" || got[1] != "call-b" {
		t.Fatalf("Active=%v, want sorted [call-a call-b]", got)
	}
	if _, ok := tr.StartedAt("call-b"); !ok {
		t.Fatal("StartedAt missing for registered session")
	}

	u1()
	if got := tr.Active(); len(got) != 1 || got[0] != "call-a" {
		t.Fatalf("Active=%v after release, want [call-a]", got)
	}
	if _, ok := tr.StartedAt("call-b"); ok {
		t.Fatal("StartedAt still reports a released session")
	}
}

func TestTracker_ReregisterSupersedes(t *testing.T) {
	tr := NewTracker()
	tr.Register("call-1", Handle{})
	u2 := tr.Register("call-1", Handle{})
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1 after re-register", tr.Count())
	}

	u2()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if ok := tr.Wait(ctx); !ok {
		t.Fatal("tracker did not drain after superseded entry released")
	}
}
