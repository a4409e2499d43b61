package session

import (
	"sync"
	"testing"
	"time"
)

func TestRegisterUnregister(t *testing.T) {
	r := NewRegistry()
	a := r.Register()
	b := r.Register()
	if a == b {
		t.Fatalf("duplicate connection handles: %d", a)
	}
	if got := r.Connections(); got != 2 {
		t.Fatalf("connections = %d, want 2", got)
	}

	r.Unregister(a)
	if got := r.Connections(); got != 1 {
		t.Fatalf("connections = %d, want 1", got)
	}
	// Unknown handle is a no-op.
	r.Unregister(a)
	if got := r.Connections(); got != 1 {
		t.Fatalf("connections = %d, want 1", got)
	}
}

func TestHistoryEvictsOldest(t *testing.T) {
	r := NewRegistry()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 150; i++ {
		r.RecordCount(i, ts.Add(time.Duration(i)*time.Second))
	}

	all := r.Recent(200)
	if len(all) != 100 {
		t.Fatalf("history length = %d, want 100", len(all))
	}
	if all[0].Count != 50 || all[99].Count != 149 {
		t.Fatalf("history range = %d..%d, want 50..149", all[0].Count, all[99].Count)
	}
}

func TestRecentReturnsNewestInOrder(t *testing.T) {
	r := NewRegistry()
	ts := time.Now()
	for i := 2; i <= 5; i++ {
		r.RecordCount(i, ts)
	}

	recent := r.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("recent length = %d, want 3", len(recent))
	}
	for i, want := range []int{3, 4, 5} {
		if recent[i].Count != want {
			t.Errorf("recent[%d] = %d, want %d", i, recent[i].Count, want)
		}
	}
	if got := r.CurrentCount(); got != 5 {
		t.Fatalf("current count = %d, want 5", got)
	}
}

func TestRecentReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.RecordCount(1, time.Now())
	snap := r.Recent(10)
	snap[0].Count = 42
	if got := r.Recent(10)[0].Count; got != 1 {
		t.Fatalf("mutating snapshot leaked into registry: %d", got)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := r.Register()
				r.RecordCount(i, time.Now())
				_ = r.Recent(30)
				r.Unregister(id)
			}
		}()
	}
	wg.Wait()

	if got := r.Connections(); got != 0 {
		t.Fatalf("connections = %d, want 0", got)
	}
	if got := len(r.Recent(200)); got != 100 {
		t.Fatalf("history length = %d, want 100", got)
	}
}
