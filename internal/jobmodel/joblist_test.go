package jobmodel

import (
	"testing"
	"time"
)

func TestInsertRejectsDuplicateID(t *testing.T) {
	l := NewJobList()
	j := New("parcels", "")
	if err := l.Insert(j); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	if err := l.Insert(j); err == nil {
		t.Fatal("expected duplicate-id error on second Insert")
	}
}

func TestGetAndListOrdering(t *testing.T) {
	l := NewJobList()
	a := New("parcels", "")
	b := New("roads", "")
	_ = l.Insert(a)
	_ = l.Insert(b)

	got, ok := l.Get(a.ID())
	if !ok || got != a {
		t.Fatalf("Get(a) = %v, %v", got, ok)
	}

	all := l.List(nil)
	if len(all) != 2 || all[0] != a || all[1] != b {
		t.Fatalf("List order = %v, want [a b]", all)
	}
}

func TestListFilterByStatus(t *testing.T) {
	l := NewJobList()
	a := New("parcels", "")
	b := New("roads", "")
	_ = l.Insert(a)
	_ = l.Insert(b)
	b.Start()
	b.Finish(Statistics{})

	finished := StatusFinished
	got := l.List(&Filter{Status: &finished})
	if len(got) != 1 || got[0] != b {
		t.Fatalf("filtered List = %v, want [b]", got)
	}
}

func TestEvictionNeverTouchesNonTerminalJobs(t *testing.T) {
	l := NewJobList(WithMaxSize(1))
	a := New("parcels", "")
	_ = l.Insert(a) // still QUEUED, non-terminal

	b := New("roads", "")
	_ = l.Insert(b)

	all := l.List(nil)
	if len(all) != 2 {
		t.Fatalf("expected non-terminal job to survive eviction, got %d entries", len(all))
	}
}

func TestEvictionDropsOldTerminalJobsOverMaxSize(t *testing.T) {
	l := NewJobList(WithMaxSize(1))
	a := New("parcels", "")
	_ = l.Insert(a)
	a.Start()
	a.Finish(Statistics{})

	b := New("roads", "")
	_ = l.Insert(b)

	all := l.List(nil)
	if len(all) != 1 || all[0] != b {
		t.Fatalf("expected oldest terminal job evicted, got %v", all)
	}
}

func TestEvictionByMaxAge(t *testing.T) {
	l := NewJobList(WithMaxAge(time.Millisecond))
	a := New("parcels", "")
	_ = l.Insert(a)
	a.Start()
	a.Finish(Statistics{})

	time.Sleep(5 * time.Millisecond)

	b := New("roads", "")
	_ = l.Insert(b)

	all := l.List(nil)
	if len(all) != 1 || all[0] != b {
		t.Fatalf("expected aged-out terminal job evicted, got %v", all)
	}
}
