package jobqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/batyrsync/batyrd/internal/jobmodel"
)

func TestPushPopFIFO(t *testing.T) {
	q := New()
	j1 := jobmodel.New("parcels", "")
	j2 := jobmodel.New("parcels", "")

	if err := q.Push(j1); err != nil {
		t.Fatalf("Push j1: %v", err)
	}
	if err := q.Push(j2); err != nil {
		t.Fatalf("Push j2: %v", err)
	}

	got1, ok := q.Pop()
	if !ok || got1 != j1 {
		t.Fatalf("Pop 1 = %v, %v, want j1", got1, ok)
	}
	got2, ok := q.Pop()
	if !ok || got2 != j2 {
		t.Fatalf("Pop 2 = %v, %v, want j2", got2, ok)
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New()
	done := make(chan *jobmodel.Job, 1)
	go func() {
		job, ok := q.Pop()
		if !ok {
			done <- nil
			return
		}
		done <- job
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("Pop returned before any Push")
	default:
	}

	job := jobmodel.New("parcels", "")
	if err := q.Push(job); err != nil {
		t.Fatalf("Push: %v", err)
	}

	select {
	case got := <-done:
		if got != job {
			t.Fatalf("Pop returned %v, want %v", got, job)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop never returned after Push")
	}
}

func TestShutdownDrainsThenReturnsFalse(t *testing.T) {
	q := New()
	job := jobmodel.New("parcels", "")
	if err := q.Push(job); err != nil {
		t.Fatalf("Push: %v", err)
	}
	q.Shutdown()

	got, ok := q.Pop()
	if !ok || got != job {
		t.Fatalf("expected to drain pending job before shutdown, got %v, %v", got, ok)
	}

	_, ok = q.Pop()
	if ok {
		t.Fatal("expected Pop to report shutdown once drained")
	}
}

func TestPushAfterShutdownFails(t *testing.T) {
	q := New()
	q.Shutdown()
	if err := q.Push(jobmodel.New("parcels", "")); err != ErrClosed {
		t.Fatalf("Push after shutdown = %v, want ErrClosed", err)
	}
}

func TestShutdownWakesAllBlockedPoppers(t *testing.T) {
	q := New()
	const n = 5
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, ok := q.Pop(); ok {
				t.Error("expected shutdown indication, got a job")
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	q.Shutdown()

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(time.Second):
		t.Fatal("not all poppers woke up after shutdown")
	}
}
