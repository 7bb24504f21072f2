// Package jobqueue implements the JobQueue described in spec §4.1: a
// concurrent, multi-producer/multi-consumer FIFO with a blocking pop and a
// cooperative shutdown latch.
package jobqueue

import (
	"errors"
	"sync"

	"github.com/batyrsync/batyrd/internal/jobmodel"
)

// ErrClosed is returned by Push once Shutdown has been called.
var ErrClosed = errors.New("jobqueue: queue is shut down")

// Queue is a FIFO of *jobmodel.Job plus a shutdown latch. Push never
// blocks; Pop blocks until an item is available or shutdown is signaled.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []*jobmodel.Job
	shutdown bool
}

// New creates an empty, open Queue.
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends job to the tail of the queue and wakes one blocked popper.
// It fails with ErrClosed once Shutdown has been called.
func (q *Queue) Push(job *jobmodel.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shutdown {
		return ErrClosed
	}
	q.items = append(q.items, job)
	q.cond.Signal()
	return nil
}

// Pop blocks until an item is available or shutdown is signaled with no
// pending items, matching spec §4.1's "drains remaining items then returns
// the shutdown indication".
func (q *Queue) Pop() (*jobmodel.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.shutdown {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	job := q.items[0]
	q.items = q.items[1:]
	return job, true
}

// Shutdown sets the latch and wakes every blocked popper. Safe to call more
// than once.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shutdown = true
	q.cond.Broadcast()
}

// Len reports the number of items currently queued; mainly for tests and
// metrics, not part of the core contract.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
