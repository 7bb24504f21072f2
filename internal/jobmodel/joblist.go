package jobmodel

import (
	"sort"
	"sync"
	"time"
)

// JobList is the id-indexed, insertion-ordered store described in spec
// §4.6/§9: observers hold a Job's id and look it up here rather than
// holding a bare pointer plucked out of the queue.
type JobList struct {
	mu      sync.RWMutex
	byID    map[string]*Job
	order   []string
	maxAge  time.Duration
	maxSize int
}

// Option configures JobList's eviction policy.
type Option func(*JobList)

// WithMaxAge evicts terminal jobs older than d (measured from TimeFinished)
// on every Insert call; List does not evict.
func WithMaxAge(d time.Duration) Option {
	return func(l *JobList) { l.maxAge = d }
}

// WithMaxSize bounds the list to n entries, evicting the oldest terminal
// jobs first once exceeded.
func WithMaxSize(n int) Option {
	return func(l *JobList) { l.maxSize = n }
}

// NewJobList creates an empty JobList with no eviction by default.
func NewJobList(opts ...Option) *JobList {
	l := &JobList{
		byID: make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ErrDuplicateID is returned by Insert when the job's id is already present.
type ErrDuplicateID struct{ ID string }

func (e ErrDuplicateID) Error() string {
	return "jobmodel: duplicate job id " + e.ID
}

// Insert adds job to the list, rejecting duplicate ids (spec §4.6).
func (l *JobList) Insert(job *Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := job.ID()
	if _, exists := l.byID[id]; exists {
		return ErrDuplicateID{ID: id}
	}
	l.byID[id] = job
	l.order = append(l.order, id)
	l.evictLocked()
	return nil
}

// Get returns the shared Job for id, or ok=false if absent.
func (l *JobList) Get(id string) (*Job, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	j, ok := l.byID[id]
	return j, ok
}

// Filter narrows a List call; nil means no filtering.
type Filter struct {
	Status *Status
}

func (f *Filter) matches(j *Job) bool {
	if f == nil {
		return true
	}
	if f.Status != nil && j.Status() != *f.Status {
		return false
	}
	return true
}

// List returns a snapshot ordered by insertion time, most recently
// inserted last (callers such as the HTTP API reverse it for "most-recent
// first" per spec §6).
func (l *JobList) List(f *Filter) []*Job {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Job, 0, len(l.order))
	for _, id := range l.order {
		j := l.byID[id]
		if j != nil && f.matches(j) {
			out = append(out, j)
		}
	}
	return out
}

// evictLocked drops terminal jobs past maxAge or beyond maxSize. Callers
// must hold l.mu for writing. Non-terminal jobs are never touched, per
// spec §4.6.
func (l *JobList) evictLocked() {
	if l.maxAge > 0 {
		cutoff := time.Now().Add(-l.maxAge)
		l.order = filterIDs(l.order, func(id string) bool {
			j := l.byID[id]
			if j == nil || !j.Terminal() {
				return true
			}
			ts := j.Timestamps()
			if ts.Finished == nil {
				return true
			}
			if ts.Finished.Before(cutoff) {
				delete(l.byID, id)
				return false
			}
			return true
		})
	}

	if l.maxSize > 0 && len(l.order) > l.maxSize {
		// Evict the oldest terminal jobs first until we're back under the
		// cap, or until every remaining job is non-terminal.
		excess := len(l.order) - l.maxSize
		terminalIdx := make([]int, 0, len(l.order))
		for i, id := range l.order {
			if j := l.byID[id]; j != nil && j.Terminal() {
				terminalIdx = append(terminalIdx, i)
			}
		}
		sort.Ints(terminalIdx)
		toDrop := make(map[int]bool, excess)
		for i := 0; i < excess && i < len(terminalIdx); i++ {
			toDrop[terminalIdx[i]] = true
		}
		if len(toDrop) > 0 {
			newOrder := make([]string, 0, len(l.order)-len(toDrop))
			for i, id := range l.order {
				if toDrop[i] {
					delete(l.byID, id)
					continue
				}
				newOrder = append(newOrder, id)
			}
			l.order = newOrder
		}
	}
}

func filterIDs(ids []string, keep func(string) bool) []string {
	out := ids[:0]
	for _, id := range ids {
		if keep(id) {
			out = append(out, id)
		}
	}
	return out
}
