// Package jobmodel implements the Job value described in spec §3/§4.6: an
// identity, its parameters, a monotonically advancing status, running
// statistics and a last-message string, shared between the Worker (writer)
// and the HTTP layer (reader).
package jobmodel

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is one of the four states a Job may be in. It only ever advances
// forward: QUEUED -> IN_PROCESS -> (FINISHED|FAILED).
type Status string

const (
	StatusQueued    Status = "queued"
	StatusInProcess Status = "in-process"
	StatusFinished  Status = "finished"
	StatusFailed    Status = "failed"
)

// Statistics are the four counts the pull protocol reports (spec §3/§4.4).
type Statistics struct {
	Pulled  int `json:"pulled"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// Timestamps records when a job entered each stage of its life.
type Timestamps struct {
	Added    time.Time  `json:"timeAdded"`
	Started  *time.Time `json:"timeStarted,omitempty"`
	Finished *time.Time `json:"timeFinished,omitempty"`
}

// Job is shared between the JobQueue, the JobList and the Worker that
// mutates it; every mutating method takes the internal mutex so reads from
// the HTTP side always observe a consistent snapshot (spec §5: "the Job is
// the synchronization point").
type Job struct {
	mu sync.RWMutex

	id         string
	layerName  string
	filter     string
	status     Status
	message    string
	statistics Statistics
	timestamps Timestamps
}

// idNode generates job IDs. Snowflake's Base36 encoding is alphanumeric by
// construction, which satisfies spec §3's "usable as a SQL identifier
// suffix" invariant without any further sanitizing, and is monotonically
// sortable, unlike a random UUID.
var idNode = mustSnowflakeNode()

func mustSnowflakeNode() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(fmt.Sprintf("jobmodel: failed to initialize snowflake node: %v", err))
	}
	return node
}

// New creates a QUEUED job for layerName with an optional OGR attribute
// filter. The id is generated here, once, and is immutable thereafter.
func New(layerName, filter string) *Job {
	return &Job{
		id:        idNode.Generate().Base36(),
		layerName: layerName,
		filter:    filter,
		status:    StatusQueued,
		timestamps: Timestamps{
			Added: time.Now(),
		},
	}
}

func (j *Job) ID() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.id
}

func (j *Job) LayerName() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.layerName
}

func (j *Job) Filter() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.filter
}

func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

func (j *Job) Message() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.message
}

func (j *Job) Statistics() Statistics {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.statistics
}

func (j *Job) Timestamps() Timestamps {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.timestamps
}

// SetMessage sets the last human-readable status line (spec §3).
func (j *Job) SetMessage(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.message = msg
}

// Start transitions the job to IN_PROCESS and records the start time. It
// does not check the current status; the Worker is the only writer and
// calls it exactly once per job.
func (j *Job) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusInProcess
	now := time.Now()
	j.timestamps.Started = &now
}

// SetStatistics updates the running counters. Per spec §3 this is only
// legal while the job is IN_PROCESS; callers (the pull protocol) are
// trusted to respect that since it is a single-writer field.
func (j *Job) SetStatistics(stats Statistics) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.statistics = stats
}

// Finish transitions the job to FINISHED, clears the message and records
// the finish time.
func (j *Job) Finish(stats Statistics) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusFinished
	j.statistics = stats
	j.message = ""
	now := time.Now()
	j.timestamps.Finished = &now
}

// Fail transitions the job to FAILED with msg as its terminal message
// (spec §7: "each failed job carries exactly one human-readable message").
func (j *Job) Fail(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusFailed
	j.message = msg
	now := time.Now()
	j.timestamps.Finished = &now
}

// Record is the immutable JSON-serializable snapshot returned by the HTTP
// API (spec §6 "Job record").
type Record struct {
	ID           string     `json:"id"`
	LayerName    string     `json:"layerName"`
	Filter       string     `json:"filter"`
	Status       Status     `json:"status"`
	Message      string     `json:"message"`
	Statistics   Statistics `json:"statistics"`
	TimeAdded    time.Time  `json:"timeAdded"`
	TimeStarted  *time.Time `json:"timeStarted,omitempty"`
	TimeFinished *time.Time `json:"timeFinished,omitempty"`
}

// Snapshot takes a single consistent copy of the job's fields for
// serialization.
func (j *Job) Snapshot() Record {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Record{
		ID:           j.id,
		LayerName:    j.layerName,
		Filter:       j.filter,
		Status:       j.status,
		Message:      j.message,
		Statistics:   j.statistics,
		TimeAdded:    j.timestamps.Added,
		TimeStarted:  j.timestamps.Started,
		TimeFinished: j.timestamps.Finished,
	}
}

// Terminal reports whether the job has reached FINISHED or FAILED, used by
// JobList's eviction policy (spec §4.6: "eviction never touches non-terminal
// jobs").
func (j *Job) Terminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status == StatusFinished || j.status == StatusFailed
}
