// Package worker implements the Worker loop (spec §4.5, C6): pop a job off
// the queue, make sure the database connection is healthy (spacing retries
// by a fixed wait), run the pull protocol, and move on to the next job.
//
// The reconnect-then-pull shape is grounded in
// original_source/src/server/worker.cpp's Worker::run, which loops on
// Worker::pull and only advances to the next job once a connection could be
// acquired.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/batyrsync/batyrd/internal/config"
	"github.com/batyrsync/batyrd/internal/jobmodel"
	"github.com/batyrsync/batyrd/internal/jobqueue"
	"github.com/batyrsync/batyrd/internal/log"
	"github.com/batyrsync/batyrd/internal/pull"
)

// HealthChecker is the connection-lifecycle subset of *dbgateway.Gateway a
// Worker needs directly, kept separate from pull.Gateway so tests can fake
// connection flakiness independently of the pull protocol itself.
type HealthChecker interface {
	Healthy() bool
	Reconnect(ctx context.Context, blockIfBusy bool) bool
}

// Lifecycle receives job start/finish notifications; the event bus and job
// history store both implement it (SPEC_FULL §B.2/§B.3). A nil Lifecycle is
// valid and means "no listeners".
type Lifecycle interface {
	JobStarted(job *jobmodel.Job)
	JobFinished(job *jobmodel.Job)
}

// Worker pulls jobs off a single Queue, one at a time, forever until the
// queue is shut down (spec §4.5: "single-threaded per worker; N workers,
// one queue").
type Worker struct {
	Name string

	Queue         *jobqueue.Queue
	Health        HealthChecker
	Gateway       pull.Gateway
	Reader        pull.Reader
	Config        *config.Server
	ReconnectWait time.Duration
	Lifecycle     Lifecycle
}

// New builds a Worker. If cfg.DBReconnectWait is zero, config.DefaultDBReconnectWait
// is used.
func New(name string, queue *jobqueue.Queue, health HealthChecker, gw pull.Gateway, reader pull.Reader, cfg *config.Server) *Worker {
	wait := cfg.DBReconnectWait
	if wait <= 0 {
		wait = config.DefaultDBReconnectWait
	}
	return &Worker{
		Name:          name,
		Queue:         queue,
		Health:        health,
		Gateway:       gw,
		Reader:        reader,
		Config:        cfg,
		ReconnectWait: wait,
	}
}

// Run pops jobs until the queue is shut down. It is meant to run in its own
// goroutine. ctx cancellation aborts whatever job is in flight; jobs popped
// after that are failed without being pulled, and Run only returns once the
// queue is shut down and drained.
func (w *Worker) Run(ctx context.Context) {
	log.Info("worker: starting", "worker", w.Name)
	for {
		job, ok := w.Queue.Pop()
		if !ok {
			log.Info("worker: queue shut down, exiting", "worker", w.Name)
			return
		}
		if ctx.Err() != nil {
			job.Fail(ctx.Err().Error())
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *jobmodel.Job) {
	layer, ok := w.Config.LayerByName(job.LayerName())
	if !ok {
		job.Fail(fmt.Sprintf("unknown layer %q", job.LayerName()))
		return
	}

	job.Start()

	if !w.awaitConnection(ctx, job) {
		return
	}

	if w.Lifecycle != nil {
		w.Lifecycle.JobStarted(job)
	}

	if err := pull.Run(ctx, w.Gateway, w.Reader, job, layer); err != nil {
		log.ForJob(job.ID()).Error(err, "worker: pull failed with a database error", "worker", w.Name)
	}

	if w.Lifecycle != nil {
		w.Lifecycle.JobFinished(job)
	}
}

// awaitConnection blocks, spacing attempts by ReconnectWait, until the
// gateway reports healthy or the job's context is cancelled; a queue
// shutdown alone does not interrupt it. Returns false if the job was
// terminated without running the pull protocol.
func (w *Worker) awaitConnection(ctx context.Context, job *jobmodel.Job) bool {
	for !w.Health.Healthy() {
		job.SetMessage("Waiting to acquire a database connection")
		if w.Health.Reconnect(ctx, true) {
			job.SetMessage("")
			return true
		}
		select {
		case <-ctx.Done():
			job.Fail(ctx.Err().Error())
			return false
		case <-time.After(w.ReconnectWait):
		}
	}
	job.SetMessage("")
	return true
}
