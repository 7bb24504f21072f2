package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/batyrsync/batyrd/internal/config"
	"github.com/batyrsync/batyrd/internal/dbgateway"
	"github.com/batyrsync/batyrd/internal/jobmodel"
	"github.com/batyrsync/batyrd/internal/jobqueue"
	"github.com/batyrsync/batyrd/internal/ogrsource"
	"github.com/batyrsync/batyrd/internal/pulltest"
	"github.com/batyrsync/batyrd/internal/worker"
)

type fakeHealth struct {
	healthy       bool
	reconnectSeq  []bool
	reconnectCall int
}

func (h *fakeHealth) Healthy() bool { return h.healthy }

func (h *fakeHealth) Reconnect(ctx context.Context, blockIfBusy bool) bool {
	if h.reconnectCall < len(h.reconnectSeq) {
		ok := h.reconnectSeq[h.reconnectCall]
		h.reconnectCall++
		if ok {
			h.healthy = true
		}
		return ok
	}
	h.healthy = true
	return true
}

func testConfig() *config.Server {
	return &config.Server{
		NumWorkers:      1,
		DBReconnectWait: time.Millisecond,
		Layers: []config.Layer{
			{
				Name:              "parcels",
				Source:            "/data/parcels.shp",
				SourceLayer:       "parcels",
				TargetTableSchema: "public",
				TargetTableName:   "parcels",
			},
		},
	}
}

func healthyFixture() (*pulltest.FakeGateway, *pulltest.FakeReader) {
	tx := &pulltest.FakeTransaction{TargetFields: []dbgateway.TargetField{
		{Name: "id", PgTypeName: "int4", IsPrimaryKey: true},
	}}
	gw := &pulltest.FakeGateway{Tx: tx}
	layer := &pulltest.FakeLayer{
		Fields:   []ogrsource.SourceField{{Name: "id", Index: 0, OGRType: ogrsource.FieldTypeInteger}},
		Features: nil,
	}
	ds := &pulltest.FakeDataset{Layers: map[string]*pulltest.FakeLayer{"parcels": layer}}
	reader := &pulltest.FakeReader{Dataset: ds}
	return gw, reader
}

func TestWorkerProcessesJobSuccessfully(t *testing.T) {
	gw, reader := healthyFixture()
	queue := jobqueue.New()
	w := worker.New("w1", queue, &fakeHealth{healthy: true}, gw, reader, testConfig())

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	job := jobmodel.New("parcels", "")
	if err := queue.Push(job); err != nil {
		t.Fatalf("push: %v", err)
	}

	waitForTerminal(t, job)
	queue.Shutdown()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after shutdown")
	}

	if job.Status() != jobmodel.StatusFinished {
		t.Fatalf("status = %v, want finished (message: %s)", job.Status(), job.Message())
	}
}

func TestWorkerFailsJobForUnknownLayer(t *testing.T) {
	gw, reader := healthyFixture()
	queue := jobqueue.New()
	w := worker.New("w1", queue, &fakeHealth{healthy: true}, gw, reader, testConfig())

	go w.Run(context.Background())
	defer queue.Shutdown()

	job := jobmodel.New("does-not-exist", "")
	_ = queue.Push(job)

	waitForTerminal(t, job)
	if job.Status() != jobmodel.StatusFailed {
		t.Fatalf("status = %v, want failed", job.Status())
	}
}

func TestWorkerWaitsAcrossReconnectAttempts(t *testing.T) {
	gw, reader := healthyFixture()
	queue := jobqueue.New()
	health := &fakeHealth{healthy: false, reconnectSeq: []bool{false, false, true}}
	w := worker.New("w1", queue, health, gw, reader, testConfig())

	go w.Run(context.Background())
	defer queue.Shutdown()

	job := jobmodel.New("parcels", "")
	_ = queue.Push(job)

	waitForTerminal(t, job)
	if job.Status() != jobmodel.StatusFinished {
		t.Fatalf("status = %v, want finished (message: %s)", job.Status(), job.Message())
	}
	if health.reconnectCall < 3 {
		t.Fatalf("expected at least 3 reconnect attempts, got %d", health.reconnectCall)
	}
}

func TestWorkerSetsInProcessBeforeAwaitingConnection(t *testing.T) {
	gw, reader := healthyFixture()
	queue := jobqueue.New()
	health := &fakeHealth{healthy: false, reconnectSeq: []bool{false, true}}
	w := worker.New("w1", queue, health, gw, reader, testConfig())

	go w.Run(context.Background())
	defer queue.Shutdown()

	job := jobmodel.New("parcels", "")
	_ = queue.Push(job)

	deadline := time.After(2 * time.Second)
	for job.Status() == jobmodel.StatusQueued {
		select {
		case <-deadline:
			t.Fatal("job never left queued while awaiting a connection")
		case <-time.After(time.Millisecond):
		}
	}
	if job.Status() != jobmodel.StatusInProcess {
		t.Fatalf("status = %v, want in-process while waiting on a connection", job.Status())
	}

	waitForTerminal(t, job)
	if job.Status() != jobmodel.StatusFinished {
		t.Fatalf("status = %v, want finished (message: %s)", job.Status(), job.Message())
	}
}

func TestWorkerClearsWaitingMessageOnceConnected(t *testing.T) {
	gw, reader := healthyFixture()
	queue := jobqueue.New()
	health := &fakeHealth{healthy: false, reconnectSeq: []bool{false, true}}
	w := worker.New("w1", queue, health, gw, reader, testConfig())

	go w.Run(context.Background())
	defer queue.Shutdown()

	job := jobmodel.New("parcels", "")
	_ = queue.Push(job)

	waitForTerminal(t, job)
	if job.Message() != "" {
		t.Fatalf("message = %q, want the waiting-for-connection message cleared once finished", job.Message())
	}
}

func TestWorkerExitsWhenQueueShutsDownWithNoJobs(t *testing.T) {
	queue := jobqueue.New()
	gw, reader := healthyFixture()
	w := worker.New("w1", queue, &fakeHealth{healthy: true}, gw, reader, testConfig())

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	queue.Shutdown()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after shutdown with an empty queue")
	}
}

func waitForTerminal(t *testing.T, job *jobmodel.Job) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if job.Terminal() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("job %s never reached a terminal state (status: %v)", job.ID(), job.Status())
		case <-time.After(time.Millisecond):
		}
	}
}
