package eventbus_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/batyrsync/batyrd/internal/config"
	"github.com/batyrsync/batyrd/internal/eventbus"
	"github.com/batyrsync/batyrd/internal/jobmodel"
)

func TestJobLifecycleEventsArePublishedLocally(t *testing.T) {
	bus, err := eventbus.New(config.EventBus{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	job := jobmodel.New("parcels", "")
	bus.JobStarted(job)

	select {
	case msg := <-msgs:
		var evt eventbus.Event
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if evt.Kind != "started" || evt.Job.ID != job.ID() {
			t.Fatalf("got event %+v, want kind=started id=%s", evt, job.ID())
		}
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the started event")
	}

	job.Start()
	job.Finish(jobmodel.Statistics{Pulled: 1})
	bus.JobFinished(job)

	select {
	case msg := <-msgs:
		var evt eventbus.Event
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if evt.Kind != "finished" || evt.Job.Status != jobmodel.StatusFinished {
			t.Fatalf("got event %+v, want kind=finished status=finished", evt)
		}
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the finished event")
	}
}
