// Package eventbus publishes job lifecycle events (SPEC_FULL §B.2): every
// job start and finish is announced on a local topic any in-process
// subscriber can read through Subscribe, and optionally mirrored onto an
// AMQP broker for external consumers. No package in this repository
// subscribes to the local topic.
//
// Grounded in the teacher's cmd/worker.go and
// src/infrastructure/job/service.go: a watermill.NewStdLogger, a
// JSON-encoded message.Message per event, watermill-amqp for the optional
// external mirror.
package eventbus

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/batyrsync/batyrd/internal/config"
	"github.com/batyrsync/batyrd/internal/jobmodel"
	"github.com/batyrsync/batyrd/internal/log"
)

const topic = "jobs"

// Event is the envelope published for every job lifecycle transition.
type Event struct {
	Kind string          `json:"kind"` // "started" or "finished"
	Job  jobmodel.Record `json:"job"`
}

// Bus is the process-wide job event publisher/subscriber.
type Bus struct {
	logger watermill.LoggerAdapter
	local  *gochannel.GoChannel
	amqp   message.Publisher // nil unless an AMQP URL is configured
}

// New builds a Bus. If cfg.AMQPURL is empty, events are only published
// locally.
func New(cfg config.EventBus) (*Bus, error) {
	logger := watermill.NewStdLogger(false, false)
	local := gochannel.NewGoChannel(gochannel.Config{}, logger)

	b := &Bus{logger: logger, local: local}
	if cfg.AMQPURL != "" {
		pub, err := amqp.NewPublisher(amqp.NewDurableQueueConfig(cfg.AMQPURL), logger)
		if err != nil {
			return nil, err
		}
		b.amqp = pub
	}
	return b, nil
}

// Subscribe returns a channel of raw messages for in-process consumers, e.g.
// an HTTP server-sent-events endpoint.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.local.Subscribe(ctx, topic)
}

// JobStarted implements worker.Lifecycle.
func (b *Bus) JobStarted(job *jobmodel.Job) {
	b.publish(Event{Kind: "started", Job: job.Snapshot()})
}

// JobFinished implements worker.Lifecycle.
func (b *Bus) JobFinished(job *jobmodel.Job) {
	b.publish(Event{Kind: "finished", Job: job.Snapshot()})
}

func (b *Bus) publish(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error(err, "eventbus: failed to marshal event")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)

	if err := b.local.Publish(topic, msg); err != nil {
		log.Error(err, "eventbus: failed to publish locally")
	}
	if b.amqp != nil {
		if err := b.amqp.Publish(topic, msg); err != nil {
			log.Error(err, "eventbus: failed to publish to amqp")
		}
	}
}

// Close releases the underlying pub/sub resources.
func (b *Bus) Close() error {
	if b.amqp != nil {
		if err := b.amqp.Close(); err != nil {
			return err
		}
	}
	return b.local.Close()
}
