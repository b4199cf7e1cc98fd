package postreceive

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/pubsub"

	"github.com/plue-git/plue/internal/plueerr"
)

// Publisher hands a FanoutMessage off to whatever carries it to the
// dispatcher side. Grounded on abcxyz-github-metrics-aggregator's
// PubSubMessenger.Send: marshal, publish, block on the publish result so a
// caller can treat a successful return as "durably queued".
type Publisher interface {
	Publish(ctx context.Context, msg FanoutMessage) error
}

// PubSubPublisher is the production Publisher, backed by a single
// long-lived topic handle.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

func NewPubSubPublisher(topic *pubsub.Topic) *PubSubPublisher {
	return &PubSubPublisher{topic: topic}
}

func (p *PubSubPublisher) Publish(ctx context.Context, msg FanoutMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return plueerr.Validation("fanout_marshal", "could not marshal fan-out message: %v", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return plueerr.Backend("fanout_publish", "publishing fan-out message: %v", err)
	}
	return nil
}

// MemPublisher is an in-process Publisher for tests and for a
// single-process deployment that has no pubsub emulator wired up; it hands
// messages straight to an in-memory channel a Consumer can drain.
type MemPublisher struct {
	Messages chan FanoutMessage
}

func NewMemPublisher(buffer int) *MemPublisher {
	return &MemPublisher{Messages: make(chan FanoutMessage, buffer)}
}

func (p *MemPublisher) Publish(ctx context.Context, msg FanoutMessage) error {
	select {
	case p.Messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
