package events

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Publisher sends session events to interested parties.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// WatermillPublisher serializes events as JSON and publishes them on a
// watermill topic.
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

var _ Publisher = &WatermillPublisher{}

func NewWatermillPublisher(publisher message.Publisher, topic string) *WatermillPublisher {
	if topic == "" {
		topic = TopicChat
	}
	return &WatermillPublisher{publisher: publisher, topic: topic}
}

func (p *WatermillPublisher) Publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "could not serialize event")
	}
	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.SetContext(ctx)
	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return errors.Wrapf(err, "could not publish to %s", p.topic)
	}
	return nil
}

// PublishBlind publishes e and only logs failures. A nil publisher is a
// no-op.
func PublishBlind(ctx context.Context, p Publisher, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		log.Warn().Err(err).Object("event", e).Msg("Failed to publish event")
	}
}
