package events

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

// EventRouter wires an in-process pub/sub to a watermill router that
// dispatches events to handlers.
type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
	started    atomic.Bool
}

// CloseTimeout bounds how long Close waits for running handlers.
const CloseTimeout = 5 * time.Second

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

// WithVerbose logs watermill internals through zerolog.
func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		if verbose {
			r.logger = NewWatermillLogger(log.Logger)
		}
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
	}
	for _, o := range options {
		o(ret)
	}

	// publishing blocks until the handler acked, so events are handled in order
	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = goPubSub
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: CloseTimeout,
	}, ret.logger)
	if err != nil {
		return nil, err
	}
	ret.router = router
	return ret, nil
}

// ChatPublisher returns a Publisher for the chat topic of this router.
func (e *EventRouter) ChatPublisher() *WatermillPublisher {
	return NewWatermillPublisher(e.Publisher, TopicChat)
}

func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// AddEventHandler registers f for the parsed events of the chat topic.
// Unparseable messages are logged and dropped.
func (e *EventRouter) AddEventHandler(name string, f func(ctx context.Context, ev Event) error) {
	e.AddHandler(name, TopicChat, func(msg *message.Message) error {
		ev, err := NewEventFromJSON(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Str("message_id", msg.UUID).Msg("Dropping malformed event")
			return nil
		}
		return f(msg.Context(), ev)
	})
}

func (e *EventRouter) Run(ctx context.Context) error {
	e.started.Store(true)
	return e.router.Run(ctx)
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) Close() error {
	if err := e.Publisher.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close pubsub")
	}
	// a router that never ran has no handlers to wait for
	if !e.started.Load() {
		return nil
	}
	if err := e.router.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close router")
		return err
	}
	return nil
}
