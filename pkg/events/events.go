package events

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// TopicChat is the topic session events are published on.
const TopicChat = "chat"

type EventType string

const (
	EventTypeStart   EventType = "start"
	EventTypePartial EventType = "partial"
	EventTypeFinal   EventType = "final"
	EventTypeError   EventType = "error"
)

// Event reports the progress of one pane during a turn. Delta is the newly
// streamed text, Completion everything streamed so far.
type Event struct {
	Type       EventType `json:"type"`
	Turn       string    `json:"turn"`
	Pane       int       `json:"pane"`
	Model      string    `json:"model"`
	Delta      string    `json:"delta,omitempty"`
	Completion string    `json:"completion,omitempty"`
	Error      string    `json:"error,omitempty"`
}

func NewStartEvent(turn string, pane int, model string) Event {
	return Event{Type: EventTypeStart, Turn: turn, Pane: pane, Model: model}
}

func NewPartialEvent(turn string, pane int, model string, delta string, completion string) Event {
	return Event{Type: EventTypePartial, Turn: turn, Pane: pane, Model: model, Delta: delta, Completion: completion}
}

func NewFinalEvent(turn string, pane int, model string, completion string) Event {
	return Event{Type: EventTypeFinal, Turn: turn, Pane: pane, Model: model, Completion: completion}
}

func NewErrorEvent(turn string, pane int, model string, completion string, err error) Event {
	ret := Event{Type: EventTypeError, Turn: turn, Pane: pane, Model: model, Completion: completion}
	if err != nil {
		ret.Error = err.Error()
	}
	return ret
}

func (e Event) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type)).
		Str("turn", e.Turn).
		Int("pane", e.Pane).
		Str("model", e.Model)
	if e.Error != "" {
		ev.Str("error", e.Error)
	}
}

func NewEventFromJSON(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, errors.Wrap(err, "could not parse event")
	}
	switch e.Type {
	case EventTypeStart, EventTypePartial, EventTypeFinal, EventTypeError:
	default:
		return Event{}, errors.Errorf("unknown event type %q", e.Type)
	}
	return e, nil
}
