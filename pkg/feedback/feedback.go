package feedback

import (
	"context"

	"github.com/go-go-golems/llm-eval/pkg/conversation"
	"github.com/pkg/errors"
)

var ErrScoringFailed = errors.New("scoring failed")

// Interaction is one recorded turn: the user input, the model output and the
// context passages used to produce it.
type Interaction struct {
	Input    string   `json:"input"`
	Output   string   `json:"output"`
	Contexts []string `json:"contexts,omitempty"`
}

// Score is a named value in [0,1].
type Score struct {
	Name           string  `json:"name"`
	Value          float64 `json:"value"`
	HigherIsBetter bool    `json:"higher_is_better"`
	Reason         string  `json:"reason,omitempty"`
}

// Scorer rates an interaction. Implementations return the scores they could
// compute together with an error describing the ones they could not.
type Scorer interface {
	Score(ctx context.Context, interaction Interaction) ([]Score, error)
}

// Sink receives human preference feedback on one pane of a record.
type Sink interface {
	RecordFeedback(ctx context.Context, record *conversation.Record, pane int, positive bool) error
}

// RecordStore is the part of the record store a StoreSink needs.
type RecordStore interface {
	AddOrUpdate(r *conversation.Record, persist bool) error
}

// StoreSink upserts the record, feedback included, into a record store.
type StoreSink struct {
	Store   RecordStore
	Persist bool
}

var _ Sink = &StoreSink{}

func (s *StoreSink) RecordFeedback(_ context.Context, record *conversation.Record, pane int, positive bool) error {
	if pane < 0 || pane >= len(record.Conversations) {
		return errors.Errorf("no pane %d", pane)
	}
	return s.Store.AddOrUpdate(record, s.Persist)
}

// LastInteraction extracts the last user / assistant exchange of c.
func LastInteraction(c *conversation.Conversation) (Interaction, bool) {
	ret := Interaction{}
	n := len(c.Messages)
	if n < 2 {
		return ret, false
	}
	last, prev := c.Messages[n-1], c.Messages[n-2]
	if last.Role != conversation.RoleAssistant || prev.Role != conversation.RoleUser {
		return ret, false
	}
	ret.Input = prev.Content
	ret.Output = last.Content
	return ret, true
}
