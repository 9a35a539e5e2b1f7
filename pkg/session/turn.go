package session

import (
	"context"
	"strings"
	"time"

	"github.com/go-go-golems/llm-eval/pkg/conversation"
	"github.com/go-go-golems/llm-eval/pkg/events"
	"github.com/go-go-golems/llm-eval/pkg/generation"
	"github.com/go-go-golems/llm-eval/pkg/prompt"
	"github.com/go-go-golems/llm-eval/pkg/retrieval"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// PaneResult is the outcome of one conversation in a turn.
type PaneResult struct {
	Pane     int           `json:"pane"`
	Model    string        `json:"model"`
	Response string        `json:"response"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Passages []string      `json:"passages,omitempty"`
	Duration time.Duration `json:"duration"`
	// RetrievalErr is set when augmented generation fell back to the plain
	// prompt.
	RetrievalErr error `json:"-"`
}

type TurnResult struct {
	ID    string       `json:"id"`
	Input string       `json:"input"`
	State State        `json:"-"`
	Panes []PaneResult `json:"panes"`
}

// Failed returns the number of panes that failed.
func (t *TurnResult) Failed() int {
	n := 0
	for _, p := range t.Panes {
		if p.Err != nil {
			n++
		}
	}
	return n
}

// Submit appends input to every conversation and generates all replies in
// parallel. It returns once every pane finished. Per-pane failures are
// reported in the result, the returned error only covers invalid calls.
func (s *Session) Submit(ctx context.Context, input string) (*TurnResult, error) {
	if strings.TrimSpace(input) == "" {
		return nil, errors.New("empty input")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deps.Metrics.TurnSubmitted()
	for _, c := range s.Conversations {
		c.AddMessage(conversation.NewUserMessage(input), true)
	}
	return s.runTurn(ctx, input), nil
}

// Regenerate drops the last exchange of every conversation and asks all
// models again with the same user input.
func (s *Session) Regenerate(ctx context.Context) (*TurnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.Conversations) == 0 {
		return nil, conversation.ErrNothingToRegenerate
	}
	last, ok := s.Conversations[0].LastUserMessage()
	if !ok {
		return nil, conversation.ErrNothingToRegenerate
	}
	for i, c := range s.Conversations {
		if c.Len() < 3 {
			return nil, errors.Wrapf(conversation.ErrNothingToRegenerate, "pane %d", i)
		}
	}
	for _, c := range s.Conversations {
		if _, err := c.TruncateLastExchange(); err != nil {
			return nil, err
		}
		c.HasError = false
	}

	s.deps.Metrics.TurnSubmitted()
	for _, c := range s.Conversations {
		c.AddMessage(conversation.NewUserMessage(last.Content), true)
	}
	return s.runTurn(ctx, last.Content), nil
}

// runTurn must be called with s.mu held and the user message appended.
func (s *Session) runTurn(ctx context.Context, input string) *TurnResult {
	s.State = StateAwaitingAllResponses
	s.LastInput = input

	ret := &TurnResult{
		ID:    uuid.NewString(),
		Input: input,
		Panes: make([]PaneResult, len(s.Conversations)),
	}

	// no shared context: one pane failing must not cancel the others
	var eg errgroup.Group
	for i, c := range s.Conversations {
		i, c := i, c
		eg.Go(func() error {
			ret.Panes[i] = s.runPane(ctx, ret.ID, i, c, input)
			return nil
		})
	}
	_ = eg.Wait()

	ret.State = StateComplete
	if len(ret.Panes) > 0 && ret.Failed() == len(ret.Panes) {
		ret.State = StateErrored
	}
	s.State = ret.State
	s.passages = make([][]string, len(ret.Panes))
	for i, p := range ret.Panes {
		s.passages[i] = p.Passages
	}

	log.Info().
		Str("turn", ret.ID).
		Str("user", s.User).
		Int("panes", len(ret.Panes)).
		Int("failed", ret.Failed()).
		Str("state", ret.State.String()).
		Msg("Turn finished")
	return ret
}

// runPane is the only writer of c during the turn.
func (s *Session) runPane(ctx context.Context, turn string, pane int, c *conversation.Conversation, input string) PaneResult {
	model := c.ModelConfig.Model
	ret := PaneResult{Pane: pane, Model: model}
	start := time.Now()
	events.PublishBlind(ctx, s.deps.Publisher, events.NewStartEvent(turn, pane, model))

	messages := append([]conversation.Message{}, c.Messages...)
	if c.ModelConfig.UseRAG && s.deps.Retriever != nil {
		augmented, passages, err := s.augment(ctx, input)
		if err != nil {
			log.Warn().Err(err).Str("model", model).Int("pane", pane).
				Msg("Retrieval failed, using plain prompt")
			s.deps.Metrics.RetrievalFailed()
			ret.RetrievalErr = err
		} else {
			messages[len(messages)-1].Content = augmented
			ret.Passages = passages
		}
	}

	c.AddMessage(conversation.NewAssistantMessage(""), false)

	encoded, err := s.deps.Encoder.Encode(model, prompt.WithSystemPrompt(c.ModelConfig.SystemPrompt, messages))
	if err == nil {
		if n, tokErr := prompt.CountTokens(encoded); tokErr == nil {
			s.deps.Metrics.ObservePromptTokens(model, n)
		}
		err = s.generate(ctx, turn, pane, c, encoded)
	}

	ret.Duration = time.Since(start)
	if err == nil {
		c.Messages[len(c.Messages)-1].Content = strings.TrimSpace(c.Messages[len(c.Messages)-1].Content)
	}
	ret.Response = c.Messages[len(c.Messages)-1].Content
	c.HasError = err != nil
	s.deps.Metrics.ObserveGeneration(model, ret.Duration)

	if err != nil {
		ret.Err = err
		ret.Error = err.Error()
		s.deps.Metrics.GenerationFailed(model)
		log.Error().Err(err).Str("model", model).Int("pane", pane).Msg("Generation failed")
		events.PublishBlind(ctx, s.deps.Publisher, events.NewErrorEvent(turn, pane, model, ret.Response, err))
		return ret
	}

	c.RenderLast()
	events.PublishBlind(ctx, s.deps.Publisher, events.NewFinalEvent(turn, pane, model, ret.Response))
	log.Debug().Str("model", model).Int("pane", pane).Dur("duration", ret.Duration).Msg("Generation finished")
	return ret
}

// generate streams into the last message of c. Partial content is kept on
// error.
func (s *Session) generate(ctx context.Context, turn string, pane int, c *conversation.Conversation, encoded string) error {
	if s.deps.Generator == nil {
		return errors.Wrap(generation.ErrGenerationFailed, "no generator configured")
	}
	if s.deps.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.deps.Timeout)
		defer cancel()
	}

	model := c.ModelConfig.Model
	stream, err := s.deps.Generator.Generate(ctx, model, encoded, generation.ParamsFromConfig(c.ModelConfig))
	if err != nil {
		return err
	}
	defer stream.Close()

	for f := range stream.Fragments() {
		if f.Err != nil {
			return f.Err
		}
		if f.Text == "" {
			continue
		}
		c.AppendToLast(f.Text)
		events.PublishBlind(ctx, s.deps.Publisher,
			events.NewPartialEvent(turn, pane, model, f.Text, c.Messages[len(c.Messages)-1].Content))
	}
	return nil
}

// augment retrieves context for query and merges it into the prompt
// template.
func (s *Session) augment(ctx context.Context, query string) (string, []string, error) {
	passages, err := s.deps.Retriever.Retrieve(ctx, query)
	if err != nil {
		return "", nil, err
	}
	if len(passages) == 0 {
		return "", nil, errors.Wrap(retrieval.ErrRetrievalFailed, "no passages found")
	}
	passages, err = retrieval.LimitTokens(passages, s.deps.MaxContextTokens)
	if err != nil {
		return "", nil, errors.Wrapf(retrieval.ErrRetrievalFailed, "%v", err)
	}
	texts := retrieval.Texts(passages)
	augmented, err := prompt.Augment(query, texts)
	if err != nil {
		return "", nil, err
	}
	return augmented, texts, nil
}
