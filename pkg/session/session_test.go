package session

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-go-golems/llm-eval/pkg/conversation"
	"github.com/go-go-golems/llm-eval/pkg/conversation/store"
	"github.com/go-go-golems/llm-eval/pkg/events"
	"github.com/go-go-golems/llm-eval/pkg/feedback"
	"github.com/go-go-golems/llm-eval/pkg/generation"
	"github.com/go-go-golems/llm-eval/pkg/prompt"
	"github.com/go-go-golems/llm-eval/pkg/retrieval"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEncoder() *prompt.Encoder {
	r := prompt.NewDefaultRegistry()
	r.Register("m1", prompt.FamilyChatML)
	r.Register("m2", prompt.FamilyChatML)
	return prompt.NewEncoder(r)
}

func cfg(model string) conversation.ModelConfig {
	c := conversation.DefaultModelConfig()
	c.Model = model
	return c
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) ofType(t events.EventType) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	ret := []events.Event{}
	for _, e := range p.events {
		if e.Type == t {
			ret = append(ret, e)
		}
	}
	return ret
}

type staticRetriever struct {
	passages []retrieval.Passage
	err      error
}

func (r *staticRetriever) Retrieve(context.Context, string) ([]retrieval.Passage, error) {
	return r.passages, r.err
}

type scriptedClient struct {
	reply string

	mu      sync.Mutex
	prompts []string
}

func (c *scriptedClient) Generate(ctx context.Context, _ string, encoded string, _ generation.Params) (*generation.Stream, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, encoded)
	c.mu.Unlock()
	return generation.NewStreamFromFragments(ctx, generation.Fragment{Text: c.reply}), nil
}

func TestSubmitIsolatesPaneFailures(t *testing.T) {
	echo := generation.NewEchoClient()
	echo.Failures["m2"] = errors.New("backend down")
	s := New(Deps{Encoder: testEncoder(), Generator: echo},
		WithUser("alice"),
		WithModelConfigs(cfg("m1"), cfg("m2")))

	res, err := s.Submit(context.Background(), "hi")
	require.NoError(t, err)

	for _, c := range s.Conversations {
		require.Equal(t, 3, c.Len())
		assert.Equal(t, conversation.NewUserMessage("hi"), c.Messages[1])
		assert.Equal(t, conversation.RoleAssistant, c.Messages[2].Role)
	}
	assert.False(t, s.Conversations[0].HasError)
	assert.Equal(t, "hi", s.Conversations[0].Messages[2].Content)
	assert.True(t, s.Conversations[1].HasError)
	// partial content is kept
	assert.Equal(t, "hi", s.Conversations[1].Messages[2].Content)

	assert.Equal(t, StateComplete, res.State)
	assert.Equal(t, StateComplete, s.State)
	assert.Equal(t, 1, res.Failed())
	assert.ErrorIs(t, res.Panes[1].Err, generation.ErrGenerationFailed)
	assert.Equal(t, "hi", s.LastInput)
}

func TestSubmitAllFailing(t *testing.T) {
	echo := generation.NewEchoClient()
	echo.Failures["m1"] = errors.New("down")
	echo.Failures["m2"] = errors.New("down")
	s := New(Deps{Encoder: testEncoder(), Generator: echo}, WithModelConfigs(cfg("m1"), cfg("m2")))

	res, err := s.Submit(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, StateErrored, res.State)
	assert.Equal(t, 2, res.Failed())
}

func TestSubmitUnsupportedModel(t *testing.T) {
	s := New(Deps{Encoder: testEncoder(), Generator: generation.NewEchoClient()},
		WithModelConfigs(cfg("m1"), cfg("unknown/model")))

	res, err := s.Submit(context.Background(), "hi")
	require.NoError(t, err)
	assert.ErrorIs(t, res.Panes[1].Err, prompt.ErrUnsupportedModel)
	assert.True(t, s.Conversations[1].HasError)
	assert.Equal(t, 3, s.Conversations[1].Len())
	assert.Equal(t, "", s.Conversations[1].Messages[2].Content)
	assert.NoError(t, s.Export().Validate())
}

func TestSubmitRejectsEmptyInput(t *testing.T) {
	s := New(Deps{Encoder: testEncoder(), Generator: generation.NewEchoClient()})
	_, err := s.Submit(context.Background(), "  ")
	assert.Error(t, err)
	assert.Equal(t, 1, s.Conversations[0].Len())
	assert.Equal(t, StateIdle, s.State)
}

func TestRegenerate(t *testing.T) {
	s := New(Deps{Encoder: testEncoder(), Generator: generation.NewEchoClient()},
		WithModelConfigs(cfg("m1"), cfg("m2")))

	_, err := s.Regenerate(context.Background())
	assert.ErrorIs(t, err, conversation.ErrNothingToRegenerate)

	_, err = s.Submit(context.Background(), "first")
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), "second")
	require.NoError(t, err)
	require.Equal(t, 5, s.Conversations[0].Len())

	res, err := s.Regenerate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", res.Input)
	for _, c := range s.Conversations {
		require.Equal(t, 5, c.Len())
		assert.Equal(t, "second", c.Messages[3].Content)
		assert.Equal(t, "second", c.Messages[4].Content)
		assert.Equal(t, "first", c.Messages[1].Content)
	}
}

func TestRetrievalFailureDegradesToPlainPrompt(t *testing.T) {
	c := cfg("m1")
	c.UseRAG = true
	s := New(Deps{
		Encoder:   testEncoder(),
		Generator: generation.NewEchoClient(),
		Retriever: &staticRetriever{err: retrieval.ErrRetrievalFailed},
	}, WithModelConfigs(c))

	res, err := s.Submit(context.Background(), "what is go?")
	require.NoError(t, err)
	assert.NoError(t, res.Panes[0].Err)
	assert.ErrorIs(t, res.Panes[0].RetrievalErr, retrieval.ErrRetrievalFailed)
	assert.Equal(t, "what is go?", res.Panes[0].Response)
}

func TestRetrievalAugmentsPromptOnly(t *testing.T) {
	c := cfg("m1")
	c.UseRAG = true
	s := New(Deps{
		Encoder:   testEncoder(),
		Generator: generation.NewEchoClient(),
		Retriever: &staticRetriever{passages: []retrieval.Passage{
			{Text: "Go is a programming language.", Score: 0.9},
		}},
	}, WithModelConfigs(c, cfg("m2")))

	res, err := s.Submit(context.Background(), "what is go?")
	require.NoError(t, err)

	// the echo client repeats the augmented user turn
	assert.Contains(t, res.Panes[0].Response, "Go is a programming language.")
	assert.Contains(t, res.Panes[0].Response, "what is go?")
	assert.Equal(t, []string{"Go is a programming language."}, res.Panes[0].Passages)
	assert.Equal(t, "what is go?", res.Panes[1].Response)

	// the stored user message is never rewritten
	assert.Equal(t, "what is go?", s.Conversations[0].Messages[1].Content)
}

func TestSubmitPublishesEvents(t *testing.T) {
	echo := generation.NewEchoClient()
	echo.Failures["m2"] = errors.New("down")
	pub := &recordingPublisher{}
	s := New(Deps{Encoder: testEncoder(), Generator: echo, Publisher: pub},
		WithModelConfigs(cfg("m1"), cfg("m2")))

	res, err := s.Submit(context.Background(), "hello world")
	require.NoError(t, err)

	assert.Len(t, pub.ofType(events.EventTypeStart), 2)
	finals := pub.ofType(events.EventTypeFinal)
	require.Len(t, finals, 1)
	assert.Equal(t, 0, finals[0].Pane)
	assert.Equal(t, "hello world", finals[0].Completion)
	assert.Equal(t, res.ID, finals[0].Turn)

	errs := pub.ofType(events.EventTypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, "m2", errs[0].Model)

	var streamed strings.Builder
	for _, e := range pub.ofType(events.EventTypePartial) {
		if e.Pane == 0 {
			streamed.WriteString(e.Delta)
		}
	}
	assert.Equal(t, "hello world", streamed.String())
}

func TestClearAndExport(t *testing.T) {
	s := New(Deps{Encoder: testEncoder(), Generator: generation.NewEchoClient()},
		WithUser("bob"), WithTitle("t"), WithModelConfigs(cfg("m1"), cfg("m2")))
	_, err := s.Submit(context.Background(), "hi")
	require.NoError(t, err)

	rec := s.Export()
	assert.Equal(t, "bob", rec.User)
	assert.Equal(t, s.RecordID, rec.ID)
	require.NoError(t, rec.Validate())

	// the export does not share state with the session
	rec.Conversations[0].Messages[1].Content = "changed"
	assert.Equal(t, "hi", s.Conversations[0].Messages[1].Content)

	oldID := s.RecordID
	s.Clear()
	assert.NotEqual(t, oldID, s.RecordID)
	assert.Equal(t, StateIdle, s.State)
	for _, c := range s.Conversations {
		assert.Equal(t, []conversation.Message{conversation.NewAssistantMessage(conversation.DefaultGreeting)}, c.Messages)
	}
}

func TestSaveAndLoad(t *testing.T) {
	st, err := store.NewFileRecordStore(filepath.Join(t.TempDir(), "h.jsonl"))
	require.NoError(t, err)

	s := New(Deps{Encoder: testEncoder(), Generator: generation.NewEchoClient()},
		WithUser("alice"), WithTitle("Trip planning"), WithModelConfigs(cfg("m1"), cfg("m2")))
	_, err = s.Submit(context.Background(), "plan a trip")
	require.NoError(t, err)
	rec, err := s.Save(st, true)
	require.NoError(t, err)

	entries := st.ListConversationsByUser("alice")
	require.Len(t, entries, 1)
	assert.Equal(t, rec.ID, entries[0].ID)

	loaded, err := st.GetByID(rec.ID)
	require.NoError(t, err)

	other := New(Deps{Encoder: testEncoder()}, WithUser("mallory"))
	assert.Error(t, other.Load(loaded))

	admin := New(Deps{Encoder: testEncoder()}, WithUser("root"), WithAdmin(true))
	require.NoError(t, admin.Load(loaded))
	assert.Equal(t, "Trip planning", admin.Title)
	assert.Equal(t, "plan a trip", admin.LastInput)
	assert.Len(t, admin.Conversations, 2)
}

func TestLoadKeepsUnknownRecordKeys(t *testing.T) {
	rec, err := conversation.ParseRecordLine([]byte(`{"id":"r1","user":"alice","title":null,"source":"import",` +
		`"conversations":[{"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}],` +
		`"model_config":{"model":"m1","temperature":0.7,"top_p":1,"max_new_tokens":1024}}]}`))
	require.NoError(t, err)

	s := New(Deps{Encoder: testEncoder()}, WithUser("alice"))
	require.NoError(t, s.Load(rec))
	_, ok := s.Export().Extra("source")
	assert.True(t, ok)

	s.Clear()
	_, ok = s.Export().Extra("source")
	assert.False(t, ok)
}

func TestSetModelConfig(t *testing.T) {
	s := New(Deps{Encoder: testEncoder()}, WithModelConfigs(cfg("m1")))
	bad := cfg("m2")
	bad.Temperature = 3
	assert.Error(t, s.SetModelConfig(0, bad))
	assert.Error(t, s.SetModelConfig(4, cfg("m2")))
	require.NoError(t, s.SetModelConfig(0, cfg("m2")))
	assert.Equal(t, []string{"m2"}, s.Models())
}

func TestRecordFeedback(t *testing.T) {
	st, err := store.NewFileRecordStore(filepath.Join(t.TempDir(), "h.jsonl"))
	require.NoError(t, err)
	s := New(Deps{
		Encoder:      testEncoder(),
		Generator:    generation.NewEchoClient(),
		FeedbackSink: &feedback.StoreSink{Store: st},
	}, WithUser("alice"), WithModelConfigs(cfg("m1"), cfg("m2")))
	_, err = s.Submit(context.Background(), "hi")
	require.NoError(t, err)

	require.NoError(t, s.RecordFeedback(context.Background(), 1, true))
	assert.Error(t, s.RecordFeedback(context.Background(), 2, true))

	got, err := st.GetByID(s.RecordID)
	require.NoError(t, err)
	assert.Nil(t, got.Conversations[0].Feedback)
	require.NotNil(t, got.Conversations[1].Feedback)
	assert.True(t, *got.Conversations[1].Feedback)
}

func TestGenerateTitle(t *testing.T) {
	client := &scriptedClient{reply: "Sure! {\"summary\": \"Visiting Chicago\"}"}
	s := New(Deps{
		Encoder:   testEncoder(),
		Generator: client,
	})
	title, err := s.GenerateTitle(context.Background(), "", "tips for a trip to Chicago?")
	require.NoError(t, err)
	assert.Equal(t, "Visiting Chicago", title)
	assert.Equal(t, "Visiting Chicago", s.Title)

	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], "tips for a trip to Chicago?")
	assert.NotContains(t, client.prompts[0], conversation.DefaultGreeting)

	s.deps.Generator = &scriptedClient{reply: "no json here"}
	_, err = s.GenerateTitle(context.Background(), "", "x")
	assert.Error(t, err)
}

func TestParseTitle(t *testing.T) {
	title, err := ParseTitle(`{"summary": " Sharing jokes "}`)
	require.NoError(t, err)
	assert.Equal(t, "Sharing jokes", title)

	_, err = ParseTitle(`{"summary": ""}`)
	assert.Error(t, err)
	_, err = ParseTitle(`{"summary": `)
	assert.Error(t, err)
}

func TestInteractionCarriesRetrievedPassages(t *testing.T) {
	client := &scriptedClient{reply: "Rating: 8\nThe context is on topic."}
	rag := cfg("m1")
	rag.UseRAG = true
	s := New(Deps{
		Encoder:   testEncoder(),
		Generator: client,
		Retriever: &staticRetriever{passages: []retrieval.Passage{
			{Text: "Chicago has a lakefront trail.", Score: 0.9},
		}},
	}, WithModelConfigs(rag, cfg("m2")))

	_, err := s.Interaction(context.Background(), 0)
	assert.ErrorIs(t, err, ErrNothingToScore)

	_, err = s.Submit(context.Background(), "what to do in Chicago?")
	require.NoError(t, err)

	interaction, err := s.Interaction(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "what to do in Chicago?", interaction.Input)
	assert.Equal(t, []string{"Chicago has a lakefront trail."}, interaction.Contexts)

	plain, err := s.Interaction(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, plain.Contexts)

	scores, err := feedback.NewJudgeScorer(testEncoder(), client, "m1").Score(context.Background(), interaction)
	require.NoError(t, err)
	names := []string{}
	for _, sc := range scores {
		names = append(names, sc.Name)
	}
	assert.Contains(t, names, "Context Relevance")
	assert.InDelta(t, 0.8, scores[0].Value, 1e-9)
}

func TestRecordInteractionRetrievesAgain(t *testing.T) {
	rag := cfg("m1")
	rag.UseRAG = true
	c := conversation.New(rag)
	c.AddMessage(conversation.NewUserMessage("q"), false)
	c.AddMessage(conversation.NewAssistantMessage("a"), false)
	rec := conversation.NewRecord("alice", "t", c)

	deps := Deps{Retriever: &staticRetriever{passages: []retrieval.Passage{{Text: "p1"}, {Text: "p2"}}}}
	interaction, err := RecordInteraction(context.Background(), deps, rec, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, interaction.Contexts)

	deps.Retriever = &staticRetriever{err: retrieval.ErrRetrievalFailed}
	interaction, err = RecordInteraction(context.Background(), deps, rec, 0)
	require.NoError(t, err)
	assert.Empty(t, interaction.Contexts)

	_, err = RecordInteraction(context.Background(), deps, rec, 3)
	assert.Error(t, err)
}
