package feedback

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-go-golems/llm-eval/pkg/conversation"
	"github.com/go-go-golems/llm-eval/pkg/conversation/store"
	"github.com/go-go-golems/llm-eval/pkg/generation"
	"github.com/go-go-golems/llm-eval/pkg/prompt"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedJudge answers by looking for keywords in the prompt.
type scriptedJudge struct {
	replies map[string]string
	prompts []string
}

func (s *scriptedJudge) Generate(ctx context.Context, model string, p string, params generation.Params) (*generation.Stream, error) {
	s.prompts = append(s.prompts, p)
	for k, reply := range s.replies {
		if strings.Contains(p, k) {
			if reply == "" {
				return generation.NewStreamFromFragments(ctx, generation.Fragment{Err: errors.New("judge down")}), nil
			}
			return generation.NewStreamFromFragments(ctx, generation.Fragment{Text: reply}), nil
		}
	}
	return generation.NewStreamFromFragments(ctx, generation.Fragment{Text: "Rating: 0\nNothing matched."}), nil
}

func TestParseRating(t *testing.T) {
	testCases := []struct {
		reply    string
		expected float64
		err      bool
	}{
		{reply: "Rating: 7\nMostly relevant.", expected: 0.7},
		{reply: "rating=10", expected: 1},
		{reply: "I would say 3/10 here.", expected: 0.3},
		{reply: "4 - somewhat", expected: 0.4},
		{reply: "no idea", err: true},
		{reply: "Rating: 42", err: true},
	}
	for _, tc := range testCases {
		t.Run(tc.reply, func(t *testing.T) {
			v, err := ParseRating(tc.reply)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tc.expected, v, 1e-9)
		})
	}
}

func TestJudgeScorer(t *testing.T) {
	judge := &scriptedJudge{replies: map[string]string{
		"CONTEXT: relevant":  "Rating: 9\nOn topic.",
		"CONTEXT: off topic": "Rating: 1\nUnrelated.",
		"TEXT: how do I":     "Rating: 0\nHarmless question.",
		"TEXT: you can":      "Rating: 2\nHarmless answer.",
	}}
	s := NewJudgeScorer(prompt.NewEncoder(nil), judge, conversation.DefaultModel)

	scores, err := s.Score(context.Background(), Interaction{
		Input:    "how do I bake bread?",
		Output:   "you can use flour and water.",
		Contexts: []string{"relevant passage", "off topic passage"},
	})
	require.NoError(t, err)
	require.Len(t, scores, 3)

	assert.Equal(t, "Context Relevance", scores[0].Name)
	assert.InDelta(t, 0.5, scores[0].Value, 1e-9)
	assert.True(t, scores[0].HigherIsBetter)
	assert.Equal(t, "Criminality input", scores[1].Name)
	assert.InDelta(t, 0.0, scores[1].Value, 1e-9)
	assert.False(t, scores[1].HigherIsBetter)
	assert.Equal(t, "Criminality output", scores[2].Name)
	assert.Equal(t, "Harmless answer.", scores[2].Reason)

	for _, p := range judge.prompts {
		assert.True(t, strings.HasPrefix(p, "<|im_start|>system\nYou are a strict evaluator."))
	}
}

func TestJudgeScorerKeepsOtherRubricsOnFailure(t *testing.T) {
	judge := &scriptedJudge{replies: map[string]string{
		"TEXT: hello": "",
		"TEXT: hi":    "Rating: 0\nFine.",
	}}
	s := NewJudgeScorer(prompt.NewEncoder(nil), judge, conversation.DefaultModel)

	scores, err := s.Score(context.Background(), Interaction{Input: "hello", Output: "hi"})
	assert.ErrorIs(t, err, ErrScoringFailed)
	require.Len(t, scores, 1)
	assert.Equal(t, "Criminality output", scores[0].Name)
}

func TestJudgeScorerUnsupportedModel(t *testing.T) {
	s := NewJudgeScorer(prompt.NewEncoder(nil), &scriptedJudge{}, "acme/judge")
	scores, err := s.Score(context.Background(), Interaction{Input: "a", Output: "b"})
	assert.ErrorIs(t, err, ErrScoringFailed)
	assert.Empty(t, scores)
}

func TestLastInteraction(t *testing.T) {
	c := conversation.New(conversation.DefaultModelConfig())
	_, ok := LastInteraction(c)
	assert.False(t, ok)

	c.AddMessage(conversation.NewUserMessage("q"), false)
	c.AddMessage(conversation.NewAssistantMessage("a"), false)
	i, ok := LastInteraction(c)
	require.True(t, ok)
	assert.Equal(t, Interaction{Input: "q", Output: "a"}, i)
}

func TestStoreSink(t *testing.T) {
	s, err := store.NewFileRecordStore(filepath.Join(t.TempDir(), "h.jsonl"))
	require.NoError(t, err)
	c := conversation.New(conversation.DefaultModelConfig())
	c.SetFeedback(true)
	r := conversation.NewRecord("alice", "feedback", c)

	sink := &StoreSink{Store: s, Persist: true}
	require.NoError(t, sink.RecordFeedback(context.Background(), r, 0, true))
	assert.Error(t, sink.RecordFeedback(context.Background(), r, 3, true))

	got, err := s.GetByID(r.ID)
	require.NoError(t, err)
	assert.True(t, got.Conversations[0].HasFeedback())
}
