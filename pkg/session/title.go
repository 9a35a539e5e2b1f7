package session

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-go-golems/llm-eval/pkg/conversation"
	"github.com/go-go-golems/llm-eval/pkg/generation"
	"github.com/go-go-golems/llm-eval/pkg/prompt"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const titleSystemPrompt = `You are a helpful assistant generating a brief summary title of a
conversation based on the users input. The summary title should
be no more than 4-5 words, with 2-3 words as a typical response.
In general, brief is better when the title is a clear summary.

Input will be provided in JSON format and you should specify the
output in JSON format. Do not add any commentary or discussion.
ONLY return the JSON.

Here are a few examples:
INPUT: {"input": "Hey, I'm looking for tips on planning a trip to Chicago. What should I do while I'm there?"}
OUTPUT: {"summary": "Visiting Chicago"}

INPUT: {"input": "I've been scripting and doing simple database work for a few years and I want to learn frontend web development. Where should I start?"}
OUTPUT: {"summary": "Learning frontend development"}

INPUT: {"input": "Can you share a few jokes?"}
OUTPUT: {"summary": "Sharing jokes"}

Ok, now your turn. Remember to only respond with the JSON.
------------------------------------------`

// GenerateTitle asks model for a short summary of input and stores it as
// the session title. An empty model uses the default one.
func (s *Session) GenerateTitle(ctx context.Context, model string, input string) (string, error) {
	if s.deps.Generator == nil {
		return "", errors.Wrap(generation.ErrGenerationFailed, "no generator configured")
	}
	cfg := conversation.DefaultModelConfig()
	if model != "" {
		cfg.Model = model
	}
	cfg.SystemPrompt = titleSystemPrompt
	cfg.Temperature = 0

	b, err := json.Marshal(map[string]string{"input": input})
	if err != nil {
		return "", err
	}
	// only the system prompt and the input, no greeting
	messages := []conversation.Message{conversation.NewUserMessage(string(b))}
	encoded, err := s.deps.Encoder.Encode(cfg.Model, prompt.WithSystemPrompt(cfg.SystemPrompt, messages))
	if err != nil {
		return "", err
	}
	stream, err := s.deps.Generator.Generate(ctx, cfg.Model, encoded, generation.ParamsFromConfig(cfg))
	if err != nil {
		return "", err
	}
	reply, err := stream.Collect()
	if err != nil {
		return "", err
	}

	title, err := ParseTitle(reply)
	if err != nil {
		log.Warn().Err(err).Str("response", reply).Msg("Could not parse title")
		return "", err
	}

	s.mu.Lock()
	s.Title = title
	s.mu.Unlock()
	return title, nil
}

// ParseTitle extracts the summary from a {"summary": "..."} reply. Text
// around the JSON object is ignored.
func ParseTitle(reply string) (string, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return "", errors.Errorf("no JSON object in title response %q", reply)
	}
	var v struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &v); err != nil {
		return "", errors.Wrap(err, "could not decode title response")
	}
	title := strings.TrimSpace(v.Summary)
	if title == "" {
		return "", errors.New("title response has an empty summary")
	}
	return title, nil
}
