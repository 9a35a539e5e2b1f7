package generation

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient streams raw prompt completions from any OpenAI compatible
// completions endpoint (vLLM, llama.cpp server, hosted proxies).
type OpenAIClient struct {
	client  *go_openai.Client
	timeout time.Duration
}

type OpenAIOption func(*OpenAIClient)

func WithOpenAITimeout(timeout time.Duration) OpenAIOption {
	return func(c *OpenAIClient) {
		c.timeout = timeout
	}
}

// NewOpenAIClient creates a client for baseURL. An empty baseURL uses the
// OpenAI API.
func NewOpenAIClient(apiKey string, baseURL string, options ...OpenAIOption) *OpenAIClient {
	config := go_openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	ret := &OpenAIClient{
		client: go_openai.NewClientWithConfig(config),
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

var _ Client = (*OpenAIClient)(nil)

func (c *OpenAIClient) Generate(ctx context.Context, model string, prompt string, params Params) (*Stream, error) {
	s, streamCtx := newStream(ctx, c.timeout)

	req := go_openai.CompletionRequest{
		Model:       model,
		Prompt:      prompt,
		MaxTokens:   params.MaxNewTokens,
		Temperature: float32(params.Temperature),
		TopP:        float32(params.TopP),
		Stream:      true,
	}
	stream, err := c.client.CreateCompletionStream(streamCtx, req)
	if err != nil {
		s.cancel()
		return nil, errors.Wrapf(ErrGenerationFailed, "model %s: %v", model, err)
	}

	go func() {
		defer s.finish()
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				log.Debug().Err(err).Str("model", model).Msg("Completion stream failed")
				s.fail(errors.Wrapf(ErrGenerationFailed, "model %s: %v", model, err))
				return
			}
			if len(response.Choices) == 0 || response.Choices[0].Text == "" {
				continue
			}
			if !s.send(Fragment{Text: response.Choices[0].Text}) {
				return
			}
		}
	}()

	return s, nil
}
