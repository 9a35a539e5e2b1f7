package generation

import (
	"context"
	"time"

	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
)

// OllamaClient streams completions from a local ollama server. Prompts are
// sent raw, ollama's own templating is bypassed.
type OllamaClient struct {
	client  *api.Client
	timeout time.Duration
}

// NewOllamaClient uses OLLAMA_HOST to locate the server.
func NewOllamaClient(timeout time.Duration) (*OllamaClient, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, errors.Wrap(err, "could not create ollama client")
	}
	return &OllamaClient{client: client, timeout: timeout}, nil
}

var _ Client = (*OllamaClient)(nil)

func (c *OllamaClient) Generate(ctx context.Context, model string, prompt string, params Params) (*Stream, error) {
	s, streamCtx := newStream(ctx, c.timeout)
	stream := true
	req := &api.GenerateRequest{
		Model:  model,
		Prompt: prompt,
		Raw:    true,
		Stream: &stream,
		Options: map[string]interface{}{
			"temperature": params.Temperature,
			"top_p":       params.TopP,
			"num_predict": params.MaxNewTokens,
		},
	}

	go func() {
		defer s.finish()

		closed := false
		err := c.client.Generate(streamCtx, req, func(resp api.GenerateResponse) error {
			if resp.Response == "" {
				return nil
			}
			if !s.send(Fragment{Text: resp.Response}) {
				closed = true
				return context.Canceled
			}
			return nil
		})
		if err != nil && !closed {
			s.fail(errors.Wrapf(ErrGenerationFailed, "model %s: %v", model, err))
		}
	}()

	return s, nil
}
