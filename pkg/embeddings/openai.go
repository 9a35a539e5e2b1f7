package embeddings

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

const DefaultOpenAIModel = "text-embedding-ada-002"

type OpenAIProvider struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

var _ Provider = &OpenAIProvider{}

// ParseOpenAIModel maps a model name onto the client's model enum. An empty
// name selects text-embedding-ada-002.
func ParseOpenAIModel(name string) (openai.EmbeddingModel, error) {
	if name == "" {
		name = DefaultOpenAIModel
	}
	var m openai.EmbeddingModel
	// unknown names decode to openai.Unknown without error
	_ = m.UnmarshalText([]byte(name))
	if m == openai.Unknown {
		return openai.Unknown, errors.Errorf("unknown openai embedding model %q", name)
	}
	return m, nil
}

// NewOpenAIProvider talks to baseURL, or to the OpenAI API when baseURL is
// empty.
func NewOpenAIProvider(apiKey string, baseURL string, model string, dimensions int) (*OpenAIProvider, error) {
	m, err := ParseOpenAIModel(model)
	if err != nil {
		return nil, err
	}
	if dimensions <= 0 {
		dimensions = 1536
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(config),
		model:      m,
		dimensions: dimensions,
	}, nil
}

func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: p.model,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not create embedding")
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data received from OpenAI")
	}

	return resp.Data[0].Embedding, nil
}

func (p *OpenAIProvider) GetModel() EmbeddingModel {
	return EmbeddingModel{
		Name:       p.model.String(),
		Dimensions: p.dimensions,
	}
}
