package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultOllamaURL = "http://127.0.0.1:11434"

// OllamaProvider posts to the server's /api/embeddings endpoint. The pinned
// ollama client has no embeddings call, only the wire types are reused.
type OllamaProvider struct {
	baseURL    string
	model      string
	dimensions int
	client     *http.Client
}

var _ Provider = &OllamaProvider{}

// NewOllamaProvider talks to baseURL. When baseURL is empty OLLAMA_HOST is
// used, then the local default port.
func NewOllamaProvider(baseURL string, model string, dimensions int) *OllamaProvider {
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_HOST")
	}
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	if model == "" {
		model = "all-minilm"
	}
	if dimensions <= 0 {
		dimensions = 384
	}

	return &OllamaProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		dimensions: dimensions,
		client:     &http.Client{},
	}
}

func (p *OllamaProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(&api.EmbeddingRequest{
		Model:  p.model,
		Prompt: text,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not marshal embedding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "could not create embedding request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "could not create embedding")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close ollama response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("ollama embeddings returned status %d", resp.StatusCode)
	}

	var result api.EmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "could not decode embedding response")
	}
	if len(result.Embedding) == 0 {
		return nil, errors.New("no embedding data received from ollama")
	}

	ret := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		ret[i] = float32(v)
	}
	return ret, nil
}

func (p *OllamaProvider) GetModel() EmbeddingModel {
	return EmbeddingModel{
		Name:       p.model,
		Dimensions: p.dimensions,
	}
}
