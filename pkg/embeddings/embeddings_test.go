package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	calls int32
}

func (c *countingProvider) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	atomic.AddInt32(&c.calls, 1)
	return []float32{float32(len(text))}, nil
}

func (c *countingProvider) GetModel() EmbeddingModel {
	return EmbeddingModel{Name: "counting", Dimensions: 1}
}

func TestCachedProviderEvictsLeastRecentlyUsed(t *testing.T) {
	inner := &countingProvider{}
	c := NewCachedProvider(inner, 2)
	ctx := context.Background()

	for _, text := range []string{"a", "bb", "a", "ccc", "bb"} {
		_, err := c.GenerateEmbedding(ctx, text)
		require.NoError(t, err)
	}

	// "bb" was evicted by "ccc" because "a" had been used more recently
	assert.Equal(t, int32(4), atomic.LoadInt32(&inner.calls))
	assert.Equal(t, 2, c.Size())
	hits, misses := c.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 4, misses)

	c.ClearCache()
	assert.Equal(t, 0, c.Size())
	assert.Equal(t, "counting", c.GetModel().Name)
}

func TestHashingProviderIsNormalizedAndDeterministic(t *testing.T) {
	p := NewHashingProvider(64)
	a, err := p.GenerateEmbedding(context.Background(), "Hello, hello world!")
	require.NoError(t, err)
	b, err := p.GenerateEmbedding(context.Background(), "hello world hello")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	var norm float32
	for _, v := range a {
		norm += v * v
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	empty, err := p.GenerateEmbedding(context.Background(), "  ")
	require.NoError(t, err)
	assert.Len(t, empty, 64)
}

func TestOpenAIProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data": []map[string]interface{}{
				{"object": "embedding", "index": 0, "embedding": []float32{0.1, 0.2, 0.3}},
			},
			"model": "text-embedding-ada-002",
		})
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider("test", srv.URL+"/v1", "", 3)
	require.NoError(t, err)
	got, err := p.GenerateEmbedding(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, got)
	assert.Equal(t, EmbeddingModel{Name: "text-embedding-ada-002", Dimensions: 3}, p.GetModel())
}

func TestParseOpenAIModel(t *testing.T) {
	m, err := ParseOpenAIModel("text-embedding-ada-002")
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-ada-002", m.String())

	m, err = ParseOpenAIModel("")
	require.NoError(t, err)
	assert.Equal(t, DefaultOpenAIModel, m.String())

	_, err = ParseOpenAIModel("no-such-embedder")
	assert.Error(t, err)
}

func TestOllamaProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req["model"])
		assert.Equal(t, "query", req["prompt"])
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": []float64{0.5, 0.25},
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL+"/", "nomic-embed-text", 2)
	got, err := p.GenerateEmbedding(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, got)
	assert.Equal(t, EmbeddingModel{Name: "nomic-embed-text", Dimensions: 2}, p.GetModel())
}

func TestOllamaProviderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "", 0).GenerateEmbedding(context.Background(), "q")
	assert.ErrorContains(t, err, "status 404")
}
