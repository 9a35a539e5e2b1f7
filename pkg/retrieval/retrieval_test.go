package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-go-golems/llm-eval/pkg/embeddings"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingProvider struct{}

func (failingProvider) GenerateEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding service unreachable")
}

func (failingProvider) GetModel() embeddings.EmbeddingModel {
	return embeddings.EmbeddingModel{Name: "failing"}
}

type failingStore struct{}

func (failingStore) Search(context.Context, []float32, int) ([]Passage, error) {
	return nil, errors.New("index unreachable")
}

func newTestIndex(t *testing.T, provider embeddings.Provider) *MemoryStore {
	t.Helper()
	m := NewMemoryStore()
	for _, text := range []string{
		"<p>Streamlit <b>apps</b> rerun the script on every interaction.</p>",
		"Paris is the capital of France.",
		"Session state keeps values across reruns of a streamlit app.",
	} {
		v, err := provider.GenerateEmbedding(context.Background(), text)
		require.NoError(t, err)
		m.Add(text, v, nil)
	}
	return m
}

func TestVectorRetrieverRanksAndCleans(t *testing.T) {
	provider := embeddings.NewHashingProvider(4096)
	r := NewVectorRetriever(provider, newTestIndex(t, provider), WithTopK(2))

	passages, err := r.Retrieve(context.Background(), "how do streamlit apps rerun?")
	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.Equal(t, "Streamlit apps rerun the script on every interaction.", passages[0].Text)
	assert.GreaterOrEqual(t, passages[0].Score, passages[1].Score)
	assert.NotContains(t, Context(passages), "Paris")
}

func TestVectorRetrieverMinScore(t *testing.T) {
	provider := embeddings.NewHashingProvider(4096)
	r := NewVectorRetriever(provider, newTestIndex(t, provider), WithTopK(3), WithMinScore(0.99))

	passages, err := r.Retrieve(context.Background(), "Paris is the capital of France.")
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, "Paris is the capital of France.", passages[0].Text)
}

func TestVectorRetrieverFailures(t *testing.T) {
	provider := embeddings.NewHashingProvider(16)

	_, err := NewVectorRetriever(failingProvider{}, NewMemoryStore()).Retrieve(context.Background(), "q")
	assert.ErrorIs(t, err, ErrRetrievalFailed)

	_, err = NewVectorRetriever(provider, failingStore{}).Retrieve(context.Background(), "q")
	assert.ErrorIs(t, err, ErrRetrievalFailed)

	m := NewMemoryStore()
	m.Add("x", []float32{1, 0}, nil)
	_, err = NewVectorRetriever(provider, m).Retrieve(context.Background(), "q")
	assert.ErrorIs(t, err, ErrRetrievalFailed)
}

func TestLoadMemoryStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.jsonl")
	content := strings.Join([]string{
		`{"text":"with vector","embedding":[1,0,0,0,0,0,0,0]}`,
		`not json`,
		`{"text":"needs embedding","metadata":{"source":"docs"}}`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m, err := LoadMemoryStore(context.Background(), path, embeddings.NewHashingProvider(8))
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())

	_, err = LoadMemoryStore(context.Background(), path, nil)
	assert.Error(t, err)
}

func TestCleanPassage(t *testing.T) {
	testCases := []struct {
		name     string
		in       string
		expected string
	}{
		{name: "plain", in: "  some   text \n\n\n\n more ", expected: "some text\n\nmore"},
		{name: "html", in: "<div><h1>Title</h1><script>x()</script><p>First&nbsp;para</p><p>Second</p></div>", expected: "Title\nFirst para\nSecond"},
		{name: "non-breaking spaces", in: "a\u00a0\u00a0b", expected: "a b"},
		{name: "less than is not html", in: "a < b", expected: "a < b"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, CleanPassage(tc.in))
		})
	}
}

func TestLimitTokens(t *testing.T) {
	passages := []Passage{
		{Text: "one two three four five"},
		{Text: "six seven eight"},
		{Text: "nine"},
	}
	got, err := LimitTokens(passages, 6)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = LimitTokens(passages, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1, "first passage is always kept")

	got, err = LimitTokens(passages, 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestPassagesFromWeaviate(t *testing.T) {
	get := map[string]interface{}{
		"Docs": []interface{}{
			map[string]interface{}{
				"text":   "far",
				"source": "a.md",
				"_additional": map[string]interface{}{
					"id": "1", "distance": 0.8,
				},
			},
			map[string]interface{}{
				"text": "near",
				"_additional": map[string]interface{}{
					"id": "2", "distance": 0.1,
				},
			},
		},
	}
	passages := passagesFromWeaviate(get, "Docs", "text")
	require.Len(t, passages, 2)
	assert.Equal(t, "near", passages[0].Text)
	assert.InDelta(t, 0.9, passages[0].Score, 1e-9)
	assert.Equal(t, "a.md", passages[1].Metadata["source"])
	assert.Empty(t, passagesFromWeaviate(nil, "Docs", "text"))
}

func TestPassagesFromMilvus(t *testing.T) {
	result := client.SearchResult{
		ResultCount: 2,
		IDs:         entity.NewColumnInt64("id", []int64{7, 9}),
		Fields:      []entity.Column{entity.NewColumnVarChar("content", []string{"close", "far"})},
		Scores:      []float32{0.5, 3},
	}
	passages := passagesFromMilvus(result, "content", entity.L2)
	require.Len(t, passages, 2)
	assert.Equal(t, "close", passages[0].Text)
	assert.InDelta(t, 1/1.5, passages[0].Score, 1e-6)
	assert.Equal(t, int64(7), passages[0].Metadata["id"])
}
