package retrieval

import (
	"context"
	"strings"

	"github.com/go-go-golems/llm-eval/pkg/embeddings"
	"github.com/go-go-golems/llm-eval/pkg/prompt"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultTopK = 4

// VectorRetriever embeds the query, searches the store and cleans the
// passages it gets back.
type VectorRetriever struct {
	embedder embeddings.Provider
	store    VectorStore
	topK     int
	minScore float64
}

type Option func(*VectorRetriever)

func WithTopK(k int) Option {
	return func(r *VectorRetriever) {
		r.topK = k
	}
}

// WithMinScore drops passages scoring below min.
func WithMinScore(min float64) Option {
	return func(r *VectorRetriever) {
		r.minScore = min
	}
}

func NewVectorRetriever(embedder embeddings.Provider, store VectorStore, options ...Option) *VectorRetriever {
	ret := &VectorRetriever{
		embedder: embedder,
		store:    store,
		topK:     DefaultTopK,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

var _ Retriever = &VectorRetriever{}

func (r *VectorRetriever) Retrieve(ctx context.Context, query string) ([]Passage, error) {
	vector, err := r.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(ErrRetrievalFailed, "embedding: %v", err)
	}
	passages, err := r.store.Search(ctx, vector, r.topK)
	if err != nil {
		return nil, errors.Wrapf(ErrRetrievalFailed, "search: %v", err)
	}

	ret := make([]Passage, 0, len(passages))
	for _, p := range passages {
		if p.Score < r.minScore {
			continue
		}
		p.Text = CleanPassage(p.Text)
		if p.Text == "" {
			continue
		}
		ret = append(ret, p)
	}
	sortByScore(ret)
	log.Debug().Str("query", query).Int("passages", len(ret)).Msg("Retrieved context")
	return ret, nil
}

// Context joins passage texts with blank lines.
func Context(passages []Passage) string {
	return strings.Join(Texts(passages), "\n\n")
}

// LimitTokens keeps the leading passages whose texts fit in maxTokens. The
// first passage is always kept. maxTokens <= 0 disables the limit. Tokens
// are counted with the bundled cl100k_base codec, nothing is downloaded.
func LimitTokens(passages []Passage, maxTokens int) ([]Passage, error) {
	if maxTokens <= 0 || len(passages) == 0 {
		return passages, nil
	}

	total := 0
	for i, p := range passages {
		n, err := prompt.CountTokens(p.Text)
		if err != nil {
			return nil, err
		}
		total += n
		if total > maxTokens && i > 0 {
			return passages[:i], nil
		}
	}
	return passages, nil
}
