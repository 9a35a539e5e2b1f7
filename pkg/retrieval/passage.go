package retrieval

import (
	"context"
	"sort"

	"github.com/pkg/errors"
)

var ErrRetrievalFailed = errors.New("retrieval failed")

// Passage is one ranked piece of context. Metadata is whatever the backing
// index returned alongside the text.
type Passage struct {
	Text     string                 `json:"text"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// VectorStore finds the k passages closest to vector. Scores are higher for
// closer passages.
type VectorStore interface {
	Search(ctx context.Context, vector []float32, k int) ([]Passage, error)
}

// Retriever returns ranked context passages for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]Passage, error)
}

func sortByScore(passages []Passage) {
	sort.SliceStable(passages, func(i, j int) bool {
		return passages[i].Score > passages[j].Score
	})
}

// Texts returns the passage texts in order.
func Texts(passages []Passage) []string {
	ret := make([]string, 0, len(passages))
	for _, p := range passages {
		ret = append(ret, p.Text)
	}
	return ret
}
