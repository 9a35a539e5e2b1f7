package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashingProvider embeds text by hashing its lowercased words into a fixed
// number of buckets. It is deterministic and offline, good enough for small
// local indexes and tests.
type HashingProvider struct {
	dimensions int
}

var _ Provider = &HashingProvider{}

func NewHashingProvider(dimensions int) *HashingProvider {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &HashingProvider{dimensions: dimensions}
}

func (p *HashingProvider) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	ret := make([]float32, p.dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		ret[h.Sum32()%uint32(p.dimensions)]++
	}

	var norm float64
	for _, v := range ret {
		norm += float64(v * v)
	}
	if norm == 0 {
		return ret, nil
	}
	norm = math.Sqrt(norm)
	for i := range ret {
		ret[i] = float32(float64(ret[i]) / norm)
	}
	return ret, nil
}

func (p *HashingProvider) GetModel() EmbeddingModel {
	return EmbeddingModel{
		Name:       "hashing",
		Dimensions: p.dimensions,
	}
}
