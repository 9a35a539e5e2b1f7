package embeddings

import "context"

// EmbeddingModel contains metadata about the embedding model
type EmbeddingModel struct {
	Name       string
	Dimensions int
}

// Provider turns text into an embedding vector
type Provider interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GetModel() EmbeddingModel
}
