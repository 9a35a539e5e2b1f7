package retrieval

import (
	"bufio"
	"context"
	"encoding/json"
	"math"
	"os"
	"sync"

	"github.com/go-go-golems/llm-eval/pkg/embeddings"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type memoryEntry struct {
	Text      string                 `json:"text"`
	Embedding []float32              `json:"embedding,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// MemoryStore is an in-process index searched by cosine similarity.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []memoryEntry
}

var _ VectorStore = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Add(text string, embedding []float32, metadata map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, memoryEntry{Text: text, Embedding: embedding, Metadata: metadata})
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// LoadMemoryStore reads a JSONL file of {"text", "embedding", "metadata"}
// objects. Entries without an embedding are embedded with provider.
func LoadMemoryStore(ctx context.Context, path string, provider embeddings.Provider) (*MemoryStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open index %s", path)
	}
	defer func() {
		_ = f.Close()
	}()

	m := NewMemoryStore()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e memoryEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			log.Warn().Str("path", path).Int("line", lineNo).Err(err).Msg("Skipping malformed index entry")
			continue
		}
		if len(e.Embedding) == 0 {
			if provider == nil {
				return nil, errors.Errorf("%s:%d has no embedding and no embedding provider is configured", path, lineNo)
			}
			e.Embedding, err = provider.GenerateEmbedding(ctx, e.Text)
			if err != nil {
				return nil, errors.Wrapf(err, "could not embed %s:%d", path, lineNo)
			}
		}
		m.Add(e.Text, e.Embedding, e.Metadata)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "could not read index %s", path)
	}
	log.Debug().Str("path", path).Int("entries", m.Len()).Msg("Loaded in-memory index")
	return m, nil
}

func (m *MemoryStore) Search(_ context.Context, vector []float32, k int) ([]Passage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ret := make([]Passage, 0, len(m.entries))
	for _, e := range m.entries {
		if len(e.Embedding) != len(vector) {
			return nil, errors.Errorf("dimension mismatch: index has %d, query has %d", len(e.Embedding), len(vector))
		}
		ret = append(ret, Passage{
			Text:     e.Text,
			Score:    cosineSimilarity(vector, e.Embedding),
			Metadata: e.Metadata,
		})
	}
	sortByScore(ret)
	if k > 0 && len(ret) > k {
		ret = ret[:k]
	}
	return ret, nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
