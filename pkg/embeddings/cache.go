package embeddings

import (
	"container/list"
	"context"
	"sync"
)

type cacheEntry struct {
	text      string
	embedding []float32
}

// CachedProvider keeps the most recently used embeddings in memory. Queries
// are embedded on every turn, and users often resubmit the same input.
type CachedProvider struct {
	provider Provider
	mu       sync.Mutex
	entries  map[string]*list.Element
	lru      *list.List
	maxSize  int
	hits     int
	misses   int
}

var _ Provider = &CachedProvider{}

func NewCachedProvider(provider Provider, maxSize int) *CachedProvider {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &CachedProvider{
		provider: provider,
		entries:  map[string]*list.Element{},
		lru:      list.New(),
		maxSize:  maxSize,
	}
}

func (c *CachedProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	if el, ok := c.entries[text]; ok {
		c.lru.MoveToFront(el)
		c.hits++
		embedding := el.Value.(*cacheEntry).embedding
		c.mu.Unlock()
		return embedding, nil
	}
	c.misses++
	c.mu.Unlock()

	embedding, err := c.provider.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[text]; ok {
		c.lru.MoveToFront(el)
		return embedding, nil
	}
	if c.lru.Len() >= c.maxSize {
		if oldest := c.lru.Back(); oldest != nil {
			delete(c.entries, oldest.Value.(*cacheEntry).text)
			c.lru.Remove(oldest)
		}
	}
	c.entries[text] = c.lru.PushFront(&cacheEntry{text: text, embedding: embedding})
	return embedding, nil
}

func (c *CachedProvider) GetModel() EmbeddingModel {
	return c.provider.GetModel()
}

func (c *CachedProvider) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]*list.Element{}
	c.lru.Init()
}

func (c *CachedProvider) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns the cache hits and misses so far.
func (c *CachedProvider) Stats() (hits int, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
