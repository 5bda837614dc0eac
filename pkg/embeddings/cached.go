package embeddings

import (
	"container/list"
	"sync"

	"golang.org/x/sync/singleflight"
)

// CachedEmbedder remembers the vectors of the most recently embedded inputs.
// Lookups are by exact text. Concurrent requests for the same uncached text
// share one call to the wrapped embedder. Failures are not cached.
type CachedEmbedder struct {
	next Embedder
	max  int

	mu    sync.Mutex
	order *list.List // front is most recently used
	items map[string]*list.Element

	group singleflight.Group

	hits, misses uint64
}

type cacheEntry struct {
	text   string
	vector []float32
}

// NewCached wraps e with an LRU cache of at most max entries.
func NewCached(e Embedder, max int) *CachedEmbedder {
	if max <= 0 {
		max = 1
	}
	return &CachedEmbedder{
		next:  e,
		max:   max,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

func (c *CachedEmbedder) Embed(text string) ([]float32, error) {
	if v, ok := c.lookup(text); ok {
		return v, nil
	}

	res, err, _ := c.group.Do(text, func() (any, error) {
		if v, ok := c.peek(text); ok {
			return v, nil
		}
		v, err := c.next.Embed(text)
		if err != nil {
			return nil, err
		}
		c.store(text, v)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return clone(res.([]float32)), nil
}

func (c *CachedEmbedder) lookup(text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[text]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(el)
	return clone(el.Value.(*cacheEntry).vector), true
}

func (c *CachedEmbedder) peek(text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[text]; ok {
		return el.Value.(*cacheEntry).vector, true
	}
	return nil, false
}

func (c *CachedEmbedder) store(text string, v []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[text]; ok {
		el.Value.(*cacheEntry).vector = clone(v)
		c.order.MoveToFront(el)
		return
	}
	c.items[text] = c.order.PushFront(&cacheEntry{text: text, vector: clone(v)})
	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).text)
	}
}

// Len returns the number of cached inputs.
func (c *CachedEmbedder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns cache hits and misses.
func (c *CachedEmbedder) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func clone(v []float32) []float32 {
	return append([]float32(nil), v...)
}
