// Package cache provides in-memory caching for the RAG pipeline.
//
// EmbeddingCache stores (model, text)→vector mappings to avoid redundant
// embedding provider calls for repeated queries and re-ingested chunks.
package cache

import (
	"container/list"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// EmbeddingCache is a bounded LRU with wall-clock TTL. Thread-safe via
// sync.Mutex. Expired entries are removed lazily on read; when full, the
// least recently used entry is evicted (the list keeps recency order, so
// eviction is O(1) rather than a scan for the oldest timestamp).
type EmbeddingCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	entries map[string]*list.Element
	order   *list.List // front = most recently used

	hits   uint64
	misses uint64

	nowFunc func() time.Time
}

type embeddingEntry struct {
	key       string
	vec       []float32
	expiresAt time.Time
}

// NewEmbeddingCache creates an EmbeddingCache holding at most maxSize
// vectors, each valid for ttl.
func NewEmbeddingCache(maxSize int, ttl time.Duration) *EmbeddingCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &EmbeddingCache{
		maxSize: maxSize,
		ttl:     ttl,
		entries: make(map[string]*list.Element, maxSize),
		order:   list.New(),
		nowFunc: time.Now,
	}
}

// Get returns the cached vector for (text, modelName) if present and fresh.
func (c *EmbeddingCache) Get(text, modelName string) ([]float32, bool) {
	key := cacheKey(text, modelName)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	entry := el.Value.(*embeddingEntry)
	if c.nowFunc().After(entry.expiresAt) {
		c.order.Remove(el)
		delete(c.entries, key)
		c.misses++
		return nil, false
	}

	c.order.MoveToFront(el)
	c.hits++
	return entry.vec, true
}

// Set stores a vector for (text, modelName), evicting the least recently
// used entry when the cache is full. Last writer wins on duplicate
// concurrent misses for the same key.
func (c *EmbeddingCache) Set(text, modelName string, vec []float32) {
	key := cacheKey(text, modelName)
	expires := c.nowFunc().Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*embeddingEntry)
		entry.vec = vec
		entry.expiresAt = expires
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*embeddingEntry).key)
		}
	}

	c.entries[key] = c.order.PushFront(&embeddingEntry{
		key:       key,
		vec:       vec,
		expiresAt: expires,
	})
}

// Len returns the number of live entries (including not-yet-collected
// expired ones).
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear drops all entries.
func (c *EmbeddingCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element, c.maxSize)
	c.order.Init()
	slog.Info("[EMBED-CACHE] cleared")
}

// Counters returns cumulative hit and miss counts.
func (c *EmbeddingCache) Counters() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// cacheKey hashes (model, normalized text) into a fixed-size key so huge
// chunk bodies are not held twice.
func cacheKey(text, modelName string) string {
	normalized := strings.TrimSpace(text)
	h := sha256.Sum256([]byte(modelName + ":" + normalized))
	return fmt.Sprintf("emb:%x", h[:16])
}
