package cache

import (
	"fmt"
	"testing"
	"time"
)

func newTestCache(maxSize int, ttl time.Duration) (*EmbeddingCache, *time.Time) {
	c := NewEmbeddingCache(maxSize, ttl)
	now := time.Now()
	c.nowFunc = func() time.Time { return now }
	return c, &now
}

func TestEmbeddingCache_RoundTrip(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)

	vec := []float32{0.1, 0.2, 0.3}
	c.Set("what is yoga", "model-a", vec)

	got, ok := c.Get("what is yoga", "model-a")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got) != 3 || got[0] != 0.1 {
		t.Errorf("got %v, want %v", got, vec)
	}
}

func TestEmbeddingCache_KeyedByModel(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)

	c.Set("query", "model-a", []float32{1})
	if _, ok := c.Get("query", "model-b"); ok {
		t.Error("different model must miss")
	}
}

func TestEmbeddingCache_TTLExpiry(t *testing.T) {
	c, now := newTestCache(10, time.Minute)

	c.Set("query", "m", []float32{1})
	if _, ok := c.Get("query", "m"); !ok {
		t.Fatal("expected hit before expiry")
	}

	*now = now.Add(2 * time.Minute)
	if _, ok := c.Get("query", "m"); ok {
		t.Error("expected miss after TTL expiry")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be removed lazily, len = %d", c.Len())
	}
}

func TestEmbeddingCache_SizeNeverExceedsMax(t *testing.T) {
	c, _ := newTestCache(5, time.Minute)

	for i := 0; i < 20; i++ {
		c.Set(fmt.Sprintf("query-%d", i), "m", []float32{float32(i)})
		if c.Len() > 5 {
			t.Fatalf("cache len %d exceeds max 5", c.Len())
		}
	}
	if c.Len() != 5 {
		t.Errorf("len = %d, want 5", c.Len())
	}
}

func TestEmbeddingCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(2, time.Minute)

	c.Set("a", "m", []float32{1})
	c.Set("b", "m", []float32{2})

	// Touch "a" so "b" becomes the eviction candidate.
	if _, ok := c.Get("a", "m"); !ok {
		t.Fatal("expected hit for a")
	}

	c.Set("c", "m", []float32{3})

	if _, ok := c.Get("a", "m"); !ok {
		t.Error("recently used entry evicted")
	}
	if _, ok := c.Get("b", "m"); ok {
		t.Error("least recently used entry survived")
	}
	if _, ok := c.Get("c", "m"); !ok {
		t.Error("new entry missing")
	}
}

func TestEmbeddingCache_OverwriteRefreshes(t *testing.T) {
	c, now := newTestCache(10, time.Minute)

	c.Set("q", "m", []float32{1})
	*now = now.Add(45 * time.Second)
	c.Set("q", "m", []float32{2})
	*now = now.Add(30 * time.Second)

	got, ok := c.Get("q", "m")
	if !ok {
		t.Fatal("expected hit: overwrite should refresh TTL")
	}
	if got[0] != 2 {
		t.Errorf("got %v, want overwritten value", got)
	}
	if c.Len() != 1 {
		t.Errorf("len = %d, want 1", c.Len())
	}
}

func TestEmbeddingCache_Counters(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)

	c.Get("missing", "m")
	c.Set("q", "m", []float32{1})
	c.Get("q", "m")

	hits, misses := c.Counters()
	if hits != 1 || misses != 1 {
		t.Errorf("counters = (%d, %d), want (1, 1)", hits, misses)
	}
}

func TestEmbeddingCache_Clear(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	c.Set("q", "m", []float32{1})
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("len = %d after clear", c.Len())
	}
}
