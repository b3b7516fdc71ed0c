package memory

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// cacheEntry is the payload held in the embedding cache's linked-list nodes.
type cacheEntry struct {
	key       string
	vector    []float32
	insertedAt time.Time
	hits      int
}

// embeddingCache is a bounded, ordered-map-style cache keyed by a fast hash
// of the embedded text. Hits move the entry to the tail (recency order);
// eviction on a full cache removes the entry minimising hits/ageSeconds.
// Entries older than ttl are treated as misses even if still present.
type embeddingCache struct {
	mu       sync.Mutex
	size     int
	ttl      time.Duration
	order    *list.List // front = oldest, back = most recently touched
	index    map[string]*list.Element
}

func newEmbeddingCache(size int, ttl time.Duration) *embeddingCache {
	if size <= 0 {
		size = 200
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &embeddingCache{
		size:  size,
		ttl:   ttl,
		order: list.New(),
		index: make(map[string]*list.Element, size),
	}
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// get returns the cached vector for text, or (nil, false) on miss or when
// the entry has aged past the TTL (in which case it is evicted immediately).
func (c *embeddingCache) get(text string) ([]float32, bool) {
	key := hashText(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Since(entry.insertedAt) > c.ttl {
		c.order.Remove(el)
		delete(c.index, key)
		return nil, false
	}
	entry.hits++
	c.order.MoveToBack(el)
	return entry.vector, true
}

// put inserts a freshly computed vector, evicting the lowest-value entry
// (hits / max(1, ageSeconds)) if the cache is at capacity.
func (c *embeddingCache) put(text string, vector []float32) {
	key := hashText(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.vector = vector
		entry.insertedAt = time.Now()
		entry.hits = 0
		c.order.MoveToBack(el)
		return
	}

	if len(c.index) >= c.size {
		c.evictOne()
	}

	entry := &cacheEntry{key: key, vector: vector, insertedAt: time.Now(), hits: 0}
	el := c.order.PushBack(entry)
	c.index[key] = el
}

// evictOne removes the entry with the lowest hits/ageSeconds score; caller
// holds c.mu.
func (c *embeddingCache) evictOne() {
	var worst *list.Element
	var worstScore float64
	now := time.Now()

	for el := c.order.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*cacheEntry)
		age := now.Sub(entry.insertedAt).Seconds()
		if age < 1 {
			age = 1
		}
		score := float64(entry.hits) / age
		if worst == nil || score < worstScore {
			worst = el
			worstScore = score
		}
	}
	if worst == nil {
		return
	}
	entry := worst.Value.(*cacheEntry)
	c.order.Remove(worst)
	delete(c.index, entry.key)
}
