package inmem

import (
	"container/list"
	"crypto/md5"
	"encoding/hex"
	"sync"
	"time"

	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
)

const (
	defaultTTL        = 60 * time.Minute
	defaultMaxEntries = 100
)

type cacheEntry struct {
	key      string
	results  []domain.ScoredChunk
	storedAt time.Time
	element  *list.Element
}

// RetrievalCache memoizes boosted branch results per (query, filter) pair.
// Entries expire after a TTL, the oldest entry is evicted when a new key
// arrives at capacity, and a reverse index from chunk id to cache keys makes
// chunk invalidation cheap. Safe for concurrent use.
type RetrievalCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]*cacheEntry
	recency    *list.List
	chunkKeys  map[string]map[string]struct{}
	hits       uint64
	misses     uint64
	evictions  uint64
	now        func() time.Time
}

func NewRetrievalCache(ttl time.Duration, maxEntries int) *RetrievalCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &RetrievalCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]*cacheEntry),
		recency:    list.New(),
		chunkKeys:  make(map[string]map[string]struct{}),
		now:        time.Now,
	}
}

func (c *RetrievalCache) Get(query string, filter domain.FacetFilter) ([]domain.ScoredChunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(query, filter)
	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		c.removeEntry(entry)
		c.misses++
		return nil, false
	}

	c.hits++
	c.recency.MoveToFront(entry.element)
	out := make([]domain.ScoredChunk, len(entry.results))
	copy(out, entry.results)
	return out, true
}

func (c *RetrievalCache) Put(query string, filter domain.FacetFilter, results []domain.ScoredChunk) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(query, filter)
	if existing, ok := c.entries[key]; ok {
		c.unindexChunks(existing)
		existing.results = append([]domain.ScoredChunk(nil), results...)
		existing.storedAt = c.now()
		c.indexChunks(existing)
		c.recency.MoveToFront(existing.element)
		return
	}

	if len(c.entries) >= c.maxEntries {
		if oldest := c.recency.Back(); oldest != nil {
			c.removeEntry(oldest.Value.(*cacheEntry))
			c.evictions++
		}
	}

	entry := &cacheEntry{
		key:      key,
		results:  append([]domain.ScoredChunk(nil), results...),
		storedAt: c.now(),
	}
	entry.element = c.recency.PushFront(entry)
	c.entries[key] = entry
	c.indexChunks(entry)
}

// InvalidateChunk drops every entry whose results contain the chunk and
// returns how many entries went away.
func (c *RetrievalCache) InvalidateChunk(chunkID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, ok := c.chunkKeys[chunkID]
	if !ok {
		return 0
	}
	removed := 0
	for key := range keys {
		if entry, ok := c.entries[key]; ok {
			c.removeEntry(entry)
			removed++
		}
	}
	return removed
}

func (c *RetrievalCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.recency.Init()
	c.chunkKeys = make(map[string]map[string]struct{})
}

// CacheStats is a point-in-time snapshot of cache shape and effectiveness.
type CacheStats struct {
	Size          int
	MaxEntries    int
	TTLMinutes    float64
	TrackedChunks int
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	HitRate       float64
}

func (c *RetrievalCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:          len(c.entries),
		MaxEntries:    c.maxEntries,
		TTLMinutes:    c.ttl.Minutes(),
		TrackedChunks: len(c.chunkKeys),
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

func (c *RetrievalCache) removeEntry(entry *cacheEntry) {
	delete(c.entries, entry.key)
	c.recency.Remove(entry.element)
	c.unindexChunks(entry)
}

func (c *RetrievalCache) indexChunks(entry *cacheEntry) {
	for _, chunk := range entry.results {
		if chunk.ChunkID == "" {
			continue
		}
		keys, ok := c.chunkKeys[chunk.ChunkID]
		if !ok {
			keys = make(map[string]struct{})
			c.chunkKeys[chunk.ChunkID] = keys
		}
		keys[entry.key] = struct{}{}
	}
}

func (c *RetrievalCache) unindexChunks(entry *cacheEntry) {
	for _, chunk := range entry.results {
		if keys, ok := c.chunkKeys[chunk.ChunkID]; ok {
			delete(keys, entry.key)
			if len(keys) == 0 {
				delete(c.chunkKeys, chunk.ChunkID)
			}
		}
	}
}

func cacheKey(query string, filter domain.FacetFilter) string {
	sum := md5.Sum([]byte(query + "|" + filter.CanonicalKey()))
	return hex.EncodeToString(sum[:])
}
