package embedding

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/WilliamAGH/java-chat-sub001/internal/logger"
)

const cacheShardCount = 16

// cacheEntry is one persisted vector. Keys are content-addressed, so the
// file can be replayed in any order.
type cacheEntry struct {
	Key    string    `json:"key"`
	Vector []float32 `json:"vector"`
}

type cacheShard struct {
	mu      sync.RWMutex
	entries map[string][]float32
}

// Cache is an in-memory embedding cache persisted as gzip JSON. Keys are
// sha256(content) + sha256(model metadata), so a model or dimension change
// never serves stale vectors. Writes are striped across shards to keep
// concurrent ingest workers off a single lock.
type Cache struct {
	path           string
	flushThreshold int

	shards  [cacheShardCount]cacheShard
	pending atomic.Int64

	flushMu sync.Mutex
}

// NewCache creates an empty cache persisting to path. flushThreshold is the
// number of new entries after which Put triggers a flush; zero disables
// automatic flushing.
func NewCache(path string, flushThreshold int) *Cache {
	c := &Cache{path: path, flushThreshold: flushThreshold}
	for i := range c.shards {
		c.shards[i].entries = make(map[string][]float32)
	}
	return c
}

// CacheKey derives the content-addressed key for a text plus model metadata.
func CacheKey(content, meta string) string {
	ch := sha256.Sum256([]byte(content))
	mh := sha256.Sum256([]byte(meta))
	return hex.EncodeToString(ch[:]) + hex.EncodeToString(mh[:])
}

func (c *Cache) shardFor(key string) *cacheShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &c.shards[h.Sum32()%cacheShardCount]
}

// Get returns the cached vector for content under the given metadata.
func (c *Cache) Get(content, meta string) ([]float32, bool) {
	key := CacheKey(content, meta)
	shard := c.shardFor(key)
	shard.mu.RLock()
	vec, ok := shard.entries[key]
	shard.mu.RUnlock()
	return vec, ok
}

// Put stores a vector and flushes when the pending count crosses the
// threshold.
func (c *Cache) Put(content, meta string, vec []float32) {
	key := CacheKey(content, meta)
	shard := c.shardFor(key)
	shard.mu.Lock()
	_, existed := shard.entries[key]
	shard.entries[key] = vec
	shard.mu.Unlock()

	if existed {
		return
	}
	if c.flushThreshold > 0 && c.pending.Add(1) >= int64(c.flushThreshold) {
		if err := c.Flush(); err != nil {
			logger.Warn("Embedding cache flush failed", "error", err)
		}
	}
}

// Len reports the number of cached vectors.
func (c *Cache) Len() int {
	total := 0
	for i := range c.shards {
		c.shards[i].mu.RLock()
		total += len(c.shards[i].entries)
		c.shards[i].mu.RUnlock()
	}
	return total
}

// Load reads the persisted cache file. A missing or unreadable file is not
// an error; the cache simply starts empty and rebuilds over time.
func (c *Cache) Load() error {
	f, err := os.Open(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		logger.Warn("Embedding cache unreadable, starting empty", "path", c.path, "error", err)
		return nil
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		logger.Warn("Embedding cache corrupt, starting empty", "path", c.path, "error", err)
		return nil
	}
	defer gz.Close()

	var entries []cacheEntry
	if err := json.NewDecoder(gz).Decode(&entries); err != nil {
		logger.Warn("Embedding cache corrupt, starting empty", "path", c.path, "error", err)
		return nil
	}

	for _, e := range entries {
		shard := c.shardFor(e.Key)
		shard.mu.Lock()
		shard.entries[e.Key] = e.Vector
		shard.mu.Unlock()
	}
	logger.Info("Embedding cache loaded", "path", c.path, "entries", len(entries))
	return nil
}

// Flush writes the whole cache atomically (temp file plus rename) so a crash
// mid-write cannot corrupt the previous snapshot.
func (c *Cache) Flush() error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	var entries []cacheEntry
	for i := range c.shards {
		c.shards[i].mu.RLock()
		for key, vec := range c.shards[i].entries {
			entries = append(entries, cacheEntry{Key: key, Vector: vec})
		}
		c.shards[i].mu.RUnlock()
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".embeddings-cache-*")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	gz := gzip.NewWriter(tmp)
	if err := json.NewEncoder(gz).Encode(entries); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("encoding cache: %w", err)
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("compressing cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing cache file: %w", err)
	}

	c.pending.Store(0)
	return nil
}
