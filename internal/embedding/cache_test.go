package embedding

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRoundTrip(t *testing.T) {
	cache := NewCache(filepath.Join(t.TempDir(), "cache.gz"), 0)

	cache.Put("some text", "model-a:1536", []float32{1, 2, 3})

	vec, ok := cache.Get("some text", "model-a:1536")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, vec)

	_, ok = cache.Get("some text", "model-b:1536")
	assert.False(t, ok, "different model metadata must miss")

	_, ok = cache.Get("other text", "model-a:1536")
	assert.False(t, ok)
}

func TestCacheFlushAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.gz")

	cache := NewCache(path, 0)
	cache.Put("alpha", "m:8", []float32{0.5})
	cache.Put("beta", "m:8", []float32{1.5})
	require.NoError(t, cache.Flush())

	reloaded := NewCache(path, 0)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, 2, reloaded.Len())

	vec, ok := reloaded.Get("alpha", "m:8")
	require.True(t, ok)
	assert.Equal(t, []float32{0.5}, vec)
}

func TestCacheLoadMissingFile(t *testing.T) {
	cache := NewCache(filepath.Join(t.TempDir(), "nope.gz"), 0)
	require.NoError(t, cache.Load())
	assert.Equal(t, 0, cache.Len())
}

func TestCacheLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.gz")
	require.NoError(t, os.WriteFile(path, []byte("not gzip at all"), 0o644))

	cache := NewCache(path, 0)
	require.NoError(t, cache.Load(), "corrupt cache must not be fatal")
	assert.Equal(t, 0, cache.Len())
}

func TestCacheThresholdFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.gz")

	cache := NewCache(path, 2)
	cache.Put("one", "m:4", []float32{1})
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "below threshold, nothing written yet")

	cache.Put("two", "m:4", []float32{2})
	_, err = os.Stat(path)
	require.NoError(t, err, "threshold crossed, cache flushed")
}
