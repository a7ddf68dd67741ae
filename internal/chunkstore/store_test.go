package chunkstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	base := t.TempDir()
	s, err := NewStore(filepath.Join(base, "parsed"), filepath.Join(base, "ingested"))
	require.NoError(t, err)
	return s
}

func TestToSafeName(t *testing.T) {
	assert.Equal(t, "https___docs.oracle.com_en_java_List.html",
		ToSafeName("https://docs.oracle.com/en/java/List.html"))
	assert.Equal(t, "already-safe_name.txt", ToSafeName("already-safe_name.txt"))
	assert.Equal(t, "sp_ce_and_quer_y_1", ToSafeName("sp ce and quer?y=1"))
}

func TestChunkFileName(t *testing.T) {
	hash := strings.Repeat("ab", 32)
	name := ChunkFileName("http://x/a", 7, hash)
	assert.Equal(t, "http___x_a_7_abababababab.txt", name)
}

func TestSaveChunkTextAndList(t *testing.T) {
	s := newTestStore(t)
	url := "https://example.com/guide?page=2"
	hash := strings.Repeat("0f", 32)

	require.NoError(t, s.SaveChunkText(url, 0, "first chunk", hash))

	files, err := s.ListChunkFiles(url)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, 0, files[0].Index)
	assert.Equal(t, hash[:12], files[0].HashPrefix)

	content, err := os.ReadFile(files[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "first chunk", string(content))
}

func TestSaveChunkTextReplacesMalformedUTF8(t *testing.T) {
	s := newTestStore(t)
	hash := strings.Repeat("aa", 32)

	require.NoError(t, s.SaveChunkText("u", 0, "ok\xffbad", hash))

	files, err := s.ListChunkFiles("u")
	require.NoError(t, err)
	require.Len(t, files, 1)

	content, err := os.ReadFile(files[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "ok�bad", string(content))
}

func TestSaveChunkTextOverwrite(t *testing.T) {
	s := newTestStore(t)
	hash := strings.Repeat("bb", 32)

	require.NoError(t, s.SaveChunkText("u", 1, "v1", hash))
	require.NoError(t, s.SaveChunkText("u", 1, "v2", hash))

	files, err := s.ListChunkFiles("u")
	require.NoError(t, err)
	require.Len(t, files, 1)

	content, err := os.ReadFile(files[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))
}

func TestSaveChunkTextRejectsBlankHash(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.SaveChunkText("u", 0, "text", ""))
}

func TestListChunkFilesFiltersAndSorts(t *testing.T) {
	s := newTestStore(t)
	hash := strings.Repeat("cd", 32)

	require.NoError(t, s.SaveChunkText("http://x/a", 2, "c2", hash))
	require.NoError(t, s.SaveChunkText("http://x/a", 0, "c0", hash))
	require.NoError(t, s.SaveChunkText("http://x/a", 10, "c10", hash))
	require.NoError(t, s.SaveChunkText("http://x/b", 0, "other url", hash))

	// junk that must not match
	require.NoError(t, os.WriteFile(filepath.Join(s.parsedDir, "http___x_a_notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.parsedDir, "http___x_a_1_SHORT.txt"), []byte("x"), 0o644))

	files, err := s.ListChunkFiles("http://x/a")
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, []int{0, 2, 10}, []int{files[0].Index, files[1].Index, files[2].Index})
}

func TestIngestMarkers(t *testing.T) {
	s := newTestStore(t)
	hash := strings.Repeat("ee", 32)

	assert.False(t, s.IsHashIngested(hash))
	require.NoError(t, s.MarkHashIngested(hash))
	assert.True(t, s.IsHashIngested(hash))
	assert.False(t, s.IsHashIngested(""))

	// marker is an empty file named by the full hash
	info, err := os.Stat(filepath.Join(s.indexDir, hash))
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	assert.Error(t, s.MarkHashIngested(""))
}

func TestNewStoreCreatesDirectories(t *testing.T) {
	base := t.TempDir()
	parsed := filepath.Join(base, "deep", "parsed")
	index := filepath.Join(base, "deep", "ingested")

	_, err := NewStore(parsed, index)
	require.NoError(t, err)

	for _, dir := range []string{parsed, index} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
