package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashComposition(t *testing.T) {
	want := sha256.Sum256([]byte("https://docs.oracle.com/en/java/javase/21/docs/api/java.base/java/util/List.html#2:some chunk text"))

	got := Hash("https://docs.oracle.com/en/java/javase/21/docs/api/java.base/java/util/List.html", 2, "some chunk text")
	assert.Equal(t, hex.EncodeToString(want[:]), got)
	assert.Len(t, got, 64)
}

func TestHashSensitivity(t *testing.T) {
	base := Hash("https://example.com/doc", 0, "text")

	assert.NotEqual(t, base, Hash("https://example.com/doc", 1, "text"))
	assert.NotEqual(t, base, Hash("https://example.com/other", 0, "text"))
	assert.NotEqual(t, base, Hash("https://example.com/doc", 0, "text "))
	assert.Equal(t, base, Hash("https://example.com/doc", 0, "text"))
}

func TestPointIDShape(t *testing.T) {
	h := Hash("https://example.com/doc", 0, "text")
	id, err := PointID(h)
	require.NoError(t, err)

	require.Len(t, id, 36)
	// version 3 nibble and RFC 4122 variant
	assert.Equal(t, byte('3'), id[14])
	assert.Contains(t, "89ab", string(id[19]))
}

func TestPointIDDeterministic(t *testing.T) {
	h1 := Hash("https://example.com/a", 0, "alpha")
	h2 := Hash("https://example.com/b", 0, "beta")

	id1a, err := PointID(h1)
	require.NoError(t, err)
	id1b, err := PointID(h1)
	require.NoError(t, err)
	id2, err := PointID(h2)
	require.NoError(t, err)

	assert.Equal(t, id1a, id1b)
	assert.NotEqual(t, id1a, id2)
}

func TestPointIDBlankHash(t *testing.T) {
	_, err := PointID("")
	assert.ErrorIs(t, err, ErrBlankHash)
}
