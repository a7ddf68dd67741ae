package document

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadMapSkipsBlankStrings(t *testing.T) {
	doc := Document{
		URL:    "https://docs.oracle.com/javase/21/api/java/util/List.html",
		Title:  "List (Java SE 21)",
		DocSet: "jdk21",
		// Package, repo fields, and so on left blank
	}

	m := doc.PayloadMap("chunk text", "abc123", 4)

	assert.Equal(t, "chunk text", m["doc_content"])
	assert.Equal(t, 4, m["chunkIndex"])
	assert.Equal(t, "abc123", m["hash"])
	assert.Equal(t, "jdk21", m["docSet"])
	_, hasPackage := m["package"]
	assert.False(t, hasPackage)
	_, hasRepo := m["repoUrl"]
	assert.False(t, hasRepo)
	_, hasPageStart := m["pageStart"]
	assert.False(t, hasPageStart)
}

func TestPayloadMapPageBounds(t *testing.T) {
	doc := Document{URL: "https://example.com/book.pdf", PageStart: 12, PageEnd: 14}

	m := doc.PayloadMap("text", "h", 0)

	assert.Equal(t, 12, m["pageStart"])
	assert.Equal(t, 14, m["pageEnd"])
}

func TestPayloadFromMapWhitelist(t *testing.T) {
	m := map[string]any{
		"doc_content": "body",
		"url":         "https://example.com/doc",
		"chunkIndex":  int64(7),
		"docType":     "blog",
		"_internal":   "should vanish",
		"score":       0.25,
	}

	p := PayloadFromMap(m)

	assert.Equal(t, "body", p.DocContent)
	assert.Equal(t, "https://example.com/doc", p.URL)
	assert.Equal(t, 7, p.ChunkIndex)
	assert.Equal(t, "blog", p.DocType)
	assert.Empty(t, p.Title)
}

func TestPayloadFromMapIntClamping(t *testing.T) {
	p := PayloadFromMap(map[string]any{
		"chunkIndex": int64(math.MaxInt32) + 10,
		"pageStart":  float64(3),
		"pageEnd":    int64(math.MinInt32) - 10,
	})

	assert.Equal(t, math.MaxInt32, p.ChunkIndex)
	assert.Equal(t, 3, p.PageStart)
	assert.Equal(t, math.MinInt32, p.PageEnd)
}

func TestPayloadFromMapWrongTypes(t *testing.T) {
	p := PayloadFromMap(map[string]any{
		"url":        42,
		"chunkIndex": "seven",
	})

	assert.Empty(t, p.URL)
	assert.Zero(t, p.ChunkIndex)
}

func TestPayloadRoundTrip(t *testing.T) {
	doc := Document{
		URL:        "https://github.com/openjdk/jdk/blob/master/src/java.base/share/classes/java/util/List.java",
		Title:      "List.java",
		Package:    "java.util",
		DocSet:     "ibm/articles/java",
		SourceKind: "repository",
		RepoOwner:  "openjdk",
		RepoName:   "jdk",
		RepoBranch: "master",
		Language:   "java",
	}

	m := doc.PayloadMap("some content", "deadbeef", 2)
	p := PayloadFromMap(m)

	require.Equal(t, "some content", p.DocContent)
	assert.Equal(t, doc.URL, p.URL)
	assert.Equal(t, "java.util", p.Package)
	assert.Equal(t, "deadbeef", p.Hash)
	assert.Equal(t, "openjdk", p.RepoOwner)
	assert.Equal(t, 2, p.ChunkIndex)
}
