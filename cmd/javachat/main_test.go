package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WilliamAGH/java-chat-sub001/internal/document"
	"github.com/WilliamAGH/java-chat-sub001/internal/search"
)

func TestBuildPayloadDefaults(t *testing.T) {
	p := buildPayload("/docs/parsed/java.util.List.txt", "", ingestOptions{})

	assert.Equal(t, "file:///docs/parsed/java.util.List.txt", p.URL)
	assert.Equal(t, "java.util.List", p.Title)
	assert.False(t, p.PDF)
	assert.Empty(t, p.DocType)
}

func TestBuildPayloadPDFByExtension(t *testing.T) {
	p := buildPayload("/books/effective-java.PDF", "", ingestOptions{})

	assert.True(t, p.PDF)
	assert.Equal(t, "pdf", p.DocType)
	assert.Equal(t, "effective-java", p.Title)
}

func TestBuildPayloadJoinsURLForDirectoryEntries(t *testing.T) {
	opts := ingestOptions{url: "https://docs.oracle.com/javase/21/", docSet: "api"}
	p := buildPayload("/parsed/util/List.txt", "util/List.txt", opts)

	assert.Equal(t, "https://docs.oracle.com/javase/21/util/List.txt", p.URL)
	assert.Equal(t, "List", p.Title)
	assert.Equal(t, "api", p.DocSet)
}

func TestBuildPayloadExplicitURLForSingleFile(t *testing.T) {
	opts := ingestOptions{url: "https://example.com/guide", title: "Guide"}
	p := buildPayload("/parsed/guide.txt", "", opts)

	assert.Equal(t, "https://example.com/guide", p.URL)
	assert.Equal(t, "Guide", p.Title)
}

func TestCollectPayloadsWalksDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "util"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "util", "List.txt"), []byte("interface List"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "book.pdf"), []byte("%PDF-1.4"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.log"), []byte("skip me"), 0o644))

	payloads, err := collectPayloads(dir, ingestOptions{force: true})
	require.NoError(t, err)
	require.Len(t, payloads, 2)

	byTitle := map[string]bool{}
	for _, p := range payloads {
		byTitle[p.Title] = p.PDF
		assert.True(t, p.Force)
	}
	assert.Contains(t, byTitle, "List")
	assert.Contains(t, byTitle, "book")
	assert.False(t, byTitle["List"])
	assert.True(t, byTitle["book"])
}

func TestCollectPayloadsMissingPath(t *testing.T) {
	_, err := collectPayloads(filepath.Join(t.TempDir(), "absent"), ingestOptions{})
	assert.Error(t, err)
}

func TestBuildPromptFramesContextAndHistory(t *testing.T) {
	docs := []search.Document{
		{
			Content: "List is an ordered collection.",
			Payload: document.Payload{URL: "https://docs.oracle.com/api/java/util/List.html"},
		},
		{Content: "ArrayList is a resizable array."},
	}

	prompt := buildPrompt("What is a List?", docs, "User: hi\nAssistant: hello\n")

	assert.Contains(t, prompt, "Conversation so far:\nUser: hi\nAssistant: hello\n")
	assert.Contains(t, prompt, "Based on the following context:")
	assert.Contains(t, prompt, "Context 1 (https://docs.oracle.com/api/java/util/List.html):\nList is an ordered collection.")
	assert.Contains(t, prompt, "Context 2:\nArrayList is a resizable array.")
	assert.Contains(t, prompt, "Please answer this question: What is a List?")
}

func TestBuildPromptWithoutContext(t *testing.T) {
	assert.Equal(t, "What is a List?", buildPrompt("What is a List?", nil, ""))
}
