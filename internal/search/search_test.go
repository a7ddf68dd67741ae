package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WilliamAGH/java-chat-sub001/internal/config"
	"github.com/WilliamAGH/java-chat-sub001/internal/vectorstore"
)

type fakeStore struct {
	mu      sync.Mutex
	queries map[string]vectorstore.HybridQuery
	hits    map[string][]vectorstore.ScoredPoint
	errs    map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		queries: make(map[string]vectorstore.HybridQuery),
		hits:    make(map[string][]vectorstore.ScoredPoint),
		errs:    make(map[string]error),
	}
}

func (f *fakeStore) Query(ctx context.Context, collection string, q vectorstore.HybridQuery) ([]vectorstore.ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries[collection] = q
	if err := f.errs[collection]; err != nil {
		return nil, err
	}
	return f.hits[collection], nil
}

func (f *fakeStore) queried() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.queries))
	for name := range f.queries {
		names = append(names, name)
	}
	return names
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

type fakeSource struct{ names []string }

func (f fakeSource) Collections(ctx context.Context) []string { return f.names }

func testQdrantConfig() config.QdrantConfig {
	return config.QdrantConfig{
		Collections: config.CollectionsConfig{
			Docs:     "java-docs",
			PDFs:     "java-pdfs",
			Books:    "java-books",
			Articles: "java-articles",
		},
		DenseVectorName:     "dense",
		SparseVectorName:    "sparse",
		PrefetchLimit:       50,
		RRFK:                60,
		QueryTimeoutSeconds: 5,
	}
}

func hit(id string, score float32, content string) vectorstore.ScoredPoint {
	return vectorstore.ScoredPoint{
		ID:    id,
		Score: score,
		Payload: map[string]any{
			"doc_content": content,
			"url":         "https://docs.oracle.com/en/java/javase/21/docs/api/java.base/java/util/List.html",
			"hash":        "hash-" + id,
			"chunkIndex":  int64(0),
		},
	}
}

func TestSearchMergesAcrossCollections(t *testing.T) {
	store := newFakeStore()
	store.hits["java-docs"] = []vectorstore.ScoredPoint{
		hit("00000000-0000-3000-8000-000000000001", 0.9, "docs chunk"),
		hit("00000000-0000-3000-8000-000000000002", 0.5, "shared chunk"),
	}
	store.hits["java-books"] = []vectorstore.ScoredPoint{
		// Same point surfaced from a second collection with a higher score.
		hit("00000000-0000-3000-8000-000000000002", 0.8, "shared chunk"),
	}

	svc := NewService(store, fakeEmbedder{}, nil, testQdrantConfig(), nil)
	result, err := svc.Search(context.Background(), "list interface", 10, Constraint{})
	require.NoError(t, err)
	require.Len(t, result.Documents, 2)

	assert.Equal(t, "00000000-0000-3000-8000-000000000001", result.Documents[0].ID)
	assert.Equal(t, "java-docs", result.Documents[0].Collection)

	dup := result.Documents[1]
	assert.Equal(t, "00000000-0000-3000-8000-000000000002", dup.ID)
	assert.Equal(t, float32(0.8), dup.Score, "higher-scored occurrence wins")
	assert.Equal(t, "java-books", dup.Collection)
}

func TestSearchDeterministicTieBreak(t *testing.T) {
	store := newFakeStore()
	store.hits["java-docs"] = []vectorstore.ScoredPoint{
		hit("00000000-0000-3000-8000-00000000000b", 0.5, "b"),
		hit("00000000-0000-3000-8000-00000000000a", 0.5, "a"),
	}

	svc := NewService(store, fakeEmbedder{}, nil, testQdrantConfig(), nil)
	result, err := svc.Search(context.Background(), "tie", 10, Constraint{})
	require.NoError(t, err)
	require.Len(t, result.Documents, 2)

	assert.Equal(t, "00000000-0000-3000-8000-00000000000a", result.Documents[0].ID)
	assert.Equal(t, "00000000-0000-3000-8000-00000000000b", result.Documents[1].ID)
}

func TestSearchTruncatesToTopK(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 5; i++ {
		store.hits["java-docs"] = append(store.hits["java-docs"],
			hit(fmt.Sprintf("00000000-0000-3000-8000-00000000000%d", i), float32(i), "chunk"))
	}

	svc := NewService(store, fakeEmbedder{}, nil, testQdrantConfig(), nil)
	result, err := svc.Search(context.Background(), "q", 3, Constraint{})
	require.NoError(t, err)
	assert.Len(t, result.Documents, 3)
	assert.Equal(t, float32(4), result.Documents[0].Score)
}

func TestSearchCollectsFailuresWithoutFailing(t *testing.T) {
	store := newFakeStore()
	store.hits["java-docs"] = []vectorstore.ScoredPoint{hit("00000000-0000-3000-8000-000000000001", 0.9, "ok")}
	store.errs["java-pdfs"] = fmt.Errorf("querying java-pdfs: %w", context.DeadlineExceeded)

	svc := NewService(store, fakeEmbedder{}, nil, testQdrantConfig(), nil)
	result, err := svc.Search(context.Background(), "q", 10, Constraint{})
	require.NoError(t, err, "partial failure is not fatal outside strict mode")
	require.Len(t, result.Documents, 1)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, "java-pdfs", result.Failures[0].Collection)
	assert.Equal(t, "timeout", result.Failures[0].Kind)
}

func TestSearchStrictModePartialFailure(t *testing.T) {
	store := newFakeStore()
	store.errs["java-books"] = errors.New("collection not found")

	cfg := testQdrantConfig()
	cfg.FailOnPartialSearchError = true

	svc := NewService(store, fakeEmbedder{}, nil, cfg, nil)
	result, err := svc.Search(context.Background(), "q", 10, Constraint{})
	require.ErrorIs(t, err, ErrPartialSearch)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "execution", result.Failures[0].Kind)
}

func TestSearchFailureMessageSanitized(t *testing.T) {
	store := newFakeStore()
	store.errs["java-docs"] = errors.New("boom\nline two\t" + strings.Repeat("x", 400))

	svc := NewService(store, fakeEmbedder{}, nil, testQdrantConfig(), nil)
	result, err := svc.Search(context.Background(), "q", 10, Constraint{})
	require.NoError(t, err)
	require.Len(t, result.Failures, 1)

	msg := result.Failures[0].Message
	assert.LessOrEqual(t, len(msg), 240)
	assert.NotContains(t, msg, "\n")
	assert.NotContains(t, msg, "\t")
}

func TestSearchIncludesDiscoveredCollections(t *testing.T) {
	store := newFakeStore()

	svc := NewService(store, fakeEmbedder{}, fakeSource{names: []string{"java-repo-guava", "java-docs"}}, testQdrantConfig(), nil)
	_, err := svc.Search(context.Background(), "q", 10, Constraint{})
	require.NoError(t, err)

	queried := store.queried()
	assert.Len(t, queried, 5, "four core collections plus one discovered; duplicates collapse")
	assert.Contains(t, queried, "java-repo-guava")
}

func TestSearchAppliesConstraintFilter(t *testing.T) {
	store := newFakeStore()

	svc := NewService(store, fakeEmbedder{}, nil, testQdrantConfig(), nil)
	_, err := svc.Search(context.Background(), "q", 10, Constraint{DocVersion: "21", DocType: "pdf"})
	require.NoError(t, err)

	q := store.queries["java-docs"]
	require.NotNil(t, q.Filter)
	assert.ElementsMatch(t, []vectorstore.Match{
		{Field: "docVersion", Value: "21"},
		{Field: "docType", Value: "pdf"},
	}, q.Filter.Must)
	assert.Equal(t, 50, q.PrefetchLimit)
	assert.Equal(t, 10, q.Limit)
}

func TestConstraintFilterBlankIsNil(t *testing.T) {
	assert.Nil(t, Constraint{}.Filter())
	assert.Nil(t, Constraint{DocVersion: "  "}.Filter())
}
