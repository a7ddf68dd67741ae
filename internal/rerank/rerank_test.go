package rerank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WilliamAGH/java-chat-sub001/internal/search"
)

func doc(id string, score float32, content string) search.Document {
	return search.Document{ID: id, Score: score, Content: content}
}

func ids(docs []search.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestRerankOverlapBreaksEqualScores(t *testing.T) {
	docs := []search.Document{
		doc("off-topic", 0.5, "garbage collection tuning flags"),
		doc("on-topic", 0.5, "ArrayList implements the List interface with a resizable array"),
	}

	out := NewLexical().Rerank("arraylist list interface", docs, 0)
	require.Len(t, out, 2)
	assert.Equal(t, []string{"on-topic", "off-topic"}, ids(out))
}

func TestRerankOverlapLiftsNearTie(t *testing.T) {
	docs := []search.Document{
		doc("top-fused", 1.0, "module system and class loading"),
		doc("relevant", 0.95, "stream map filter collect examples"),
		doc("floor", 0.0, "unrelated"),
	}

	out := NewLexical().Rerank("stream map filter", docs, 0)
	require.Len(t, out, 3)
	// 0.7*0.95 + 0.3*1.0 > 0.7*1.0 + 0.3*0
	assert.Equal(t, "relevant", out[0].ID)
	assert.Equal(t, "top-fused", out[1].ID)
}

func TestRerankStableOnTies(t *testing.T) {
	docs := []search.Document{
		doc("first", 0.5, "same text"),
		doc("second", 0.5, "same text"),
		doc("third", 0.5, "same text"),
	}

	out := NewLexical().Rerank("query", docs, 0)
	assert.Equal(t, []string{"first", "second", "third"}, ids(out))
}

func TestRerankTruncatesToTopN(t *testing.T) {
	docs := []search.Document{
		doc("a", 0.9, "x"),
		doc("b", 0.8, "x"),
		doc("c", 0.7, "x"),
	}

	out := NewLexical().Rerank("query", docs, 2)
	assert.Len(t, out, 2)
}

func TestRerankEmptyInput(t *testing.T) {
	assert.Empty(t, NewLexical().Rerank("query", nil, 5))
}

func TestRerankSingleCandidateKept(t *testing.T) {
	docs := []search.Document{doc("only", 0.0, "text")}
	out := NewLexical().Rerank("query", docs, 5)
	require.Len(t, out, 1)
	assert.Equal(t, "only", out[0].ID)
}
