package vectorstore

import (
	"github.com/WilliamAGH/java-chat-sub001/internal/sparse"
)

// Point is one store-bound record: a deterministic UUID, the two named
// vectors, and the whitelisted payload.
type Point struct {
	ID      string
	Dense   []float32
	Sparse  sparse.Vector
	Payload map[string]any
}

// ScoredPoint is one hybrid query hit.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Match is one exact-match payload condition. Conditions combine with AND.
type Match struct {
	Field string
	Value string
}

// Filter carries server-side payload conditions. A nil or empty filter
// matches everything.
type Filter struct {
	Must []Match
}

func (f *Filter) IsEmpty() bool {
	return f == nil || len(f.Must) == 0
}

// HybridQuery is the abstract two-stage query: dense and sparse prefetch
// fused with reciprocal rank fusion. RRFK is validated at configuration time;
// backends whose wire protocol fixes the fusion constant record it only.
type HybridQuery struct {
	Dense         []float32
	Sparse        sparse.Vector
	Filter        *Filter
	PrefetchLimit int
	RRFK          int
	Limit         int
}
