package rerank

import (
	"sort"

	"github.com/WilliamAGH/java-chat-sub001/internal/search"
	"github.com/WilliamAGH/java-chat-sub001/internal/sparse"
)

// Reranker reorders fused search candidates into their final presentation
// order. It is an interface so a remote cross-encoder can slot in without
// touching the retrieval facade.
type Reranker interface {
	Rerank(query string, docs []search.Document, topN int) []search.Document
}

// Scoring blend. The fused vector score carries most of the weight; lexical
// overlap with the query nudges near-ties toward documents that actually
// mention the asked-about terms.
const (
	fusedWeight   = 0.7
	overlapWeight = 0.3
)

// Lexical is the default reranker: fully deterministic, no model call. The
// fused score is min-max normalized within the candidate set (a single-point
// or constant set normalizes to 1.0) and blended with query term overlap.
type Lexical struct{}

func NewLexical() Lexical {
	return Lexical{}
}

func (Lexical) Rerank(query string, docs []search.Document, topN int) []search.Document {
	if len(docs) == 0 {
		return nil
	}

	minScore, maxScore := docs[0].Score, docs[0].Score
	for _, d := range docs[1:] {
		if d.Score < minScore {
			minScore = d.Score
		}
		if d.Score > maxScore {
			maxScore = d.Score
		}
	}
	spread := float64(maxScore - minScore)

	queryTerms := uniqueTerms(query)

	type candidate struct {
		doc      search.Document
		combined float64
	}
	candidates := make([]candidate, len(docs))
	for i, d := range docs {
		norm := 1.0
		if spread > 0 {
			norm = float64(d.Score-minScore) / spread
		}
		candidates[i] = candidate{
			doc:      d,
			combined: fusedWeight*norm + overlapWeight*termOverlap(queryTerms, d.Content),
		}
	}

	// Stable: equal combined scores keep the incoming (fused) order.
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].combined > candidates[b].combined
	})

	if topN > 0 && len(candidates) > topN {
		candidates = candidates[:topN]
	}
	out := make([]search.Document, len(candidates))
	for i, c := range candidates {
		out[i] = c.doc
	}
	return out
}

// termOverlap is the fraction of query terms present in the document text.
func termOverlap(queryTerms map[string]struct{}, text string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	docTerms := uniqueTerms(text)
	matched := 0
	for term := range queryTerms {
		if _, ok := docTerms[term]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}

func uniqueTerms(text string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, tok := range sparse.Tokenize(text) {
		terms[tok] = struct{}{}
	}
	return terms
}
