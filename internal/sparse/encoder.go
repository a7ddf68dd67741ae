package sparse

import (
	"sort"

	"github.com/spaolacci/murmur3"
)

// maxTerms caps vector width; past this the lowest-frequency terms are cut.
const maxTerms = 256

// Vector is a sparse term-frequency representation: parallel index and
// weight slices with indices strictly ascending.
type Vector struct {
	Indices []uint32
	Values  []float32
}

func (v Vector) IsEmpty() bool {
	return len(v.Indices) == 0
}

// Encode builds a term-frequency sparse vector for text. Each term is hashed
// to its index with murmur3; colliding terms merge their counts. Only the
// 256 most frequent terms survive, ties keeping the smaller index.
func Encode(text string) Vector {
	counts := make(map[uint32]int)
	for _, tok := range Tokenize(text) {
		counts[murmur3.Sum32([]byte(tok))]++
	}
	if len(counts) == 0 {
		return Vector{}
	}

	type term struct {
		index uint32
		count int
	}
	terms := make([]term, 0, len(counts))
	for idx, n := range counts {
		terms = append(terms, term{index: idx, count: n})
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].count != terms[j].count {
			return terms[i].count > terms[j].count
		}
		return terms[i].index < terms[j].index
	})
	if len(terms) > maxTerms {
		terms = terms[:maxTerms]
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].index < terms[j].index })

	v := Vector{
		Indices: make([]uint32, len(terms)),
		Values:  make([]float32, len(terms)),
	}
	for i, t := range terms {
		v.Indices[i] = t.index
		v.Values[i] = float32(t.count)
	}
	return v
}

// Tokenize lowercases ASCII letters and splits on every byte that is not an
// ASCII letter or digit. Tokens shorter than two bytes are dropped.
func Tokenize(text string) []string {
	var tokens []string
	var cur []byte
	flush := func() {
		if len(cur) >= 2 {
			tokens = append(tokens, string(cur))
		}
		cur = cur[:0]
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c >= 'a' && c <= 'z' || c >= '0' && c <= '9':
			cur = append(cur, c)
		case c >= 'A' && c <= 'Z':
			cur = append(cur, c+('a'-'A'))
		default:
			flush()
		}
	}
	flush()
	return tokens
}
