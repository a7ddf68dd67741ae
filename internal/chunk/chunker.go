package chunk

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Encoding converts text to token IDs and back. Production code uses
// tiktoken's cl100k_base; tests substitute deterministic fakes.
type Encoding interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type tiktokenEncoding struct {
	enc *tiktoken.Tiktoken
}

// NewCL100KEncoding loads the cl100k_base byte-pair encoding.
func NewCL100KEncoding() (Encoding, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("loading cl100k_base encoding: %w", err)
	}
	return &tiktokenEncoding{enc: enc}, nil
}

func (t *tiktokenEncoding) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *tiktokenEncoding) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// Chunk is one tokenizer window of a source document.
type Chunk struct {
	Index      int
	Text       string
	TokenCount int
}

// Chunker splits documents into overlapping token windows. Window starts
// advance by maxTokens-overlap so consecutive chunks share overlap tokens.
type Chunker struct {
	enc       Encoding
	maxTokens int
	overlap   int
}

func NewChunker(enc Encoding, maxTokens, overlap int) (*Chunker, error) {
	if enc == nil {
		return nil, fmt.Errorf("encoding is required")
	}
	if maxTokens <= 0 {
		return nil, fmt.Errorf("maxTokens must be positive, got %d", maxTokens)
	}
	if overlap < 0 || overlap >= maxTokens {
		return nil, fmt.Errorf("overlap must be in [0, maxTokens), got %d", overlap)
	}
	return &Chunker{enc: enc, maxTokens: maxTokens, overlap: overlap}, nil
}

// Split cuts text into token windows. Text that fits one window is returned
// verbatim as a single chunk; empty or whitespace-only token streams yield
// no chunks.
func (c *Chunker) Split(text string) []Chunk {
	if text == "" {
		return nil
	}

	tokens := c.enc.Encode(text)
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) <= c.maxTokens {
		return []Chunk{{Index: 0, Text: text, TokenCount: len(tokens)}}
	}

	step := c.maxTokens - c.overlap
	var chunks []Chunk
	for start := 0; start < len(tokens); start += step {
		end := start + c.maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		window := tokens[start:end]
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			Text:       c.enc.Decode(window),
			TokenCount: len(window),
		})
		if end == len(tokens) {
			break
		}
	}
	return chunks
}

// CountTokens reports how many tokens text encodes to.
func CountTokens(enc Encoding, text string) int {
	return len(enc.Encode(text))
}

// KeepLastTokens truncates text to its final n tokens. Text already within
// the budget comes back unchanged.
func KeepLastTokens(enc Encoding, text string, n int) string {
	if n <= 0 || text == "" {
		return ""
	}
	tokens := enc.Encode(text)
	if len(tokens) <= n {
		return text
	}
	return enc.Decode(tokens[len(tokens)-n:])
}
