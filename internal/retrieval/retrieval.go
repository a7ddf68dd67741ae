package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/WilliamAGH/java-chat-sub001/internal/config"
	"github.com/WilliamAGH/java-chat-sub001/internal/logger"
	"github.com/WilliamAGH/java-chat-sub001/internal/rerank"
	"github.com/WilliamAGH/java-chat-sub001/internal/search"
)

// Searcher is the hybrid-search slice the facade depends on.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, constraint search.Constraint) (search.Result, error)
}

// Service is the retrieval facade: version-aware filtering, deduplication,
// and reranking over raw hybrid search results.
type Service struct {
	searcher Searcher
	reranker rerank.Reranker
	cfg      config.RAGConfig
}

func NewService(searcher Searcher, reranker rerank.Reranker, cfg config.RAGConfig) *Service {
	return &Service{searcher: searcher, reranker: reranker, cfg: cfg}
}

// versionHintRe matches "Java 21", "JDK 17" and compact forms like "java21".
var versionHintRe = regexp.MustCompile(`(?i)\b(?:java|jdk)\s*(\d{1,2})\b`)

// versionHint extracts the first Java version mentioned in the query.
func versionHint(query string) string {
	m := versionHintRe.FindStringSubmatch(query)
	if m == nil {
		return ""
	}
	return m[1]
}

// boostQuery re-emphasizes the version terms so both encoders weight them.
func boostQuery(query, version string) string {
	if version == "" {
		return query
	}
	return query + " Java " + version
}

// Retrieve runs the full pipeline: search wide (search-top-k), soft-filter
// by version, dedupe, then rerank down to search-return-k.
func (s *Service) Retrieve(ctx context.Context, query string) ([]search.Document, error) {
	version := versionHint(query)

	result, err := s.searcher.Search(ctx, boostQuery(query, version), s.cfg.SearchTopK, search.Constraint{})
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}

	docs := filterByVersion(result.Documents, version)
	docs = dedupe(docs)
	docs = s.reranker.Rerank(query, docs, s.cfg.SearchReturnK)

	logger.Debug("Retrieval complete",
		"query_version", version,
		"candidates", len(result.Documents),
		"returned", len(docs))
	return docs, nil
}

// RetrieveWithLimit additionally bounds the result count and per-document
// text length for prompt assembly. Truncated documents are tagged in their
// metadata so callers can surface partial context.
func (s *Service) RetrieveWithLimit(ctx context.Context, query string, maxDocs, maxTokensPerDoc int) ([]search.Document, error) {
	docs, err := s.Retrieve(ctx, query)
	if err != nil {
		return nil, err
	}
	if maxDocs > 0 && len(docs) > maxDocs {
		docs = docs[:maxDocs]
	}
	if maxTokensPerDoc <= 0 {
		return docs, nil
	}

	// Rough chars-per-token ratio for prose and code alike.
	budget := maxTokensPerDoc * 4
	for i := range docs {
		truncated, ok := truncateAtBoundary(docs[i].Content, budget)
		if !ok {
			continue
		}
		original := len(docs[i].Content)
		docs[i].Content = truncated
		if docs[i].Metadata == nil {
			docs[i].Metadata = make(map[string]any)
		}
		docs[i].Metadata["truncated"] = true
		docs[i].Metadata["originalLength"] = original
	}
	return docs, nil
}

// filterByVersion keeps only matching documents, but only when at least one
// candidate actually matches. A version nobody has must not empty the result.
func filterByVersion(docs []search.Document, version string) []search.Document {
	if version == "" {
		return docs
	}
	var matched []search.Document
	for _, d := range docs {
		if d.Payload.DocVersion == version {
			matched = append(matched, d)
		}
	}
	if len(matched) == 0 {
		return docs
	}
	return matched
}

// dedupe removes duplicate chunks: first by content hash (first occurrence
// wins, which is the higher-fused one), then by URL among documents that
// carry no hash.
func dedupe(docs []search.Document) []search.Document {
	seenHash := make(map[string]bool)
	seenURL := make(map[string]bool)
	out := docs[:0:0]
	for _, d := range docs {
		if h := d.Payload.Hash; h != "" {
			if seenHash[h] {
				continue
			}
			seenHash[h] = true
			out = append(out, d)
			continue
		}
		if u := d.Payload.URL; u != "" {
			if seenURL[u] {
				continue
			}
			seenURL[u] = true
		}
		out = append(out, d)
	}
	return out
}

// truncateAtBoundary cuts text at the last sentence or line boundary inside
// maxChars. Reports false when the text already fits.
func truncateAtBoundary(text string, maxChars int) (string, bool) {
	if len(text) <= maxChars {
		return text, false
	}
	cut := text[:maxChars]
	if idx := strings.LastIndexAny(cut, ".!?\n"); idx > 0 {
		cut = cut[:idx+1]
	}
	return strings.TrimRight(cut, "\n "), true
}
