package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/WilliamAGH/java-chat-sub001/internal/config"
	"github.com/WilliamAGH/java-chat-sub001/internal/document"
	"github.com/WilliamAGH/java-chat-sub001/internal/logger"
	"github.com/WilliamAGH/java-chat-sub001/internal/sparse"
	"github.com/WilliamAGH/java-chat-sub001/internal/telemetry"
	"github.com/WilliamAGH/java-chat-sub001/internal/vectorstore"
)

// ErrPartialSearch is returned in strict mode when any collection failed.
var ErrPartialSearch = errors.New("hybrid search failed on one or more collections")

const maxFailureMessageLen = 240

// Document is one search hit projected through the payload whitelist.
// Metadata always carries score and collection; downstream stages may add
// presentation tags.
type Document struct {
	ID         string
	Content    string
	Score      float32
	Collection string
	Payload    document.Payload
	Metadata   map[string]any
}

// Constraint narrows a search with exact-match payload conditions. Blank
// fields are omitted from the filter.
type Constraint struct {
	DocVersion string
	SourceKind string
	DocType    string
	SourceName string
}

// Filter builds the server-side filter, or nil when every field is blank.
func (c Constraint) Filter() *vectorstore.Filter {
	var must []vectorstore.Match
	add := func(field, value string) {
		if strings.TrimSpace(value) != "" {
			must = append(must, vectorstore.Match{Field: field, Value: value})
		}
	}
	add("docVersion", c.DocVersion)
	add("sourceKind", c.SourceKind)
	add("docType", c.DocType)
	add("sourceName", c.SourceName)
	if len(must) == 0 {
		return nil
	}
	return &vectorstore.Filter{Must: must}
}

// CollectionSearchFailure describes one collection that did not answer.
// Failures are collected, not fatal, unless strict mode is on.
type CollectionSearchFailure struct {
	Collection string
	Kind       string // timeout, canceled, execution
	Message    string
}

// Result carries merged documents plus any per-collection failures.
type Result struct {
	Documents []Document
	Failures  []CollectionSearchFailure
}

// Querier is the hybrid-query slice of the vector store client.
type Querier interface {
	Query(ctx context.Context, collection string, q vectorstore.HybridQuery) ([]vectorstore.ScoredPoint, error)
}

// Embedder produces dense query vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// CollectionSource supplies dynamically discovered collections.
type CollectionSource interface {
	Collections(ctx context.Context) []string
}

// Service fans hybrid queries out across every configured collection and
// merges the results into one deterministic ranking.
type Service struct {
	store      Querier
	embedder   Embedder
	discovered CollectionSource
	cfg        config.QdrantConfig
	metrics    *telemetry.Metrics
}

func NewService(store Querier, embedder Embedder, discovered CollectionSource, cfg config.QdrantConfig, metrics *telemetry.Metrics) *Service {
	return &Service{
		store:      store,
		embedder:   embedder,
		discovered: discovered,
		cfg:        cfg,
		metrics:    metrics,
	}
}

// Search runs one hybrid query against all collections and returns the top-K
// merged documents. Per-collection failures land in Result.Failures; they
// become an error only in strict mode.
func (s *Service) Search(ctx context.Context, query string, topK int, constraint Constraint) (Result, error) {
	start := time.Now()

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return Result{}, fmt.Errorf("embedding query: %w", err)
	}

	hybrid := vectorstore.HybridQuery{
		Dense:         vectors[0],
		Sparse:        sparse.Encode(query),
		Filter:        constraint.Filter(),
		PrefetchLimit: s.cfg.PrefetchLimit,
		RRFK:          s.cfg.RRFK,
		Limit:         topK,
	}

	collections := s.collections(ctx)
	results := make([][]vectorstore.ScoredPoint, len(collections))
	failures := make([]CollectionSearchFailure, len(collections))
	failed := make([]bool, len(collections))

	var g errgroup.Group
	for i, collection := range collections {
		i, collection := i, collection
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout())
			defer cancel()

			hits, err := s.store.Query(cctx, collection, hybrid)
			if err != nil {
				failed[i] = true
				failures[i] = CollectionSearchFailure{
					Collection: collection,
					Kind:       classifyFailure(err),
					Message:    sanitizeMessage(err.Error()),
				}
				return nil
			}
			results[i] = hits
			return nil
		})
	}
	g.Wait()

	var collected []CollectionSearchFailure
	for i := range failures {
		if !failed[i] {
			continue
		}
		collected = append(collected, failures[i])
		logger.Warn("Collection search failed",
			"collection", failures[i].Collection,
			"kind", failures[i].Kind,
			"message", failures[i].Message)
		if s.metrics != nil {
			s.metrics.RecordSearchFailure(failures[i].Collection, failures[i].Kind)
		}
	}

	documents := merge(collections, results, topK)
	if s.metrics != nil {
		s.metrics.RecordSearch(time.Since(start).Seconds(), len(collections), len(collected))
	}

	result := Result{Documents: documents, Failures: collected}
	if s.cfg.FailOnPartialSearchError && len(collected) > 0 {
		return result, fmt.Errorf("%w: %d of %d collections failed", ErrPartialSearch, len(collected), len(collections))
	}
	return result, nil
}

// collections returns the fan-out set: the four core buckets plus any
// discovered repository collections, deduplicated in that order.
func (s *Service) collections(ctx context.Context) []string {
	core := s.cfg.Collections.All()
	out := make([]string, 0, len(core))
	seen := make(map[string]bool, len(core))
	for _, name := range core {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	if s.discovered != nil {
		for _, name := range s.discovered.Collections(ctx) {
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// merge indexes hits by point UUID, keeping the higher-scored occurrence
// when the same point appears in several collections (ties keep the earlier
// collection). The final order is score descending with UUID ascending as
// tie-break so identical inputs always produce identical output.
func merge(collections []string, results [][]vectorstore.ScoredPoint, topK int) []Document {
	byID := make(map[string]Document)
	for i, hits := range results {
		for _, hit := range hits {
			existing, ok := byID[hit.ID]
			if ok && existing.Score >= hit.Score {
				continue
			}
			payload := document.PayloadFromMap(hit.Payload)
			byID[hit.ID] = Document{
				ID:         hit.ID,
				Content:    payload.DocContent,
				Score:      hit.Score,
				Collection: collections[i],
				Payload:    payload,
				Metadata: map[string]any{
					"score":      hit.Score,
					"collection": collections[i],
				},
			}
		}
	}

	merged := make([]Document, 0, len(byID))
	for _, doc := range byID {
		merged = append(merged, doc)
	}
	sort.Slice(merged, func(a, b int) bool {
		if merged[a].Score != merged[b].Score {
			return merged[a].Score > merged[b].Score
		}
		return merged[a].ID < merged[b].ID
	})

	if topK > 0 && len(merged) > topK {
		merged = merged[:topK]
	}
	return merged
}

func classifyFailure(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(msg, "canceled"), strings.Contains(msg, "cancelled"):
		return "canceled"
	default:
		return "execution"
	}
}

// sanitizeMessage flattens whitespace and bounds the length so failure
// notices stay loggable and never leak multi-line payloads.
func sanitizeMessage(msg string) string {
	msg = strings.Join(strings.Fields(msg), " ")
	if len(msg) > maxFailureMessageLen {
		msg = msg[:maxFailureMessageLen]
	}
	return msg
}
