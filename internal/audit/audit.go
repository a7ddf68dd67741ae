package audit

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/WilliamAGH/java-chat-sub001/internal/chunk"
	"github.com/WilliamAGH/java-chat-sub001/internal/chunkstore"
	"github.com/WilliamAGH/java-chat-sub001/internal/config"
	"github.com/WilliamAGH/java-chat-sub001/internal/logger"
	"github.com/WilliamAGH/java-chat-sub001/internal/telemetry"
	"github.com/WilliamAGH/java-chat-sub001/internal/vectorstore"
)

const (
	// scrollPageLimit is the single scroll page fetched per collection.
	// Sources larger than one page under-report; the report carries counts,
	// not a guarantee of completeness beyond this window.
	scrollPageLimit = 2048

	// sampleLimit caps the hash samples embedded in a report.
	sampleLimit = 20
)

// ChunkLister enumerates the parsed chunk files recorded for a source URL.
type ChunkLister interface {
	ListChunkFiles(url string) ([]chunkstore.ChunkFile, error)
}

// Scroller is the REST scroll slice of the vector store client.
type Scroller interface {
	Scroll(ctx context.Context, collection string, filter *vectorstore.Filter, limit int) ([]vectorstore.ScrolledPoint, error)
}

// CollectionSource supplies dynamically discovered collections.
type CollectionSource interface {
	Collections(ctx context.Context) []string
}

// Report compares what the local chunk store expects against what the vector
// store holds for one URL. Findings are data, never errors: extras and
// duplicates are reported, and only transport problems fail an audit.
type Report struct {
	URL           string   `json:"url"`
	Expected      int      `json:"expected"`
	Actual        int      `json:"actual"`
	MissingCount  int      `json:"missingCount"`
	ExtraCount    int      `json:"extraCount"`
	Duplicates    []string `json:"duplicates,omitempty"`
	OK            bool     `json:"ok"`
	MissingSample []string `json:"missingSample,omitempty"`
	ExtraSample   []string `json:"extraSample,omitempty"`
}

// Service recomputes chunk hashes from the parsed files and reconciles them
// against the hashes stored in the vector store payloads.
type Service struct {
	chunks     ChunkLister
	store      Scroller
	discovered CollectionSource
	cfg        config.QdrantConfig
	metrics    *telemetry.Metrics
}

func NewService(chunks ChunkLister, store Scroller, discovered CollectionSource, cfg config.QdrantConfig, metrics *telemetry.Metrics) *Service {
	return &Service{
		chunks:     chunks,
		store:      store,
		discovered: discovered,
		cfg:        cfg,
		metrics:    metrics,
	}
}

// AuditByURL rebuilds the expected hash set from the parsed files of url and
// scrolls every collection for the stored ones. Missing hashes and
// duplicates fail the report; extra points are noted but acceptable.
func (s *Service) AuditByURL(ctx context.Context, url string) (Report, error) {
	expected, err := s.expectedHashes(url)
	if err != nil {
		return Report{}, err
	}

	actual, counts, err := s.storedHashes(ctx, url)
	if err != nil {
		return Report{}, err
	}

	report := reconcile(url, expected, actual, counts)
	if s.metrics != nil {
		s.metrics.RecordAuditRun(report.OK)
	}
	logger.Info("Audit finished",
		"url", url,
		"expected", report.Expected,
		"actual", report.Actual,
		"missing", report.MissingCount,
		"extra", report.ExtraCount,
		"duplicates", len(report.Duplicates),
		"ok", report.OK)
	return report, nil
}

// expectedHashes recomputes the full hash of every parsed chunk file from
// the current file content. An edited file therefore shows up as missing,
// because the store no longer holds what the file says it should.
func (s *Service) expectedHashes(url string) ([]string, error) {
	files, err := s.chunks.ListChunkFiles(url)
	if err != nil {
		return nil, fmt.Errorf("listing chunk files for %s: %w", url, err)
	}

	hashes := make([]string, 0, len(files))
	for _, f := range files {
		content, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, fmt.Errorf("reading chunk file %s: %w", f.Path, err)
		}
		hashes = append(hashes, chunk.Hash(url, f.Index, string(content)))
	}
	return hashes, nil
}

// storedHashes scrolls every collection for points whose payload url matches
// and collects their hash payloads. Returns the total point count and the
// per-hash occurrence counts.
func (s *Service) storedHashes(ctx context.Context, url string) (int, map[string]int, error) {
	filter := &vectorstore.Filter{Must: []vectorstore.Match{{Field: "url", Value: url}}}
	counts := make(map[string]int)
	total := 0

	for _, collection := range s.collections(ctx) {
		points, err := s.store.Scroll(ctx, collection, filter, scrollPageLimit)
		if err != nil {
			return 0, nil, fmt.Errorf("scrolling %s: %w", collection, err)
		}
		total += len(points)
		for _, p := range points {
			if h, ok := p.Payload["hash"].(string); ok && h != "" {
				counts[h]++
			}
		}
	}
	return total, counts, nil
}

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

func reconcile(url string, expected []string, actual int, counts map[string]int) Report {
	report := Report{
		URL:      url,
		Expected: len(expected),
		Actual:   actual,
	}

	expectedSet := make(map[string]bool, len(expected))
	for _, h := range expected {
		expectedSet[h] = true
	}

	for _, h := range expected {
		if counts[h] == 0 {
			report.MissingCount++
			if len(report.MissingSample) < sampleLimit {
				report.MissingSample = append(report.MissingSample, h)
			}
		}
	}

	var extras, duplicates []string
	for h, n := range counts {
		if !expectedSet[h] {
			extras = append(extras, h)
		}
		if n > 1 {
			duplicates = append(duplicates, h)
		}
	}
	sort.Strings(extras)
	sort.Strings(duplicates)

	report.ExtraCount = len(extras)
	if len(extras) > sampleLimit {
		extras = extras[:sampleLimit]
	}
	report.ExtraSample = extras
	report.Duplicates = duplicates
	report.OK = report.MissingCount == 0 && len(report.Duplicates) == 0
	return report
}
