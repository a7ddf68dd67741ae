package ingest

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/WilliamAGH/java-chat-sub001/internal/chunk"
	"github.com/WilliamAGH/java-chat-sub001/internal/document"
	"github.com/WilliamAGH/java-chat-sub001/internal/logger"
	"github.com/WilliamAGH/java-chat-sub001/internal/sparse"
	"github.com/WilliamAGH/java-chat-sub001/internal/telemetry"
	"github.com/WilliamAGH/java-chat-sub001/internal/vectorstore"
)

// Chunk window defaults. HTML and article text overlaps so context spans
// window borders; PDFs chunk per page with no overlap.
const (
	defaultMaxTokens  = 900
	defaultOverlap    = 150
	defaultPDFOverlap = 0
)

// ChunkDocument is one chunk ready for upsert: the source metadata plus the
// chunk's own text, index, and content hash.
type ChunkDocument struct {
	Source document.Document
	Text   string
	Index  int
	Hash   string
}

// Result summarizes one processed source.
type Result struct {
	Documents     []ChunkDocument
	TotalChunks   int
	SkippedChunks int
}

// Embedder produces dense vectors for chunk texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore is the write slice of the store client.
type VectorStore interface {
	Upsert(ctx context.Context, collection string, points []vectorstore.Point) error
	DeleteByURL(ctx context.Context, collection, url string) error
}

// ChunkStore persists parsed chunk text and ingest markers.
type ChunkStore interface {
	SaveChunkText(url string, index int, text, hash string) error
	IsHashIngested(hash string) bool
	MarkHashIngested(hash string) error
}

// Pipeline turns source documents into hybrid points: chunk, hash, dedup,
// persist, embed, route, upsert.
type Pipeline struct {
	chunker    *chunk.Chunker
	pdfChunker *chunk.Chunker
	chunks     ChunkStore
	embedder   Embedder
	store      VectorStore
	router     *vectorstore.Router
	extractor  PageExtractor
	metrics    *telemetry.Metrics
}

// NewPipeline wires the pipeline with the default chunk windows. extractor
// and metrics may be nil; a nil extractor disables PDF ingestion.
func NewPipeline(enc chunk.Encoding, chunks ChunkStore, embedder Embedder, store VectorStore, router *vectorstore.Router, extractor PageExtractor, metrics *telemetry.Metrics) (*Pipeline, error) {
	chunker, err := chunk.NewChunker(enc, defaultMaxTokens, defaultOverlap)
	if err != nil {
		return nil, err
	}
	pdfChunker, err := chunk.NewChunker(enc, defaultMaxTokens, defaultPDFOverlap)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		chunker:    chunker,
		pdfChunker: pdfChunker,
		chunks:     chunks,
		embedder:   embedder,
		store:      store,
		router:     router,
		extractor:  extractor,
		metrics:    metrics,
	}, nil
}

// ProcessAndStore chunks doc.Content, persists each new chunk, and returns
// the chunk documents still needing an upsert. Chunks whose hash is already
// marked ingested are skipped.
func (p *Pipeline) ProcessAndStore(ctx context.Context, doc document.Document) (Result, error) {
	return p.process(ctx, doc, false)
}

// ProcessAndStoreForce ignores ingest markers, used after the previous
// points for the source were deleted.
func (p *Pipeline) ProcessAndStoreForce(ctx context.Context, doc document.Document) (Result, error) {
	return p.process(ctx, doc, true)
}

func (p *Pipeline) process(ctx context.Context, doc document.Document, force bool) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	source := doc
	source.Content = ""

	var res Result
	for _, c := range p.chunker.Split(doc.Content) {
		res.TotalChunks++
		hash := chunk.Hash(doc.URL, c.Index, c.Text)
		if !force && p.chunks.IsHashIngested(hash) {
			res.SkippedChunks++
			continue
		}
		if err := p.chunks.SaveChunkText(doc.URL, c.Index, c.Text, hash); err != nil {
			return res, fmt.Errorf("saving chunk %d of %s: %w", c.Index, doc.URL, err)
		}
		res.Documents = append(res.Documents, ChunkDocument{
			Source: source,
			Text:   c.Text,
			Index:  c.Index,
			Hash:   hash,
		})
	}

	logger.Info("Processed source",
		"url", doc.URL, "chunks", res.TotalChunks, "skipped", res.SkippedChunks)
	return res, nil
}

// ProcessPDFAndStoreWithPages extracts per-page text from the PDF at path
// and chunks each page separately with no overlap. Chunk indices run
// continuously across pages; every chunk carries its page number.
func (p *Pipeline) ProcessPDFAndStoreWithPages(ctx context.Context, doc document.Document, path string) (Result, error) {
	return p.processPDF(ctx, doc, path, false)
}

// ProcessPDFAndStoreWithPagesForce ignores ingest markers.
func (p *Pipeline) ProcessPDFAndStoreWithPagesForce(ctx context.Context, doc document.Document, path string) (Result, error) {
	return p.processPDF(ctx, doc, path, true)
}

func (p *Pipeline) processPDF(ctx context.Context, doc document.Document, path string, force bool) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if p.extractor == nil {
		return Result{}, fmt.Errorf("pdf ingestion is not configured")
	}

	pages, err := p.extractor.ExtractPages(path)
	if err != nil {
		return Result{}, fmt.Errorf("extracting pages from %s: %w", path, err)
	}

	source := doc
	source.Content = ""

	var res Result
	chunkIndex := 0
	for pageNo, pageText := range pages {
		page := pageNo + 1
		for _, c := range p.pdfChunker.Split(pageText) {
			res.TotalChunks++
			hash := chunk.Hash(doc.URL, chunkIndex, c.Text)
			if !force && p.chunks.IsHashIngested(hash) {
				res.SkippedChunks++
				chunkIndex++
				continue
			}
			if err := p.chunks.SaveChunkText(doc.URL, chunkIndex, c.Text, hash); err != nil {
				return res, fmt.Errorf("saving chunk %d of %s: %w", chunkIndex, doc.URL, err)
			}

			pageSource := source
			pageSource.PageStart = page
			pageSource.PageEnd = page
			res.Documents = append(res.Documents, ChunkDocument{
				Source: pageSource,
				Text:   c.Text,
				Index:  chunkIndex,
				Hash:   hash,
			})
			chunkIndex++
		}
	}

	logger.Info("Processed PDF",
		"url", doc.URL, "path", path, "pages", len(pages),
		"chunks", res.TotalChunks, "skipped", res.SkippedChunks)
	return res, nil
}

// Upsert embeds and writes chunk documents into their routed collections.
// Ingest markers are written strictly after the owning collection's upsert
// is acknowledged, so a failed write is retried on the next run.
func (p *Pipeline) Upsert(ctx context.Context, docs []ChunkDocument) error {
	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	dense, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding %d chunks: %w", len(docs), err)
	}

	type item struct {
		point vectorstore.Point
		hash  string
	}
	groups := make(map[string][]item)
	for i, d := range docs {
		id, err := chunk.PointID(d.Hash)
		if err != nil {
			return fmt.Errorf("deriving point id for chunk %d of %s: %w", d.Index, d.Source.URL, err)
		}
		collection := p.router.Route(d.Source.DocSet, d.Source.DocPath, d.Source.DocType, d.Source.URL)
		groups[collection] = append(groups[collection], item{
			point: vectorstore.Point{
				ID:      id,
				Dense:   dense[i],
				Sparse:  sparse.Encode(d.Text),
				Payload: d.Source.PayloadMap(d.Text, d.Hash, d.Index),
			},
			hash: d.Hash,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for collection, items := range groups {
		collection, items := collection, items
		g.Go(func() error {
			points := make([]vectorstore.Point, len(items))
			for i, it := range items {
				points[i] = it.point
			}
			if err := p.store.Upsert(gctx, collection, points); err != nil {
				return fmt.Errorf("upserting into %s: %w", collection, err)
			}
			for _, it := range items {
				if err := p.chunks.MarkHashIngested(it.hash); err != nil {
					return fmt.Errorf("marking hash ingested: %w", err)
				}
			}
			if p.metrics != nil {
				p.metrics.RecordChunksIngested(collection, int64(len(items)))
			}
			logger.Info("Upserted chunks", "collection", collection, "count", len(items))
			return nil
		})
	}
	return g.Wait()
}

// ReingestSource deletes the source's previous points from its routed
// collection, then force-processes and upserts it. Used when a source
// changed in place.
func (p *Pipeline) ReingestSource(ctx context.Context, doc document.Document, pdfPath string) (Result, error) {
	collection := p.router.Route(doc.DocSet, doc.DocPath, doc.DocType, doc.URL)
	if err := p.store.DeleteByURL(ctx, collection, doc.URL); err != nil {
		return Result{}, fmt.Errorf("deleting previous points for %s: %w", doc.URL, err)
	}

	var res Result
	var err error
	if pdfPath != "" {
		res, err = p.ProcessPDFAndStoreWithPagesForce(ctx, doc, pdfPath)
	} else {
		res, err = p.ProcessAndStoreForce(ctx, doc)
	}
	if err != nil {
		return res, err
	}
	if err := p.Upsert(ctx, res.Documents); err != nil {
		return res, err
	}
	return res, nil
}
