package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	ChunksIngested      metric.Int64Counter
	IngestDuration      metric.Float64Histogram
	EmbeddingRequests   metric.Int64Counter
	EmbeddingCacheHits  metric.Int64Counter
	SearchDuration      metric.Float64Histogram
	SearchFailures      metric.Int64Counter
	StreamChunks        metric.Int64Counter
	StreamFailovers     metric.Int64Counter
	CircuitBreakerState metric.Int64Counter
	AuditRuns           metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("java-chat")

	chunksIngested, err := meter.Int64Counter(
		"ingest.chunks.total",
		metric.WithDescription("Total chunks upserted into vector storage"),
	)
	if err != nil {
		return nil, err
	}

	ingestDuration, err := meter.Float64Histogram(
		"ingest.document.duration",
		metric.WithDescription("Per-document ingest duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	embeddingRequests, err := meter.Int64Counter(
		"embedding.requests.total",
		metric.WithDescription("Embedding API calls"),
	)
	if err != nil {
		return nil, err
	}

	embeddingCacheHits, err := meter.Int64Counter(
		"embedding.cache.hits",
		metric.WithDescription("Embedding cache hits"),
	)
	if err != nil {
		return nil, err
	}

	searchDuration, err := meter.Float64Histogram(
		"search.duration",
		metric.WithDescription("Hybrid search fan-out duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	searchFailures, err := meter.Int64Counter(
		"search.collection.failures",
		metric.WithDescription("Per-collection search failures"),
	)
	if err != nil {
		return nil, err
	}

	streamChunks, err := meter.Int64Counter(
		"llm.stream.chunks",
		metric.WithDescription("Streaming text chunks delivered"),
	)
	if err != nil {
		return nil, err
	}

	streamFailovers, err := meter.Int64Counter(
		"llm.stream.failovers",
		metric.WithDescription("Pre-first-token provider failovers"),
	)
	if err != nil {
		return nil, err
	}

	circuitBreakerState, err := meter.Int64Counter(
		"circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes"),
	)
	if err != nil {
		return nil, err
	}

	auditRuns, err := meter.Int64Counter(
		"audit.runs.total",
		metric.WithDescription("Index audit runs"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ChunksIngested:      chunksIngested,
		IngestDuration:      ingestDuration,
		EmbeddingRequests:   embeddingRequests,
		EmbeddingCacheHits:  embeddingCacheHits,
		SearchDuration:      searchDuration,
		SearchFailures:      searchFailures,
		StreamChunks:        streamChunks,
		StreamFailovers:     streamFailovers,
		CircuitBreakerState: circuitBreakerState,
		AuditRuns:           auditRuns,
	}, nil
}

// RecordChunksIngested records chunks upserted for one collection.
func (m *Metrics) RecordChunksIngested(collection string, count int64) {
	attrs := []attribute.KeyValue{
		attribute.String("qdrant.collection", collection),
	}

	m.ChunksIngested.Add(context.Background(), count, metric.WithAttributes(attrs...))
}

// RecordIngestDuration records how long one document took end to end.
func (m *Metrics) RecordIngestDuration(duration float64, status string) {
	attrs := []attribute.KeyValue{
		attribute.String("ingest.status", status),
	}

	m.IngestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordEmbeddingRequest records one embedding API call.
func (m *Metrics) RecordEmbeddingRequest(model string, batchSize int64, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("embedding.model", model),
		attribute.Int64("embedding.batch_size", batchSize),
		attribute.Bool("embedding.success", success),
	}

	m.EmbeddingRequests.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// RecordEmbeddingCacheHit records cache hits during batch embedding.
func (m *Metrics) RecordEmbeddingCacheHit(count int64) {
	m.EmbeddingCacheHits.Add(context.Background(), count)
}

// RecordSearch records one hybrid search fan-out.
func (m *Metrics) RecordSearch(duration float64, collections int, failures int) {
	attrs := []attribute.KeyValue{
		attribute.Int("search.collections", collections),
		attribute.Int("search.failures", failures),
	}

	m.SearchDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordSearchFailure records a single per-collection failure.
func (m *Metrics) RecordSearchFailure(collection, kind string) {
	attrs := []attribute.KeyValue{
		attribute.String("qdrant.collection", collection),
		attribute.String("failure.kind", kind),
	}

	m.SearchFailures.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// RecordStreamChunk records delivered streaming text chunks.
func (m *Metrics) RecordStreamChunk(provider string) {
	attrs := []attribute.KeyValue{
		attribute.String("llm.provider", provider),
	}

	m.StreamChunks.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// RecordStreamFailover records a provider switch before first token.
func (m *Metrics) RecordStreamFailover(from, to string) {
	attrs := []attribute.KeyValue{
		attribute.String("llm.from", from),
		attribute.String("llm.to", to),
	}

	m.StreamFailovers.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// RecordCircuitBreakerState records circuit breaker state changes
func (m *Metrics) RecordCircuitBreakerState(service, state string) {
	attrs := []attribute.KeyValue{
		attribute.String("service", service),
		attribute.String("state", state),
	}

	m.CircuitBreakerState.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// RecordAuditRun records one audit pass and whether it came up clean.
func (m *Metrics) RecordAuditRun(ok bool) {
	attrs := []attribute.KeyValue{
		attribute.Bool("audit.ok", ok),
	}

	m.AuditRuns.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
