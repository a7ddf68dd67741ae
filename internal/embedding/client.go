package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/WilliamAGH/java-chat-sub001/internal/config"
	"github.com/WilliamAGH/java-chat-sub001/internal/logger"
	"github.com/WilliamAGH/java-chat-sub001/internal/telemetry"
)

// ErrServiceUnavailable covers every embedding failure: transport errors,
// open breaker, and malformed or mis-sized responses. There are no synthetic
// fallback vectors; callers abort and retry later.
var ErrServiceUnavailable = errors.New("embedding service unavailable")

// Outbound request shaping. The embedding endpoint is shared with other
// consumers, so stay well under its rate limit.
const (
	requestsPerSecond = 8
	requestBurst      = 16
)

// Client produces dense vectors through an OpenAI-compatible embeddings API.
// Outbound calls pass a rate limiter and a circuit breaker; responses are
// validated for order and exact dimension before anything is returned.
type Client struct {
	api       openai.Client
	model     string
	dims      int
	batchSize int
	breaker   *gobreaker.CircuitBreaker
	limiter   *rate.Limiter
	cache     *Cache
	metrics   *telemetry.Metrics
}

// NewClient wires the embeddings client from configuration. cache and
// metrics may be nil.
func NewClient(cfg config.EmbeddingConfig, cache *Cache, metrics *telemetry.Metrics) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "EmbeddingAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			if metrics != nil {
				metrics.RecordCircuitBreakerState(name, to.String())
			}
		},
	})

	return &Client{
		api:       openai.NewClient(option.WithBaseURL(cfg.BaseURL), option.WithAPIKey(apiKeyOrPlaceholder(cfg.APIKey))),
		model:     cfg.Model,
		dims:      cfg.Dimensions,
		batchSize: cfg.BatchSize,
		breaker:   breaker,
		limiter:   rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
		cache:     cache,
		metrics:   metrics,
	}
}

// apiKeyOrPlaceholder keeps the SDK happy against local endpoints that do
// not check credentials.
func apiKeyOrPlaceholder(key string) string {
	if key != "" {
		return key
	}
	return "local"
}

// Dimensions reports the configured vector width.
func (c *Client) Dimensions() int {
	return c.dims
}

// Embed returns one dense vector per input text, in input order. Any batch
// failure aborts the whole call and caches nothing from it.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var misses []int
	if c.cache != nil {
		hits := 0
		for i, text := range texts {
			if vec, ok := c.cache.Get(text, c.meta()); ok {
				out[i] = vec
				hits++
				continue
			}
			misses = append(misses, i)
		}
		if hits > 0 && c.metrics != nil {
			c.metrics.RecordEmbeddingCacheHit(int64(hits))
		}
	} else {
		misses = make([]int, len(texts))
		for i := range texts {
			misses[i] = i
		}
	}

	for start := 0; start < len(misses); start += c.batchSize {
		end := start + c.batchSize
		if end > len(misses) {
			end = len(misses)
		}
		batchIdx := misses[start:end]

		batch := make([]string, len(batchIdx))
		for i, idx := range batchIdx {
			batch[i] = texts[idx]
		}

		vectors, err := c.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		for i, idx := range batchIdx {
			out[idx] = vectors[i]
		}
	}

	// Cache only after every batch succeeded; a failed call must leave the
	// cache untouched.
	if c.cache != nil {
		for _, idx := range misses {
			c.cache.Put(texts[idx], c.meta(), out[idx])
		}
	}
	return out, nil
}

func (c *Client) meta() string {
	return fmt.Sprintf("%s:%d", c.model, c.dims)
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	tracer := otel.Tracer("embedding-client")
	ctx, span := tracer.Start(ctx, "embedding.batch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("embedding.model", c.model),
			attribute.Int("embedding.batch_size", len(batch)),
		))
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("embedding.rate_limited", true))
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrServiceUnavailable, err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: batch},
			Model:          openai.EmbeddingModel(c.model),
			Dimensions:     openai.Int(int64(c.dims)),
			EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
		})
	})
	if c.metrics != nil {
		c.metrics.RecordEmbeddingRequest(c.model, int64(len(batch)), err == nil)
	}
	if err != nil {
		span.SetAttributes(
			attribute.Bool("embedding.error", true),
			attribute.String("embedding.error_message", err.Error()),
		)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit breaker open", ErrServiceUnavailable)
		}
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	resp := result.(*openai.CreateEmbeddingResponse)
	return c.validate(resp, len(batch))
}

// validate enforces the response contract: one vector per input, placed by
// the response index, every vector exactly dims wide.
func (c *Client) validate(resp *openai.CreateEmbeddingResponse, want int) ([][]float32, error) {
	if resp == nil || len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrServiceUnavailable)
	}
	if len(resp.Data) != want {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrServiceUnavailable, len(resp.Data), want)
	}

	vectors := make([][]float32, want)
	for pos, item := range resp.Data {
		idx := int(item.Index)
		if idx < 0 || idx >= want {
			idx = pos
		}
		if vectors[idx] != nil {
			return nil, fmt.Errorf("%w: duplicate embedding index %d", ErrServiceUnavailable, idx)
		}
		if len(item.Embedding) != c.dims {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, want %d",
				ErrServiceUnavailable, idx, len(item.Embedding), c.dims)
		}
		vec := make([]float32, c.dims)
		for i, v := range item.Embedding {
			vec[i] = float32(v)
		}
		vectors[idx] = vec
	}
	for i, vec := range vectors {
		if vec == nil {
			return nil, fmt.Errorf("%w: missing embedding for index %d", ErrServiceUnavailable, i)
		}
	}
	return vectors, nil
}
