package vectorstore

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/WilliamAGH/java-chat-sub001/internal/config"
	"github.com/WilliamAGH/java-chat-sub001/internal/logger"
)

// Client is the gRPC adapter for the hot path: upsert, hybrid query, and
// point deletion. Scroll and liveness go through RESTClient instead.
type Client struct {
	api              *qdrant.Client
	denseVectorName  string
	sparseVectorName string
}

func NewClient(cfg config.QdrantConfig) (*Client, error) {
	api, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Client{
		api:              api,
		denseVectorName:  cfg.DenseVectorName,
		sparseVectorName: cfg.SparseVectorName,
	}, nil
}

func (c *Client) Close() error {
	return c.api.Close()
}

// Upsert writes points into collection and waits for the write to be
// acknowledged, so callers can safely mark hashes ingested afterwards.
func (c *Client) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	wire := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		vectors := map[string]*qdrant.Vector{
			c.denseVectorName: qdrant.NewVectorDense(p.Dense),
		}
		if !p.Sparse.IsEmpty() {
			vectors[c.sparseVectorName] = qdrant.NewVectorSparse(p.Sparse.Indices, p.Sparse.Values)
		}
		wire = append(wire, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectorsMap(vectors),
			Payload: qdrant.NewValueMap(p.Payload),
		})
	}

	_, err := c.api.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         wire,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("upserting %d points into %s: %w", len(wire), collection, err)
	}
	return nil
}

// Query runs the two-stage hybrid query: dense and sparse prefetch fused
// server-side with reciprocal rank fusion, filter applied to both prefetch
// stages and the outer query.
func (c *Client) Query(ctx context.Context, collection string, q HybridQuery) ([]ScoredPoint, error) {
	filter := buildFilter(q.Filter)

	prefetch := []*qdrant.PrefetchQuery{{
		Query:  qdrant.NewQueryDense(q.Dense),
		Using:  qdrant.PtrOf(c.denseVectorName),
		Limit:  qdrant.PtrOf(uint64(q.PrefetchLimit)),
		Filter: filter,
	}}
	if !q.Sparse.IsEmpty() {
		prefetch = append(prefetch, &qdrant.PrefetchQuery{
			Query:  qdrant.NewQuerySparse(q.Sparse.Indices, q.Sparse.Values),
			Using:  qdrant.PtrOf(c.sparseVectorName),
			Limit:  qdrant.PtrOf(uint64(q.PrefetchLimit)),
			Filter: filter,
		})
	}

	hits, err := c.api.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Prefetch:       prefetch,
		Query:          qdrant.NewQueryFusion(qdrant.Fusion_RRF),
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
		Limit:          qdrant.PtrOf(uint64(q.Limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}

	out := make([]ScoredPoint, 0, len(hits))
	for _, h := range hits {
		out = append(out, ScoredPoint{
			ID:      h.GetId().GetUuid(),
			Score:   h.GetScore(),
			Payload: payloadToMap(h.GetPayload()),
		})
	}
	return out, nil
}

// DeleteByURL removes every point whose payload.url matches, used before a
// force re-ingest of a changed source.
func (c *Client) DeleteByURL(ctx context.Context, collection, url string) error {
	_, err := c.api.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("url", url)},
		}),
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("deleting points for %s in %s: %w", url, collection, err)
	}
	return nil
}

// EnsureCollections creates any missing collection with the hybrid layout:
// a named dense vector (cosine) plus a named sparse vector.
func (c *Client) EnsureCollections(ctx context.Context, collections []string, denseDims int) error {
	for _, name := range collections {
		exists, err := c.api.CollectionExists(ctx, name)
		if err != nil {
			return fmt.Errorf("checking collection %s: %w", name, err)
		}
		if exists {
			continue
		}

		err = c.api.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
				c.denseVectorName: {
					Size:     uint64(denseDims),
					Distance: qdrant.Distance_Cosine,
				},
			}),
			SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
				c.sparseVectorName: {},
			}),
		})
		if err != nil {
			return fmt.Errorf("creating collection %s: %w", name, err)
		}
		logger.Info("Created collection", "collection", name, "dense_dims", denseDims)
	}
	return nil
}

// ListCollections returns every collection name in the store.
func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	names, err := c.api.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	return names, nil
}

func buildFilter(f *Filter) *qdrant.Filter {
	if f.IsEmpty() {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(f.Must))
	for _, m := range f.Must {
		conditions = append(conditions, qdrant.NewMatch(m.Field, m.Value))
	}
	return &qdrant.Filter{Must: conditions}
}

// payloadToMap converts wire payload values into plain Go types. Only the
// scalar kinds the payload schema uses are mapped; anything else is dropped
// here and again by the schema whitelist downstream.
func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	if len(payload) == 0 {
		return nil
	}
	m := make(map[string]any, len(payload))
	for key, v := range payload {
		switch kind := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			m[key] = kind.StringValue
		case *qdrant.Value_IntegerValue:
			m[key] = kind.IntegerValue
		case *qdrant.Value_DoubleValue:
			m[key] = kind.DoubleValue
		case *qdrant.Value_BoolValue:
			m[key] = kind.BoolValue
		}
	}
	return m
}
