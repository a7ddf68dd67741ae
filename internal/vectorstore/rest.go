package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/WilliamAGH/java-chat-sub001/internal/config"
)

// maxScrollLimit is the largest page the scroll endpoint accepts.
const maxScrollLimit = 2048

// RESTClient covers the store's REST surface: scroll for audits, collection
// listing, and the liveness probe. The configured port is the gRPC one; the
// REST port derives from it.
type RESTClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewRESTClient(cfg config.QdrantConfig) *RESTClient {
	scheme := "http"
	port := restPort(cfg.Port)
	if cfg.UseTLS {
		scheme = "https"
		port = 443
	}
	return &RESTClient{
		baseURL: fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, port),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// restPort maps the gRPC port onto its REST sibling.
func restPort(grpcPort int) int {
	switch grpcPort {
	case 6334:
		return 6333
	case 8086:
		return 8087
	default:
		return 6333
	}
}

// BaseURL exposes the derived REST endpoint, mainly for health probes.
func (c *RESTClient) BaseURL() string {
	return c.baseURL
}

type wireFilter struct {
	Must []wireCondition `json:"must,omitempty"`
}

type wireCondition struct {
	Key   string    `json:"key"`
	Match wireMatch `json:"match"`
}

type wireMatch struct {
	Value string `json:"value"`
}

func toWireFilter(f *Filter) *wireFilter {
	if f.IsEmpty() {
		return nil
	}
	wf := &wireFilter{}
	for _, m := range f.Must {
		wf.Must = append(wf.Must, wireCondition{Key: m.Field, Match: wireMatch{Value: m.Value}})
	}
	return wf
}

// ScrolledPoint is one record returned by Scroll, payload decoded as plain
// JSON values.
type ScrolledPoint struct {
	ID      string
	Payload map[string]any
}

// Scroll fetches a single page of points matching filter, up to limit
// (capped at 2048). Sources with more matching points than one page
// under-report; the audit API documents that limitation.
func (c *RESTClient) Scroll(ctx context.Context, collection string, filter *Filter, limit int) ([]ScrolledPoint, error) {
	if limit <= 0 || limit > maxScrollLimit {
		limit = maxScrollLimit
	}

	body, err := json.Marshal(map[string]any{
		"filter":       toWireFilter(filter),
		"limit":        limit,
		"with_payload": true,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding scroll request: %w", err)
	}

	var decoded struct {
		Result struct {
			Points []struct {
				ID      any            `json:"id"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/scroll", c.baseURL, collection)
	if err := c.postJSON(ctx, url, body, &decoded); err != nil {
		return nil, err
	}

	points := make([]ScrolledPoint, 0, len(decoded.Result.Points))
	for _, p := range decoded.Result.Points {
		points = append(points, ScrolledPoint{
			ID:      fmt.Sprintf("%v", p.ID),
			Payload: p.Payload,
		})
	}
	return points, nil
}

// ListCollections returns every collection name via the REST listing.
func (c *RESTClient) ListCollections(ctx context.Context) ([]string, error) {
	var decoded struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/collections", &decoded); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(decoded.Result.Collections))
	for _, col := range decoded.Result.Collections {
		names = append(names, col.Name)
	}
	return names, nil
}

// ProbeCollection checks that one collection answers. Used by the startup
// verification pass.
func (c *RESTClient) ProbeCollection(ctx context.Context, collection string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/collections/%s", c.baseURL, collection), nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}
	c.auth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("probing collection %s: %w", collection, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("collection %s answered %d", collection, resp.StatusCode)
	}
	return nil
}

func (c *RESTClient) postJSON(ctx context.Context, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)
	return c.do(req, out)
}

func (c *RESTClient) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.auth(req)
	return c.do(req, out)
}

func (c *RESTClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s answered %d: %s", req.URL.Path, resp.StatusCode, snippet)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", req.URL.Path, err)
	}
	return nil
}

func (c *RESTClient) auth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}
}
