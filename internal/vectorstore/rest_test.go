package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WilliamAGH/java-chat-sub001/internal/config"
)

func TestRESTPortMapping(t *testing.T) {
	assert.Equal(t, 6333, restPort(6334))
	assert.Equal(t, 8087, restPort(8086))
	assert.Equal(t, 6333, restPort(9999))

	tls := NewRESTClient(config.QdrantConfig{Host: "cloud.example", Port: 6334, UseTLS: true})
	assert.Equal(t, "https://cloud.example:443", tls.BaseURL())
}

func restClientFor(srv *httptest.Server, apiKey string) *RESTClient {
	return &RESTClient{baseURL: srv.URL, apiKey: apiKey, http: srv.Client()}
}

func TestScrollSendsFilterAndDecodesPoints(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/java-docs/points/scroll", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"points": []map[string]any{
					{"id": "11111111-2222-3333-4444-555555555555", "payload": map[string]any{"hash": "abc", "chunkIndex": 2}},
					{"id": "66666666-7777-8888-9999-000000000000", "payload": map[string]any{"hash": "def"}},
				},
			},
		})
	}))
	defer srv.Close()

	c := restClientFor(srv, "secret")
	points, err := c.Scroll(context.Background(), "java-docs",
		&Filter{Must: []Match{{Field: "url", Value: "https://x/doc"}}}, 100)
	require.NoError(t, err)

	require.Len(t, points, 2)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", points[0].ID)
	assert.Equal(t, "abc", points[0].Payload["hash"])

	assert.Equal(t, float64(100), gotBody["limit"])
	assert.Equal(t, true, gotBody["with_payload"])
	filter := gotBody["filter"].(map[string]any)
	must := filter["must"].([]any)
	cond := must[0].(map[string]any)
	assert.Equal(t, "url", cond["key"])
	assert.Equal(t, map[string]any{"value": "https://x/doc"}, cond["match"])
}

func TestScrollClampsLimit(t *testing.T) {
	var gotLimit float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		gotLimit = body["limit"].(float64)
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"points": []any{}}})
	}))
	defer srv.Close()

	c := restClientFor(srv, "")
	_, err := c.Scroll(context.Background(), "java-docs", nil, 100000)
	require.NoError(t, err)
	assert.Equal(t, float64(maxScrollLimit), gotLimit)
}

func TestListCollections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"collections": []map[string]any{{"name": "java-docs"}, {"name": "java-repo-x"}},
			},
		})
	}))
	defer srv.Close()

	c := restClientFor(srv, "")
	names, err := c.ListCollections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"java-docs", "java-repo-x"}, names)
}

func TestProbeCollectionReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/java-docs" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := restClientFor(srv, "")
	assert.NoError(t, c.ProbeCollection(context.Background(), "java-docs"))
	assert.Error(t, c.ProbeCollection(context.Background(), "missing"))
}
