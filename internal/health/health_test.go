package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorStartsOptimistic(t *testing.T) {
	m := NewMonitor()
	m.Register("qdrant", func(context.Context) error { return nil })

	assert.True(t, m.IsHealthy("qdrant"))
	assert.False(t, m.IsHealthy("unknown"))
}

func TestCheckDemotesAndRecovers(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	m := NewMonitor()
	m.Register("embedding", func(context.Context) error {
		if fail.Load() {
			return errors.New("connection refused")
		}
		return nil
	})

	require.Error(t, m.Check(context.Background(), "embedding"))
	assert.False(t, m.IsHealthy("embedding"))

	st, ok := m.Snapshot("embedding")
	require.True(t, ok)
	assert.Equal(t, 1, st.ConsecutiveFailures)
	assert.Equal(t, time.Minute, st.CurrentBackoff)

	require.Error(t, m.Check(context.Background(), "embedding"))
	st, _ = m.Snapshot("embedding")
	assert.Equal(t, 2, st.ConsecutiveFailures)
	assert.Equal(t, 2*time.Minute, st.CurrentBackoff)

	fail.Store(false)
	require.NoError(t, m.Check(context.Background(), "embedding"))
	assert.True(t, m.IsHealthy("embedding"))

	st, _ = m.Snapshot("embedding")
	assert.Zero(t, st.ConsecutiveFailures)
	assert.Equal(t, time.Hour, st.CurrentBackoff)
}

func TestCheckUnknownService(t *testing.T) {
	m := NewMonitor()
	assert.Error(t, m.Check(context.Background(), "nope"))
}

func TestFailureBackoffLadder(t *testing.T) {
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{5, 16 * time.Minute},
		{11, 1024 * time.Minute},
		{12, 24 * time.Hour},
		{50, 24 * time.Hour},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, failureBackoff(tc.failures), "failures=%d", tc.failures)
	}
}

func TestIsHealthyReprobesAfterBackoff(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	m := NewMonitor()
	m.Register("qdrant", func(context.Context) error {
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	})
	require.Error(t, m.Check(context.Background(), "qdrant"))

	// Within the backoff window nothing re-probes.
	assert.False(t, m.IsHealthy("qdrant"))

	fail.Store(false)
	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	// The first call past the window still answers false but kicks off the
	// background probe that flips the state.
	assert.False(t, m.IsHealthy("qdrant"))
	require.Eventually(t, func() bool {
		return m.IsHealthy("qdrant")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewHTTPProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	assert.NoError(t, NewHTTPProbe(srv.URL+"/health")(context.Background()))
	assert.Error(t, NewHTTPProbe(srv.URL+"/broken")(context.Background()))

	srv.Close()
	assert.Error(t, NewHTTPProbe(srv.URL+"/health")(context.Background()))
}

type fakeProber struct {
	probed []string
	failOn string
}

func (f *fakeProber) ProbeCollection(_ context.Context, collection string) error {
	f.probed = append(f.probed, collection)
	if collection == f.failOn {
		return errors.New("not found")
	}
	return nil
}

func TestVerifyCollections(t *testing.T) {
	prober := &fakeProber{}
	err := VerifyCollections(context.Background(), prober, []string{"java-docs", "java-pdfs"})
	require.NoError(t, err)
	assert.Equal(t, []string{"java-docs", "java-pdfs"}, prober.probed)
}

func TestVerifyCollectionsFailure(t *testing.T) {
	prober := &fakeProber{failOn: "java-books"}
	err := VerifyCollections(context.Background(), prober, []string{"java-docs", "java-books"})
	assert.ErrorContains(t, err, "java-books")
}

func TestVerifyCollectionsRequiresConfiguration(t *testing.T) {
	err := VerifyCollections(context.Background(), &fakeProber{}, nil)
	assert.ErrorContains(t, err, "no collections configured")
}
