package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/WilliamAGH/java-chat-sub001/internal/logger"
)

const (
	// probeTimeout bounds one health probe round trip.
	probeTimeout = 5 * time.Second

	// healthyBackoff is how long a passing service goes unprobed.
	healthyBackoff = time.Hour

	// initialBackoff starts the failure backoff ladder; each further
	// consecutive failure doubles it up to maxProbeBackoff.
	initialBackoff  = time.Minute
	maxProbeBackoff = 24 * time.Hour
)

// Probe checks one dependency. A nil return means healthy.
type Probe func(ctx context.Context) error

// State is a point-in-time copy of one service's health record.
type State struct {
	Healthy             bool
	ConsecutiveFailures int
	LastCheck           time.Time
	CurrentBackoff      time.Duration
}

type serviceState struct {
	healthy             bool
	consecutiveFailures int
	lastCheck           time.Time
	currentBackoff      time.Duration
}

// Monitor tracks dependency health with exponential probe backoff. Services
// start healthy; a failed probe demotes them and IsHealthy re-probes in the
// background once the backoff window has passed.
type Monitor struct {
	mu      sync.Mutex
	probes  map[string]Probe
	states  map[string]*serviceState
	probing map[string]bool
	now     func() time.Time
}

func NewMonitor() *Monitor {
	return &Monitor{
		probes:  make(map[string]Probe),
		states:  make(map[string]*serviceState),
		probing: make(map[string]bool),
		now:     time.Now,
	}
}

// Register adds a service. The optimistic initial state avoids blocking
// callers at startup; the first failed call or Check corrects it.
func (m *Monitor) Register(name string, probe Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[name] = probe
	m.states[name] = &serviceState{
		healthy:        true,
		lastCheck:      m.now(),
		currentBackoff: healthyBackoff,
	}
}

// Check probes name once and updates its state. Success resets the failure
// streak; failure doubles the backoff.
func (m *Monitor) Check(ctx context.Context, name string) error {
	m.mu.Lock()
	probe, ok := m.probes[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown service %q", name)
	}

	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	err := probe(pctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.states[name]
	st.lastCheck = m.now()
	if err != nil {
		st.healthy = false
		st.consecutiveFailures++
		st.currentBackoff = failureBackoff(st.consecutiveFailures)
		logger.Warn("Health probe failed",
			"service", name,
			"consecutive_failures", st.consecutiveFailures,
			"next_probe_in", st.currentBackoff.String(),
			"error", err)
		return err
	}

	if !st.healthy {
		logger.Info("Service recovered", "service", name)
	}
	st.healthy = true
	st.consecutiveFailures = 0
	st.currentBackoff = healthyBackoff
	return nil
}

// IsHealthy answers from the cached state. An unhealthy service whose
// backoff has elapsed gets one background re-probe; the caller still sees
// false until that probe succeeds.
func (m *Monitor) IsHealthy(name string) bool {
	m.mu.Lock()
	st, ok := m.states[name]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if st.healthy {
		m.mu.Unlock()
		return true
	}

	due := m.now().After(st.lastCheck.Add(st.currentBackoff))
	if due && !m.probing[name] {
		m.probing[name] = true
		go m.reprobe(name)
	}
	m.mu.Unlock()
	return false
}

// Snapshot returns a copy of name's state for diagnostics.
func (m *Monitor) Snapshot(name string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[name]
	if !ok {
		return State{}, false
	}
	return State{
		Healthy:             st.healthy,
		ConsecutiveFailures: st.consecutiveFailures,
		LastCheck:           st.lastCheck,
		CurrentBackoff:      st.currentBackoff,
	}, true
}

func (m *Monitor) reprobe(name string) {
	defer func() {
		m.mu.Lock()
		m.probing[name] = false
		m.mu.Unlock()
	}()
	_ = m.Check(context.Background(), name)
}

func failureBackoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if failures > 11 {
		return maxProbeBackoff
	}
	b := initialBackoff << (failures - 1)
	if b > maxProbeBackoff {
		return maxProbeBackoff
	}
	return b
}

// NewHTTPProbe probes url with a GET and passes on any 200 answer. TLS
// comes from the url scheme.
func NewHTTPProbe(url string) Probe {
	client := &http.Client{Timeout: probeTimeout}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("building probe request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("probing %s: %w", url, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s answered %d", url, resp.StatusCode)
		}
		return nil
	}
}

// CollectionProber is the per-collection probe slice of the store client.
type CollectionProber interface {
	ProbeCollection(ctx context.Context, collection string) error
}

// VerifyCollections confirms at startup that every configured collection
// answers. A deployment with no collections configured is broken, not
// trivially healthy.
func VerifyCollections(ctx context.Context, prober CollectionProber, collections []string) error {
	if len(collections) == 0 {
		return fmt.Errorf("no collections configured")
	}
	for _, collection := range collections {
		if collection == "" {
			continue
		}
		if err := prober.ProbeCollection(ctx, collection); err != nil {
			return fmt.Errorf("verifying collection %s: %w", collection, err)
		}
		logger.Debug("Collection verified", "collection", collection)
	}
	return nil
}
