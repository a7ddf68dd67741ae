package ratelimit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/WilliamAGH/java-chat-sub001/internal/logger"
)

// maxBackoff caps the consecutive-failure penalty added on top of an
// authoritative reset time.
const maxBackoff = 7 * 24 * time.Hour

// ProviderState is the persisted record for one provider. Zero value means
// the provider has never been limited.
type ProviderState struct {
	RateLimitedUntil    *time.Time `json:"rate_limited_until,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastFailure         *time.Time `json:"last_failure,omitempty"`
	TotalSuccesses      int64      `json:"total_successes"`
	TotalFailures       int64      `json:"total_failures"`
}

// Store keeps per-provider availability state and persists it as JSON so
// rate limits survive restarts. All mutations write through to disk.
type Store struct {
	mu    sync.Mutex
	path  string
	state map[string]*ProviderState
	now   func() time.Time
}

// NewStore loads existing state from path. A missing or corrupt file starts
// fresh; providers must never be blocked by a bad state file.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("rate-limit state path is required")
	}
	s := &Store{
		path:  path,
		state: make(map[string]*ProviderState),
		now:   time.Now,
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return s, nil
	case err != nil:
		logger.Warn("Rate-limit state unreadable, starting fresh", "path", path, "error", err)
		return s, nil
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		logger.Warn("Rate-limit state corrupt, starting fresh", "path", path, "error", err)
		s.state = make(map[string]*ProviderState)
	}
	return s, nil
}

// parseWindow reads the provider-reported window format: Nd days, Nh hours,
// Nm minutes, bare N minutes.
func parseWindow(window string) (time.Duration, error) {
	w := strings.TrimSpace(strings.ToLower(window))
	if w == "" {
		return 0, fmt.Errorf("empty rate-limit window")
	}
	unit := time.Minute
	switch w[len(w)-1] {
	case 'd':
		unit = 24 * time.Hour
		w = w[:len(w)-1]
	case 'h':
		unit = time.Hour
		w = w[:len(w)-1]
	case 'm':
		unit = time.Minute
		w = w[:len(w)-1]
	}
	n, err := strconv.Atoi(w)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid rate-limit window %q", window)
	}
	return time.Duration(n) * unit, nil
}

// RecordRateLimit marks provider unavailable until resetTime, or now+window
// when the provider gave no explicit reset. Repeated limits stack an
// exponential penalty of 2^(k-1) hours (k = consecutive failures, from the
// second one), capped at seven days.
func (s *Store) RecordRateLimit(provider string, resetTime *time.Time, window string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	st := s.entry(provider)
	st.ConsecutiveFailures++
	st.TotalFailures++
	st.LastFailure = &now

	until := now
	if resetTime != nil {
		until = *resetTime
	} else {
		d, err := parseWindow(window)
		if err != nil {
			return err
		}
		until = now.Add(d)
	}

	if st.ConsecutiveFailures >= 2 {
		backoff := time.Duration(1<<(st.ConsecutiveFailures-1)) * time.Hour
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		if penalized := now.Add(backoff); penalized.After(until) {
			until = penalized
		}
	}

	st.RateLimitedUntil = &until
	logger.Warn("Provider rate limited",
		"provider", provider,
		"until", until.Format(time.RFC3339),
		"consecutive_failures", st.ConsecutiveFailures)
	return s.persistLocked()
}

// RecordFailure counts a non-rate-limit failure. It feeds the exponential
// penalty applied by the next RecordRateLimit but does not block by itself.
func (s *Store) RecordFailure(provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	st := s.entry(provider)
	st.ConsecutiveFailures++
	st.TotalFailures++
	st.LastFailure = &now
	return s.persistLocked()
}

// RecordSuccess clears the failure streak for provider.
func (s *Store) RecordSuccess(provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	st := s.entry(provider)
	st.ConsecutiveFailures = 0
	st.TotalSuccesses++
	st.LastSuccess = &now
	return s.persistLocked()
}

// IsAvailable reports whether provider may be called. An expired limit is
// cleared and the cleared state persisted on the way out.
func (s *Store) IsAvailable(provider string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state[provider]
	if !ok || st.RateLimitedUntil == nil {
		return true
	}
	if s.now().Before(*st.RateLimitedUntil) {
		return false
	}

	st.RateLimitedUntil = nil
	if err := s.persistLocked(); err != nil {
		logger.Warn("Persisting cleared rate limit failed", "provider", provider, "error", err)
	}
	return true
}

// Snapshot returns a copy of provider's state for diagnostics.
func (s *Store) Snapshot(provider string) ProviderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.state[provider]; ok {
		return *st
	}
	return ProviderState{}
}

// Persist forces a write of the current state. The scheduler calls this on a
// timer so a crash loses at most one interval of counter updates.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Store) entry(provider string) *ProviderState {
	st, ok := s.state[provider]
	if !ok {
		st = &ProviderState{}
		s.state[provider] = st
	}
	return st
}

// persistLocked writes the state file via temp file and rename. Callers hold
// s.mu, so writes are serialized and readers never see a partial file.
func (s *Store) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding rate-limit state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".rate-limit-state-*.json")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing rate-limit state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing rate-limit state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("publishing rate-limit state: %w", err)
	}
	return nil
}
