package llm

import (
	"context"
	"sync"
	"time"

	"github.com/WilliamAGH/java-chat-sub001/internal/ratelimit"
)

// Provider identifies one chat completion backend.
type Provider string

const (
	ProviderGitHubModels Provider = "github_models"
	ProviderOpenAI       Provider = "openai"
	ProviderLocal        Provider = "local"
)

// Completer opens one streaming chat completion. Implementations wrap a real
// OpenAI-compatible endpoint; tests script them.
type Completer interface {
	StreamCompletion(ctx context.Context, req Request) (TextStream, error)
}

// TextStream yields content deltas until io.EOF.
type TextStream interface {
	Next() (string, error)
	Close() error
}

// Router orders providers as (primary, secondary, local fallback) and
// filters out the ones that cannot serve right now: missing clients, a
// primary inside its local backoff window, and providers the persistent
// rate-limit state blocks.
type Router struct {
	clients map[Provider]Completer
	order   []Provider
	primary Provider
	limits  *ratelimit.Store
	backoff time.Duration

	mu           sync.Mutex
	backoffUntil time.Time
	now          func() time.Time
}

// NewRouter builds the provider order from the configured primary. The two
// hosted providers swap positions; a configured local endpoint is always the
// last resort.
func NewRouter(primary Provider, clients map[Provider]Completer, limits *ratelimit.Store, backoff time.Duration) *Router {
	secondary := ProviderOpenAI
	if primary == ProviderOpenAI {
		secondary = ProviderGitHubModels
	}
	return &Router{
		clients: clients,
		order:   []Provider{primary, secondary, ProviderLocal},
		primary: primary,
		limits:  limits,
		backoff: backoff,
		now:     time.Now,
	}
}

// Primary returns the configured primary provider.
func (r *Router) Primary() Provider {
	return r.primary
}

// Client returns the configured client for p, or nil.
func (r *Router) Client(p Provider) Completer {
	return r.clients[p]
}

// SelectAvailable returns the providers eligible for the next request, in
// failover order.
func (r *Router) SelectAvailable() []Provider {
	var out []Provider
	for _, p := range r.order {
		if r.clients[p] == nil {
			continue
		}
		if p == r.primary && r.inBackoff() {
			continue
		}
		if r.limits != nil && !r.limits.IsAvailable(string(p)) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// BackoffPrimary starts the local primary backoff window. This is a short
// process-local pause, separate from the persistent rate-limit state.
func (r *Router) BackoffPrimary() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backoffUntil = r.now().Add(r.backoff)
}

func (r *Router) inBackoff() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now().Before(r.backoffUntil)
}
