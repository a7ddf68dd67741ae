package vectorstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/WilliamAGH/java-chat-sub001/internal/logger"
)

// DefaultRepoPrefix marks collections holding ingested source repositories.
// Anything carrying it joins the search fan-out alongside the core four.
const DefaultRepoPrefix = "java-repo-"

// defaultDiscoveryTTL bounds how stale the discovered set may get before the
// next search refreshes it.
const defaultDiscoveryTTL = 5 * time.Minute

// CollectionLister is the slice of the store both clients satisfy.
type CollectionLister interface {
	ListCollections(ctx context.Context) ([]string, error)
}

// Discovery finds repository collections at runtime so newly ingested repos
// become searchable without a restart. Discovery is optional: a nil
// *Discovery yields no extra collections.
type Discovery struct {
	lister CollectionLister
	prefix string
	ttl    time.Duration

	mu        sync.Mutex
	cached    []string
	refreshed time.Time
}

func NewDiscovery(lister CollectionLister, prefix string, ttl time.Duration) *Discovery {
	if prefix == "" {
		prefix = DefaultRepoPrefix
	}
	if ttl <= 0 {
		ttl = defaultDiscoveryTTL
	}
	return &Discovery{lister: lister, prefix: prefix, ttl: ttl}
}

// Collections returns the current repository collections, sorted for a
// stable fan-out order. A listing failure serves the last good set; search
// availability must not hinge on the listing endpoint.
func (d *Discovery) Collections(ctx context.Context) []string {
	if d == nil {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if time.Since(d.refreshed) < d.ttl {
		return d.cached
	}

	names, err := d.lister.ListCollections(ctx)
	if err != nil {
		logger.Warn("Collection discovery failed, using cached set",
			"error", err, "cached", len(d.cached))
		return d.cached
	}

	var repos []string
	for _, name := range names {
		if strings.HasPrefix(name, d.prefix) {
			repos = append(repos, name)
		}
	}
	sort.Strings(repos)

	d.cached = repos
	d.refreshed = time.Now()
	return d.cached
}
