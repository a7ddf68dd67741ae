package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeLister struct {
	names []string
	err   error
	calls int
}

func (f *fakeLister) ListCollections(ctx context.Context) ([]string, error) {
	f.calls++
	return f.names, f.err
}

func TestDiscoveryFiltersAndSorts(t *testing.T) {
	lister := &fakeLister{names: []string{
		"java-docs", "java-repo-spring", "java-books", "java-repo-guava", "other",
	}}
	d := NewDiscovery(lister, "java-repo-", time.Minute)

	got := d.Collections(context.Background())
	assert.Equal(t, []string{"java-repo-guava", "java-repo-spring"}, got)
}

func TestDiscoveryCachesWithinTTL(t *testing.T) {
	lister := &fakeLister{names: []string{"java-repo-a"}}
	d := NewDiscovery(lister, "java-repo-", time.Hour)

	d.Collections(context.Background())
	d.Collections(context.Background())
	assert.Equal(t, 1, lister.calls)
}

func TestDiscoveryServesStaleOnError(t *testing.T) {
	lister := &fakeLister{names: []string{"java-repo-a"}}
	d := NewDiscovery(lister, "java-repo-", time.Nanosecond)

	first := d.Collections(context.Background())
	assert.Equal(t, []string{"java-repo-a"}, first)

	time.Sleep(2 * time.Nanosecond)
	lister.err = errors.New("listing down")
	second := d.Collections(context.Background())
	assert.Equal(t, first, second)
}

func TestNilDiscoveryYieldsNothing(t *testing.T) {
	var d *Discovery
	assert.Nil(t, d.Collections(context.Background()))
}
