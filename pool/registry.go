package pool

import (
	"database/sql"
	"sync"
)

// Opener opens the database handle behind a URL. Dialects supply this.
type Opener func(url string) (*sql.DB, error)

// Registry is the process-wide map from backend URL to its Pool. Pools are
// created lazily on first access per URL and torn down explicitly via
// Release or ReleaseAll.
type Registry struct {
	mu    sync.Mutex
	pools map[string]*Pool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{pools: make(map[string]*Pool)}
}

// Get returns the pool for url, creating it with the given opener and
// options on first access.
func (r *Registry) Get(url string, open Opener, opts Options) (*Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pools[url]; ok {
		return p, nil
	}
	p, err := New(url, open, opts)
	if err != nil {
		return nil, err
	}
	r.pools[url] = p
	return p, nil
}

// Release closes the pool for url and drops it from the registry.
// Unknown URLs are a no-op.
func (r *Registry) Release(url string) error {
	r.mu.Lock()
	p, ok := r.pools[url]
	delete(r.pools, url)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return p.Close()
}

// ReleaseAll closes every pool in the registry. Closes are best-effort;
// the last failure is returned.
func (r *Registry) ReleaseAll() error {
	r.mu.Lock()
	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.pools = make(map[string]*Pool)
	r.mu.Unlock()
	var last error
	for _, p := range pools {
		if err := p.Close(); err != nil {
			last = err
		}
	}
	return last
}

var defaultRegistry = NewRegistry()

// Get returns the pool for url from the process-wide registry.
func Get(url string, open Opener, opts Options) (*Pool, error) {
	return defaultRegistry.Get(url, open, opts)
}

// Release tears down the process-wide pool for url.
func Release(url string) error { return defaultRegistry.Release(url) }

// ReleaseAll tears down every process-wide pool.
func ReleaseAll() error { return defaultRegistry.ReleaseAll() }
