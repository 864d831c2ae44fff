package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type key struct {
	name      string
	partition int
}

// Registry holds the pools of one service, keyed by name and partition.
type Registry struct {
	mu    sync.RWMutex
	pools map[key]*Pool
}

func NewRegistry() *Registry {
	return &Registry{pools: make(map[key]*Pool)}
}

func (r *Registry) Register(name string, partition int, p *Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[key{name, partition}] = p
}

func (r *Registry) Get(name string, partition int) (*Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[key{name, partition}]
	return p, ok
}

// All returns the pools ordered by name and partition.
func (r *Registry) All() []*Pool {
	r.mu.RLock()
	keys := make([]key, 0, len(r.pools))
	for k := range r.pools {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].name != keys[j].name {
			return keys[i].name < keys[j].name
		}
		return keys[i].partition < keys[j].partition
	})

	out := make([]*Pool, 0, len(keys))
	r.mu.RLock()
	for _, k := range keys {
		out = append(out, r.pools[k])
	}
	r.mu.RUnlock()
	return out
}

// InitAll initialises every pool and returns the collected error messages.
func (r *Registry) InitAll(ctx context.Context) []string {
	var errs []string
	for _, p := range r.All() {
		if err := p.Init(ctx); err != nil {
			errs = append(errs, p.Errors()...)
		}
	}
	return errs
}

// CloseAll closes every pool.
func (r *Registry) CloseAll() error {
	var first error
	for _, p := range r.All() {
		if err := p.Close(); err != nil && first == nil {
			first = fmt.Errorf("close pool %s: %w", p.Name(), err)
		}
	}
	return first
}
