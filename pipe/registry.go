package pipe

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
)

// Registry maps backend names to builders.
type Registry struct {
	mu           sync.RWMutex
	builders     map[string]Builder
	capabilities map[string]Capabilities
}

// DefaultRegistry is where the built-in backends register themselves.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{
		builders:     make(map[string]Builder),
		capabilities: make(map[string]Capabilities),
	}
}

// Register adds a builder under name, which matches the PubSubSystem
// config value.
func (r *Registry) Register(name string, builder Builder, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
	if caps.Name == "" {
		caps.Name = name
	}
	r.capabilities[name] = caps
}

// Capabilities returns what was registered for name, or a zero value.
func (r *Registry) Capabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caps, ok := r.capabilities[name]; ok {
		return caps
	}
	return Capabilities{Name: name}
}

// Build creates the pipe selected by cfg.GetPubSubSystem().
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Pipe, error) {
	if cfg == nil {
		return Pipe{}, fmt.Errorf("pipe: config is required")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	name := cfg.GetPubSubSystem()
	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()
	if !ok {
		return Pipe{}, fmt.Errorf("pipe: unknown pubsub system %q (registered: %v)", name, r.Names())
	}
	return builder(ctx, cfg, logger)
}

// Names returns the registered backend names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

// Register adds a builder to the default registry.
func Register(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.Register(name, builder, caps)
}

// Build creates a pipe using the default registry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Pipe, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
