// Package container is the default dependency container: handler
// factories, per-method invocation keywords and named dependency providers.
package container

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	errspkg "github.com/drblury/tcpflow/internal/runtime/errors"
	"github.com/drblury/tcpflow/internal/runtime/handlers"
	"github.com/drblury/tcpflow/internal/runtime/router"
)

// DefaultDatabase is used when MethodOptions.Database is empty.
const DefaultDatabase = "default"

// Scope is what a factory sees when building a handler instance.
type Scope struct {
	TraceID string
	SpanID  string
	Extra   map[string]any
}

// Lookup returns an injected dependency by name.
func (s Scope) Lookup(name string) (any, bool) {
	v, ok := s.Extra[name]
	return v, ok
}

// Factory builds a fresh handler instance per request.
type Factory func(ctx context.Context, scope Scope) (any, error)

// Provider builds a named dependency per request. Values implementing
// handlers.Collector are released after the handler call.
type Provider func(ctx context.Context) (any, error)

// MethodOptions configure how a handler method is invoked.
type MethodOptions struct {
	OpenTransaction bool
	Database        string
	Inject          []string
	TxOptions       *sql.TxOptions
}

type Container struct {
	mu        sync.RWMutex
	factories map[string]Factory
	methods   map[string]MethodOptions
	providers map[string]Provider
	databases map[string]handlers.TxBeginner
}

func New() *Container {
	return &Container{
		factories: make(map[string]Factory),
		methods:   make(map[string]MethodOptions),
		providers: make(map[string]Provider),
		databases: make(map[string]handlers.TxBeginner),
	}
}

// RegisterHandler binds a factory to a handler name.
func (c *Container) RegisterHandler(name string, factory Factory) error {
	if name == "" {
		return errspkg.NewConfigurationError(errspkg.ErrHandlerNameNeeded)
	}
	if factory == nil {
		return errspkg.NewConfigurationError(fmt.Errorf("%w: factory for %s", errspkg.ErrHandlerRequired, name))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[name] = factory
	return nil
}

// Configure sets the invocation options of handler.method.
func (c *Container) Configure(handler, method string, opts MethodOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.methods[methodKey(handler, method)] = opts
}

// Provide registers a named dependency provider.
func (c *Container) Provide(name string, provider Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[name] = provider
}

// RegisterDatabase makes db available to transactional methods.
func (c *Container) RegisterDatabase(name string, db handlers.TxBeginner) {
	if name == "" {
		name = DefaultDatabase
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.databases[name] = db
}

// Keywords resolves the invocation keywords for handler.method. Injected
// dependencies are built here so the invoker can release them afterwards.
func (c *Container) Keywords(ctx context.Context, handler, method string) (handlers.Keywords, error) {
	c.mu.RLock()
	opts := c.methods[methodKey(handler, method)]
	providers := make(map[string]Provider, len(opts.Inject))
	for _, name := range opts.Inject {
		providers[name] = c.providers[name]
	}
	var db handlers.TxBeginner
	if opts.OpenTransaction {
		name := opts.Database
		if name == "" {
			name = DefaultDatabase
		}
		db = c.databases[name]
	}
	c.mu.RUnlock()

	if opts.OpenTransaction && db == nil {
		return handlers.Keywords{}, errspkg.NewConfigurationError(fmt.Errorf("%w: %s.%s", errspkg.ErrDatabaseRequired, handler, method))
	}

	extra := make(map[string]any, len(opts.Inject))
	for _, name := range opts.Inject {
		provider := providers[name]
		if provider == nil {
			releaseAll(extra)
			return handlers.Keywords{}, errspkg.NewConfigurationError(fmt.Errorf("container: no provider for %q", name))
		}
		value, err := provider(ctx)
		if err != nil {
			releaseAll(extra)
			return handlers.Keywords{}, fmt.Errorf("container: provide %q: %w", name, err)
		}
		extra[name] = value
	}

	return handlers.Keywords{
		Extra:           extra,
		OpenTransaction: opts.OpenTransaction,
		Database:        db,
		TxOptions:       opts.TxOptions,
	}, nil
}

// Get builds a handler instance.
func (c *Container) Get(ctx context.Context, handler, traceID, spanID string, extra map[string]any) (any, error) {
	c.mu.RLock()
	factory, ok := c.factories[handler]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrUnknownHandler, handler)
	}
	return factory(ctx, Scope{TraceID: traceID, SpanID: spanID, Extra: extra})
}

// Register binds a typed factory under the name router.NewRoute derives
// for H.
func Register[H any](c *Container, factory func(ctx context.Context, scope Scope) (H, error)) error {
	if factory == nil {
		return errspkg.NewConfigurationError(errspkg.ErrHandlerRequired)
	}
	return c.RegisterHandler(router.HandlerName[H](), func(ctx context.Context, scope Scope) (any, error) {
		return factory(ctx, scope)
	})
}

// Inject fetches a typed dependency from the scope.
func Inject[T any](scope Scope, name string) (T, error) {
	var zero T
	raw, ok := scope.Lookup(name)
	if !ok {
		return zero, fmt.Errorf("container: %q was not injected", name)
	}
	value, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("container: %q is %T, not %T", name, raw, zero)
	}
	return value, nil
}

func methodKey(handler, method string) string {
	return handler + "." + method
}

func releaseAll(extra map[string]any) {
	for _, v := range extra {
		if c, ok := v.(handlers.Collector); ok {
			c.Collect()
		}
	}
}
