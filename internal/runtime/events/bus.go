// Package events is a typed dispatch bus with one listener per event kind.
// Registering a listener replaces the previous one for that kind.
package events

import (
	"context"
	"fmt"
	"sync"

	errspkg "github.com/drblury/tcpflow/internal/runtime/errors"
)

// Kind names an event type.
type Kind string

const (
	KindUnpack      Kind = "unpack"
	KindPack        Kind = "pack"
	KindConnect     Kind = "connect"
	KindClose       Kind = "close"
	KindHandler     Kind = "handler"
	KindError       Kind = "error"
	KindMonitor     Kind = "monitor"
	KindRunHandler  Kind = "run_handler"
	KindEncrypt     Kind = "encrypt"
	KindInitPool    Kind = "init_pool"
	KindPipeMessage Kind = "pipe_message"
)

var (
	// ServerKinds are the events raised by the TCP server and request
	// pipeline.
	ServerKinds = []Kind{KindUnpack, KindPack, KindConnect, KindClose, KindHandler, KindError, KindMonitor}
	// AppKinds are the events raised by the application layer.
	AppKinds = []Kind{KindRunHandler, KindEncrypt, KindInitPool, KindPipeMessage}
)

// Event is implemented by every event payload. Events never propagate past
// their single listener.
type Event interface {
	Kind() Kind
	IsPropagationStopped() bool
}

// Listener handles one event kind and may return a value to the dispatcher.
type Listener func(ctx context.Context, evt Event) (any, error)

// Result is what DispatchWithReturn yields. Listened is false when no
// listener was registered.
type Result struct {
	Value    any
	Listened bool
}

// Bus maps event kinds to their current listener.
type Bus struct {
	mu        sync.RWMutex
	allowed   map[Kind]struct{}
	listeners map[Kind]Listener
}

// NewBus returns a bus accepting the given kinds.
func NewBus(allowed ...Kind) *Bus {
	b := &Bus{
		allowed:   make(map[Kind]struct{}, len(allowed)),
		listeners: make(map[Kind]Listener),
	}
	b.AllowKinds(allowed...)
	return b
}

// AllowKinds extends the allow-list.
func (b *Bus) AllowKinds(kinds ...Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, kind := range kinds {
		b.allowed[kind] = struct{}{}
	}
}

// Allowed reports whether kind may be registered.
func (b *Bus) Allowed(kind Kind) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.allowed[kind]
	return ok
}

// Register installs listener for kind, replacing any previous one.
func (b *Bus) Register(kind Kind, listener Listener) error {
	if listener == nil {
		return errspkg.NewConfigurationError(fmt.Errorf("%w: %s", errspkg.ErrListenerRequired, kind))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.allowed[kind]; !ok {
		return errspkg.NewConfigurationError(fmt.Errorf("%w: %s", errspkg.ErrUnknownEvent, kind))
	}
	b.listeners[kind] = listener
	return nil
}

// Listener returns the listener for kind, if any.
func (b *Bus) Listener(kind Kind) (Listener, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.listeners[kind]
	return l, ok
}

// Listened reports whether kind has a listener.
func (b *Bus) Listened(kind Kind) bool {
	_, ok := b.Listener(kind)
	return ok
}

// Dispatch runs the listener for evt and discards its value. Without a
// listener it does nothing.
func (b *Bus) Dispatch(ctx context.Context, evt Event) error {
	_, err := b.DispatchWithReturn(ctx, evt)
	return err
}

// DispatchWithReturn runs the listener for evt and returns its value.
// Listener errors are returned unchanged.
func (b *Bus) DispatchWithReturn(ctx context.Context, evt Event) (Result, error) {
	listener, ok := b.Listener(evt.Kind())
	if !ok {
		return Result{}, nil
	}
	value, err := listener(ctx, evt)
	return Result{Value: value, Listened: true}, err
}

// DispatchAs is DispatchWithReturn with a typed value. ok is false when no
// listener ran or its value is not a T.
func DispatchAs[T any](ctx context.Context, b *Bus, evt Event) (value T, ok bool, err error) {
	res, err := b.DispatchWithReturn(ctx, evt)
	if err != nil || !res.Listened {
		return value, false, err
	}
	value, ok = res.Value.(T)
	return value, ok, nil
}

// On wraps a listener for one concrete event type. Events of another type
// are an error.
func On[E Event](fn func(ctx context.Context, evt E) (any, error)) Listener {
	return func(ctx context.Context, evt Event) (any, error) {
		typed, ok := evt.(E)
		if !ok {
			return nil, fmt.Errorf("events: unexpected %T for %s listener", evt, evt.Kind())
		}
		return fn(ctx, typed)
	}
}
