// Package router maps action codes to handler bindings.
package router

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/drblury/tcpflow/internal/runtime/codec"
	errspkg "github.com/drblury/tcpflow/internal/runtime/errors"
)

// Reply is what a handler method returns. A nil Message means no response
// frame is sent. Handler, Method, Params and Envelope are filled in by the
// invoker for monitoring.
type Reply struct {
	Action   int
	Message  any
	Handler  string
	Method   string
	Params   string
	Envelope string
}

// Respond is shorthand for a reply carrying msg under action.
func Respond(action int, msg any) *Reply {
	return &Reply{Action: action, Message: msg}
}

// HasResponse reports whether r should produce a response frame.
func (r *Reply) HasResponse() bool {
	return r != nil && r.Message != nil
}

// Method calls a bound handler method on instance with a decoded message.
type Method func(ctx context.Context, instance any, msg any) (*Reply, error)

// Entry binds one action to a handler method and its message types.
type Entry struct {
	Action      int
	Handler     string
	Method      string
	NewMessage  func() any
	NewEnvelope func() any
	Codec       codec.MessageCodec
	Invoke      Method
}

// MessageCodec returns the entry codec or the default one.
func (e Entry) MessageCodec() codec.MessageCodec {
	if e.Codec == nil {
		return codec.Default
	}
	return e.Codec
}

func (e Entry) validate() error {
	switch {
	case e.Handler == "":
		return errspkg.ErrHandlerNameNeeded
	case e.Invoke == nil:
		return errspkg.ErrHandlerRequired
	case e.NewMessage == nil:
		return errspkg.ErrMessageTypeNeeded
	}
	return nil
}

// Option customises a route built with NewRoute.
type Option func(*Entry) error

// WithCodec selects the message codec for the route.
func WithCodec(c codec.MessageCodec) Option {
	return func(e *Entry) error {
		e.Codec = c
		return nil
	}
}

// WithHandlerName overrides the handler name derived from the handler type.
func WithHandlerName(name string) Option {
	return func(e *Entry) error {
		e.Handler = name
		return nil
	}
}

// WithEnvelope decodes payloads into E first. The encrypt listener, when
// registered, turns the envelope into the bytes of the final message.
func WithEnvelope[E any]() Option {
	return func(e *Entry) error {
		factory, err := prototypeFactory[E]()
		if err != nil {
			return err
		}
		e.NewEnvelope = func() any { return factory() }
		return nil
	}
}

// Bind adapts a method expression such as (*Echo).Reply into a Method.
func Bind[H any, M any](fn func(H, context.Context, M) (*Reply, error)) Method {
	return func(ctx context.Context, instance any, msg any) (*Reply, error) {
		h, ok := instance.(H)
		if !ok {
			return nil, errspkg.ConnectionFatalf(errspkg.ErrHandlerContract, "instance %T is not %s", instance, typeName[H]())
		}
		m, ok := msg.(M)
		if !ok {
			return nil, errspkg.ConnectionFatalf(errspkg.ErrInvalidPacket, "message %T is not %s", msg, typeName[M]())
		}
		return fn(h, ctx, m)
	}
}

// NewRoute builds an Entry for a typed handler method. M must be a pointer
// type so a fresh message can be allocated per request.
func NewRoute[H any, M any](action int, method string, fn func(H, context.Context, M) (*Reply, error), opts ...Option) (Entry, error) {
	if fn == nil {
		return Entry{}, errspkg.NewConfigurationError(errspkg.ErrHandlerRequired)
	}
	factory, err := prototypeFactory[M]()
	if err != nil {
		return Entry{}, errspkg.NewConfigurationError(err)
	}

	entry := Entry{
		Action:     action,
		Handler:    typeName[H](),
		Method:     method,
		NewMessage: func() any { return factory() },
		Invoke:     Bind(fn),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&entry); err != nil {
			return Entry{}, errspkg.NewConfigurationError(err)
		}
	}
	return entry, nil
}

// MustRoute is NewRoute that panics on error.
func MustRoute[H any, M any](action int, method string, fn func(H, context.Context, M) (*Reply, error), opts ...Option) Entry {
	entry, err := NewRoute(action, method, fn, opts...)
	if err != nil {
		panic(err)
	}
	return entry
}

func prototypeFactory[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return nil, errspkg.ErrMessageTypeNeeded
	}
	if typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrMessagePointer
	}
	elem := typ.Elem()
	return func() T {
		return reflect.New(elem).Interface().(T)
	}, nil
}

// HandlerName is the name NewRoute derives for handler type H.
func HandlerName[H any]() string {
	return typeName[H]()
}

func typeName[T any]() string {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Name() == "" {
		return typ.String()
	}
	return typ.Name()
}

// Table holds the routes of one service.
type Table struct {
	mu     sync.RWMutex
	routes map[int]Entry
}

func NewTable() *Table {
	return &Table{routes: make(map[int]Entry)}
}

// AddRoute stores entry under action, replacing any previous binding.
func (t *Table) AddRoute(action int, entry Entry) error {
	return t.add(action, entry, false)
}

// Register is AddRoute that refuses to overwrite an existing binding.
func (t *Table) Register(action int, entry Entry) error {
	return t.add(action, entry, true)
}

func (t *Table) add(action int, entry Entry, strict bool) error {
	if err := entry.validate(); err != nil {
		return errspkg.NewConfigurationError(fmt.Errorf("action %d: %w", action, err))
	}
	entry.Action = action

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, exists := t.routes[action]; strict && exists {
		return errspkg.NewConfigurationError(fmt.Errorf("%w: action %d is bound to %s.%s", errspkg.ErrRouteConflict, action, existing.Handler, existing.Method))
	}
	t.routes[action] = entry
	return nil
}

// Resolve looks up the binding for action.
func (t *Table) Resolve(action int) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.routes[action]
	return entry, ok
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}

// Actions lists the registered action codes in ascending order.
func (t *Table) Actions() []int {
	t.mu.RLock()
	actions := make([]int, 0, len(t.routes))
	for action := range t.routes {
		actions = append(actions, action)
	}
	t.mu.RUnlock()
	sort.Ints(actions)
	return actions
}
