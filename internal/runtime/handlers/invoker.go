package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	pkgerrors "github.com/pkg/errors"

	"github.com/drblury/tcpflow/internal/runtime/codec"
	errspkg "github.com/drblury/tcpflow/internal/runtime/errors"
	"github.com/drblury/tcpflow/internal/runtime/events"
	loggingpkg "github.com/drblury/tcpflow/internal/runtime/logging"
	"github.com/drblury/tcpflow/internal/runtime/router"
)

// Invoker is the default listener for the handler event: it routes the
// packet, decodes the message, resolves the handler and calls it.
type Invoker struct {
	routes    *router.Table
	container Container
	bus       *events.Bus
	logger    loggingpkg.ServiceLogger
}

func NewInvoker(routes *router.Table, container Container, bus *events.Bus, logger loggingpkg.ServiceLogger) (*Invoker, error) {
	if routes == nil {
		return nil, errspkg.NewConfigurationError(fmt.Errorf("handlers: router table is required"))
	}
	if container == nil {
		return nil, errspkg.NewConfigurationError(errspkg.ErrContainerRequired)
	}
	if bus == nil {
		return nil, errspkg.NewConfigurationError(fmt.Errorf("handlers: event bus is required"))
	}
	if logger == nil {
		return nil, errspkg.NewConfigurationError(errspkg.ErrLoggerRequired)
	}
	return &Invoker{routes: routes, container: container, bus: bus, logger: logger}, nil
}

// Listener adapts the invoker to the handler event.
func (i *Invoker) Listener() events.Listener {
	return events.On(func(ctx context.Context, evt events.Handler) (any, error) {
		return i.Run(ctx, evt)
	})
}

// Run executes one request. Errors are returned unchanged apart from
// protocol failures, which are wrapped as ConnectionFatal. A panic anywhere
// in the request becomes a plain error after any open transaction has been
// rolled back.
func (i *Invoker) Run(ctx context.Context, evt events.Handler) (reply *router.Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			reply = nil
			err = pkgerrors.Errorf("handler request panicked: %v", r)
		}
	}()
	if evt.Packet == nil {
		return nil, errspkg.ConnectionFatalf(errspkg.ErrInvalidPacket, "no packet")
	}
	action := evt.Packet.Action()
	entry, ok := i.routes.Resolve(action)
	if !ok {
		return nil, errspkg.ConnectionFatalf(errspkg.ErrNoRoute, "action %d", action)
	}

	msg, envelope, err := i.decode(ctx, entry, evt.Packet.Message())
	if err != nil {
		return nil, err
	}

	keywords, err := i.container.Keywords(ctx, entry.Handler, entry.Method)
	if err != nil {
		return nil, err
	}
	defer release(keywords.Extra)

	instance, err := i.container.Get(ctx, entry.Handler, evt.TraceID, evt.SpanID, keywords.Extra)
	if err != nil {
		return nil, err
	}
	if isNil(instance) {
		return nil, errspkg.ConnectionFatalf(errspkg.ErrHandlerContract, "%s resolved to nil", entry.Handler)
	}
	handler, ok := instance.(Handler)
	if !ok {
		return nil, errspkg.ConnectionFatalf(errspkg.ErrHandlerContract, "%s is %T", entry.Handler, instance)
	}
	handler.SetClientIP(evt.ClientIP)

	ctx = WithTraceID(WithConnectionID(ctx, evt.ConnectionID), evt.TraceID)
	call := func(ctx context.Context) (*router.Reply, error) {
		return guard(entry, func() (*router.Reply, error) {
			return i.trigger(ctx, entry, instance, msg, evt)
		})
	}

	if keywords.OpenTransaction {
		reply, err = i.inTransaction(ctx, keywords, entry, msg, envelope, call)
	} else {
		reply, err = call(ctx)
	}
	if err != nil {
		return nil, err
	}

	if reply == nil {
		reply = &router.Reply{}
	}
	reply.Handler = entry.Handler
	reply.Method = entry.Method
	reply.Params = codec.Describe(msg)
	if envelope != nil {
		reply.Envelope = codec.Describe(envelope)
	}
	return reply, nil
}

func (i *Invoker) decode(ctx context.Context, entry router.Entry, payload []byte) (msg any, envelope any, err error) {
	c := entry.MessageCodec()
	data := payload

	if entry.NewEnvelope != nil {
		envelope = entry.NewEnvelope()
		if err := unmarshal(c, payload, envelope); err != nil {
			return nil, nil, errspkg.ConnectionFatalf(errspkg.ErrInvalidPacket, "envelope %T: %v", envelope, err)
		}
		if i.bus.Listened(events.KindEncrypt) {
			res, err := i.bus.DispatchWithReturn(ctx, events.Encrypt{Envelope: envelope})
			if err != nil {
				return nil, nil, err
			}
			switch v := res.Value.(type) {
			case []byte:
				data = v
			case string:
				data = []byte(v)
			default:
				return nil, nil, errspkg.ConnectionFatalf(errspkg.ErrInvalidPacket, "encrypt listener returned %T", res.Value)
			}
		}
	}

	msg = entry.NewMessage()
	if err := unmarshal(c, data, msg); err != nil {
		return nil, nil, errspkg.ConnectionFatalf(errspkg.ErrInvalidPacket, "message %T: %v", msg, err)
	}
	return msg, envelope, nil
}

func unmarshal(c codec.MessageCodec, data []byte, target any) error {
	if len(data) == 0 {
		return nil
	}
	return c.Unmarshal(data, target)
}

// trigger calls the method, through the run_handler listener when one is
// registered.
func (i *Invoker) trigger(ctx context.Context, entry router.Entry, instance any, msg any, evt events.Handler) (*router.Reply, error) {
	next := func(ctx context.Context) (*router.Reply, error) {
		return invoke(ctx, entry, instance, msg)
	}
	if !i.bus.Listened(events.KindRunHandler) {
		return next(ctx)
	}

	res, err := i.bus.DispatchWithReturn(ctx, events.RunHandler{
		Instance:     instance,
		Handler:      entry.Handler,
		Method:       entry.Method,
		Message:      msg,
		ConnectionID: evt.ConnectionID,
		TraceID:      evt.TraceID,
		Next:         next,
	})
	if err != nil {
		return nil, err
	}
	reply, _ := res.Value.(*router.Reply)
	return reply, nil
}

func invoke(ctx context.Context, entry router.Entry, instance any, msg any) (*router.Reply, error) {
	return guard(entry, func() (*router.Reply, error) {
		return entry.Invoke(ctx, instance, msg)
	})
}

// guard turns a panic in fn into an error naming the handler method.
func guard(entry router.Entry, fn func() (*router.Reply, error)) (reply *router.Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			reply = nil
			err = pkgerrors.Errorf("%s.%s panicked: %v", entry.Handler, entry.Method, r)
		}
	}()
	return fn()
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func (i *Invoker) inTransaction(ctx context.Context, keywords Keywords, entry router.Entry, msg, envelope any, call func(context.Context) (*router.Reply, error)) (*router.Reply, error) {
	if keywords.Database == nil {
		return nil, errspkg.NewConfigurationError(fmt.Errorf("%w: %s.%s", errspkg.ErrDatabaseRequired, entry.Handler, entry.Method))
	}
	tx, err := keywords.Database.BeginTx(ctx, keywords.TxOptions)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "begin transaction")
	}

	reply, err := call(WithTx(ctx, tx))
	if err != nil {
		rbErr := tx.Rollback()
		fields := loggingpkg.LogFields{
			"handler": entry.Handler,
			"method":  entry.Method,
			"params":  codec.Describe(msg),
			"error":   err.Error(),
		}
		if envelope != nil {
			fields["envelope"] = codec.Describe(envelope)
		}
		if rbErr != nil && rbErr != sql.ErrTxDone {
			fields["rollback_error"] = rbErr.Error()
		}
		i.logger.Error("handler transaction rolled back", err, fields)
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, pkgerrors.Wrap(err, "commit transaction")
	}
	return reply, nil
}

func release(extra map[string]any) {
	for _, value := range extra {
		if c, ok := value.(Collector); ok && c != nil {
			c.Collect()
		}
	}
}
