package handlers_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/drblury/tcpflow/internal/runtime/codec"
	"github.com/drblury/tcpflow/internal/runtime/container"
	errspkg "github.com/drblury/tcpflow/internal/runtime/errors"
	"github.com/drblury/tcpflow/internal/runtime/events"
	"github.com/drblury/tcpflow/internal/runtime/handlers"
	"github.com/drblury/tcpflow/internal/runtime/router"
	"github.com/drblury/tcpflow/internal/testutil/logtest"
)

type Echo struct {
	handlers.Base
}

func (e *Echo) Reply(ctx context.Context, msg *wrapperspb.StringValue) (*router.Reply, error) {
	return router.Respond(7, wrapperspb.String("ok:"+msg.GetValue()+"@"+e.ClientIP())), nil
}

func (e *Echo) Fail(context.Context, *wrapperspb.StringValue) (*router.Reply, error) {
	return nil, errspkg.NewBusinessError(400, "invalid input")
}

func (e *Echo) Panic(context.Context, *wrapperspb.StringValue) (*router.Reply, error) {
	panic("boom")
}

type Ledger struct {
	handlers.Base
}

func (l *Ledger) Save(ctx context.Context, msg *wrapperspb.Int64Value) (*router.Reply, error) {
	tx, ok := handlers.Tx(ctx)
	if !ok {
		return nil, errors.New("no transaction")
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO ledger (amount) VALUES ($1)", msg.GetValue()); err != nil {
		return nil, err
	}
	if msg.GetValue() < 0 {
		return nil, errors.New("negative amount")
	}
	return router.Respond(5, wrapperspb.Bool(true)), nil
}

type notAHandler struct{}

type release struct{ count int }

func (r *release) Collect() { r.count++ }

type fixture struct {
	routes    *router.Table
	container *container.Container
	bus       *events.Bus
	logs      *logtest.Recorder
	invoker   *handlers.Invoker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		routes:    router.NewTable(),
		container: container.New(),
		bus:       events.NewBus(append(append([]events.Kind{}, events.ServerKinds...), events.AppKinds...)...),
		logs:      logtest.New(),
	}
	require.NoError(t, container.Register(f.container, func(context.Context, container.Scope) (*Echo, error) { return &Echo{}, nil }))
	require.NoError(t, container.Register(f.container, func(context.Context, container.Scope) (*Ledger, error) { return &Ledger{}, nil }))
	require.NoError(t, f.routes.AddRoute(7, router.MustRoute(7, "Reply", (*Echo).Reply)))
	require.NoError(t, f.routes.AddRoute(3, router.MustRoute(3, "Fail", (*Echo).Fail)))
	require.NoError(t, f.routes.AddRoute(4, router.MustRoute(4, "Panic", (*Echo).Panic)))
	require.NoError(t, f.routes.AddRoute(5, router.MustRoute(5, "Save", (*Ledger).Save)))

	inv, err := handlers.NewInvoker(f.routes, f.container, f.bus, f.logs)
	require.NoError(t, err)
	f.invoker = inv
	return f
}

func packet(t *testing.T, action int, msg proto.Message) codec.Packet {
	t.Helper()
	payload, err := proto.Marshal(msg)
	require.NoError(t, err)
	return codec.NewPacket(payload, action)
}

func TestInvokerSuccess(t *testing.T) {
	f := newFixture(t)

	reply, err := f.invoker.Run(context.Background(), events.Handler{
		Packet:   packet(t, 7, wrapperspb.String("hi")),
		ClientIP: "10.0.0.9",
		TraceID:  "trace",
	})
	require.NoError(t, err)
	require.True(t, reply.HasResponse())
	assert.Equal(t, 7, reply.Action)
	assert.Equal(t, "ok:hi@10.0.0.9", reply.Message.(*wrapperspb.StringValue).GetValue())
	assert.Equal(t, "Echo", reply.Handler)
	assert.Equal(t, "Reply", reply.Method)
	assert.JSONEq(t, `"hi"`, reply.Params)
	assert.Empty(t, reply.Envelope)
}

func TestInvokerNoRouteIsConnectionFatal(t *testing.T) {
	f := newFixture(t)

	_, err := f.invoker.Run(context.Background(), events.Handler{Packet: codec.NewPacket(nil, 999)})
	require.Error(t, err)
	assert.True(t, errspkg.IsConnectionFatal(err))
	assert.ErrorIs(t, err, errspkg.ErrNoRoute)
}

func TestInvokerHandlerContract(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.container.RegisterHandler("Echo", func(context.Context, container.Scope) (any, error) {
		return &notAHandler{}, nil
	}))

	_, err := f.invoker.Run(context.Background(), events.Handler{Packet: packet(t, 7, wrapperspb.String("hi"))})
	assert.True(t, errspkg.IsConnectionFatal(err))
	assert.ErrorIs(t, err, errspkg.ErrHandlerContract)
}

func TestInvokerDecodeFailureIsConnectionFatal(t *testing.T) {
	f := newFixture(t)

	_, err := f.invoker.Run(context.Background(), events.Handler{Packet: codec.NewPacket([]byte{0xff, 0xff, 0xff}, 7)})
	assert.True(t, errspkg.IsConnectionFatal(err))
	assert.ErrorIs(t, err, errspkg.ErrInvalidPacket)
}

func TestInvokerBusinessErrorPassesThrough(t *testing.T) {
	f := newFixture(t)

	_, err := f.invoker.Run(context.Background(), events.Handler{Packet: packet(t, 3, wrapperspb.String("x"))})
	busi, ok := errspkg.AsBusinessError(err)
	require.True(t, ok)
	assert.Equal(t, "invalid input", busi.Message)
	assert.False(t, errspkg.IsConnectionFatal(err))
}

func TestInvokerRecoversPanics(t *testing.T) {
	f := newFixture(t)

	_, err := f.invoker.Run(context.Background(), events.Handler{Packet: packet(t, 4, wrapperspb.String("x"))})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Echo.Panic panicked: boom")
	assert.False(t, errspkg.IsConnectionFatal(err))
}

func TestInvokerRollsBackWhenRunHandlerListenerPanics(t *testing.T) {
	f := newFixture(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	f.container.RegisterDatabase("ledger", db)
	f.container.Configure("Ledger", "Save", container.MethodOptions{OpenTransaction: true, Database: "ledger"})
	require.NoError(t, f.bus.Register(events.KindRunHandler, events.On(func(ctx context.Context, evt events.RunHandler) (any, error) {
		if _, err := evt.Next(ctx); err != nil {
			return nil, err
		}
		panic("metrics wrapper bug")
	})))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger").WithArgs(int64(10)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	reply, err := f.invoker.Run(context.Background(), events.Handler{Packet: packet(t, 5, wrapperspb.Int64(10))})
	require.Error(t, err)
	assert.Nil(t, reply)
	assert.Contains(t, err.Error(), "Ledger.Save panicked: metrics wrapper bug")
	assert.False(t, errspkg.IsConnectionFatal(err))
	assert.NoError(t, mock.ExpectationsWereMet())

	_, ok := f.logs.Find("handler transaction rolled back")
	assert.True(t, ok)
}

func TestInvokerRecoversFactoryPanic(t *testing.T) {
	f := newFixture(t)
	dep := &release{}
	f.container.Provide("conn", func(context.Context) (any, error) { return dep, nil })
	f.container.Configure("Echo", "Reply", container.MethodOptions{Inject: []string{"conn"}})
	require.NoError(t, f.container.RegisterHandler("Echo", func(context.Context, container.Scope) (any, error) {
		panic("factory broke")
	}))

	_, err := f.invoker.Run(context.Background(), events.Handler{Packet: packet(t, 7, wrapperspb.String("hi"))})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "factory broke")
	assert.False(t, errspkg.IsConnectionFatal(err))
	assert.Equal(t, 1, dep.count)
}

func TestInvokerRejectsNilHandlerInstance(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.container.RegisterHandler("Echo", func(context.Context, container.Scope) (any, error) {
		return (*Echo)(nil), nil
	}))

	_, err := f.invoker.Run(context.Background(), events.Handler{Packet: packet(t, 7, wrapperspb.String("hi"))})
	require.Error(t, err)
	assert.True(t, errspkg.IsConnectionFatal(err))
	assert.ErrorIs(t, err, errspkg.ErrHandlerContract)
}

func TestInvokerCommitsTransaction(t *testing.T) {
	f := newFixture(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	f.container.RegisterDatabase("ledger", db)
	f.container.Configure("Ledger", "Save", container.MethodOptions{OpenTransaction: true, Database: "ledger"})

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger").WithArgs(int64(10)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	reply, err := f.invoker.Run(context.Background(), events.Handler{Packet: packet(t, 5, wrapperspb.Int64(10))})
	require.NoError(t, err)
	assert.True(t, reply.Message.(*wrapperspb.BoolValue).GetValue())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvokerRollsBackBeforeLogging(t *testing.T) {
	f := newFixture(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	f.container.RegisterDatabase("", db)
	f.container.Configure("Ledger", "Save", container.MethodOptions{OpenTransaction: true})

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger").WithArgs(int64(-3)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	reply, err := f.invoker.Run(context.Background(), events.Handler{Packet: packet(t, 5, wrapperspb.Int64(-3))})
	require.Error(t, err)
	assert.Nil(t, reply)
	assert.EqualError(t, err, "negative amount")
	assert.NoError(t, mock.ExpectationsWereMet())

	entry, ok := f.logs.Find("handler transaction rolled back")
	require.True(t, ok)
	assert.Equal(t, "Ledger", entry.Fields["handler"])
	assert.Equal(t, "Save", entry.Fields["method"])
	assert.Equal(t, `"-3"`, entry.Fields["params"])
	assert.Equal(t, "negative amount", entry.Fields["error"])
}

func TestInvokerReleasesCollectors(t *testing.T) {
	f := newFixture(t)
	dep := &release{}
	f.container.Provide("conn", func(context.Context) (any, error) { return dep, nil })
	f.container.Configure("Echo", "Reply", container.MethodOptions{Inject: []string{"conn"}})
	f.container.Configure("Echo", "Fail", container.MethodOptions{Inject: []string{"conn"}})

	_, err := f.invoker.Run(context.Background(), events.Handler{Packet: packet(t, 7, wrapperspb.String("a"))})
	require.NoError(t, err)
	_, err = f.invoker.Run(context.Background(), events.Handler{Packet: packet(t, 3, wrapperspb.String("b"))})
	require.Error(t, err)

	assert.Equal(t, 2, dep.count)
}

func TestInvokerRunHandlerListenerWraps(t *testing.T) {
	f := newFixture(t)
	var seen events.RunHandler
	require.NoError(t, f.bus.Register(events.KindRunHandler, events.On(func(ctx context.Context, evt events.RunHandler) (any, error) {
		seen = evt
		return evt.Next(ctx)
	})))

	reply, err := f.invoker.Run(context.Background(), events.Handler{
		Packet:       packet(t, 7, wrapperspb.String("hi")),
		ConnectionID: 12,
		TraceID:      "trace",
	})
	require.NoError(t, err)
	assert.True(t, reply.HasResponse())
	assert.Equal(t, "Echo", seen.Handler)
	assert.Equal(t, "Reply", seen.Method)
	assert.Equal(t, uint64(12), seen.ConnectionID)
	assert.IsType(t, &Echo{}, seen.Instance)
}

func TestInvokerEnvelopeWithEncryptListener(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.routes.AddRoute(8, router.MustRoute(8, "Reply", (*Echo).Reply, router.WithEnvelope[*wrapperspb.BytesValue]())))
	require.NoError(t, f.bus.Register(events.KindEncrypt, events.On(func(_ context.Context, evt events.Encrypt) (any, error) {
		sealed := evt.Envelope.(*wrapperspb.BytesValue).GetValue()
		opened := make([]byte, len(sealed))
		for i, b := range sealed {
			opened[i] = b ^ 0x5a
		}
		return opened, nil
	})))

	inner, err := proto.Marshal(wrapperspb.String("secret"))
	require.NoError(t, err)
	for i := range inner {
		inner[i] ^= 0x5a
	}

	reply, err := f.invoker.Run(context.Background(), events.Handler{Packet: packet(t, 8, wrapperspb.Bytes(inner))})
	require.NoError(t, err)
	assert.Equal(t, "ok:secret@", reply.Message.(*wrapperspb.StringValue).GetValue())
	assert.NotEmpty(t, reply.Envelope)
}

func TestNewInvokerValidates(t *testing.T) {
	_, err := handlers.NewInvoker(router.NewTable(), nil, events.NewBus(), logtest.New())
	assert.ErrorIs(t, err, errspkg.ErrContainerRequired)
}
