package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/drblury/tcpflow/internal/runtime/codec"
	errspkg "github.com/drblury/tcpflow/internal/runtime/errors"
)

type echo struct{ prefix string }

func (e *echo) Reply(_ context.Context, msg *wrapperspb.StringValue) (*Reply, error) {
	return Respond(7, wrapperspb.String(e.prefix+msg.GetValue())), nil
}

type other struct{}

func TestNewRouteDerivesNames(t *testing.T) {
	entry, err := NewRoute(7, "Reply", (*echo).Reply)
	require.NoError(t, err)

	assert.Equal(t, 7, entry.Action)
	assert.Equal(t, "echo", entry.Handler)
	assert.Equal(t, "Reply", entry.Method)
	assert.Nil(t, entry.NewEnvelope)
	assert.Equal(t, codec.Default, entry.MessageCodec())

	first := entry.NewMessage()
	second := entry.NewMessage()
	assert.IsType(t, &wrapperspb.StringValue{}, first)
	assert.NotSame(t, first, second)
}

func TestNewRouteRequiresPointerMessage(t *testing.T) {
	_, err := NewRoute(1, "Do", func(*echo, context.Context, string) (*Reply, error) { return nil, nil })
	require.Error(t, err)
	assert.True(t, errspkg.IsConfigurationError(err))
	assert.ErrorIs(t, err, errspkg.ErrMessagePointer)
}

func TestNewRouteOptions(t *testing.T) {
	entry, err := NewRoute(2, "Reply", (*echo).Reply,
		WithEnvelope[*wrapperspb.BytesValue](),
		WithCodec(codec.JSON),
		WithHandlerName("Echo"),
	)
	require.NoError(t, err)

	assert.Equal(t, "Echo", entry.Handler)
	assert.Equal(t, codec.JSON, entry.MessageCodec())
	require.NotNil(t, entry.NewEnvelope)
	assert.IsType(t, &wrapperspb.BytesValue{}, entry.NewEnvelope())
}

func TestBindInvokesMethod(t *testing.T) {
	entry := MustRoute(7, "Reply", (*echo).Reply)

	reply, err := entry.Invoke(context.Background(), &echo{prefix: ">"}, wrapperspb.String("hi"))
	require.NoError(t, err)
	require.True(t, reply.HasResponse())
	assert.Equal(t, ">hi", reply.Message.(*wrapperspb.StringValue).GetValue())
}

func TestBindRejectsWrongInstance(t *testing.T) {
	entry := MustRoute(7, "Reply", (*echo).Reply)

	_, err := entry.Invoke(context.Background(), &other{}, wrapperspb.String("hi"))
	require.Error(t, err)
	assert.True(t, errspkg.IsConnectionFatal(err))
	assert.True(t, errors.Is(err, errspkg.ErrHandlerContract))
}

func TestTableLastRegistrationWins(t *testing.T) {
	table := NewTable()
	first := MustRoute(7, "Reply", (*echo).Reply)
	second := MustRoute(7, "Reply", (*echo).Reply, WithHandlerName("Second"))

	require.NoError(t, table.AddRoute(7, first))
	require.NoError(t, table.AddRoute(7, second))

	got, ok := table.Resolve(7)
	require.True(t, ok)
	assert.Equal(t, "Second", got.Handler)
	assert.Equal(t, 1, table.Len())
}

func TestTableRegisterIsStrict(t *testing.T) {
	table := NewTable()
	entry := MustRoute(7, "Reply", (*echo).Reply)

	require.NoError(t, table.Register(7, entry))
	err := table.Register(7, entry)
	require.Error(t, err)
	assert.True(t, errspkg.IsConfigurationError(err))
	assert.ErrorIs(t, err, errspkg.ErrRouteConflict)
}

func TestTableResolveMiss(t *testing.T) {
	table := NewTable()
	_, ok := table.Resolve(999)
	assert.False(t, ok)
}

func TestTableRejectsIncompleteEntry(t *testing.T) {
	table := NewTable()
	err := table.AddRoute(1, Entry{Handler: "Echo"})
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)
	assert.Equal(t, 0, table.Len())
}

func TestTableActionsSorted(t *testing.T) {
	table := NewTable()
	for _, action := range []int{9, 1, 5} {
		require.NoError(t, table.AddRoute(action, MustRoute(action, "Reply", (*echo).Reply)))
	}
	assert.Equal(t, []int{1, 5, 9}, table.Actions())
}
