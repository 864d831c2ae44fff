package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/tcpflow/internal/runtime/errors"
	"github.com/drblury/tcpflow/internal/runtime/events"
	"github.com/drblury/tcpflow/internal/runtime/router"
	"github.com/drblury/tcpflow/internal/testutil/logtest"
)

func TestHooksMiddlewareCallsHooks(t *testing.T) {
	var started, done, failed []CallContext
	hooks := CallHooks{
		OnCallStart: func(call CallContext) { started = append(started, call) },
		OnCallDone:  func(call CallContext) { done = append(done, call) },
		OnCallError: func(call CallContext, err error) { failed = append(failed, call) },
	}
	h := HooksMiddleware(hooks)(func(ctx context.Context, evt events.RunHandler) (*router.Reply, error) {
		time.Sleep(time.Millisecond)
		if evt.Method == "Fail" {
			return nil, errors.New("failed")
		}
		return nil, nil
	})

	_, err := h(context.Background(), events.RunHandler{Handler: "orders", Method: "Create", TraceID: "t1"})
	require.NoError(t, err)
	_, err = h(context.Background(), events.RunHandler{Handler: "orders", Method: "Fail"})
	require.Error(t, err)

	assert.Len(t, started, 2)
	require.Len(t, done, 1)
	assert.Equal(t, "t1", done[0].TraceID)
	assert.Positive(t, done[0].Duration)
	require.Len(t, failed, 1)
	assert.Equal(t, "Fail", failed[0].Method)
}

func TestCallHooksMerge(t *testing.T) {
	var order []string
	a := CallHooks{OnCallDone: func(CallContext) { order = append(order, "a") }}
	b := CallHooks{
		OnCallDone:  func(CallContext) { order = append(order, "b") },
		OnCallError: func(CallContext, error) { order = append(order, "b-error") },
	}

	merged := a.Merge(b)
	merged.OnCallDone(CallContext{})
	merged.OnCallError(CallContext{}, errors.New("x"))
	assert.Nil(t, merged.OnCallStart)
	assert.Equal(t, []string{"a", "b", "b-error"}, order)
}

func TestLoggingHooks(t *testing.T) {
	logs := logtest.New()
	hooks := LoggingHooks(logs)

	hooks.OnCallDone(CallContext{Handler: "orders", Method: "Create"})
	hooks.OnCallError(CallContext{Handler: "orders", Method: "Create"}, errspkg.NewBusinessError(400, "bad"))
	hooks.OnCallError(CallContext{Handler: "orders", Method: "Create"}, errors.New("boom"))

	entry, ok := logs.Find("handler call completed")
	require.True(t, ok)
	assert.Equal(t, "info", entry.Level)

	entry, ok = logs.Find("handler call rejected")
	require.True(t, ok)
	assert.Equal(t, "bad", entry.Fields["error"])

	entry, ok = logs.Find("handler call failed")
	require.True(t, ok)
	assert.Equal(t, "error", entry.Level)
	assert.EqualError(t, entry.Err, "boom")
}

func TestAlertingHooksSkipBusinessErrors(t *testing.T) {
	var alerts []error
	hooks := AlertingHooks(func(_ CallContext, err error) { alerts = append(alerts, err) })

	hooks.OnCallError(CallContext{}, errspkg.NewBusinessError(400, "bad"))
	hooks.OnCallError(CallContext{}, errors.New("boom"))

	require.Len(t, alerts, 1)
	assert.EqualError(t, alerts[0], "boom")
}
