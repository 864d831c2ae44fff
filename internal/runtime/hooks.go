package runtime

import (
	"context"
	"time"

	errspkg "github.com/drblury/tcpflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/tcpflow/internal/runtime/logging"
)

// CallContext describes one handler call to hooks.
type CallContext struct {
	Handler      string
	Method       string
	ConnectionID uint64
	TraceID      string
	Context      context.Context
	StartedAt    time.Time
	// Duration is only set for OnCallDone and OnCallError.
	Duration time.Duration
}

// CallHooks are optional callbacks around handler calls.
type CallHooks struct {
	OnCallStart func(call CallContext)
	OnCallDone  func(call CallContext)
	OnCallError func(call CallContext, err error)
}

// Merge returns hooks that run h first and then other.
func (h CallHooks) Merge(other CallHooks) CallHooks {
	return CallHooks{
		OnCallStart: chainHooks(h.OnCallStart, other.OnCallStart),
		OnCallDone:  chainHooks(h.OnCallDone, other.OnCallDone),
		OnCallError: chainErrorHooks(h.OnCallError, other.OnCallError),
	}
}

func chainHooks(a, b func(CallContext)) func(CallContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(call CallContext) {
		a(call)
		b(call)
	}
}

func chainErrorHooks(a, b func(CallContext, error)) func(CallContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(call CallContext, err error) {
		a(call, err)
		b(call, err)
	}
}

// LoggingHooks logs call completion. Business errors are logged at info
// level, anything else as an error.
func LoggingHooks(logger loggingpkg.ServiceLogger) CallHooks {
	return CallHooks{
		OnCallDone: func(call CallContext) {
			logger.Info("handler call completed", loggingpkg.LogFields{
				"handler":     call.Handler,
				"method":      call.Method,
				"trace_id":    call.TraceID,
				"duration_ms": call.Duration.Milliseconds(),
			})
		},
		OnCallError: func(call CallContext, err error) {
			fields := loggingpkg.LogFields{
				"handler":     call.Handler,
				"method":      call.Method,
				"trace_id":    call.TraceID,
				"duration_ms": call.Duration.Milliseconds(),
			}
			if _, ok := errspkg.AsBusinessError(err); ok {
				fields["error"] = err.Error()
				logger.Info("handler call rejected", fields)
				return
			}
			logger.Error("handler call failed", err, fields)
		},
	}
}

// AlertingHooks calls alert for every failed call that is not a business
// error.
func AlertingHooks(alert func(call CallContext, err error)) CallHooks {
	return CallHooks{
		OnCallError: func(call CallContext, err error) {
			if _, ok := errspkg.AsBusinessError(err); ok {
				return
			}
			alert(call, err)
		},
	}
}
