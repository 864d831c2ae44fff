package runtime

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	errspkg "github.com/drblury/tcpflow/internal/runtime/errors"
	"github.com/drblury/tcpflow/internal/runtime/events"
	loggingpkg "github.com/drblury/tcpflow/internal/runtime/logging"
	"github.com/drblury/tcpflow/internal/runtime/router"
)

// RunHandlerFunc runs one handler call described by a run_handler event.
type RunHandlerFunc func(ctx context.Context, evt events.RunHandler) (*router.Reply, error)

// RunHandlerMiddleware wraps a RunHandlerFunc with cross-cutting behaviour.
type RunHandlerMiddleware func(next RunHandlerFunc) RunHandlerFunc

// ChainRunHandlers builds a run_handler listener. The first middleware is
// the outermost; the innermost step calls the handler method.
func ChainRunHandlers(middlewares ...RunHandlerMiddleware) events.Listener {
	h := RunHandlerFunc(func(ctx context.Context, evt events.RunHandler) (*router.Reply, error) {
		return evt.Next(ctx)
	})
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] != nil {
			h = middlewares[i](h)
		}
	}
	return events.On(func(ctx context.Context, evt events.RunHandler) (any, error) {
		return h(ctx, evt)
	})
}

// DefaultMiddlewares returns the tracer and logging wrappers.
func DefaultMiddlewares(logger loggingpkg.ServiceLogger) []RunHandlerMiddleware {
	return []RunHandlerMiddleware{
		TracerMiddleware(),
		LogCallsMiddleware(logger),
	}
}

// TracerMiddleware wraps every handler call in an OpenTelemetry span.
func TracerMiddleware() RunHandlerMiddleware {
	tracer := otel.Tracer(tracerName)
	return func(next RunHandlerFunc) RunHandlerFunc {
		return func(ctx context.Context, evt events.RunHandler) (*router.Reply, error) {
			ctx, span := tracer.Start(ctx, evt.Handler+"."+evt.Method)
			defer span.End()

			span.SetAttributes(
				attribute.String("tcpflow.handler", evt.Handler),
				attribute.String("tcpflow.method", evt.Method),
				attribute.String("tcpflow.trace_id", evt.TraceID),
			)
			reply, err := next(ctx, evt)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return reply, err
		}
	}
}

// LogCallsMiddleware logs every handler call at debug level.
func LogCallsMiddleware(logger loggingpkg.ServiceLogger) RunHandlerMiddleware {
	if logger == nil {
		logger = loggingpkg.NopLogger()
	}
	return func(next RunHandlerFunc) RunHandlerFunc {
		return func(ctx context.Context, evt events.RunHandler) (*router.Reply, error) {
			start := time.Now()
			reply, err := next(ctx, evt)
			fields := loggingpkg.LogFields{
				"handler":       evt.Handler,
				"method":        evt.Method,
				"trace_id":      evt.TraceID,
				"connection_id": evt.ConnectionID,
				"duration_ms":   time.Since(start).Milliseconds(),
			}
			if err != nil {
				fields["error"] = err.Error()
			}
			logger.Debug("handler called", fields)
			return reply, err
		}
	}
}

// MetricsMiddleware records call counts and durations per handler method.
func MetricsMiddleware(metrics *HandlerMetrics) RunHandlerMiddleware {
	return func(next RunHandlerFunc) RunHandlerFunc {
		return func(ctx context.Context, evt events.RunHandler) (*router.Reply, error) {
			done := metrics.Start(evt.Handler)
			defer done()
			start := time.Now()
			reply, err := next(ctx, evt)
			metrics.Observe(evt.Handler, evt.Method, time.Since(start), err)
			return reply, err
		}
	}
}

// HooksMiddleware calls hooks around every handler call.
func HooksMiddleware(hooks CallHooks) RunHandlerMiddleware {
	return func(next RunHandlerFunc) RunHandlerFunc {
		return func(ctx context.Context, evt events.RunHandler) (*router.Reply, error) {
			call := CallContext{
				Handler:      evt.Handler,
				Method:       evt.Method,
				ConnectionID: evt.ConnectionID,
				TraceID:      evt.TraceID,
				Context:      ctx,
				StartedAt:    time.Now(),
			}
			if hooks.OnCallStart != nil {
				hooks.OnCallStart(call)
			}

			reply, err := next(ctx, evt)

			call.Duration = time.Since(call.StartedAt)
			if err != nil {
				if hooks.OnCallError != nil {
					hooks.OnCallError(call, err)
				}
			} else if hooks.OnCallDone != nil {
				hooks.OnCallDone(call)
			}
			return reply, err
		}
	}
}

// ACLMiddleware rejects calls for which allow returns false with a
// BusinessError carrying code.
func ACLMiddleware(code int, allow func(ctx context.Context, evt events.RunHandler) bool) RunHandlerMiddleware {
	return func(next RunHandlerFunc) RunHandlerFunc {
		return func(ctx context.Context, evt events.RunHandler) (*router.Reply, error) {
			if allow != nil && !allow(ctx, evt) {
				return nil, errspkg.NewBusinessError(code, "access denied")
			}
			return next(ctx, evt)
		}
	}
}
