package runtime

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/tcpflow/internal/runtime/codec"
	errspkg "github.com/drblury/tcpflow/internal/runtime/errors"
	"github.com/drblury/tcpflow/internal/runtime/events"
	loggingpkg "github.com/drblury/tcpflow/internal/runtime/logging"
	"github.com/drblury/tcpflow/internal/runtime/monitor"
	"github.com/drblury/tcpflow/internal/runtime/router"
	"github.com/drblury/tcpflow/internal/runtime/transport"
)

// connHandler adapts the Service to the transport callbacks.
type connHandler struct {
	s *Service
}

func (h *connHandler) OnConnect(ctx context.Context, conn *transport.Conn) error {
	return h.s.connect(ctx, conn)
}

func (h *connHandler) OnReceive(ctx context.Context, conn *transport.Conn, packet []byte) error {
	return h.s.receive(ctx, conn, packet)
}

func (h *connHandler) OnClose(ctx context.Context, conn *transport.Conn) {
	h.s.close(ctx, conn)
}

// connect dispatches the connect event. Any listener error refuses the
// connection; only the log line depends on the error class.
func (s *Service) connect(ctx context.Context, conn *transport.Conn) error {
	err := s.bus.Dispatch(ctx, events.Connect{
		ConnectionID: conn.ID(),
		RemoteAddr:   conn.RemoteAddr().String(),
	})
	if err == nil {
		return nil
	}
	if _, ok := errspkg.AsBusinessError(err); ok {
		s.errLog.WriteBusinessErrorLog(loggingpkg.Here(), err, "")
	} else if !errspkg.IsConnectionFatal(err) {
		s.errLog.WriteExceptionLog(loggingpkg.Here(), err, "")
	}
	return err
}

func (s *Service) close(ctx context.Context, conn *transport.Conn) {
	if err := s.bus.Dispatch(ctx, events.Close{ConnectionID: conn.ID()}); err != nil {
		s.errLog.WriteExceptionLog(loggingpkg.Here(), err, "")
	}
}

// receive runs one request through unpack, dispatch and send. The monitor
// record is emitted before it returns; a non-nil error makes the transport
// close the connection afterwards. A panic in a listener closes the
// connection and is recorded as connection_close_exception.
func (s *Service) receive(ctx context.Context, conn *transport.Conn, packet []byte) (err error) {
	req := monitor.NewRequest(s.Conf.Name, conn.ID(), conn.ClientIP(), packet, s.now())

	ctx, span := s.tracer.Start(ctx, "tcpflow.receive",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("tcpflow.trace_id", req.TraceID),
			attribute.Int64("tcpflow.connection_id", int64(conn.ID())),
			attribute.String("net.peer.ip", req.ClientIP),
		))
	defer func() {
		span.SetAttributes(
			attribute.Int("tcpflow.action", req.Action),
			attribute.String("tcpflow.outcome", string(req.Outcome)),
		)
		if req.Err != "" {
			span.SetStatus(codes.Error, req.Err)
		}
		span.End()
	}()
	defer s.emitMonitor(ctx, req)
	defer func() {
		if r := recover(); r != nil {
			err = errspkg.NewConnectionFatal(pkgerrors.Errorf("request panicked: %v", r))
			req.Fail(monitor.OutcomeConnectionClose, err)
			s.errLog.WriteExceptionLog(loggingpkg.Here(), err, req.TraceID)
		}
	}()

	reply, err := s.process(ctx, req)
	if err != nil {
		return err
	}
	if reply == nil || !reply.HasResponse() {
		return nil
	}

	req.Response = codec.Describe(reply.Message)
	if _, err := s.Send(ctx, reply.Message, reply.Action, conn.ID()); err != nil {
		s.errLog.WriteExceptionLog(loggingpkg.Here(), err, req.TraceID)
		req.Fail(monitor.OutcomeConnectionClose, err)
		return err
	}
	return nil
}

// process unpacks and dispatches the request. It returns an error only
// when the connection must be closed.
func (s *Service) process(ctx context.Context, req *monitor.Request) (*router.Reply, error) {
	pkt, ok, err := events.DispatchAs[codec.Packet](ctx, s.bus, events.Unpack{Packet: req.Packet})
	if err != nil || !ok || pkt == nil {
		s.errLog.WriteErrorLog(loggingpkg.Here(), "data is error")
		if err == nil {
			err = errspkg.ConnectionFatalf(errspkg.ErrInvalidPacket, "unpack produced no packet")
		} else if !errspkg.IsConnectionFatal(err) {
			err = errspkg.NewConnectionFatal(err)
		}
		req.Fail(monitor.OutcomeConnectionClose, err)
		return nil, err
	}
	req.Action = pkt.Action()

	reply, _, err := events.DispatchAs[*router.Reply](ctx, s.bus, events.Handler{
		Packet:       pkt,
		ConnectionID: req.ConnectionID,
		ClientIP:     req.ClientIP,
		TraceID:      req.TraceID,
		SpanID:       req.SpanID,
	})
	if err == nil {
		if reply != nil {
			req.Class = reply.Handler
			req.Method = reply.Method
			req.Params = reply.Params
		}
		return reply, nil
	}

	if errspkg.IsConnectionFatal(err) {
		if errors.Is(err, errspkg.ErrNoRoute) || errors.Is(err, errspkg.ErrInvalidPacket) {
			s.errLog.WriteErrorLog(loggingpkg.Here(), "data is error")
		}
		s.errLog.WriteExceptionLog(loggingpkg.Here(), err, req.TraceID)
		req.Fail(monitor.OutcomeConnectionClose, err)
		return nil, err
	}

	if _, ok := errspkg.AsBusinessError(err); ok {
		req.Fail(monitor.OutcomeBusiness, err)
		s.errLog.WriteBusinessErrorLog(loggingpkg.Here(), err, req.TraceID)
		return s.businessReply(ctx, req, err), nil
	}

	req.Fail(monitor.OutcomeError, err)
	s.errLog.WriteExceptionLog(loggingpkg.Here(), err, req.TraceID)
	return nil, nil
}

// businessReply asks the error listener for a reply. A *router.Reply is sent
// under its own action, zero included; any other value is sent under the
// request action.
func (s *Service) businessReply(ctx context.Context, req *monitor.Request, cause error) *router.Reply {
	if !s.bus.Listened(events.KindError) {
		return nil
	}
	res, err := s.bus.DispatchWithReturn(ctx, events.Error{Err: cause})
	if err != nil {
		s.errLog.WriteExceptionLog(loggingpkg.Here(), err, req.TraceID)
		return nil
	}
	switch v := res.Value.(type) {
	case nil:
		return nil
	case *router.Reply:
		return v
	default:
		return router.Respond(req.Action, v)
	}
}

func (s *Service) emitMonitor(ctx context.Context, req *monitor.Request) {
	if s.Conf.DisableMonitor {
		return
	}
	record := req.Record(s.now())
	if err := s.bus.Dispatch(ctx, events.Monitor{Record: record}); err != nil {
		s.errLog.WriteExceptionLog(loggingpkg.Here(), err, req.TraceID)
	}
	if err := s.sinks.Write(ctx, record); err != nil {
		s.errLog.WriteExceptionLog(loggingpkg.Here(), err, req.TraceID)
	}
}
