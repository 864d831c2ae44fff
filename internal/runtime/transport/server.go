// Package transport runs the TCP listener: it accepts connections, reads
// one frame at a time per connection and hands complete packets to a
// Handler.
package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	pkgerrors "github.com/pkg/errors"

	errspkg "github.com/drblury/tcpflow/internal/runtime/errors"
	"github.com/drblury/tcpflow/internal/runtime/frame"
	loggingpkg "github.com/drblury/tcpflow/internal/runtime/logging"
)

// Handler receives connection lifecycle callbacks. Callbacks for a single
// connection never run concurrently.
type Handler interface {
	// OnConnect runs before the first read. A non-nil error closes the
	// connection without calling OnClose.
	OnConnect(ctx context.Context, conn *Conn) error
	// OnReceive gets one complete packet, header included. A non-nil
	// error closes the connection.
	OnReceive(ctx context.Context, conn *Conn, packet []byte) error
	OnClose(ctx context.Context, conn *Conn)
}

// Server accepts TCP connections for a Handler.
type Server struct {
	addr      string
	handler   Handler
	logger    loggingpkg.ServiceLogger
	maxLength uint32

	mu     sync.RWMutex
	ln     net.Listener
	conns  map[uint64]*Conn
	nextID atomic.Uint64
	wg     sync.WaitGroup
}

type Option func(*Server)

// WithMaxPackageLength caps inbound frames and sizes outbound chunks. Values
// of zero or above frame.MaxLength are ignored.
func WithMaxPackageLength(n uint32) Option {
	return func(s *Server) {
		if n > 0 && n <= frame.MaxLength {
			s.maxLength = n
		}
	}
}

func NewServer(addr string, handler Handler, logger loggingpkg.ServiceLogger, opts ...Option) (*Server, error) {
	if handler == nil {
		return nil, errspkg.NewConfigurationError(errspkg.ErrHandlerRequired)
	}
	if logger == nil {
		return nil, errspkg.NewConfigurationError(errspkg.ErrLoggerRequired)
	}
	s := &Server{
		addr:      addr,
		handler:   handler,
		logger:    logger,
		maxLength: frame.MaxLength,
		conns:     make(map[uint64]*Conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Listen binds the listening socket. Serve calls it when needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// Addr is the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve runs the accept loop until ctx is cancelled or Shutdown is called.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.RLock()
	ln := s.ln
	s.mu.RUnlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()

	s.logger.Info("tcp server listening", loggingpkg.LogFields{"address": ln.Addr().String()})
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		conn := newConn(s.nextID.Add(1), nc, int(s.maxLength))
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn *Conn) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tcp connection handler panicked", pkgerrors.Errorf("panic: %v", r), loggingpkg.LogFields{
				"connection_id": conn.ID(),
			})
		}
	}()
	defer conn.Close()

	if err := s.handler.OnConnect(ctx, conn); err != nil {
		return
	}
	s.track(conn)
	defer func() {
		s.untrack(conn)
		s.handler.OnClose(ctx, conn)
	}()

	reader := bufio.NewReader(conn)
	for {
		f, err := frame.ReadFrame(reader, s.maxLength)
		if err != nil {
			if !isDisconnect(err) {
				s.logger.Debug("tcp frame rejected", loggingpkg.LogFields{
					"connection_id": conn.ID(),
					"error":         err.Error(),
				})
			}
			return
		}
		if err := s.handler.OnReceive(ctx, conn, f.Bytes()); err != nil {
			return
		}
	}
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, frame.ErrShortHeader)
}

func (s *Server) track(conn *Conn) {
	s.mu.Lock()
	s.conns[conn.ID()] = conn
	s.mu.Unlock()
}

func (s *Server) untrack(conn *Conn) {
	s.mu.Lock()
	delete(s.conns, conn.ID())
	s.mu.Unlock()
}

// Conn looks up an open connection.
func (s *Server) Conn(id uint64) (*Conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[id]
	return c, ok
}

func (s *Server) Exists(id uint64) bool {
	_, ok := s.Conn(id)
	return ok
}

// Count returns the number of open connections.
func (s *Server) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Send writes packet to connection id.
func (s *Server) Send(id uint64, packet []byte) error {
	c, ok := s.Conn(id)
	if !ok {
		return errspkg.ConnectionFatalf(errspkg.ErrConnectionNotFound, "connection %d", id)
	}
	return c.Send(packet)
}

// CloseConn closes connection id. It reports whether the connection was
// open.
func (s *Server) CloseConn(id uint64) bool {
	c, ok := s.Conn(id)
	if !ok {
		return false
	}
	_ = c.Close()
	return true
}

// Shutdown stops accepting, closes every connection and waits for the
// connection goroutines until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	open := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		open = append(open, c)
	}
	s.mu.Unlock()

	for _, c := range open {
		_ = c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
