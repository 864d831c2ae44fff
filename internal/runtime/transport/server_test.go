package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/tcpflow/internal/runtime/errors"
	"github.com/drblury/tcpflow/internal/runtime/frame"
	loggingpkg "github.com/drblury/tcpflow/internal/runtime/logging"
)

type echoHandler struct {
	mu         sync.Mutex
	connected  []uint64
	closed     chan uint64
	rejectNext bool
	server     *Server
}

func newEchoHandler() *echoHandler {
	return &echoHandler{closed: make(chan uint64, 8)}
}

func (h *echoHandler) OnConnect(ctx context.Context, conn *Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rejectNext {
		return errors.New("rejected")
	}
	h.connected = append(h.connected, conn.ID())
	return nil
}

func (h *echoHandler) OnReceive(ctx context.Context, conn *Conn, packet []byte) error {
	f, err := frame.Parse(packet, 0)
	if err != nil {
		return err
	}
	switch string(f.Body) {
	case "quit":
		return errors.New("quit")
	case "panic":
		panic("receive blew up")
	}
	return h.server.Send(conn.ID(), packet)
}

func (h *echoHandler) OnClose(ctx context.Context, conn *Conn) {
	h.closed <- conn.ID()
}

func startServer(t *testing.T, h *echoHandler, opts ...Option) *Server {
	t.Helper()
	srv, err := NewServer("127.0.0.1:0", h, loggingpkg.NopLogger(), opts...)
	require.NoError(t, err)
	h.server = srv
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = srv.Shutdown(context.Background())
		assert.NoError(t, <-done)
	})
	return srv
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	return c
}

func TestServerEchoesFrames(t *testing.T) {
	h := newEchoHandler()
	srv := startServer(t, h)
	c := dial(t, srv)

	reader := bufio.NewReader(c)
	for _, body := range []string{"hello", "world"} {
		packet, err := frame.Encode([]byte(body))
		require.NoError(t, err)
		_, err = c.Write(packet)
		require.NoError(t, err)

		got, err := frame.ReadFrame(reader, 0)
		require.NoError(t, err)
		assert.Equal(t, body, string(got.Body))
	}

	assert.Eventually(t, func() bool { return srv.Count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestServerClosesOnHandlerError(t *testing.T) {
	h := newEchoHandler()
	srv := startServer(t, h)
	c := dial(t, srv)

	packet, _ := frame.Encode([]byte("quit"))
	_, err := c.Write(packet)
	require.NoError(t, err)

	select {
	case id := <-h.closed:
		assert.False(t, srv.Exists(id))
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not closed")
	}
	_, err = c.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestServerSurvivesHandlerPanic(t *testing.T) {
	h := newEchoHandler()
	srv := startServer(t, h)
	c := dial(t, srv)

	packet, _ := frame.Encode([]byte("panic"))
	_, err := c.Write(packet)
	require.NoError(t, err)

	select {
	case id := <-h.closed:
		assert.False(t, srv.Exists(id))
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not closed")
	}
	_, err = c.Read(make([]byte, 1))
	assert.Error(t, err)

	other := dial(t, srv)
	packet, _ = frame.Encode([]byte("still up"))
	_, err = other.Write(packet)
	require.NoError(t, err)
	got, err := frame.ReadFrame(bufio.NewReader(other), 0)
	require.NoError(t, err)
	assert.Equal(t, "still up", string(got.Body))
}

func TestServerRejectsOversizedFrame(t *testing.T) {
	h := newEchoHandler()
	srv := startServer(t, h, WithMaxPackageLength(64))
	c := dial(t, srv)

	header := make([]byte, frame.HeaderLength)
	binary.BigEndian.PutUint32(header[frame.LengthOffset:], 65)
	_, err := c.Write(header)
	require.NoError(t, err)

	select {
	case <-h.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("oversized frame did not close the connection")
	}
}

func TestServerRejectedConnect(t *testing.T) {
	h := newEchoHandler()
	h.rejectNext = true
	srv := startServer(t, h)
	c := dial(t, srv)

	_, err := c.Read(make([]byte, 1))
	assert.Error(t, err)
	assert.Equal(t, 0, srv.Count())
	select {
	case <-h.closed:
		t.Fatal("OnClose must not run for a rejected connection")
	default:
	}
}

func TestSendUnknownConnection(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", newEchoHandler(), loggingpkg.NopLogger())
	require.NoError(t, err)

	err = srv.Send(42, []byte("x"))
	assert.True(t, errspkg.IsConnectionFatal(err))
	assert.ErrorIs(t, err, errspkg.ErrConnectionNotFound)
	assert.False(t, srv.CloseConn(42))
}

func TestConnSendChunks(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	conn := newConn(1, server, 4)

	payload := []byte("0123456789")
	go func() { _ = conn.Send(payload) }()

	buf := make([]byte, 0, len(payload))
	tmp := make([]byte, 16)
	for len(buf) < len(payload) {
		n, err := client.Read(tmp)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, 4)
		buf = append(buf, tmp[:n]...)
	}
	assert.Equal(t, payload, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(":0", nil, loggingpkg.NopLogger())
	assert.True(t, errspkg.IsConfigurationError(err))

	_, err = NewServer(":0", newEchoHandler(), nil)
	assert.True(t, errspkg.IsConfigurationError(err))

	srv, err := NewServer(":0", newEchoHandler(), loggingpkg.NopLogger(), WithMaxPackageLength(frame.MaxLength+1))
	require.NoError(t, err)
	assert.Equal(t, frame.MaxLength, srv.maxLength)

	srv, err = NewServer(":0", newEchoHandler(), loggingpkg.NopLogger(), WithMaxPackageLength(1024))
	require.NoError(t, err)
	assert.Equal(t, uint32(1024), srv.maxLength)
}
