package events

import (
	"context"

	"github.com/drblury/tcpflow/internal/runtime/codec"
	"github.com/drblury/tcpflow/internal/runtime/monitor"
	"github.com/drblury/tcpflow/internal/runtime/router"
)

type stopped struct{}

func (stopped) IsPropagationStopped() bool { return true }

// Unpack asks for the raw packet to be decoded into a codec.Packet.
type Unpack struct {
	stopped
	Packet []byte
}

func (Unpack) Kind() Kind { return KindUnpack }

// Pack asks for a message to be encoded into wire bytes under Action.
type Pack struct {
	stopped
	Message any
	Action  int
}

func (Pack) Kind() Kind { return KindPack }

type Connect struct {
	stopped
	ConnectionID uint64
	RemoteAddr   string
}

func (Connect) Kind() Kind { return KindConnect }

type Close struct {
	stopped
	ConnectionID uint64
}

func (Close) Kind() Kind { return KindClose }

// Handler carries a decoded packet to the handler invoker.
type Handler struct {
	stopped
	Packet       codec.Packet
	ConnectionID uint64
	ClientIP     string
	TraceID      string
	SpanID       string
}

func (Handler) Kind() Kind { return KindHandler }

// Error lets the application turn a business error into a reply.
type Error struct {
	stopped
	Err error
}

func (Error) Kind() Kind { return KindError }

type Monitor struct {
	stopped
	Record monitor.Record
}

func (Monitor) Kind() Kind { return KindMonitor }

// RunHandler wraps the call of a handler method. Listeners call Next to
// run the method itself.
type RunHandler struct {
	stopped
	Instance     any
	Handler      string
	Method       string
	Message      any
	ConnectionID uint64
	TraceID      string
	Next         func(ctx context.Context) (*router.Reply, error)
}

func (RunHandler) Kind() Kind { return KindRunHandler }

// Encrypt turns a decoded envelope into the bytes of the inner message.
type Encrypt struct {
	stopped
	Envelope any
}

func (Encrypt) Kind() Kind { return KindEncrypt }

type InitPool struct {
	stopped
}

func (InitPool) Kind() Kind { return KindInitPool }

// PipeMessage is a message received from another worker.
type PipeMessage struct {
	stopped
	Path    string
	Method  string
	Args    []any
	TraceID string
}

func (PipeMessage) Kind() Kind { return KindPipeMessage }
