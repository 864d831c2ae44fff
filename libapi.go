package tcpflow

import (
	"context"

	runtimepkg "github.com/drblury/tcpflow/internal/runtime"
	"github.com/drblury/tcpflow/internal/runtime/codec"
	configpkg "github.com/drblury/tcpflow/internal/runtime/config"
	containerpkg "github.com/drblury/tcpflow/internal/runtime/container"
	errspkg "github.com/drblury/tcpflow/internal/runtime/errors"
	"github.com/drblury/tcpflow/internal/runtime/events"
	"github.com/drblury/tcpflow/internal/runtime/frame"
	handlerpkg "github.com/drblury/tcpflow/internal/runtime/handlers"
	idspkg "github.com/drblury/tcpflow/internal/runtime/ids"
	"github.com/drblury/tcpflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/tcpflow/internal/runtime/logging"
	"github.com/drblury/tcpflow/internal/runtime/monitor"
	"github.com/drblury/tcpflow/internal/runtime/pool"
	"github.com/drblury/tcpflow/internal/runtime/router"
	"github.com/drblury/tcpflow/pipe"
)

type (
	Config              = configpkg.Config
	DatabaseConfig      = configpkg.DatabaseConfig
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies

	Reply       = router.Reply
	Route       = router.Entry
	RouteOption = router.Option
	RouteTable  = router.Table

	Packet       = codec.Packet
	MessageCodec = codec.MessageCodec

	EventKind        = events.Kind
	Event            = events.Event
	Listener         = events.Listener
	UnpackEvent      = events.Unpack
	PackEvent        = events.Pack
	ConnectEvent     = events.Connect
	CloseEvent       = events.Close
	HandlerEvent     = events.Handler
	ErrorEvent       = events.Error
	MonitorEvent     = events.Monitor
	RunHandlerEvent  = events.RunHandler
	EncryptEvent     = events.Encrypt
	InitPoolEvent    = events.InitPool
	PipeMessageEvent = events.PipeMessage

	Handler      = handlerpkg.Handler
	BaseHandler  = handlerpkg.Base
	TxBeginner   = handlerpkg.TxBeginner
	Collector    = handlerpkg.Collector
	Container    = containerpkg.Container
	Scope        = containerpkg.Scope
	Provider     = containerpkg.Provider
	MethodConfig = containerpkg.MethodOptions

	Pool       = pool.Pool
	PoolConfig = pool.Config
	PooledConn = pool.Conn

	MonitorRecord   = monitor.Record
	MonitorOutcome  = monitor.Outcome
	MonitorSink     = monitor.Sink
	MonitorSinkFunc = monitor.SinkFunc
	LogSink         = monitor.LogSink
	PublisherSink   = monitor.PublisherSink

	RunHandlerFunc       = runtimepkg.RunHandlerFunc
	RunHandlerMiddleware = runtimepkg.RunHandlerMiddleware
	CallContext          = runtimepkg.CallContext
	CallHooks            = runtimepkg.CallHooks
	HandlerMetrics       = runtimepkg.HandlerMetrics
	Stats                = runtimepkg.Stats
	StatsSnapshot        = runtimepkg.StatsSnapshot
	ActionStats          = runtimepkg.ActionStats

	PipeMessage      = pipe.Message
	PipeConfig       = pipe.Config
	PipeBuilder      = pipe.Builder
	PipeRegistry     = pipe.Registry
	PipeCapabilities = pipe.Capabilities

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	BusinessError      = errspkg.BusinessError
	ConnectionFatal    = errspkg.ConnectionFatal
	ConfigurationError = errspkg.ConfigurationError
)

const (
	KindUnpack      = events.KindUnpack
	KindPack        = events.KindPack
	KindConnect     = events.KindConnect
	KindClose       = events.KindClose
	KindHandler     = events.KindHandler
	KindError       = events.KindError
	KindMonitor     = events.KindMonitor
	KindRunHandler  = events.KindRunHandler
	KindEncrypt     = events.KindEncrypt
	KindInitPool    = events.KindInitPool
	KindPipeMessage = events.KindPipeMessage

	OutcomeSuccess         = monitor.OutcomeSuccess
	OutcomeBusiness        = monitor.OutcomeBusiness
	OutcomeConnectionClose = monitor.OutcomeConnectionClose
	OutcomeError           = monitor.OutcomeError

	MaxLength = frame.MaxLength
)

var (
	NewService     = runtimepkg.NewService
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	Respond         = router.Respond
	WithCodec       = router.WithCodec
	WithHandlerName = router.WithHandlerName

	DefaultCodec = codec.Default
	JSONCodec    = codec.JSON
	Pack         = codec.Pack
	Unpack       = codec.Unpack

	NewContainer  = containerpkg.New
	NewPool       = pool.New
	NewPoolWithDB = pool.NewWithDB

	Tx           = handlerpkg.Tx
	ConnectionID = handlerpkg.ConnectionID
	TraceID      = handlerpkg.TraceID

	ChainRunHandlers   = runtimepkg.ChainRunHandlers
	DefaultMiddlewares = runtimepkg.DefaultMiddlewares
	TracerMiddleware   = runtimepkg.TracerMiddleware
	LogCallsMiddleware = runtimepkg.LogCallsMiddleware
	MetricsMiddleware  = runtimepkg.MetricsMiddleware
	HooksMiddleware    = runtimepkg.HooksMiddleware
	ACLMiddleware      = runtimepkg.ACLMiddleware
	LoggingHooks       = runtimepkg.LoggingHooks
	AlertingHooks      = runtimepkg.AlertingHooks
	NewHandlerMetrics  = runtimepkg.NewHandlerMetrics

	DefaultPipeRegistry = pipe.DefaultRegistry
	RegisterPipe        = pipe.Register
	BuildPipe           = pipe.Build

	NewBusinessError   = errspkg.NewBusinessError
	NewConnectionFatal = errspkg.NewConnectionFatal
	IsConnectionFatal  = errspkg.IsConnectionFatal
	AsBusinessError    = errspkg.AsBusinessError

	ErrServiceRequired    = errspkg.ErrServiceRequired
	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrLoggerRequired     = errspkg.ErrLoggerRequired
	ErrNoRoute            = errspkg.ErrNoRoute
	ErrInvalidPacket      = errspkg.ErrInvalidPacket
	ErrConnectionNotFound = errspkg.ErrConnectionNotFound
	ErrPipeNotConfigured  = errspkg.ErrPipeNotConfigured

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NopLogger            = loggingpkg.NopLogger

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	CreateULID = idspkg.CreateULID
)

// Handle routes action to the method fn of handler type H.
func Handle[H any, M any](svc *Service, action int, method string, fn func(H, context.Context, M) (*Reply, error), opts ...RouteOption) error {
	return runtimepkg.Handle(svc, action, method, fn, opts...)
}

// RegisterHandler binds the factory of handler type H.
func RegisterHandler[H any](svc *Service, factory func(ctx context.Context, scope Scope) (H, error)) error {
	return runtimepkg.RegisterHandler(svc, factory)
}

// ConfigureMethod sets how H.method is invoked: transaction, database and
// injected providers.
func ConfigureMethod[H any](svc *Service, method string, cfg MethodConfig) error {
	return runtimepkg.ConfigureMethod[H](svc, method, cfg)
}

// NewRoute builds a route without registering it.
func NewRoute[H any, M any](action int, method string, fn func(H, context.Context, M) (*Reply, error), opts ...RouteOption) (Route, error) {
	return router.NewRoute(action, method, fn, opts...)
}

// WithEnvelope decodes requests into E before the encrypt event.
func WithEnvelope[E any]() RouteOption {
	return router.WithEnvelope[E]()
}

// On adapts a typed function to a Listener.
func On[E Event](fn func(ctx context.Context, evt E) (any, error)) Listener {
	return events.On(fn)
}

// Inject fetches a typed dependency from a handler factory scope.
func Inject[T any](scope Scope, name string) (T, error) {
	return containerpkg.Inject[T](scope, name)
}
