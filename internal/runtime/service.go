package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/tcpflow/internal/runtime/config"
	containerpkg "github.com/drblury/tcpflow/internal/runtime/container"
	errspkg "github.com/drblury/tcpflow/internal/runtime/errors"
	"github.com/drblury/tcpflow/internal/runtime/events"
	"github.com/drblury/tcpflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/tcpflow/internal/runtime/logging"
	"github.com/drblury/tcpflow/internal/runtime/monitor"
	"github.com/drblury/tcpflow/internal/runtime/pool"
	"github.com/drblury/tcpflow/internal/runtime/router"
	"github.com/drblury/tcpflow/internal/runtime/transport"
	"github.com/drblury/tcpflow/pipe"
)

const tracerName = "github.com/drblury/tcpflow"

// ServiceDependencies holds the optional collaborators of a Service. Leave
// fields nil to get the defaults.
type ServiceDependencies struct {
	// Container resolves handler instances. Defaults to container.New().
	Container handlers.Container
	// Sinks receive every monitor record in addition to the monitor event.
	Sinks []monitor.Sink
	// Registerer is used for prometheus collectors when metrics are
	// enabled. Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Pipes builds the pipe selected by Conf.PubSubSystem. Defaults to
	// pipe.DefaultRegistry.
	Pipes *pipe.Registry
	// Middlewares, when set, are chained into the run_handler listener.
	Middlewares []RunHandlerMiddleware
	Tracer      trace.Tracer
}

// Service is the application object of one worker: it owns the event bus,
// the route table, the TCP server and every shared resource the request
// pipeline needs.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	errLog    *loggingpkg.ErrorLog
	bus       *events.Bus
	routes    *router.Table
	container handlers.Container
	invoker   *handlers.Invoker
	server    *transport.Server
	pools     *pool.Registry
	sinks     monitor.Multi
	metrics   *monitor.Metrics
	stats     *Stats
	tracer    trace.Tracer

	registerer     prometheus.Registerer
	handlerMetrics *HandlerMetrics

	pipes  *pipe.Registry
	pipeMu sync.RWMutex
	pipe   pipe.Pipe

	globalsMu sync.RWMutex
	globals   map[string]any

	httpServersMu sync.Mutex
	httpMuxes     map[int]*http.ServeMux
	httpServers   []*http.Server

	stopOnce sync.Once
	now      func() time.Time
}

// NewService validates conf and wires the default listeners. Routes and
// listeners are registered on the returned Service before Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.NewConfigurationError(errspkg.ErrConfigRequired)
	}
	if log == nil {
		return nil, errspkg.NewConfigurationError(errspkg.ErrLoggerRequired)
	}
	conf.ApplyDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	log.Info("creating tcp service", loggingpkg.LogFields{"config": conf})

	s := &Service{
		Conf:      conf,
		Logger:    log,
		errLog:    loggingpkg.NewErrorLog(log),
		bus:       events.NewBus(slices.Concat(events.ServerKinds, events.AppKinds)...),
		routes:    router.NewTable(),
		container: deps.Container,
		pools:     pool.NewRegistry(),
		tracer:    deps.Tracer,
		pipes:     deps.Pipes,
		globals:   make(map[string]any),
		httpMuxes: make(map[int]*http.ServeMux),
		now:       time.Now,
	}
	if s.container == nil {
		s.container = containerpkg.New()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	if s.pipes == nil {
		s.pipes = pipe.DefaultRegistry
	}

	s.stats = NewStats()
	s.sinks = append(monitor.Multi{s.stats}, deps.Sinks...)
	middlewares := deps.Middlewares
	if conf.MetricsEnabled {
		s.registerer = deps.Registerer
		if s.registerer == nil {
			s.registerer = prometheus.DefaultRegisterer
		}
		s.metrics = monitor.NewMetrics(s.registerer)
		if err := s.metrics.Register(); err != nil {
			return nil, err
		}
		s.sinks = append(s.sinks, s.metrics)

		s.handlerMetrics = NewHandlerMetrics(s.registerer)
		if err := s.handlerMetrics.Register(); err != nil {
			return nil, err
		}
		middlewares = append([]RunHandlerMiddleware{MetricsMiddleware(s.handlerMetrics)}, middlewares...)
	}

	invoker, err := handlers.NewInvoker(s.routes, s.container, s.bus, log)
	if err != nil {
		return nil, err
	}
	s.invoker = invoker

	server, err := transport.NewServer(conf.Address(), &connHandler{s: s}, log,
		transport.WithMaxPackageLength(conf.MaxPackageLength))
	if err != nil {
		return nil, err
	}
	s.server = server

	if err := s.registerDefaultListeners(); err != nil {
		return nil, err
	}
	if len(middlewares) > 0 {
		if err := s.On(events.KindRunHandler, ChainRunHandlers(middlewares...)); err != nil {
			return nil, err
		}
	}
	s.registerConfiguredPools()
	return s, nil
}

// On registers listener for kind, replacing any previous one.
func (s *Service) On(kind events.Kind, listener events.Listener) error {
	return s.bus.Register(kind, listener)
}

// Bus exposes the event bus for typed dispatch helpers.
func (s *Service) Bus() *events.Bus { return s.bus }

// RegisterRoute binds action to entry. A later registration for the same
// action replaces the earlier one.
func (s *Service) RegisterRoute(action int, entry router.Entry) error {
	return s.routes.AddRoute(action, entry)
}

// Routes exposes the route table.
func (s *Service) Routes() *router.Table { return s.routes }

// Container returns the handler container in use.
func (s *Service) Container() handlers.Container { return s.container }

// Server exposes the TCP server, mainly for its bound address.
func (s *Service) Server() *transport.Server { return s.server }

// Stats returns the per-action request statistics.
func (s *Service) Stats() *Stats { return s.stats }

// RegisterGlobal stores a worker-wide value.
func (s *Service) RegisterGlobal(name string, value any) {
	s.globalsMu.Lock()
	defer s.globalsMu.Unlock()
	s.globals[name] = value
}

func (s *Service) Global(name string) (any, bool) {
	s.globalsMu.RLock()
	defer s.globalsMu.RUnlock()
	v, ok := s.globals[name]
	return v, ok
}

// RegisterPool adds a connection pool. Partition 0 of a pool is also
// registered as a transaction database of the default container under the
// pool name, and "<name>.conn" injects a pooled connection that is
// released after the request.
func (s *Service) RegisterPool(name string, p *pool.Pool, partition int) {
	s.pools.Register(name, partition, p)
	c, ok := s.container.(*containerpkg.Container)
	if !ok || partition != 0 {
		return
	}
	c.RegisterDatabase(name, p)
	c.Provide(name+".conn", func(ctx context.Context) (any, error) {
		return p.Acquire(ctx)
	})
}

// Pool returns a registered pool.
func (s *Service) Pool(name string, partition int) (*pool.Pool, bool) {
	return s.pools.Get(name, partition)
}

func (s *Service) registerConfiguredPools() {
	for _, db := range s.Conf.Databases {
		for partition := 0; partition < db.Partitions; partition++ {
			s.RegisterPool(db.Name, pool.New(pool.Config{
				Name:            db.Name,
				Driver:          db.Driver,
				DSN:             db.DSN,
				Partition:       partition,
				MaxOpenConns:    db.MaxOpenConns,
				MaxIdleConns:    db.MaxIdleConns,
				ConnMaxLifetime: db.ConnMaxLifetime,
			}), partition)
		}
	}
}

// Send packs message under action and writes it to connection id. It
// returns false when the pack listener produced nothing, and a
// ConnectionFatal error when the connection does not exist.
func (s *Service) Send(ctx context.Context, message any, action int, connectionID uint64) (bool, error) {
	if !s.server.Exists(connectionID) {
		return false, errspkg.ConnectionFatalf(errspkg.ErrConnectionNotFound, "connection %d", connectionID)
	}
	data, ok, err := events.DispatchAs[[]byte](ctx, s.bus, events.Pack{Message: message, Action: action})
	if err != nil {
		return false, err
	}
	if !ok || len(data) == 0 {
		return false, nil
	}
	if err := s.server.Send(connectionID, data); err != nil {
		return false, err
	}
	return true, nil
}

// Start initialises pools, connects the pipe, starts the HTTP endpoints and
// serves TCP connections until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	if err := s.bus.Dispatch(ctx, events.InitPool{}); err != nil {
		s.errLog.WriteExceptionLog(loggingpkg.Here(), err, "")
	}
	if err := s.startPipe(ctx); err != nil {
		return err
	}
	s.startHTTPServers()

	err := s.server.Serve(ctx)
	stopCtx, cancel := context.WithTimeout(context.Background(), s.Conf.ShutdownTimeout)
	defer cancel()
	return errors.Join(err, s.Stop(stopCtx))
}

// Stop closes connections, the pipe, the HTTP endpoints and every pool.
// Calls after the first return nil.
func (s *Service) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		err = errors.Join(
			s.server.Shutdown(ctx),
			s.stopHTTPServers(ctx),
			s.closePipe(),
			s.pools.CloseAll(),
		)
	})
	return err
}

// RegisterHTTPHandler mounts handler on the HTTP server listening on port.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	mux, ok := s.httpMuxes[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpMuxes[port] = mux
	}
	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.registerMetricsEndpoints()

	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpMuxes {
		srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		s.httpServers = append(s.httpServers, srv)
		s.Logger.Info("starting http server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("http server failed", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}
}

func (s *Service) stopHTTPServers(ctx context.Context) error {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	var errs []error
	for _, srv := range s.httpServers {
		errs = append(errs, srv.Shutdown(ctx))
	}
	s.httpServers = nil
	return errors.Join(errs...)
}
