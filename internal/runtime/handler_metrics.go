package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HandlerMetrics tracks call statistics per handler method.
type HandlerMetrics struct {
	mu sync.RWMutex

	methods map[string]*HandlerMethodMetrics

	callsTotal  *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	inFlight    *prometheus.GaugeVec
	duration    *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// HandlerMethodMetrics holds the counters of one handler method.
type HandlerMethodMetrics struct {
	Handler      string        `json:"handler"`
	Method       string        `json:"method"`
	Calls        uint64        `json:"calls"`
	Errors       uint64        `json:"errors"`
	TotalTime    time.Duration `json:"total_time"`
	AvgTime      time.Duration `json:"avg_time"`
	LastCalledAt time.Time     `json:"last_called_at"`
	LastError    string        `json:"last_error,omitempty"`
}

// HandlerMetricsSnapshot is a point-in-time view of HandlerMetrics.
type HandlerMetricsSnapshot struct {
	TotalCalls  uint64                           `json:"total_calls"`
	TotalErrors uint64                           `json:"total_errors"`
	Methods     map[string]*HandlerMethodMetrics `json:"methods"`
	CollectedAt time.Time                        `json:"collected_at"`
}

func newHandlerCounterVec(name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tcpflow",
			Subsystem: "handler",
			Name:      name,
			Help:      help,
		},
		[]string{"handler", "method"},
	)
}

func NewHandlerMetrics(registerer prometheus.Registerer) *HandlerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &HandlerMetrics{
		methods:     make(map[string]*HandlerMethodMetrics),
		registerer:  registerer,
		callsTotal:  newHandlerCounterVec("calls_total", "Handler method calls"),
		errorsTotal: newHandlerCounterVec("errors_total", "Handler method calls that returned an error"),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tcpflow",
			Subsystem: "handler",
			Name:      "in_flight",
			Help:      "Handler method calls currently running",
		}, []string{"handler"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tcpflow",
			Subsystem: "handler",
			Name:      "duration_seconds",
			Help:      "Handler method call duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler", "method"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *HandlerMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	collectors := []prometheus.Collector{m.callsTotal, m.errorsTotal, m.inFlight, m.duration}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

// Start marks a call as running and returns the function that ends it.
func (m *HandlerMetrics) Start(handler string) func() {
	g := m.inFlight.WithLabelValues(handler)
	g.Inc()
	return g.Dec
}

// Observe records one finished call.
func (m *HandlerMetrics) Observe(handler, method string, took time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.getOrCreate(handler, method)
	metrics.Calls++
	metrics.TotalTime += took
	metrics.AvgTime = metrics.TotalTime / time.Duration(metrics.Calls)
	metrics.LastCalledAt = time.Now()

	m.callsTotal.WithLabelValues(handler, method).Inc()
	m.duration.WithLabelValues(handler, method).Observe(took.Seconds())
	if err != nil {
		metrics.Errors++
		metrics.LastError = err.Error()
		m.errorsTotal.WithLabelValues(handler, method).Inc()
	}
}

// Snapshot returns a copy of every method's counters.
func (m *HandlerMetrics) Snapshot() HandlerMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := HandlerMetricsSnapshot{
		Methods:     make(map[string]*HandlerMethodMetrics, len(m.methods)),
		CollectedAt: time.Now(),
	}
	for key, metrics := range m.methods {
		c := *metrics
		snapshot.Methods[key] = &c
		snapshot.TotalCalls += metrics.Calls
		snapshot.TotalErrors += metrics.Errors
	}
	return snapshot
}

// Method returns a copy of the counters of handler.method, or nil.
func (m *HandlerMetrics) Method(handler, method string) *HandlerMethodMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if metrics, ok := m.methods[handler+"."+method]; ok {
		c := *metrics
		return &c
	}
	return nil
}

func (m *HandlerMetrics) getOrCreate(handler, method string) *HandlerMethodMetrics {
	key := handler + "." + method
	if metrics, ok := m.methods[key]; ok {
		return metrics
	}
	metrics := &HandlerMethodMetrics{Handler: handler, Method: method}
	m.methods[key] = metrics
	return metrics
}

// Reset clears all counters (useful for testing).
func (m *HandlerMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.methods = make(map[string]*HandlerMethodMetrics)
	m.callsTotal.Reset()
	m.errorsTotal.Reset()
	m.inFlight.Reset()
	m.duration.Reset()
}
