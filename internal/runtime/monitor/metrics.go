package monitor

import (
	"context"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a Sink that exports request counts and latency to Prometheus.
type Metrics struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	registered bool

	requestsTotal *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	packetBytes   prometheus.Histogram
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer: registerer,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tcpflow",
			Subsystem: "requests",
			Name:      "total",
			Help:      "Requests processed, by action and outcome",
		}, []string{"action", "type"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tcpflow",
			Subsystem: "requests",
			Name:      "duration_milliseconds",
			Help:      "Time from frame receipt to monitor emission",
			Buckets:   []float64{0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}, []string{"action"}),
		packetBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tcpflow",
			Subsystem: "requests",
			Name:      "packet_bytes",
			Help:      "Size of received packets, header included",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 10),
		}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	for _, c := range []prometheus.Collector{m.requestsTotal, m.latency, m.packetBytes} {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

func (m *Metrics) Write(_ context.Context, record Record) error {
	action := strconv.Itoa(record.Action)
	m.requestsTotal.WithLabelValues(action, string(record.Type)).Inc()
	m.latency.WithLabelValues(action).Observe(record.Delay)
	// base64 length back to raw bytes
	m.packetBytes.Observe(float64(len(record.Packet) * 3 / 4))
	return nil
}

// Requests exposes the request counter for tests and dashboards.
func (m *Metrics) Requests() *prometheus.CounterVec {
	return m.requestsTotal
}
