package runtime

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/tcpflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/tcpflow/internal/runtime/logging"
)

// DefaultMetricsPort serves /metrics and /stats when Conf.MetricsPort is 0.
const DefaultMetricsPort = 9090

// StatsResponse is the body of the /stats endpoint.
type StatsResponse struct {
	Service     string                  `json:"service"`
	Connections int                     `json:"connections"`
	Routes      []int                   `json:"routes"`
	Requests    StatsSnapshot           `json:"requests"`
	Handlers    *HandlerMetricsSnapshot `json:"handlers,omitempty"`
}

func (s *Service) registerMetricsEndpoints() {
	if !s.Conf.MetricsEnabled {
		return
	}
	port := s.Conf.MetricsPort
	if port == 0 {
		port = DefaultMetricsPort
	}

	gatherer := prometheus.DefaultGatherer
	if g, ok := s.registerer.(prometheus.Gatherer); ok {
		gatherer = g
	}
	s.RegisterHTTPHandler(port, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	s.RegisterHTTPHandler(port, "/stats", http.HandlerFunc(s.handleGetStats))
}

func (s *Service) handleGetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := StatsResponse{
		Service:     s.Conf.Name,
		Connections: s.server.Count(),
		Routes:      s.routes.Actions(),
		Requests:    s.stats.Snapshot(),
	}
	if s.handlerMetrics != nil {
		snapshot := s.handlerMetrics.Snapshot()
		resp.Handlers = &snapshot
	}

	body, err := jsoncodec.Marshal(resp)
	if err != nil {
		s.Logger.Error("failed to encode stats", err, loggingpkg.LogFields{})
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
