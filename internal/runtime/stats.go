package runtime

import (
	"context"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/drblury/tcpflow/internal/runtime/monitor"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// Stats aggregates monitor records per action. It is the sink behind the
// /stats endpoint.
type Stats struct {
	mu        sync.Mutex
	startedAt time.Time
	actions   map[int]*actionStats
	resources *resourceTracker
}

// ActionStats is the JSON view of one action's counters.
type ActionStats struct {
	Action        int               `json:"action"`
	Class         string            `json:"class,omitempty"`
	Method        string            `json:"method,omitempty"`
	Requests      uint64            `json:"requests"`
	Outcomes      map[string]uint64 `json:"outcomes"`
	LastRequestAt time.Time         `json:"last_request_at"`
	LastError     string            `json:"last_error,omitempty"`
	Latency       LatencyMetrics    `json:"latency"`
	Throughput    ThroughputMetrics `json:"throughput"`
}

// StatsSnapshot is a point-in-time view of Stats.
type StatsSnapshot struct {
	StartedAt     time.Time              `json:"started_at"`
	TotalRequests uint64                 `json:"total_requests"`
	Actions       map[string]ActionStats `json:"actions"`
	Resource      ResourceUsage          `json:"resource"`
	CollectedAt   time.Time              `json:"collected_at"`
}

type LatencyMetrics struct {
	AverageMs  float64 `json:"average_ms"`
	P50Ms      float64 `json:"p50_ms"`
	P95Ms      float64 `json:"p95_ms"`
	P99Ms      float64 `json:"p99_ms"`
	LastMs     float64 `json:"last_ms"`
	SampleSize int     `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	RequestsInWindow uint64  `json:"requests_in_window"`
}

type actionStats struct {
	view       ActionStats
	totalMs    float64
	latency    *latencyWindow
	throughput *throughputWindow
}

func NewStats() *Stats {
	return &Stats{
		startedAt: time.Now().UTC(),
		actions:   make(map[int]*actionStats),
		resources: newResourceTracker(),
	}
}

// Write implements monitor.Sink.
func (s *Stats) Write(_ context.Context, record monitor.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.actions[record.Action]
	if !ok {
		a = &actionStats{
			view:       ActionStats{Action: record.Action, Outcomes: make(map[string]uint64)},
			latency:    newLatencyWindow(latencySampleSize),
			throughput: newThroughputWindow(throughputWindowSize),
		}
		s.actions[record.Action] = a
	}

	if record.Class != "" {
		a.view.Class = record.Class
		a.view.Method = record.Method
	}
	a.view.Requests++
	a.view.Outcomes[string(record.Type)]++
	a.view.LastRequestAt = time.Unix(record.Time, 0).UTC()
	if record.Err != "" {
		a.view.LastError = record.Err
	}

	a.totalMs += record.Delay
	a.latency.Add(record.Delay)
	lat := a.latency.Snapshot()
	lat.AverageMs = a.totalMs / float64(a.view.Requests)
	a.view.Latency = lat

	tp := a.throughput.AddAndSnapshot(time.Now())
	a.view.Throughput = ThroughputMetrics{
		CurrentRPS:       tp.CurrentRPS,
		WindowSeconds:    tp.WindowSeconds,
		RequestsInWindow: uint64(tp.Count),
	}
	return nil
}

// Action returns the counters of one action.
func (s *Stats) Action(action int) (ActionStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.actions[action]
	if !ok {
		return ActionStats{}, false
	}
	return a.view.clone(), true
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := StatsSnapshot{
		StartedAt:   s.startedAt,
		Actions:     make(map[string]ActionStats, len(s.actions)),
		Resource:    s.resources.Snapshot(),
		CollectedAt: time.Now().UTC(),
	}
	for action, a := range s.actions {
		snapshot.Actions[strconv.Itoa(action)] = a.view.clone()
		snapshot.TotalRequests += a.view.Requests
	}
	return snapshot
}

func (a ActionStats) clone() ActionStats {
	outcomes := make(map[string]uint64, len(a.Outcomes))
	for k, v := range a.Outcomes {
		outcomes[k] = v
	}
	a.Outcomes = outcomes
	return a
}

// latencyWindow is a ring of the most recent delays in milliseconds.
type latencyWindow struct {
	samples []float64
	next    int
	filled  int
	last    float64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]float64, size)}
}

func (lw *latencyWindow) Add(ms float64) {
	lw.samples[lw.next] = ms
	lw.last = ms
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	metrics := LatencyMetrics{LastMs: lw.last}
	if lw.filled == 0 {
		return metrics
	}
	samples := make([]float64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Float64s(samples)
	metrics.SampleSize = lw.filled
	metrics.P50Ms = percentile(samples, 0.50)
	metrics.P95Ms = percentile(samples, 0.95)
	metrics.P99Ms = percentile(samples, 0.99)
	return metrics
}

func percentile(samples []float64, quantile float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + (samples[upper]-samples[lower])*frac
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{horizon: horizon, samples: make([]time.Time, 0, 64)}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	tw.samples = append(tw.samples, now)

	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		tw.samples = append(tw.samples[:0], tw.samples[idx:]...)
	}

	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Second
	}
	count := len(tw.samples)
	return throughputSnapshot{
		Count:         count,
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(count) / span.Seconds(),
	}
}
