// Package monitor builds the per-request telemetry record and ships it to
// sinks.
package monitor

import (
	"encoding/base64"
	"math"
	"time"

	errspkg "github.com/drblury/tcpflow/internal/runtime/errors"
	idspkg "github.com/drblury/tcpflow/internal/runtime/ids"
)

// Outcome classifies how a request ended.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeBusiness        Outcome = "busi_exception"
	OutcomeConnectionClose Outcome = "connection_close_exception"
	OutcomeError           Outcome = "error_exception"
)

const (
	ServiceType     = "tcp"
	timestampLayout = "2006-01-02 15:04:05"
	minuteLayout    = "200601021504"
)

// Record is the immutable snapshot emitted once per request.
type Record struct {
	Delay       float64 `json:"delay"`
	RequestTime int64   `json:"request_time"`
	Action      int     `json:"action"`
	Class       string  `json:"class"`
	Method      string  `json:"method"`
	Service     string  `json:"service"`
	ServiceType string  `json:"service_type"`
	Packet      string  `json:"packet"`
	Type        Outcome `json:"type"`
	Params      string  `json:"params"`
	Response    string  `json:"response"`
	IP          string  `json:"ip"`
	Time        int64   `json:"time"`
	Timestamp   string  `json:"timestamp"`
	Minute      string  `json:"minute"`
	TraceID     string  `json:"trace_id"`
	SpanID      string  `json:"span_id"`
	From        string  `json:"from"`
	End         int64   `json:"end"`
	Trace       string  `json:"trace"`
	Err         string  `json:"err"`
}

// Request is the mutable state of one request while it moves through the
// pipeline. It is owned by a single goroutine.
type Request struct {
	Service      string
	ConnectionID uint64
	ClientIP     string
	Packet       []byte
	Begin        time.Time
	TraceID      string
	SpanID       string

	Action   int
	Outcome  Outcome
	Class    string
	Method   string
	Params   string
	Response string
	Trace    string
	Err      string
}

// NewRequest starts a request at now with fresh trace and span ids.
func NewRequest(service string, connectionID uint64, clientIP string, packet []byte, now time.Time) *Request {
	return &Request{
		Service:      service,
		ConnectionID: connectionID,
		ClientIP:     clientIP,
		Packet:       packet,
		Begin:        now,
		TraceID:      idspkg.NewTraceID(connectionID),
		SpanID:       idspkg.NewSpanID(connectionID, now),
		Outcome:      OutcomeSuccess,
	}
}

// Fail records the outcome and error details. A nil err only sets the outcome.
func (r *Request) Fail(outcome Outcome, err error) {
	r.Outcome = outcome
	if err == nil {
		return
	}
	r.Err = err.Error()
	r.Trace = errspkg.Trace(err)
}

// Record snapshots r as finished at end.
func (r *Request) Record(end time.Time) Record {
	delay := float64(end.Sub(r.Begin).Microseconds()) / 1000
	return Record{
		Delay:       math.Round(delay*100) / 100,
		RequestTime: r.Begin.UnixMicro() / 100,
		Action:      r.Action,
		Class:       r.Class,
		Method:      r.Method,
		Service:     r.Service,
		ServiceType: ServiceType,
		Packet:      base64.StdEncoding.EncodeToString(r.Packet),
		Type:        r.Outcome,
		Params:      r.Params,
		Response:    r.Response,
		IP:          r.ClientIP,
		Time:        r.Begin.Unix(),
		Timestamp:   r.Begin.Format(timestampLayout),
		Minute:      r.Begin.Format(minuteLayout),
		TraceID:     r.TraceID,
		SpanID:      r.SpanID,
		From:        r.Service,
		End:         end.UnixMicro() / 100,
		Trace:       r.Trace,
		Err:         r.Err,
	}
}
