/*
Package runtime implements the tcpflow Service and its request pipeline.

# Package Structure

## Core Service (service.go)

Service wires together:
  - the TCP server (transport)
  - the event bus with the default unpack, pack, handler and init_pool listeners
  - the route table and the handler invoker
  - connection pools, the cross-worker pipe and the HTTP endpoints

## Request pipeline (receive.go, listeners.go)

receive runs one frame through unpack, handler dispatch and pack. It
classifies errors, writes the error logs and always emits one monitor
record per frame.

## Handler wrappers (middleware.go, hooks.go)

run_handler listeners built with ChainRunHandlers:
  - TracerMiddleware: OpenTelemetry span per handler call
  - MetricsMiddleware: Prometheus call counters and durations
  - HooksMiddleware: start/done/error callbacks
  - LogCallsMiddleware: debug log per call
  - ACLMiddleware: reject calls with a business error

## Stats (stats.go, resources.go, stats_http.go)

Per-action request counts, latency percentiles (p50, p95, p99), throughput
and process resource usage, served on /stats next to /metrics.

# Sub-packages

  - codec/: action packets and message codecs
  - config/: service configuration with validation
  - container/: default handler container
  - errors/: error classes and sentinels
  - events/: the event bus and event types
  - frame/: wire framing
  - handlers/: handler contract and invoker
  - ids/: trace, span and ULID ids
  - jsoncodec/: JSON marshaling
  - logging/: logger interface, adapters and the error log
  - monitor/: monitor records and sinks
  - pool/: database pools
  - router/: routes and the route table
  - transport/: TCP server and connections
*/
package runtime
