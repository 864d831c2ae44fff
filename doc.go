// Package tcpflow is an application server framework for long-lived binary
// TCP connections. Every frame carries an 8-byte header (4 reserved bytes
// and a big-endian total length) and a body whose first 4 bytes are the
// action code that selects a handler.
//
// A Service owns the TCP listener, an event bus and a route table. Each
// received frame travels through the same pipeline: the unpack event
// decodes it, the handler event routes it and calls the handler method
// (inside a database transaction when the method is configured for one),
// the pack event encodes the reply and a monitor record describes the
// outcome. Every stage is an event listener, so applications replace the
// codec, wrap handler calls or add an error responder with Service.On.
//
// Errors fall into three classes. A ConnectionFatal (unknown action,
// undecodable frame) closes the connection. A BusinessError is logged and
// may be turned into a reply by the error listener. Anything else is logged
// with its stack and the connection stays open.
//
// # Pipes
//
// Workers of a service talk to each other over a pipe backed by Watermill.
// Import the backends you need, for example
//
//	import _ "github.com/drblury/tcpflow/pipe/kafka"
//
// or pipe/pipes for all of them, and set Config.PubSubSystem. Supported
// systems are channel, kafka, rabbitmq, nats, http and aws.
//
// # Observability
//
// Monitor records go to the monitor event, to ServiceDependencies.Sinks and,
// when Config.MonitorTopic is set, to the pipe. With Config.MetricsEnabled
// the service exports Prometheus metrics on /metrics and a JSON summary on
// /stats. Each request runs in an OpenTelemetry span.
package tcpflow
