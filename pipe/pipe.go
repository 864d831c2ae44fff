// Package pipe carries messages between worker processes of a tcpflow
// service. Each backend (kafka, rabbitmq, nats, ...) lives in its own
// sub-package and registers a Builder with the registry.
package pipe

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Pipe combines a publisher and subscriber pair produced by a builder.
type Pipe struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes both ends. A shared pub/sub is closed once.
func (p Pipe) Close() error {
	var first error
	if p.Publisher != nil {
		first = p.Publisher.Close()
	}
	if p.Subscriber != nil && any(p.Subscriber) != any(p.Publisher) {
		if err := p.Subscriber.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Builder creates a pipe from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Pipe, error)

// Config exposes the settings builders need without depending on the
// config package.
type Config interface {
	// GetName is the service name. Backends that keep per-subscriber state
	// on the broker, such as SQS queues, key it by this name.
	GetName() string
	GetPubSubSystem() string

	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	GetRabbitMQURL() string

	GetNATSURL() string

	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// Capabilities describe what a backend guarantees to pipe users.
type Capabilities struct {
	Name string
	// CrossProcess is false for backends that only reach the current
	// process.
	CrossProcess bool
	Durable      bool
	Ordered      bool
}

var (
	ChannelCapabilities  = Capabilities{Name: "channel", Ordered: true}
	KafkaCapabilities    = Capabilities{Name: "kafka", CrossProcess: true, Durable: true, Ordered: true}
	RabbitMQCapabilities = Capabilities{Name: "rabbitmq", CrossProcess: true, Durable: true}
	NATSCapabilities     = Capabilities{Name: "nats", CrossProcess: true, Ordered: true}
	HTTPCapabilities     = Capabilities{Name: "http", CrossProcess: true}
	AWSCapabilities      = Capabilities{Name: "aws", CrossProcess: true, Durable: true}
)
