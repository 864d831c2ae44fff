// Package kafka provides a Kafka pipe.
package kafka

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/tcpflow/pipe"
)

const Name = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	pipe.Register(Name, Build, pipe.KafkaCapabilities)
}

// Build creates a Kafka pipe. Every worker of a service joins the same
// consumer group so each pipe message is handled once.
func Build(ctx context.Context, cfg pipe.Config, logger watermill.LoggerAdapter) (pipe.Pipe, error) {
	brokers := cfg.GetKafkaBrokers()

	publisher, err := PublisherFactory(kafka.PublisherConfig{
		Brokers:   brokers,
		Marshaler: kafka.DefaultMarshaler{},
	}, logger)
	if err != nil {
		return pipe.Pipe{}, err
	}

	subscriber, err := SubscriberFactory(kafka.SubscriberConfig{
		Brokers:       brokers,
		Unmarshaler:   kafka.DefaultMarshaler{},
		ConsumerGroup: cfg.GetKafkaConsumerGroup(),
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return pipe.Pipe{}, err
	}

	return pipe.Pipe{Publisher: publisher, Subscriber: subscriber}, nil
}
