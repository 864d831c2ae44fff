// Package rabbitmq provides a RabbitMQ pipe over a single shared AMQP
// connection.
package rabbitmq

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/tcpflow/pipe"
)

const Name = "rabbitmq"

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	pipe.Register(Name, Build, pipe.RabbitMQCapabilities)
}

// Build creates a RabbitMQ pipe. Queues are named after the topic so all
// workers of a service compete on one durable queue.
func Build(ctx context.Context, cfg pipe.Config, logger watermill.LoggerAdapter) (pipe.Pipe, error) {
	url := cfg.GetRabbitMQURL()
	amqpConfig := amqp.NewDurableQueueConfig(url)

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return pipe.Pipe{}, err
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return pipe.Pipe{}, err
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = publisher.Close()
		return pipe.Pipe{}, err
	}

	return pipe.Pipe{Publisher: publisher, Subscriber: subscriber}, nil
}
