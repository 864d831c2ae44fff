// Package nats provides a NATS Core pipe.
package nats

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/tcpflow/pipe"
)

const Name = "nats"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	pipe.Register(Name, Build, pipe.NATSCapabilities)
}

// Build creates a NATS Core pipe.
func Build(ctx context.Context, cfg pipe.Config, logger watermill.LoggerAdapter) (pipe.Pipe, error) {
	url := cfg.GetNATSURL()
	marshaler := &nats.NATSMarshaler{}

	publisher, err := PublisherFactory(nats.PublisherConfig{
		URL:       url,
		Marshaler: marshaler,
	}, logger)
	if err != nil {
		return pipe.Pipe{}, err
	}

	subscriber, err := SubscriberFactory(nats.SubscriberConfig{
		URL:         url,
		Unmarshaler: marshaler,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return pipe.Pipe{}, err
	}

	return pipe.Pipe{Publisher: publisher, Subscriber: subscriber}, nil
}
