// Package http provides a pipe that posts messages to a peer worker over
// HTTP and receives them on a local listener.
package http

import (
	"context"
	nethttp "net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/tcpflow/pipe"
)

const Name = "http"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

func init() {
	pipe.Register(Name, Build, pipe.HTTPCapabilities)
}

// Build creates an HTTP pipe. Topics are appended to the publisher URL as
// a path segment.
func Build(ctx context.Context, cfg pipe.Config, logger watermill.LoggerAdapter) (pipe.Pipe, error) {
	base := strings.TrimSuffix(cfg.GetHTTPPublisherURL(), "/") + "/"

	publisher, err := PublisherFactory(http.PublisherConfig{
		MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
			return http.DefaultMarshalMessageFunc(base+topic, msg)
		},
	}, logger)
	if err != nil {
		return pipe.Pipe{}, err
	}

	subscriber, err := SubscriberFactory(cfg.GetHTTPServerAddress(), http.SubscriberConfig{
		UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return pipe.Pipe{}, err
	}

	if s, ok := subscriber.(*http.Subscriber); ok {
		go func() {
			if err := s.StartHTTPServer(); err != nil && err != nethttp.ErrServerClosed {
				logger.Error("pipe http listener stopped", err, nil)
			}
		}()
	}

	return pipe.Pipe{Publisher: publisher, Subscriber: subscriber}, nil
}
