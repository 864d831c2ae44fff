package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/tcpflow/internal/testutil/pipetest"
	"github.com/drblury/tcpflow/pipe"
)

func TestBuild(t *testing.T) {
	origPub, origSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() { PublisherFactory, SubscriberFactory = origPub, origSub })

	pub, sub := &pipetest.Publisher{}, &pipetest.Subscriber{}
	PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		assert.Equal(t, "nats://localhost:4222", cfg.URL)
		return pub, nil
	}
	SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		assert.Equal(t, "nats://localhost:4222", cfg.URL)
		assert.NotNil(t, cfg.Unmarshaler)
		return sub, nil
	}

	p, err := Build(context.Background(), pipe.StaticConfig{NATSURL: "nats://localhost:4222"}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Same(t, pub, p.Publisher)
	assert.Same(t, sub, p.Subscriber)
	assert.True(t, pipe.DefaultRegistry.Has(Name))
}

func TestBuildSubscriberError(t *testing.T) {
	origPub, origSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() { PublisherFactory, SubscriberFactory = origPub, origSub })

	pub := &pipetest.Publisher{}
	PublisherFactory = func(nats.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) { return pub, nil }
	SubscriberFactory = func(nats.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
		return nil, errors.New("no servers")
	}

	_, err := Build(context.Background(), pipe.StaticConfig{}, watermill.NopLogger{})
	assert.EqualError(t, err, "no servers")
	assert.True(t, pub.Closed)
}
