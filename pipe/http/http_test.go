package http

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/tcpflow/internal/testutil/pipetest"
	"github.com/drblury/tcpflow/pipe"
)

func TestBuildAppendsTopicToURL(t *testing.T) {
	origPub, origSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() { PublisherFactory, SubscriberFactory = origPub, origSub })

	var marshal http.MarshalMessageFunc
	PublisherFactory = func(cfg http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		marshal = cfg.MarshalMessageFunc
		return &pipetest.Publisher{}, nil
	}
	SubscriberFactory = func(addr string, cfg http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		assert.Equal(t, ":8081", addr)
		return &pipetest.Subscriber{}, nil
	}

	cfg := pipe.StaticConfig{HTTPServerAddress: ":8081", HTTPPublisherURL: "http://peer:8081"}
	_, err := Build(context.Background(), cfg, watermill.NopLogger{})
	require.NoError(t, err)
	require.NotNil(t, marshal)

	req, err := marshal("svc.pipe", message.NewMessage("id", []byte("{}")))
	require.NoError(t, err)
	assert.Equal(t, "http://peer:8081/svc.pipe", req.URL.String())
	assert.True(t, pipe.DefaultRegistry.Has(Name))
}
