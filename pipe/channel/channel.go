// Package channel provides an in-process gochannel pipe. Workers in the same
// process share it; it is the default when no broker is configured.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/tcpflow/pipe"
)

const Name = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	pipe.Register(Name, Build, pipe.ChannelCapabilities)
}

// Build creates a new gochannel pipe.
func Build(ctx context.Context, cfg pipe.Config, logger watermill.LoggerAdapter) (pipe.Pipe, error) {
	pub, sub := Factory(gochannel.Config{OutputChannelBuffer: 64}, logger)
	return pipe.Pipe{Publisher: pub, Subscriber: sub}, nil
}
