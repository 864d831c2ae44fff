package runtime

import (
	"context"
	"strings"

	"github.com/drblury/tcpflow/internal/runtime/codec"
	"github.com/drblury/tcpflow/internal/runtime/events"
	loggingpkg "github.com/drblury/tcpflow/internal/runtime/logging"
)

// registerDefaultListeners installs the codec, handler and pool listeners.
// Applications replace any of them with On.
func (s *Service) registerDefaultListeners() error {
	defaults := []struct {
		kind     events.Kind
		listener events.Listener
	}{
		{events.KindUnpack, events.On(s.unpack)},
		{events.KindPack, events.On(s.pack)},
		{events.KindHandler, s.invoker.Listener()},
		{events.KindInitPool, events.On(s.initPools)},
	}
	for _, d := range defaults {
		if err := s.bus.Register(d.kind, d.listener); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) unpack(_ context.Context, evt events.Unpack) (any, error) {
	return codec.Unpack(evt.Packet, s.Conf.MaxPackageLength)
}

// pack encodes with the codec of the route registered for the action, so
// replies use the same encoding as requests.
func (s *Service) pack(_ context.Context, evt events.Pack) (any, error) {
	c := codec.Default
	if entry, ok := s.routes.Resolve(evt.Action); ok {
		c = entry.MessageCodec()
	}
	return codec.Pack(c, evt.Message, evt.Action)
}

func (s *Service) initPools(ctx context.Context, _ events.InitPool) (any, error) {
	if errs := s.pools.InitAll(ctx); len(errs) > 0 {
		s.errLog.WriteErrorLog(loggingpkg.Here(), strings.Join(errs, ";"))
	}
	return nil, nil
}
