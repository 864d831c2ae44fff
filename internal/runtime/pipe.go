package runtime

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/tcpflow/internal/runtime/errors"
	"github.com/drblury/tcpflow/internal/runtime/events"
	"github.com/drblury/tcpflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/tcpflow/internal/runtime/logging"
	"github.com/drblury/tcpflow/internal/runtime/monitor"
	"github.com/drblury/tcpflow/pipe"
)

// startPipe builds the configured pipe, adds the monitor publisher sink and
// starts consuming pipe messages. It does nothing without a PubSubSystem.
func (s *Service) startPipe(ctx context.Context) error {
	if s.Conf.PubSubSystem == "" {
		return nil
	}
	p, err := s.pipes.Build(ctx, s.Conf, loggingpkg.NewWatermillAdapter(s.Logger))
	if err != nil {
		return err
	}

	msgs, err := p.Subscriber.Subscribe(ctx, s.Conf.PipeTopicName())
	if err != nil {
		_ = p.Close()
		return err
	}

	if s.Conf.MonitorTopic != "" {
		s.sinks = append(s.sinks, monitor.PublisherSink{Publisher: p.Publisher, Topic: s.Conf.MonitorTopic})
	}

	s.pipeMu.Lock()
	s.pipe = p
	s.pipeMu.Unlock()

	s.Logger.Info("pipe connected", loggingpkg.LogFields{
		"pubsub_system": s.Conf.PubSubSystem,
		"topic":         s.Conf.PipeTopicName(),
	})
	go s.consumePipe(msgs)
	return nil
}

func (s *Service) consumePipe(msgs <-chan *message.Message) {
	for msg := range msgs {
		s.handlePipeMessage(msg)
	}
}

// handlePipeMessage dispatches one pipe message. Undecodable messages and
// listener errors are logged and acknowledged; nothing is redelivered.
func (s *Service) handlePipeMessage(msg *message.Message) {
	defer msg.Ack()

	m, err := pipe.Decode(msg)
	if err != nil {
		s.errLog.WriteExceptionLog(loggingpkg.Here(), err, msg.Metadata.Get(pipe.MetadataTraceID))
		return
	}
	err = s.bus.Dispatch(msg.Context(), events.PipeMessage{
		Path:    m.Path,
		Method:  m.Method,
		Args:    m.Args,
		TraceID: m.TraceID,
	})
	if err != nil {
		s.errLog.WriteExceptionLog(loggingpkg.Here(), err, m.TraceID)
	}
}

// PushPipeMessage asks a worker of this service to call method on path.
// Inside a handler the request trace id travels with the message.
func (s *Service) PushPipeMessage(ctx context.Context, path, method string, args ...any) error {
	s.pipeMu.RLock()
	publisher := s.pipe.Publisher
	s.pipeMu.RUnlock()
	if publisher == nil {
		return errspkg.ErrPipeNotConfigured
	}

	msg, err := pipe.Encode(ctx, pipe.Message{
		Path:    path,
		Method:  method,
		Args:    args,
		TraceID: handlers.TraceID(ctx),
		From:    s.Conf.Name,
	})
	if err != nil {
		return err
	}
	return publisher.Publish(s.Conf.PipeTopicName(), msg)
}

func (s *Service) closePipe() error {
	s.pipeMu.Lock()
	defer s.pipeMu.Unlock()
	err := s.pipe.Close()
	s.pipe = pipe.Pipe{}
	return err
}
