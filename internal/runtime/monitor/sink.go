package monitor

import (
	"context"
	"errors"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"

	idspkg "github.com/drblury/tcpflow/internal/runtime/ids"
	"github.com/drblury/tcpflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/tcpflow/internal/runtime/logging"
)

// Sink receives finished records.
type Sink interface {
	Write(ctx context.Context, record Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, record Record) error

func (f SinkFunc) Write(ctx context.Context, record Record) error {
	return f(ctx, record)
}

// Multi writes to every sink and joins their errors.
type Multi []Sink

func (m Multi) Write(ctx context.Context, record Record) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Write(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes records to a service logger at debug level.
type LogSink struct {
	Logger loggingpkg.ServiceLogger
}

func (s LogSink) Write(_ context.Context, record Record) error {
	if s.Logger == nil {
		return nil
	}
	s.Logger.Debug("request finished", loggingpkg.LogFields{
		"action":   record.Action,
		"class":    record.Class,
		"method":   record.Method,
		"type":     string(record.Type),
		"delay_ms": record.Delay,
		"ip":       record.IP,
		"trace_id": record.TraceID,
		"span_id":  record.SpanID,
	})
	return nil
}

// PublisherSink publishes records as JSON on a pipe topic so another
// process can collect them.
type PublisherSink struct {
	Publisher message.Publisher
	Topic     string
}

const (
	MetadataTraceID = "trace_id"
	MetadataAction  = "action"
	MetadataOutcome = "type"
)

func (s PublisherSink) Write(ctx context.Context, record Record) error {
	if s.Publisher == nil || s.Topic == "" {
		return nil
	}
	payload, err := jsoncodec.Marshal(record)
	if err != nil {
		return err
	}
	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetadataTraceID, record.TraceID)
	msg.Metadata.Set(MetadataAction, strconv.Itoa(record.Action))
	msg.Metadata.Set(MetadataOutcome, string(record.Type))
	return s.Publisher.Publish(s.Topic, msg)
}
