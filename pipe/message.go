package pipe

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"

	idspkg "github.com/drblury/tcpflow/internal/runtime/ids"
	"github.com/drblury/tcpflow/internal/runtime/jsoncodec"
)

const (
	MetadataTraceID = "trace_id"
	MetadataFrom    = "from"
)

// Message is a call forwarded to another worker: the receiving side looks
// up Path and invokes Method with Args.
type Message struct {
	Path    string `json:"path"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
	TraceID string `json:"trace_id,omitempty"`
	From    string `json:"from,omitempty"`
}

var ErrEmptyPath = errors.New("pipe: message path is required")

// Encode turns m into a watermill message with a ULID uuid.
func Encode(ctx context.Context, m Message) (*message.Message, error) {
	if m.Path == "" {
		return nil, ErrEmptyPath
	}
	payload, err := jsoncodec.Marshal(m)
	if err != nil {
		return nil, err
	}
	msg := message.NewMessage(idspkg.CreateULID(), payload)
	if ctx != nil {
		msg.SetContext(ctx)
	}
	if m.TraceID != "" {
		msg.Metadata.Set(MetadataTraceID, m.TraceID)
	}
	if m.From != "" {
		msg.Metadata.Set(MetadataFrom, m.From)
	}
	return msg, nil
}

// Decode reads a Message from a watermill payload.
func Decode(msg *message.Message) (Message, error) {
	var m Message
	if err := jsoncodec.Unmarshal(msg.Payload, &m); err != nil {
		return Message{}, err
	}
	if m.Path == "" {
		return Message{}, ErrEmptyPath
	}
	return m, nil
}
