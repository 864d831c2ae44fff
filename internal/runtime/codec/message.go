package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/tcpflow/internal/runtime/jsoncodec"
)

// MessageCodec turns application messages into payload bytes and back.
type MessageCodec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var (
	// Default writes protobuf binary for proto messages, raw bytes for
	// []byte and JSON for everything else.
	Default MessageCodec = Binary{}
	// JSON writes protojson for proto messages and JSON for everything else.
	JSON MessageCodec = JSONCodec{}
)

type Binary struct{}

func (Binary) Name() string { return "binary" }

func (Binary) Marshal(v any) ([]byte, error) {
	switch msg := v.(type) {
	case nil:
		return nil, ErrNilMessage
	case proto.Message:
		return proto.Marshal(msg)
	case []byte:
		return msg, nil
	case string:
		return []byte(msg), nil
	default:
		return jsoncodec.Marshal(msg)
	}
}

func (Binary) Unmarshal(data []byte, v any) error {
	switch target := v.(type) {
	case nil:
		return ErrNilMessage
	case proto.Message:
		return proto.Unmarshal(data, target)
	case *[]byte:
		*target = append((*target)[:0], data...)
		return nil
	default:
		return jsoncodec.Unmarshal(data, target)
	}
}

type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) {
	switch msg := v.(type) {
	case nil:
		return nil, ErrNilMessage
	case proto.Message:
		return protojson.Marshal(msg)
	default:
		return jsoncodec.Marshal(msg)
	}
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	switch target := v.(type) {
	case nil:
		return ErrNilMessage
	case proto.Message:
		return protojson.Unmarshal(data, target)
	default:
		return jsoncodec.Unmarshal(data, target)
	}
}

// Describe renders v as JSON for logs and monitor records. It never fails;
// values that cannot be encoded are described with %v.
func Describe(v any) string {
	switch msg := v.(type) {
	case nil:
		return ""
	case string:
		return msg
	case proto.Message:
		out, err := protojson.Marshal(msg)
		if err != nil {
			return fmt.Sprintf("%v", msg)
		}
		return string(out)
	default:
		out, err := jsoncodec.MarshalString(msg)
		if err != nil {
			return fmt.Sprintf("%v", msg)
		}
		return out
	}
}
