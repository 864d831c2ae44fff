// Package codec provides the default unpack and pack behaviour: a frame body
// starts with a 4-byte big-endian action code followed by the encoded
// message payload.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/drblury/tcpflow/internal/runtime/frame"
)

// ActionLength is the size of the action prefix inside a frame body.
const ActionLength = 4

var (
	ErrShortBody     = errors.New("codec: body shorter than action prefix")
	ErrActionRange   = errors.New("codec: action out of range")
	ErrNilMessage    = errors.New("codec: message is nil")
	ErrUnsupportedIn = errors.New("codec: unsupported target type")
)

// Packet is a decoded frame: the action selecting a route plus the raw
// message bytes.
type Packet interface {
	Action() int
	Message() []byte
}

type packet struct {
	action  int
	message []byte
}

func (p packet) Action() int     { return p.action }
func (p packet) Message() []byte { return p.message }

// NewPacket builds a Packet from its parts.
func NewPacket(message []byte, action int) Packet {
	return packet{action: action, message: message}
}

// Unpack decodes a complete wire packet, header included.
func Unpack(raw []byte, maxLength uint32) (Packet, error) {
	f, err := frame.Parse(raw, maxLength)
	if err != nil {
		return nil, err
	}
	return UnpackBody(f.Body)
}

// UnpackBody decodes a frame body without its header.
func UnpackBody(body []byte) (Packet, error) {
	if len(body) < ActionLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortBody, len(body))
	}
	action := int(binary.BigEndian.Uint32(body[:ActionLength]))
	return packet{action: action, message: body[ActionLength:]}, nil
}

// Pack encodes message with c and wraps it in a frame tagged with action.
func Pack(c MessageCodec, message any, action int) ([]byte, error) {
	if action < 0 || uint64(action) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d", ErrActionRange, action)
	}
	if c == nil {
		c = Default
	}
	payload, err := c.Marshal(message)
	if err != nil {
		return nil, err
	}

	body := make([]byte, ActionLength+len(payload))
	binary.BigEndian.PutUint32(body[:ActionLength], uint32(action))
	copy(body[ActionLength:], payload)
	return frame.Encode(body)
}
