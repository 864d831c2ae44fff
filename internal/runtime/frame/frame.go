// Package frame implements the fixed-header framing used on the TCP stream:
// 4 reserved bytes, a 4-byte big-endian total length (header included), then
// an opaque body.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	HeaderLength        = 8
	LengthOffset        = 4
	BodyOffset          = 8
	MaxLength    uint32 = 2097152
)

var (
	ErrShortHeader    = errors.New("frame: short fixed header")
	ErrLengthTooSmall = errors.New("frame: declared length smaller than header")
	ErrFrameTooLarge  = errors.New("frame: declared length exceeds maximum")
	ErrPacketTooLarge = errors.New("frame: packet does not fit a 32-bit length")
)

// Frame is one complete wire message.
type Frame struct {
	Reserved [LengthOffset]byte
	Body     []byte
}

// Len is the total frame length written into the header.
func (f Frame) Len() uint32 {
	return uint32(HeaderLength + len(f.Body))
}

// Bytes returns the full wire encoding of f.
func (f Frame) Bytes() []byte {
	buf := make([]byte, HeaderLength+len(f.Body))
	copy(buf[0:LengthOffset], f.Reserved[:])
	binary.BigEndian.PutUint32(buf[LengthOffset:BodyOffset], f.Len())
	copy(buf[BodyOffset:], f.Body)
	return buf
}

// Encode builds the wire bytes for body. Encoded packets may exceed
// MaxLength; WriteChunked splits those on send.
func Encode(body []byte) ([]byte, error) {
	if uint64(len(body))+HeaderLength > math.MaxUint32 {
		return nil, ErrPacketTooLarge
	}
	return Frame{Body: body}.Bytes(), nil
}

// DecodeHeader returns the declared total length from a fixed header.
func DecodeHeader(b []byte) (uint32, error) {
	if len(b) < HeaderLength {
		return 0, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(b))
	}
	return binary.BigEndian.Uint32(b[LengthOffset:BodyOffset]), nil
}

// Parse splits a complete packet into its frame. The declared length must
// match len(packet).
func Parse(packet []byte, maxLength uint32) (Frame, error) {
	length, err := DecodeHeader(packet)
	if err != nil {
		return Frame{}, err
	}
	if err := checkLength(length, maxLength); err != nil {
		return Frame{}, err
	}
	if int(length) != len(packet) {
		return Frame{}, fmt.Errorf("frame: declared length %d, packet has %d bytes", length, len(packet))
	}
	var f Frame
	copy(f.Reserved[:], packet[0:LengthOffset])
	f.Body = packet[BodyOffset:]
	return f, nil
}

// ReadFrame reads exactly one frame from r. A frame whose declared length
// exceeds maxLength is rejected before its body is read; callers must close
// the connection in that case.
func ReadFrame(r io.Reader, maxLength uint32) (Frame, error) {
	var header [HeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	length, _ := DecodeHeader(header[:])
	if err := checkLength(length, maxLength); err != nil {
		return Frame{}, err
	}

	var f Frame
	copy(f.Reserved[:], header[0:LengthOffset])
	f.Body = make([]byte, length-HeaderLength)
	if len(f.Body) > 0 {
		if _, err := io.ReadFull(r, f.Body); err != nil {
			return Frame{}, err
		}
	}
	return f, nil
}

func checkLength(length, maxLength uint32) error {
	if maxLength == 0 {
		maxLength = MaxLength
	}
	if length < HeaderLength {
		return ErrLengthTooSmall
	}
	if length > maxLength {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, maxLength)
	}
	return nil
}

// Chunks splits data into consecutive slices of at most size bytes.
func Chunks(data []byte, size int) [][]byte {
	if size <= 0 {
		size = int(MaxLength)
	}
	if len(data) <= size {
		return [][]byte{data}
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		chunks = append(chunks, data[start:end])
	}
	return chunks
}

// WriteChunked writes data with one Write per chunk of at most size bytes
// and returns the number of writes issued.
func WriteChunked(w io.Writer, data []byte, size int) (int, error) {
	writes := 0
	for _, chunk := range Chunks(data, size) {
		if _, err := w.Write(chunk); err != nil {
			return writes, err
		}
		writes++
	}
	return writes, nil
}
