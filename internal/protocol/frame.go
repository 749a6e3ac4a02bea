package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Framing constants
const (
	// Preamble is the first byte of every plaintext frame
	Preamble = 0x00

	// MaxPayloadSize bounds a single frame payload (1 MiB)
	MaxPayloadSize = 1 << 20

	// maxHeaderSize is preamble + two 10-byte varints
	maxHeaderSize = 1 + 2*binary.MaxVarintLen64
)

var (
	// ErrBadPreamble is returned when a frame does not start with the plaintext preamble
	ErrBadPreamble = errors.New("invalid frame preamble")
	// ErrFrameTooLarge is returned when a frame declares a payload above MaxPayloadSize
	ErrFrameTooLarge = errors.New("frame payload too large")
)

// Frame represents a single decoded frame
// Layout: [Preamble:1][Length:varint][Type:varint][Payload:Length]
type Frame struct {
	Type    uint32
	Payload []byte
}

// EncodeFrame builds a complete frame for the given message type and payload
func EncodeFrame(msgType uint32, payload []byte) []byte {
	buf := make([]byte, 0, maxHeaderSize+len(payload))
	buf = append(buf, Preamble)
	buf = protowire.AppendVarint(buf, uint64(len(payload)))
	buf = protowire.AppendVarint(buf, uint64(msgType))
	return append(buf, payload...)
}

// EncodeMessage marshals a message and wraps it in a frame
func EncodeMessage(msg Message) []byte {
	return EncodeFrame(msg.MessageType(), msg.Marshal())
}

// ParseFrame parses one frame from the start of data and returns it with the number of bytes consumed.
// io.ErrUnexpectedEOF is returned when data holds an incomplete frame.
func ParseFrame(data []byte) (*Frame, int, error) {
	if len(data) == 0 {
		return nil, 0, io.ErrUnexpectedEOF
	}

	if data[0] != Preamble {
		return nil, 0, fmt.Errorf("%w: got 0x%02x", ErrBadPreamble, data[0])
	}

	offset := 1
	length, n := protowire.ConsumeVarint(data[offset:])
	if n < 0 {
		return nil, 0, io.ErrUnexpectedEOF
	}
	offset += n

	if length > MaxPayloadSize {
		return nil, 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	msgType, n := protowire.ConsumeVarint(data[offset:])
	if n < 0 {
		return nil, 0, io.ErrUnexpectedEOF
	}
	offset += n

	end := offset + int(length)
	if len(data) < end {
		return nil, 0, io.ErrUnexpectedEOF
	}

	payload := make([]byte, length)
	copy(payload, data[offset:end])

	return &Frame{Type: uint32(msgType), Payload: payload}, end, nil
}

// ReadFrame reads one frame from a buffered stream
func ReadFrame(r *bufio.Reader) (*Frame, error) {
	preamble, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	if preamble != Preamble {
		return nil, fmt.Errorf("%w: got 0x%02x", ErrBadPreamble, preamble)
	}

	length, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame length: %w", err)
	}

	if length > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	msgType, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame type: %w", err)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read frame payload: %w", err)
	}

	return &Frame{Type: uint32(msgType), Payload: payload}, nil
}

// ReadMessage reads one frame and decodes it into a message
func ReadMessage(r *bufio.Reader) (Message, error) {
	frame, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}

	return Decode(frame.Type, frame.Payload)
}
