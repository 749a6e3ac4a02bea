package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Format is the sample encoding produced by the capture source
type Format string

const (
	FormatS16LE Format = "s16le"
	FormatF32LE Format = "f32le"
)

// Audio frame contract
const (
	SampleRate = 16000
	Channels   = 1
	SampleSize = 2 // bytes per s16le sample
)

// BytesPerSample returns the size of one captured sample
func (f Format) BytesPerSample() (int, error) {
	switch f {
	case FormatS16LE:
		return 2, nil
	case FormatF32LE:
		return 4, nil
	default:
		return 0, fmt.Errorf("unsupported sample format '%s'", f)
	}
}

// Frame is one fixed-size block of s16le PCM audio
type Frame struct {
	Samples []int16
	Data    []byte // little-endian encoding of Samples
}

// ClipToPCM16 converts a float sample to s16, clipping to [-1.0, 1.0] first
func ClipToPCM16(v float32) int16 {
	if v != v { // NaN
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(v * math.MaxInt16)
}

// DecodeFrame converts raw captured bytes into a Frame
func DecodeFrame(raw []byte, format Format) (*Frame, error) {
	size, err := format.BytesPerSample()
	if err != nil {
		return nil, err
	}

	if len(raw)%size != 0 {
		return nil, fmt.Errorf("frame length %d is not a multiple of %d", len(raw), size)
	}

	n := len(raw) / size
	frame := &Frame{
		Samples: make([]int16, n),
		Data:    make([]byte, n*SampleSize),
	}

	for i := 0; i < n; i++ {
		var s int16
		switch format {
		case FormatS16LE:
			s = int16(binary.LittleEndian.Uint16(raw[i*2:]))
		case FormatF32LE:
			s = ClipToPCM16(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
		}
		frame.Samples[i] = s
		binary.LittleEndian.PutUint16(frame.Data[i*2:], uint16(s))
	}

	return frame, nil
}

// FrameReader reads fixed-size frames from a capture stream
type FrameReader struct {
	r         io.Reader
	format    Format
	blockSize int
	raw       []byte
}

// NewFrameReader creates a reader producing frames of blockSize samples
func NewFrameReader(r io.Reader, format Format, blockSize int) (*FrameReader, error) {
	size, err := format.BytesPerSample()
	if err != nil {
		return nil, err
	}

	if blockSize <= 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", blockSize)
	}

	return &FrameReader{
		r:         r,
		format:    format,
		blockSize: blockSize,
		raw:       make([]byte, blockSize*size),
	}, nil
}

// ReadFrame blocks until a full frame is available
func (fr *FrameReader) ReadFrame() (*Frame, error) {
	if _, err := io.ReadFull(fr.r, fr.raw); err != nil {
		return nil, err
	}
	return DecodeFrame(fr.raw, fr.format)
}
