// Package pixbuf holds the pixel buffers shared by the capture pipeline.
//
// A Pool owns exactly three equally sized buffers and three role indices
// (write, read, use). Roles rotate by swapping indices, never by copying
// pixels. Pool does no locking of its own: the exchange that owns it
// guards the indices with its role mutex.
package pixbuf

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSize is returned when width, height or channels is not positive.
	ErrInvalidSize = errors.New("invalid frame size")

	// ErrAllocation is returned when the requested buffer cannot be allocated.
	ErrAllocation = errors.New("frame allocation failed")

	// ErrSizeMismatch is returned when a frame does not match the geometry
	// of the buffer it is written into.
	ErrSizeMismatch = errors.New("frame size mismatch")

	// ErrClosed is returned when writing into buffers that were released.
	ErrClosed = errors.New("capture closed")
)

// MaxBytes caps a single buffer allocation.
const MaxBytes = 1 << 30

// Buffer is an interleaved 8-bit image.
//
// Stride is always Width*Channels (no row padding).
// Timestamp is the producer supplied capture time in milliseconds.
type Buffer struct {
	Pix       []byte
	Width     int
	Height    int
	Channels  int
	Stride    int
	Timestamp int64
}

// NewBuffer allocates a zeroed buffer.
func NewBuffer(width, height, channels int) (*Buffer, error) {
	n, err := byteSize(width, height, channels)
	if err != nil {
		return nil, err
	}
	return &Buffer{
		Pix:      make([]byte, n),
		Width:    width,
		Height:   height,
		Channels: channels,
		Stride:   width * channels,
	}, nil
}

// Len returns the number of pixel bytes the buffer is expected to hold.
func (b *Buffer) Len() int {
	return b.Stride * b.Height
}

// At returns the channel values of pixel (x, y).
func (b *Buffer) At(x, y int) []byte {
	off := y*b.Stride + x*b.Channels
	return b.Pix[off : off+b.Channels]
}

// CopyFrom copies pixels and timestamp from src. Geometry must match.
func (b *Buffer) CopyFrom(src *Buffer) error {
	if src.Width != b.Width || src.Height != b.Height || src.Channels != b.Channels {
		return fmt.Errorf("pixbuf: copy %dx%dx%d into %dx%dx%d: %w",
			src.Width, src.Height, src.Channels, b.Width, b.Height, b.Channels, ErrInvalidSize)
	}
	copy(b.Pix, src.Pix)
	b.Timestamp = src.Timestamp
	return nil
}

func byteSize(width, height, channels int) (int, error) {
	if width <= 0 || height <= 0 || channels <= 0 {
		return 0, fmt.Errorf("%w: %dx%dx%d", ErrInvalidSize, width, height, channels)
	}
	if width > MaxBytes/height || width*height > MaxBytes/channels {
		return 0, fmt.Errorf("%w: %dx%dx%d exceeds %d bytes", ErrAllocation, width, height, channels, MaxBytes)
	}
	return width * height * channels, nil
}
