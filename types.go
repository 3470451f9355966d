package cameracapture

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/e7canasta/camera-capture/internal/exchange"
	"github.com/e7canasta/camera-capture/internal/pixbuf"
	"github.com/e7canasta/camera-capture/internal/still"
	"github.com/e7canasta/camera-capture/internal/warmup"
)

// Frame is an interleaved 8-bit image handed to the consumer.
//
// Pix holds Height rows of Stride bytes (Stride == Width*Channels).
// Timestamp is in milliseconds: the producer supplied capture time in stream
// mode, the write time in image mode.
type Frame = pixbuf.Buffer

// TimestampMode selects which timestamp a stream GrabFrame reports.
type TimestampMode = exchange.TimestampMode

const (
	// TimestampPrevious reports the stamp of the frame handed out by the
	// previous GrabFrame. This is the default.
	TimestampPrevious = exchange.TimestampPrevious
	// TimestampCurrent reports the stamp of the frame being handed out.
	TimestampCurrent = exchange.TimestampCurrent
)

// ParseTimestampMode accepts "previous" (or "") and "current".
func ParseTimestampMode(s string) (TimestampMode, error) {
	return exchange.ParseTimestampMode(s)
}

// PixelFormat is the layout of image mode frames.
type PixelFormat = still.PixelFormat

const (
	FormatRGB       = still.RGB
	FormatBGR       = still.BGR
	FormatLuminance = still.Luminance
	FormatRGBA      = still.RGBA
	FormatBGRA      = still.BGRA
)

// ParsePixelFormat accepts rgb, bgr, luminance, rgba and bgra.
func ParsePixelFormat(s string) (PixelFormat, error) {
	return still.ParsePixelFormat(s)
}

// WarmupStats summarises frame arrival measured by Warmup.
type WarmupStats = warmup.Stats

// Mode tells which kind of capture a Capture is.
type Mode int

const (
	ModeStream Mode = iota + 1
	ModeImage
)

func (m Mode) String() string {
	switch m {
	case ModeStream:
		return "stream"
	case ModeImage:
		return "image"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// StreamConfig describes a raw camera stream. Immutable once the capture is
// built.
type StreamConfig struct {
	Width  int // sensor width, positive and even
	Height int // sensor height, positive and even

	// Orientation is the clockwise sensor rotation in degrees: 0, 90, 180
	// or 270 (360 is accepted as 0). 90 and 270 swap the output dimensions.
	Orientation int
	Flip        bool // front camera mirroring

	// WaitTimeout bounds GrabFrame. Zero means 2 seconds.
	WaitTimeout time.Duration

	TimestampMode TimestampMode
}

// ImageConfig describes an image mode capture.
type ImageConfig struct {
	Width  int
	Height int
	Format PixelFormat
}

// Stats is a snapshot of capture counters.
type Stats struct {
	CaptureID     string
	Mode          Mode
	Writes        uint64        // frames accepted from the producer
	Grabs         uint64        // frames handed to the consumer
	Drops         uint64        // frames overwritten before being grabbed
	Timeouts      uint64        // grabs that gave up waiting
	Rejected      uint64        // frames discarded by validation
	LastTransform time.Duration // orientation time of the last grab
}

// Option configures a Capture or a Bridge.
type Option func(*options)

type options struct {
	log zerolog.Logger
	now func() time.Time
}

func buildOptions(opts []Option) options {
	o := options{log: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger. Default is zerolog.Nop().
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithClock replaces time.Now for image mode timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}
