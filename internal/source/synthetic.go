package source

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/e7canasta/camera-capture/internal/colorconv"
)

// bars are the colours of the test pattern, left to right.
var bars = [][3]byte{
	{235, 235, 235}, // white
	{235, 235, 16},  // yellow
	{16, 235, 235},  // cyan
	{16, 235, 16},   // green
	{235, 16, 235},  // magenta
	{235, 16, 16},   // red
	{16, 16, 235},   // blue
	{16, 16, 16},    // black
}

// Synthetic produces scrolling colour bars.
type Synthetic struct {
	counters

	width, height int
	pixelStride   int // 1 planar, 2 semi-planar
	interval      time.Duration
	log           zerolog.Logger

	rgb []byte
}

// NewSynthetic builds a pattern source. pixelStride 2 delivers NV21 style
// interleaved chroma through WriteFrameYUV420.
func NewSynthetic(width, height, pixelStride int, fps float64, log zerolog.Logger) (*Synthetic, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("source: synthetic size %dx%d must be positive and even", width, height)
	}
	if pixelStride != 1 && pixelStride != 2 {
		return nil, fmt.Errorf("source: %w: %d", colorconv.ErrInvalidPixelStride, pixelStride)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("source: fps must be > 0")
	}
	return &Synthetic{
		width:       width,
		height:      height,
		pixelStride: pixelStride,
		interval:    time.Duration(float64(time.Second) / fps),
		log:         log.With().Str("source", "synthetic").Logger(),
		rgb:         make([]byte, width*height*3),
	}, nil
}

// Frame renders the pattern for frame seq. Bars shift left by two pixels
// per frame and a white marker moves down the first column.
func (s *Synthetic) Frame(seq uint64) (colorconv.Planes, error) {
	w, h := s.width, s.height
	barW := (w + len(bars) - 1) / len(bars)
	shift := int(seq*2) % w
	marker := int(seq) % h

	for y := 0; y < h; y++ {
		row := s.rgb[y*w*3 : (y+1)*w*3]
		for x := 0; x < w; x++ {
			c := bars[((x+shift)%w)/barW]
			if x < 2 && (y == marker || y == marker^1) {
				c = bars[0]
			}
			copy(row[x*3:x*3+3], c[:])
		}
	}
	return colorconv.RGBToYUV420(s.rgb, w, h, s.pixelStride)
}

// Run implements Source.
func (s *Synthetic) Run(ctx context.Context, sink Sink) error {
	s.log.Info().
		Int("width", s.width).
		Int("height", s.height).
		Int("pixel_stride", s.pixelStride).
		Dur("interval", s.interval).
		Msg("source started")

	err := pace(ctx, s.interval, func(seq uint64, ts int64) error {
		p, err := s.Frame(seq)
		if err != nil {
			return err
		}
		return s.deliver(s.log, seq, sink.WriteFrameYUV420(p.Y, p.U, p.V, ts, p.PixelStride))
	})

	s.log.Info().Uint64("frames", s.frames.Load()).Msg("source stopped")
	return err
}
