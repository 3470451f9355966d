package cameracapture

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/e7canasta/camera-capture/internal/colorconv"
	"github.com/e7canasta/camera-capture/internal/exchange"
	"github.com/e7canasta/camera-capture/internal/orient"
	"github.com/e7canasta/camera-capture/internal/pixbuf"
	"github.com/e7canasta/camera-capture/internal/still"
	"github.com/e7canasta/camera-capture/internal/warmup"
)

// Capture is one capture session, in stream or image mode.
//
// Exactly one of stream and image is set; every operation dispatches on it.
type Capture struct {
	id     string
	log    zerolog.Logger
	closed atomic.Bool
	seq    atomic.Uint64

	stream *streamCapture
	image  *still.Store
}

type streamCapture struct {
	cfg StreamConfig
	x   *exchange.Exchange
	tr  *orient.Transformer
}

// NewStreamCapture validates cfg and allocates the session: three RGB
// buffers plus the orientation output buffers.
func NewStreamCapture(cfg StreamConfig, opts ...Option) (*Capture, error) {
	o := buildOptions(opts)

	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width%2 != 0 || cfg.Height%2 != 0 {
		return nil, fmt.Errorf("camera-capture: stream %dx%d must be positive and even: %w", cfg.Width, cfg.Height, ErrInvalidSize)
	}
	or, err := orient.Parse(cfg.Orientation)
	if err != nil {
		return nil, fmt.Errorf("camera-capture: %w", err)
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = exchange.DefaultWaitTimeout
	}

	id := uuid.NewString()
	log := o.log.With().Str("capture_id", id).Str("mode", ModeStream.String()).Logger()

	tr, err := orient.NewTransformer(cfg.Width, cfg.Height, 3, or, cfg.Flip)
	if err != nil {
		return nil, fmt.Errorf("camera-capture: orientation buffers: %w", err)
	}
	x, err := exchange.New(cfg.Width, cfg.Height,
		exchange.WithWaitTimeout(cfg.WaitTimeout),
		exchange.WithTimestampMode(cfg.TimestampMode),
		exchange.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("camera-capture: frame buffers: %w", err)
	}

	ow, oh := tr.OutputSize()
	log.Info().
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Int("orientation", cfg.Orientation).
		Bool("flip", cfg.Flip).
		Str("plan", tr.Plan().String()).
		Int("out_width", ow).
		Int("out_height", oh).
		Stringer("timestamp_mode", cfg.TimestampMode).
		Msg("capture: stream session created")

	return &Capture{
		id:     id,
		log:    log,
		stream: &streamCapture{cfg: cfg, x: x, tr: tr},
	}, nil
}

// NewImageCapture builds an image mode session.
func NewImageCapture(cfg ImageConfig, opts ...Option) (*Capture, error) {
	o := buildOptions(opts)

	st, err := still.New(cfg.Width, cfg.Height, cfg.Format, still.WithClock(o.now))
	if err != nil {
		return nil, fmt.Errorf("camera-capture: image %dx%d %s: %w", cfg.Width, cfg.Height, cfg.Format, err)
	}

	id := uuid.NewString()
	log := o.log.With().Str("capture_id", id).Str("mode", ModeImage.String()).Logger()
	log.Info().
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Stringer("format", cfg.Format).
		Msg("capture: image session created")

	return &Capture{id: id, log: log, image: st}, nil
}

// ID identifies the session in logs and telemetry.
func (c *Capture) ID() string { return c.id }

// Mode returns ModeStream or ModeImage.
func (c *Capture) Mode() Mode {
	if c.stream != nil {
		return ModeStream
	}
	return ModeImage
}

// StreamConfig returns the stream configuration and false for image mode.
func (c *Capture) StreamConfig() (StreamConfig, bool) {
	if c.stream == nil {
		return StreamConfig{}, false
	}
	return c.stream.cfg, true
}

// OutputSize returns the dimensions of grabbed frames.
func (c *Capture) OutputSize() (width, height int) {
	if c.stream != nil {
		return c.stream.tr.OutputSize()
	}
	return c.image.Size()
}

// WriteFrameYUV420 decodes three YUV 4:2:0 planes (U then V) into the next
// write buffer and publishes it. pixelStride is the chroma sample distance:
// 1 for planar, 2 for semi-planar views.
//
// Invalid frames are rejected before any buffer is touched.
func (c *Capture) WriteFrameYUV420(y, u, v []byte, timestampMs int64, pixelStride int) error {
	s, err := c.producer()
	if err != nil {
		return err
	}
	p := colorconv.Planes{Y: y, U: u, V: v, PixelStride: pixelStride}
	w, h := s.cfg.Width, s.cfg.Height
	err = s.x.Write(timestampMs, func(dst *pixbuf.Buffer) error {
		return colorconv.YUV420ToRGB(dst.Pix, p, w, h)
	})
	return c.written(err, timestampMs)
}

// WriteFrameNV21 decodes one packed NV21 frame (luma plane followed by
// interleaved V/U pairs).
func (c *Capture) WriteFrameNV21(nv21 []byte, timestampMs int64) error {
	s, err := c.producer()
	if err != nil {
		return err
	}
	w, h := s.cfg.Width, s.cfg.Height
	err = s.x.Write(timestampMs, func(dst *pixbuf.Buffer) error {
		return colorconv.NV21ToRGB(dst.Pix, nv21, w, h)
	})
	return c.written(err, timestampMs)
}

// WriteFrame stores an already decoded image (image mode only).
func (c *Capture) WriteFrame(data []byte, width, height int) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.image == nil {
		return fmt.Errorf("camera-capture: WriteFrame on %s capture: %w", c.Mode(), ErrWrongMode)
	}
	err := c.image.Write(data, width, height)
	if err != nil {
		c.log.Debug().Err(err).Msg("capture: image rejected")
	}
	return err
}

func (c *Capture) producer() (*streamCapture, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if c.stream == nil {
		return nil, fmt.Errorf("camera-capture: stream write on %s capture: %w", c.Mode(), ErrWrongMode)
	}
	return c.stream, nil
}

func (c *Capture) written(err error, ts int64) error {
	seq := c.seq.Add(1)
	if err != nil {
		c.log.Debug().Err(err).Uint64("seq", seq).Int64("ts_ms", ts).Msg("capture: frame rejected")
		return err
	}
	c.log.Trace().Uint64("seq", seq).Int64("ts_ms", ts).Msg("capture: frame written")
	return nil
}

// GrabFrame returns the latest frame, waiting up to the configured timeout
// in stream mode. ok is false when no new frame arrived in time, in image
// mode before the first write, and after Close.
//
// The frame is owned by the capture and valid until the next GrabFrame.
func (c *Capture) GrabFrame() (*Frame, bool) {
	return c.GrabFrameContext(context.Background())
}

// GrabFrameContext is GrabFrame with an additional cancellation.
func (c *Capture) GrabFrameContext(ctx context.Context) (*Frame, bool) {
	if c.closed.Load() {
		return nil, false
	}
	if c.image != nil {
		return c.image.Grab()
	}

	s := c.stream
	var out *Frame
	ts, ok := s.x.Read(ctx, func(src *pixbuf.Buffer) error {
		var err error
		out, err = s.tr.Apply(src)
		return err
	})
	if !ok {
		return nil, false
	}
	out.Timestamp = ts
	return out, true
}

// Warmup grabs and discards stream frames for d and reports how steadily
// they arrived. An unstable stream returns the stats together with an
// error wrapping warmup.ErrUnstable.
func (c *Capture) Warmup(ctx context.Context, d time.Duration) (*WarmupStats, error) {
	if c.stream == nil {
		return nil, fmt.Errorf("camera-capture: warmup on %s capture: %w", c.Mode(), ErrWrongMode)
	}
	return warmupRun(ctx, c.GrabFrameContext, d, c.log)
}

func warmupRun(ctx context.Context, grab func(context.Context) (*Frame, bool), d time.Duration, log zerolog.Logger) (*WarmupStats, error) {
	return warmup.Run(ctx, func(ctx context.Context) bool {
		_, ok := grab(ctx)
		return ok
	}, d, log)
}

// Stats returns the session counters.
func (c *Capture) Stats() Stats {
	st := Stats{CaptureID: c.id, Mode: c.Mode()}
	if c.image != nil {
		st.Writes, st.Grabs = c.image.Counts()
		return st
	}
	xs := c.stream.x.Stats()
	st.Writes = xs.Writes
	st.Grabs = xs.Grabs
	st.Drops = xs.Drops
	st.Timeouts = xs.Timeouts
	st.Rejected = xs.Rejected
	st.LastTransform = xs.LastTransform
	return st
}

// Closed reports whether Close was called.
func (c *Capture) Closed() bool { return c.closed.Load() }

// Close releases the session buffers and wakes a consumer blocked in
// GrabFrame. The producer must have stopped writing. Idempotent.
func (c *Capture) Close() {
	if c.closed.Swap(true) {
		return
	}
	if c.stream != nil {
		c.stream.x.Close()
	} else {
		c.image.Close()
	}
	st := c.Stats()
	c.log.Info().
		Uint64("writes", st.Writes).
		Uint64("grabs", st.Grabs).
		Uint64("drops", st.Drops).
		Msg("capture: session closed")
}
