package gstsource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/camera-capture/internal/source"
)

// Decode selects how NV21 buffers reach the sink.
type Decode int

const (
	// DecodeNV21 calls WriteFrameNV21 with the packed buffer.
	DecodeNV21 Decode = iota
	// DecodePlanes splits the buffer and calls WriteFrameYUV420 with
	// pixel stride 2.
	DecodePlanes
)

func (d Decode) String() string {
	if d == DecodePlanes {
		return "planes"
	}
	return "nv21"
}

// ParseDecode maps "nv21" and "planes" to a Decode.
func ParseDecode(s string) (Decode, error) {
	switch s {
	case "", "nv21":
		return DecodeNV21, nil
	case "planes":
		return DecodePlanes, nil
	}
	return DecodeNV21, fmt.Errorf("gstsource: unknown decode %q", s)
}

// ErrNotDevice is returned when the configured path is not a character device.
var ErrNotDevice = errors.New("not a video device")

// Config configures a Camera.
type Config struct {
	Device    string
	Width     int
	Height    int
	FPS       float64
	Decode    Decode
	Reconnect ReconnectConfig
}

// ErrorStats counts classified pipeline errors.
type ErrorStats struct {
	Device     uint64
	Format     uint64
	Permission uint64
	Unknown    uint64
	Reconnects uint32
}

// Camera is a source.Source backed by a GStreamer pipeline.
type Camera struct {
	cfg Config
	log zerolog.Logger

	frames    atomic.Uint64
	rejected  atomic.Uint64
	bytesRead atomic.Uint64

	errs       [4]atomic.Uint64 // indexed by ErrorCategory
	reconnects atomic.Uint32
}

var _ source.Source = (*Camera)(nil)

// New validates cfg. Nothing is started until Run.
func New(cfg Config, log zerolog.Logger) (*Camera, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width%2 != 0 || cfg.Height%2 != 0 {
		return nil, fmt.Errorf("gstsource: size %dx%d must be positive and even", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("gstsource: fps must be > 0")
	}
	if cfg.Device == "" {
		cfg.Device = TestDevice
	}
	if err := checkDevice(cfg.Device); err != nil {
		return nil, err
	}
	if cfg.Reconnect.MaxRetries == 0 {
		cfg.Reconnect = DefaultReconnectConfig()
	}
	return &Camera{
		cfg: cfg,
		log: log.With().Str("source", "gstreamer").Str("device", cfg.Device).Logger(),
	}, nil
}

// checkDevice rejects paths that are missing or not character devices.
func checkDevice(path string) error {
	if path == TestDevice {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("gstsource: %w", err)
	}
	if info.Mode()&os.ModeCharDevice == 0 {
		return fmt.Errorf("gstsource: %s: %w", path, ErrNotDevice)
	}
	return nil
}

// Run builds the pipeline and restarts it on bus errors with exponential
// backoff. It returns nil when ctx is cancelled.
func (c *Camera) Run(ctx context.Context, sink source.Sink) error {
	c.log.Info().
		Int("width", c.cfg.Width).
		Int("height", c.cfg.Height).
		Float64("fps", c.cfg.FPS).
		Str("decode", c.cfg.Decode.String()).
		Msg("gstsource: starting")

	started := time.Now()
	state := &reconnectState{reconnects: &c.reconnects}
	err := runWithReconnect(ctx, func(ctx context.Context, state *reconnectState) error {
		return c.session(ctx, sink, started, state)
	}, c.cfg.Reconnect, state, c.log)

	if err != nil {
		c.log.Error().Err(err).
			Dur("uptime", time.Since(started)).
			Uint64("frames", c.frames.Load()).
			Msg("gstsource: pipeline stopped after reconnection failure")
		return err
	}
	c.log.Info().Uint64("frames", c.frames.Load()).Msg("gstsource: stopped")
	return nil
}

// session runs one pipeline from creation to teardown.
func (c *Camera) session(ctx context.Context, sink source.Sink, started time.Time, state *reconnectState) error {
	elements, err := CreatePipeline(PipelineConfig{
		Device: c.cfg.Device,
		Width:  c.cfg.Width,
		Height: c.cfg.Height,
		FPS:    c.cfg.FPS,
	}, c.log)
	if err != nil {
		return err
	}
	defer func() {
		if err := DestroyPipeline(elements); err != nil {
			c.log.Error().Err(err).Msg("gstsource: failed to destroy pipeline")
		}
	}()

	cb := &callbackContext{
		sink:      sink,
		decode:    c.cfg.Decode,
		width:     c.cfg.Width,
		height:    c.cfg.Height,
		started:   started,
		log:       c.log,
		frames:    &c.frames,
		rejected:  &c.rejected,
		bytesRead: &c.bytesRead,
	}
	elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(s *app.Sink) gst.FlowReturn {
			return onNewSample(s, cb)
		},
	})

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	return c.monitor(ctx, elements.Pipeline, state)
}

// monitor polls the bus until ctx ends or the pipeline fails.
func (c *Camera) monitor(ctx context.Context, pipeline *gst.Pipeline, state *reconnectState) error {
	bus := pipeline.GetPipelineBus()
	for {
		if ctx.Err() != nil {
			return nil
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			c.log.Info().Uint64("frames", c.frames.Load()).Msg("gstsource: end of stream")
			return fmt.Errorf("end of stream")

		case gst.MessageError:
			gerr := msg.ParseError()
			category := ClassifyGStreamerError(gerr)
			c.errs[category].Add(1)
			c.log.Error().
				Str("error", gerr.Error()).
				Str("debug", gerr.DebugString()).
				Str("category", category.String()).
				Uint64("frames", c.frames.Load()).
				Msg("gstsource: pipeline error")
			return fmt.Errorf("pipeline error [%s]: %s", category, gerr.Error())

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				_, next := msg.ParseStateChanged()
				if next == gst.StatePlaying {
					state.reset()
					c.log.Info().Msg("gstsource: pipeline playing")
				}
			}
		}
	}
}

// Stats implements source.Source.
func (c *Camera) Stats() source.Stats {
	return source.Stats{Frames: c.frames.Load(), Rejected: c.rejected.Load()}
}

// ErrorStats returns classified error counts.
func (c *Camera) ErrorStats() ErrorStats {
	return ErrorStats{
		Device:     c.errs[ErrCategoryDevice].Load(),
		Format:     c.errs[ErrCategoryFormat].Load(),
		Permission: c.errs[ErrCategoryPermission].Load(),
		Unknown:    c.errs[ErrCategoryUnknown].Load(),
		Reconnects: c.reconnects.Load(),
	}
}

// BytesRead returns the total size of buffers received.
func (c *Camera) BytesRead() uint64 { return c.bytesRead.Load() }
