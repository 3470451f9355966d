package cameracapture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/e7canasta/camera-capture/internal/exchange"
	"github.com/e7canasta/camera-capture/internal/orient"
)

// Params are the camera parameters that require a new capture session.
type Params struct {
	Width       int
	Height      int
	Orientation int
	Flip        bool
}

// BridgeConfig holds the settings shared by every session a Bridge builds.
type BridgeConfig struct {
	WaitTimeout   time.Duration
	TimestampMode TimestampMode
	ImageFormat   PixelFormat // used by WriteFrame sessions
}

// BridgeStats adds session bookkeeping to the current session's counters.
type BridgeStats struct {
	Stats
	Rebuilds uint64 // sessions built so far
}

// Bridge owns the current capture session and replaces it when camera
// parameters change.
//
// SetParameters may be called from any goroutine; the replacement happens
// on the producer goroutine during the next write, which then closes the
// previous session. A consumer blocked on the old session is woken and its
// next grab lands on the new one.
type Bridge struct {
	cfg  BridgeConfig
	opts []Option
	log  zerolog.Logger

	mu      sync.Mutex // pending, rebuild
	pending *Params

	cur       atomic.Pointer[Capture]
	ready     chan struct{}
	readyOnce sync.Once
	closed    atomic.Bool
	rebuilds  atomic.Uint64
}

// NewBridge creates a bridge with no session. Options are passed on to
// every session it builds.
func NewBridge(cfg BridgeConfig, opts ...Option) *Bridge {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = exchange.DefaultWaitTimeout
	}
	return &Bridge{
		cfg:   cfg,
		opts:  opts,
		log:   buildOptions(opts).log,
		ready: make(chan struct{}),
	}
}

// SetParameters validates p and schedules a new stream session for the
// next producer write. A later call before that write wins.
func (b *Bridge) SetParameters(p Params) error {
	if p.Width <= 0 || p.Height <= 0 || p.Width%2 != 0 || p.Height%2 != 0 {
		return fmt.Errorf("camera-capture: parameters %dx%d must be positive and even: %w", p.Width, p.Height, ErrInvalidSize)
	}
	if _, err := orient.Parse(p.Orientation); err != nil {
		return fmt.Errorf("camera-capture: %w", err)
	}

	b.mu.Lock()
	b.pending = &p
	b.mu.Unlock()

	b.log.Debug().
		Int("width", p.Width).
		Int("height", p.Height).
		Int("orientation", p.Orientation).
		Bool("flip", p.Flip).
		Msg("bridge: parameters scheduled")
	return nil
}

// Current returns the current session, or nil before the first write.
func (b *Bridge) Current() *Capture {
	return b.cur.Load()
}

// WriteFrameYUV420 forwards to the current stream session, building it
// first when parameters changed.
func (b *Bridge) WriteFrameYUV420(y, u, v []byte, timestampMs int64, pixelStride int) error {
	c, err := b.streamSession()
	if err != nil {
		return err
	}
	return c.WriteFrameYUV420(y, u, v, timestampMs, pixelStride)
}

// WriteFrameNV21 forwards to the current stream session, building it first
// when parameters changed.
func (b *Bridge) WriteFrameNV21(nv21 []byte, timestampMs int64) error {
	c, err := b.streamSession()
	if err != nil {
		return err
	}
	return c.WriteFrameNV21(nv21, timestampMs)
}

// WriteFrame forwards an already decoded image, building an image session
// when there is none or when the image size changed.
func (b *Bridge) WriteFrame(data []byte, width, height int) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		return ErrClosed
	}
	c := b.cur.Load()
	if c == nil || c.Mode() != ModeImage || !sameSize(c, width, height) {
		next, err := NewImageCapture(ImageConfig{Width: width, Height: height, Format: b.cfg.ImageFormat}, b.opts...)
		if err != nil {
			b.mu.Unlock()
			return err
		}
		b.install(next)
		c = next
	}
	b.mu.Unlock()
	return c.WriteFrame(data, width, height)
}

func sameSize(c *Capture, width, height int) bool {
	w, h := c.image.Size()
	return w == width && h == height
}

func (b *Bridge) streamSession() (*Capture, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return nil, ErrClosed
	}

	if p := b.pending; p != nil {
		b.pending = nil
		next, err := NewStreamCapture(StreamConfig{
			Width:         p.Width,
			Height:        p.Height,
			Orientation:   p.Orientation,
			Flip:          p.Flip,
			WaitTimeout:   b.cfg.WaitTimeout,
			TimestampMode: b.cfg.TimestampMode,
		}, b.opts...)
		if err != nil {
			return nil, err
		}
		b.install(next)
		return next, nil
	}

	c := b.cur.Load()
	if c == nil {
		return nil, ErrNotConfigured
	}
	return c, nil
}

// install publishes next and closes the previous session. Called with b.mu
// held, on the producer goroutine.
func (b *Bridge) install(next *Capture) {
	prev := b.cur.Swap(next)
	n := b.rebuilds.Add(1)
	b.readyOnce.Do(func() { close(b.ready) })

	ev := b.log.Info().Str("capture_id", next.ID()).Uint64("rebuilds", n)
	if prev != nil {
		ev = ev.Str("previous_id", prev.ID())
		prev.Close()
	}
	ev.Msg("bridge: session installed")
}

// GrabFrame grabs from the current session.
func (b *Bridge) GrabFrame() (*Frame, bool) {
	return b.GrabFrameContext(context.Background())
}

// GrabFrameContext grabs from the current session. Before the first session
// exists it waits up to the configured timeout for one to appear.
func (b *Bridge) GrabFrameContext(ctx context.Context) (*Frame, bool) {
	if b.closed.Load() {
		return nil, false
	}
	c := b.cur.Load()
	if c == nil {
		t := time.NewTimer(b.cfg.WaitTimeout)
		defer t.Stop()
		select {
		case <-b.ready:
			c = b.cur.Load()
		case <-t.C:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
	return c.GrabFrameContext(ctx)
}

// Warmup grabs through the bridge for d and reports arrival stability.
func (b *Bridge) Warmup(ctx context.Context, d time.Duration) (*WarmupStats, error) {
	c := b.cur.Load()
	if c != nil && c.Mode() != ModeStream {
		return nil, fmt.Errorf("camera-capture: warmup on %s capture: %w", c.Mode(), ErrWrongMode)
	}
	return warmupRun(ctx, b.GrabFrameContext, d, b.log)
}

// Stats returns the current session counters plus the rebuild count.
func (b *Bridge) Stats() BridgeStats {
	st := BridgeStats{Rebuilds: b.rebuilds.Load()}
	if c := b.cur.Load(); c != nil {
		st.Stats = c.Stats()
	}
	return st
}

// Closed reports whether Close was called.
func (b *Bridge) Closed() bool { return b.closed.Load() }

// Close closes the current session. Writes after Close return ErrClosed.
func (b *Bridge) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if c := b.cur.Load(); c != nil {
		c.Close()
	}
}
