// Package tracker drives a frame consumer: it grabs the latest frame from
// a capture, hands it to a Tracker and publishes the result.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/e7canasta/camera-capture/internal/pixbuf"
)

// ErrStopped is returned by a Tracker that will not accept more frames.
// The loop treats it as a clean stop.
var ErrStopped = errors.New("tracker stopped")

// idleWait paces the loop when a grab fails without blocking, as an image
// capture does before its first write.
const idleWait = 10 * time.Millisecond

// Status is the outcome of tracking one frame.
type Status int

const (
	StatusOff Status = iota // nothing found
	StatusOK
	StatusRecovering
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusRecovering:
		return "recovering"
	}
	return "off"
}

// Result describes one tracked frame.
type Result struct {
	Status    Status
	Width     int // frame dimensions as seen by the tracker
	Height    int
	Timestamp int64
	Took      time.Duration
}

// Tracker consumes frames. The frame is only valid during the call.
type Tracker interface {
	Track(ctx context.Context, frame *pixbuf.Buffer) (Result, error)
}

// Grabber is the consumer side of a capture.
type Grabber interface {
	GrabFrameContext(ctx context.Context) (*pixbuf.Buffer, bool)
	Closed() bool
}

// Hook is called after each frame that was tracked with StatusOK, while
// the frame is still valid.
type Hook func(frame *pixbuf.Buffer, res Result)

// Stats counts loop activity.
type Stats struct {
	Frames    uint64 // frames handed to the tracker
	Tracked   uint64 // frames with StatusOK
	Timeouts  uint64 // grabs that returned no frame
	Errors    uint64
	LastTrack time.Duration
	AvgTrack  time.Duration
}

// Loop repeatedly grabs and tracks until ctx is done or the tracker stops.
type Loop struct {
	grab    Grabber
	tracker Tracker
	hooks   []Hook
	log     zerolog.Logger

	frames   atomic.Uint64
	tracked  atomic.Uint64
	timeouts atomic.Uint64
	errs     atomic.Uint64
	last     atomic.Int64 // ns
	total    atomic.Int64 // ns
}

// NewLoop wires a grabber to a tracker.
func NewLoop(g Grabber, t Tracker, log zerolog.Logger, hooks ...Hook) *Loop {
	return &Loop{grab: g, tracker: t, hooks: hooks, log: log.With().Str("module", "tracker").Logger()}
}

// Run blocks until ctx is done, the grabber is closed or the tracker
// returns ErrStopped. All three are clean stops and return nil.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info().Msg("tracker: loop started")
	defer func() {
		l.log.Info().
			Uint64("frames", l.frames.Load()).
			Uint64("tracked", l.tracked.Load()).
			Uint64("timeouts", l.timeouts.Load()).
			Msg("tracker: loop stopped")
	}()

	for ctx.Err() == nil {
		grabbed := time.Now()
		frame, ok := l.grab.GrabFrameContext(ctx)
		if !ok {
			if l.grab.Closed() {
				return nil
			}
			// Producer stalled or session being replaced.
			l.timeouts.Add(1)
			if time.Since(grabbed) < idleWait {
				select {
				case <-ctx.Done():
				case <-time.After(idleWait):
				}
			}
			continue
		}

		start := time.Now()
		res, err := l.tracker.Track(ctx, frame)
		took := time.Since(start)
		if errors.Is(err, ErrStopped) {
			return nil
		}
		l.frames.Add(1)
		l.last.Store(int64(took))
		l.total.Add(int64(took))
		if err != nil {
			l.errs.Add(1)
			l.log.Warn().Err(err).Int64("ts_ms", frame.Timestamp).Msg("tracker: track failed")
			continue
		}

		res.Took = took
		l.log.Trace().
			Str("status", res.Status.String()).
			Int("width", res.Width).
			Int("height", res.Height).
			Dur("took", took).
			Msg("tracker: frame tracked")
		if res.Status != StatusOK {
			continue
		}
		l.tracked.Add(1)
		for _, h := range l.hooks {
			h(frame, res)
		}
	}
	return nil
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	s := Stats{
		Frames:    l.frames.Load(),
		Tracked:   l.tracked.Load(),
		Timeouts:  l.timeouts.Load(),
		Errors:    l.errs.Load(),
		LastTrack: time.Duration(l.last.Load()),
	}
	if s.Frames > 0 {
		s.AvgTrack = time.Duration(l.total.Load() / int64(s.Frames))
	}
	return s
}

// Mock is a Tracker that validates frames, simulates processing time and
// reports StatusOK for frames that are not uniformly black.
type Mock struct {
	latency   time.Duration
	maxFrames uint64

	seen       atomic.Uint64
	lastWidth  atomic.Int64
	lastHeight atomic.Int64
}

// NewMock creates a mock tracker. maxFrames 0 means unlimited.
func NewMock(latency time.Duration, maxFrames int) *Mock {
	return &Mock{latency: latency, maxFrames: uint64(maxFrames)}
}

// Track implements Tracker.
func (m *Mock) Track(ctx context.Context, frame *pixbuf.Buffer) (Result, error) {
	if m.maxFrames > 0 && m.seen.Load() >= m.maxFrames {
		return Result{}, ErrStopped
	}
	if frame.Width <= 0 || frame.Height <= 0 || len(frame.Pix) < frame.Len() {
		return Result{}, fmt.Errorf("tracker: invalid frame %dx%d with %d bytes", frame.Width, frame.Height, len(frame.Pix))
	}
	m.seen.Add(1)
	m.lastWidth.Store(int64(frame.Width))
	m.lastHeight.Store(int64(frame.Height))

	if m.latency > 0 {
		select {
		case <-time.After(m.latency):
		case <-ctx.Done():
		}
	}

	status := StatusOff
	for _, v := range frame.Pix[:frame.Len()] {
		if v != 0 {
			status = StatusOK
			break
		}
	}
	return Result{Status: status, Width: frame.Width, Height: frame.Height, Timestamp: frame.Timestamp}, nil
}

// Seen returns how many frames were tracked.
func (m *Mock) Seen() uint64 { return m.seen.Load() }

// LastSize returns the dimensions of the last tracked frame.
func (m *Mock) LastSize() (width, height int) {
	return int(m.lastWidth.Load()), int(m.lastHeight.Load())
}
