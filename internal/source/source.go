// Package source produces camera frames for a capture sink.
//
// Sources stand in for the camera callback thread: each one runs on a
// single goroutine and pushes YUV frames at a fixed rate until its context
// is cancelled, its input ends or the sink is closed.
package source

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/e7canasta/camera-capture/internal/pixbuf"
)

// Sink receives frames from a source. *cameracapture.Bridge and
// *cameracapture.Capture both satisfy it.
type Sink interface {
	WriteFrameYUV420(y, u, v []byte, timestampMs int64, pixelStride int) error
	WriteFrameNV21(nv21 []byte, timestampMs int64) error
}

// Source pushes frames into a sink until ctx is done.
type Source interface {
	Run(ctx context.Context, sink Sink) error
	Stats() Stats
}

// Stats counts what a source produced.
type Stats struct {
	Frames      uint64 // frames handed to the sink
	Rejected    uint64 // frames the sink returned an error for
	LastTraceID string
}

// counters is embedded by every source.
type counters struct {
	frames   atomic.Uint64
	rejected atomic.Uint64
	trace    atomic.Value // string
}

func (c *counters) Stats() Stats {
	s := Stats{Frames: c.frames.Load(), Rejected: c.rejected.Load()}
	if id, ok := c.trace.Load().(string); ok {
		s.LastTraceID = id
	}
	return s
}

// errStop ends a pacing loop without an error.
var errStop = errors.New("stop")

// deliver records the outcome of one sink write. A closed sink ends the
// run; any other error only drops the frame.
func (c *counters) deliver(log zerolog.Logger, seq uint64, err error) error {
	id := uuid.NewString()
	c.trace.Store(id)
	c.frames.Add(1)
	if err == nil {
		log.Trace().Uint64("seq", seq).Str("trace_id", id).Msg("frame delivered")
		return nil
	}
	if errors.Is(err, pixbuf.ErrClosed) {
		return errStop
	}
	c.rejected.Add(1)
	log.Debug().Err(err).Uint64("seq", seq).Str("trace_id", id).Msg("frame rejected")
	return nil
}

// pace calls produce once per interval. Timestamps are milliseconds since
// the loop started. It returns nil when ctx ends or produce returns errStop.
func pace(ctx context.Context, interval time.Duration, produce func(seq uint64, ts int64) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	for seq := uint64(1); ; seq++ {
		err := produce(seq, time.Since(start).Milliseconds())
		if errors.Is(err, errStop) {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
