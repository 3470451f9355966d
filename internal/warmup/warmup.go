package warmup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrTooFewFrames is returned when fewer than two frames arrived.
	ErrTooFewFrames = errors.New("warmup: not enough frames")

	// ErrUnstable is returned together with the measured stats when the
	// arrival rate did not settle.
	ErrUnstable = errors.New("warmup: frame rate unstable")
)

// GrabFunc obtains one frame and reports whether it got one.
type GrabFunc func(ctx context.Context) bool

// Run grabs frames for the given duration, discarding them, and measures
// their arrival.
//
// On ErrUnstable the stats are returned as well so callers can decide to
// carry on.
func Run(ctx context.Context, grab GrabFunc, d time.Duration, log zerolog.Logger) (*Stats, error) {
	log.Info().Dur("duration", d).Msg("warmup: starting")

	wctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	start := time.Now()
	arrivals := make([]time.Time, 0, 64)
	for wctx.Err() == nil {
		if grab(wctx) {
			arrivals = append(arrivals, time.Now())
			log.Trace().Int("frames", len(arrivals)).Msg("warmup: frame")
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	if len(arrivals) < 2 {
		return nil, fmt.Errorf("%w: got %d, need at least 2", ErrTooFewFrames, len(arrivals))
	}

	st := Measure(arrivals, elapsed)
	log.Info().
		Int("frames", st.Frames).
		Dur("elapsed", st.Duration).
		Float64("fps_mean", st.FPSMean).
		Float64("fps_stddev", st.FPSStdDev).
		Float64("jitter_mean_s", st.JitterMean).
		Bool("stable", st.Stable).
		Msg("warmup: complete")

	if !st.Stable {
		return &st, fmt.Errorf("%w: mean=%.2f Hz stddev=%.2f jitter=%.3fs", ErrUnstable, st.FPSMean, st.FPSStdDev, st.JitterMean)
	}
	return &st, nil
}
