// Package warmup measures how steadily frames reach the consumer before a
// tracker is attached.
package warmup

import (
	"math"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum FPS standard deviation as a
	// fraction of mean FPS. 30 FPS mean is stable below 4.5 FPS stddev.
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum mean jitter as a fraction of
	// the expected inter-frame interval. 30 FPS (33ms) is stable below 6.6ms.
	jitterStabilityThreshold = 0.20
)

// Stats summarises frame arrival during a warm-up window.
type Stats struct {
	Frames       int
	Duration     time.Duration
	FPSMean      float64
	FPSStdDev    float64
	FPSMin       float64
	FPSMax       float64
	JitterMean   float64 // seconds
	JitterStdDev float64 // seconds
	JitterMax    float64 // seconds
	Stable       bool
}

// Measure computes arrival statistics from the times frames were obtained.
//
// Steps:
//  1. Mean FPS over the whole window
//  2. Instantaneous FPS per interval, min/max and standard deviation
//  3. Jitter: distance of each interval from the expected 1/mean interval
//  4. Stable when FPS stddev < 15% of mean and mean jitter < 20% of the
//     expected interval
//
// Fewer than two arrivals yield a zero, unstable result.
func Measure(arrivals []time.Time, window time.Duration) Stats {
	st := Stats{Frames: len(arrivals), Duration: window}
	if len(arrivals) == 0 || window <= 0 {
		return st
	}
	st.FPSMean = float64(len(arrivals)) / window.Seconds()

	intervals := make([]float64, 0, len(arrivals)-1)
	for i := 1; i < len(arrivals); i++ {
		intervals = append(intervals, arrivals[i].Sub(arrivals[i-1]).Seconds())
	}

	fps := make([]float64, 0, len(intervals))
	for _, iv := range intervals {
		if iv > 0 {
			fps = append(fps, 1/iv)
		}
	}
	if len(fps) == 0 {
		return st
	}

	st.FPSMin, st.FPSMax = fps[0], fps[0]
	for _, f := range fps {
		st.FPSMin = math.Min(st.FPSMin, f)
		st.FPSMax = math.Max(st.FPSMax, f)
	}
	st.FPSStdDev = spread(fps, st.FPSMean)

	expected := 1 / st.FPSMean
	jitter := make([]float64, len(intervals))
	var sum float64
	for i, iv := range intervals {
		jitter[i] = math.Abs(iv - expected)
		sum += jitter[i]
		st.JitterMax = math.Max(st.JitterMax, jitter[i])
	}
	st.JitterMean = sum / float64(len(jitter))
	st.JitterStdDev = spread(jitter, st.JitterMean)

	st.Stable = st.FPSStdDev < st.FPSMean*fpsStabilityThreshold &&
		st.JitterMean < expected*jitterStabilityThreshold
	return st
}

// spread is the root mean square distance of xs from center.
func spread(xs []float64, center float64) float64 {
	var sq float64
	for _, x := range xs {
		d := x - center
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(xs)))
}

// SuggestedRate caps a consumer processing rate to what the source
// delivers, keeping a 10% margin. Returns maxRate when stats is nil.
func SuggestedRate(st *Stats, maxRate float64) float64 {
	if st == nil || st.FPSMean >= maxRate {
		return maxRate
	}
	return st.FPSMean * 0.9
}
