package main

import (
	"time"

	"github.com/rs/zerolog"

	cameracapture "github.com/e7canasta/camera-capture"
	"github.com/e7canasta/camera-capture/internal/source"
	"github.com/e7canasta/camera-capture/internal/telemetry"
	"github.com/e7canasta/camera-capture/internal/tracker"
)

// reporter logs the pipeline counters and publishes them as telemetry.
// It runs on the cron goroutine.
type reporter struct {
	instanceID string
	bridge     *cameracapture.Bridge
	source     source.Source
	loop       *tracker.Loop
	emitter    *telemetry.Emitter // nil when telemetry is off
	log        zerolog.Logger
}

func (r *reporter) snapshot() telemetry.Snapshot {
	bs := r.bridge.Stats()
	ls := r.loop.Stats()
	ss := r.source.Stats()

	snap := telemetry.Snapshot{
		InstanceID:      r.instanceID,
		CaptureID:       bs.CaptureID,
		TakenAtMS:       time.Now().UnixMilli(),
		Writes:          bs.Writes,
		Grabs:           bs.Grabs,
		Drops:           bs.Drops,
		Timeouts:        bs.Timeouts,
		Rejected:        bs.Rejected,
		Rebuilds:        bs.Rebuilds,
		LastTransformUS: bs.LastTransform.Microseconds(),
		SourceFrames:    ss.Frames,
		TrackedFrames:   ls.Tracked,
	}
	if c := r.bridge.Current(); c != nil {
		snap.Width, snap.Height = c.OutputSize()
		if sc, ok := c.StreamConfig(); ok {
			snap.Orientation, snap.Flip = sc.Orientation, sc.Flip
		}
	}
	return snap
}

// status answers the get_status control command.
func (r *reporter) status() map[string]interface{} {
	snap := r.snapshot()
	return map[string]interface{}{
		"instance_id":   snap.InstanceID,
		"capture_id":    snap.CaptureID,
		"width":         snap.Width,
		"height":        snap.Height,
		"orientation":   snap.Orientation,
		"flip":          snap.Flip,
		"source_frames": snap.SourceFrames,
		"writes":        snap.Writes,
		"grabs":         snap.Grabs,
		"drops":         snap.Drops,
		"timeouts":      snap.Timeouts,
		"rejected":      snap.Rejected,
		"rebuilds":      snap.Rebuilds,
		"tracked":       snap.TrackedFrames,
	}
}

func (r *reporter) report() {
	snap := r.snapshot()
	ls := r.loop.Stats()

	r.log.Info().
		Str("capture_id", snap.CaptureID).
		Int("width", snap.Width).
		Int("height", snap.Height).
		Int("orientation", snap.Orientation).
		Uint64("source_frames", snap.SourceFrames).
		Uint64("writes", snap.Writes).
		Uint64("grabs", snap.Grabs).
		Uint64("drops", snap.Drops).
		Uint64("timeouts", snap.Timeouts).
		Uint64("rejected", snap.Rejected).
		Uint64("rebuilds", snap.Rebuilds).
		Uint64("tracked", ls.Tracked).
		Dur("track_avg", ls.AvgTrack).
		Dur("transform", time.Duration(snap.LastTransformUS)*time.Microsecond).
		Msg("pipeline stats")

	if r.emitter == nil {
		return
	}
	if err := r.emitter.Publish(snap); err != nil {
		r.log.Warn().Err(err).Msg("telemetry publish failed")
	}
}
