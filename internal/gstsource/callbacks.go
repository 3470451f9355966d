package gstsource

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/camera-capture/internal/colorconv"
	"github.com/e7canasta/camera-capture/internal/source"
)

// callbackContext is the state shared with the appsink callback.
type callbackContext struct {
	sink    source.Sink
	decode  Decode
	width   int
	height  int
	started time.Time
	log     zerolog.Logger

	frames    *atomic.Uint64
	rejected  *atomic.Uint64
	bytesRead *atomic.Uint64
}

// onNewSample hands one mapped NV21 buffer to the sink. The sink converts
// synchronously, so the mapped memory is only borrowed for the call.
// A bad sample is skipped; the stream keeps going.
func onNewSample(s *app.Sink, ctx *callbackContext) gst.FlowReturn {
	sample := s.PullSample()
	if sample == nil {
		ctx.log.Warn().Msg("gstsource: failed to pull sample, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		ctx.log.Warn().Msg("gstsource: sample without buffer, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	defer buffer.Unmap()
	data := mapInfo.Bytes()
	if len(data) == 0 {
		ctx.log.Warn().Msg("gstsource: empty buffer received")
		return gst.FlowOK
	}

	seq := ctx.frames.Add(1)
	ctx.bytesRead.Add(uint64(len(data)))
	ts := time.Since(ctx.started).Milliseconds()

	if err := deliver(ctx.sink, ctx.decode, data, ctx.width, ctx.height, ts); err != nil {
		ctx.rejected.Add(1)
		ctx.log.Debug().Err(err).Uint64("seq", seq).Int("size_bytes", len(data)).Msg("gstsource: frame rejected")
	}
	return gst.FlowOK
}

// deliver passes an NV21 frame to the sink either whole or as plane views.
func deliver(sink source.Sink, decode Decode, nv21 []byte, width, height int, ts int64) error {
	if decode == DecodePlanes {
		p, err := colorconv.SplitNV21(nv21, width, height)
		if err != nil {
			return err
		}
		return sink.WriteFrameYUV420(p.Y, p.U, p.V, ts, p.PixelStride)
	}
	return sink.WriteFrameNV21(nv21, ts)
}
