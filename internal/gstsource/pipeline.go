// Package gstsource feeds capture sessions from a GStreamer camera
// pipeline negotiated to NV21.
package gstsource

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// TestDevice selects videotestsrc instead of a V4L2 device.
const TestDevice = "test"

// PipelineConfig describes the pipeline to build.
type PipelineConfig struct {
	Device string // V4L2 device path or TestDevice
	Width  int
	Height int
	FPS    float64
}

// PipelineElements holds the elements needed after creation.
type PipelineElements struct {
	Pipeline   *gst.Pipeline
	AppSink    *app.Sink
	CapsFilter *gst.Element
}

// CreatePipeline builds, but does not start:
//
//	v4l2src|videotestsrc → videoconvert → videoscale → videorate →
//	capsfilter(NV21) → appsink
func CreatePipeline(cfg PipelineConfig, log zerolog.Logger) (*PipelineElements, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("gstsource: pipeline: %w", err)
	}

	src, err := sourceElement(cfg.Device)
	if err != nil {
		return nil, err
	}
	converter, err := element("videoconvert", prop{"n-threads", uint(0)})
	if err != nil {
		return nil, err
	}
	scaler, err := element("videoscale")
	if err != nil {
		return nil, err
	}
	rate, err := element("videorate", prop{"drop-only", true})
	if err != nil {
		return nil, err
	}
	caps := buildCaps(cfg.Width, cfg.Height, cfg.FPS)
	filter, err := element("capsfilter", prop{"caps", gst.NewCapsFromString(caps)})
	if err != nil {
		return nil, err
	}

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("gstsource: appsink: %w", err)
	}
	// Latest frame only, never block the camera.
	for _, p := range []prop{{"sync", false}, {"max-buffers", uint(1)}, {"drop", true}} {
		if err := sink.SetProperty(p.name, p.value); err != nil {
			return nil, fmt.Errorf("gstsource: appsink %s: %w", p.name, err)
		}
	}

	chain := []*gst.Element{src, converter, scaler, rate, filter, sink.Element}
	if err := pipeline.AddMany(chain...); err != nil {
		return nil, fmt.Errorf("gstsource: add elements: %w", err)
	}
	if err := gst.ElementLinkMany(chain...); err != nil {
		return nil, fmt.Errorf("gstsource: link elements: %w", err)
	}

	log.Debug().Str("device", cfg.Device).Str("caps", caps).Msg("gstsource: pipeline created")
	return &PipelineElements{Pipeline: pipeline, AppSink: sink, CapsFilter: filter}, nil
}

type prop struct {
	name  string
	value interface{}
}

// element creates a GStreamer element from factory and applies props.
func element(factory string, props ...prop) (*gst.Element, error) {
	e, err := gst.NewElement(factory)
	if err != nil {
		return nil, fmt.Errorf("gstsource: %s: %w", factory, err)
	}
	for _, p := range props {
		if err := e.SetProperty(p.name, p.value); err != nil {
			return nil, fmt.Errorf("gstsource: %s %s: %w", factory, p.name, err)
		}
	}
	return e, nil
}

func sourceElement(device string) (*gst.Element, error) {
	if device == TestDevice {
		return element("videotestsrc", prop{"is-live", true})
	}
	return element("v4l2src", prop{"device", device})
}

// DestroyPipeline stops the pipeline and releases its resources.
func DestroyPipeline(elements *PipelineElements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}
	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("gstsource: stop pipeline: %w", err)
	}
	return nil
}

// buildCaps returns the NV21 caps with a framerate constraint. Rates
// below 1 fps become 1/N.
func buildCaps(width, height int, fps float64) string {
	num, den := 1, 1
	if fps < 1.0 {
		den = int(1.0/fps + 0.5)
	} else {
		num = int(fps + 0.5)
	}
	return fmt.Sprintf("video/x-raw,format=NV21,width=%d,height=%d,framerate=%d/%d",
		width, height, num, den)
}
