package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/e7canasta/camera-capture/internal/config"
	"github.com/e7canasta/camera-capture/internal/gstsource"
	"github.com/e7canasta/camera-capture/internal/source"
)

// buildSource returns the configured producer and a cleanup func.
func buildSource(cfg *config.Config, log zerolog.Logger) (source.Source, func(), error) {
	noop := func() {}
	sc := cfg.Source

	switch sc.Kind {
	case "synthetic":
		s, err := source.NewSynthetic(cfg.Camera.Width, cfg.Camera.Height, sc.PixelStride, sc.FPS, log)
		return s, noop, err

	case "y4m":
		s, err := source.OpenY4M(sc.Path, sc.FPS, sc.Loop, log)
		if err != nil {
			return nil, noop, err
		}
		if h := s.Header(); h.Width != cfg.Camera.Width || h.Height != cfg.Camera.Height {
			s.Close()
			return nil, noop, fmt.Errorf("y4m %s is %dx%d, camera is %dx%d",
				sc.Path, h.Width, h.Height, cfg.Camera.Width, cfg.Camera.Height)
		}
		return s, func() { s.Close() }, nil

	case "gstreamer":
		decode, err := gstsource.ParseDecode(sc.Decode)
		if err != nil {
			return nil, noop, err
		}
		s, err := gstsource.New(gstsource.Config{
			Device: sc.Device,
			Width:  cfg.Camera.Width,
			Height: cfg.Camera.Height,
			FPS:    sc.FPS,
			Decode: decode,
		}, log)
		return s, noop, err
	}
	return nil, noop, fmt.Errorf("unknown source kind %q", sc.Kind)
}
