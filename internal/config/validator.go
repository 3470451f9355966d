package config

import (
	"fmt"
	"regexp"

	"github.com/e7canasta/camera-capture/internal/exchange"
	"github.com/e7canasta/camera-capture/internal/orient"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills in defaults.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "capture-sim"
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if err := validateCamera(&cfg.Camera); err != nil {
		return err
	}
	if err := validateSource(&cfg.Source); err != nil {
		return err
	}

	if cfg.Tracker.LatencyMS < 0 {
		return fmt.Errorf("tracker.latency_ms must be >= 0")
	}
	if cfg.Tracker.MaxFrames < 0 {
		return fmt.Errorf("tracker.max_frames must be >= 0")
	}

	if cfg.Preview.JPEGQuality == 0 {
		cfg.Preview.JPEGQuality = 80
	}
	if cfg.Preview.JPEGQuality < 1 || cfg.Preview.JPEGQuality > 100 {
		return fmt.Errorf("preview.jpeg_quality must be in [1,100]")
	}

	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = cfg.InstanceID
		}
		if cfg.MQTT.Topic == "" {
			cfg.MQTT.Topic = fmt.Sprintf("camera/telemetry/%s", cfg.InstanceID)
		}
		if cfg.MQTT.ControlTopic == "" {
			cfg.MQTT.ControlTopic = fmt.Sprintf("camera/control/%s", cfg.InstanceID)
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	if cfg.Stats.Schedule == "" {
		cfg.Stats.Schedule = "@every 5s"
	}
	return nil
}

func validateCamera(c *CameraConfig) error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("camera.width and camera.height are required")
	}
	if c.Width%2 != 0 || c.Height%2 != 0 {
		return fmt.Errorf("camera dimensions must be even, got %dx%d", c.Width, c.Height)
	}
	if _, err := orient.Parse(c.Orientation); err != nil {
		return fmt.Errorf("camera.orientation: %w", err)
	}
	if _, err := exchange.ParseTimestampMode(c.TimestampMode); err != nil {
		return fmt.Errorf("camera.timestamp_mode: %w", err)
	}
	if c.WaitTimeoutMS == 0 {
		c.WaitTimeoutMS = int(exchange.DefaultWaitTimeout.Milliseconds())
	}
	if c.WaitTimeoutMS < 0 || c.WarmupMS < 0 {
		return fmt.Errorf("camera timeouts must be >= 0")
	}
	for i, ch := range c.Changes {
		if ch.AfterMS <= 0 {
			return fmt.Errorf("camera.changes[%d]: after_ms must be > 0", i)
		}
		if _, err := orient.Parse(ch.Orientation); err != nil {
			return fmt.Errorf("camera.changes[%d]: %w", i, err)
		}
	}
	return nil
}

func validateSource(s *SourceConfig) error {
	if s.Kind == "" {
		s.Kind = "synthetic"
	}
	if s.FPS == 0 {
		s.FPS = 30
	}
	if s.FPS < 0 {
		return fmt.Errorf("source.fps must be > 0")
	}

	switch s.Kind {
	case "synthetic":
		if s.PixelStride == 0 {
			s.PixelStride = 2
		}
		if s.PixelStride != 1 && s.PixelStride != 2 {
			return fmt.Errorf("source.pixel_stride must be 1 or 2")
		}
	case "y4m":
		if s.Path == "" {
			return fmt.Errorf("source.path is required for y4m sources")
		}
	case "gstreamer":
		if s.Device == "" {
			s.Device = "test"
		}
		if s.Decode == "" {
			s.Decode = "nv21"
		}
		if s.Decode != "nv21" && s.Decode != "planes" {
			return fmt.Errorf("source.decode must be 'nv21' or 'planes'")
		}
	default:
		return fmt.Errorf("unknown source.kind '%s' (must be 'synthetic', 'y4m' or 'gstreamer')", s.Kind)
	}
	return nil
}
