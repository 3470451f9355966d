// Package config loads the capture simulator configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/e7canasta/camera-capture/internal/logger"
)

// Config is the complete simulator configuration.
type Config struct {
	InstanceID       string        `yaml:"instance_id"`
	ShutdownTimeoutS int           `yaml:"shutdown_timeout_s"`
	Camera           CameraConfig  `yaml:"camera"`
	Source           SourceConfig  `yaml:"source"`
	Tracker          TrackerConfig `yaml:"tracker"`
	Preview          PreviewConfig `yaml:"preview"`
	MQTT             MQTTConfig    `yaml:"mqtt"`
	Stats            StatsConfig   `yaml:"stats"`
	Log              logger.Config `yaml:"log"`
}

// CameraConfig holds the capture session parameters.
type CameraConfig struct {
	Width         int    `yaml:"width"`
	Height        int    `yaml:"height"`
	Orientation   int    `yaml:"orientation"` // 0, 90, 180, 270
	Flip          bool   `yaml:"flip"`
	WaitTimeoutMS int    `yaml:"wait_timeout_ms"`
	TimestampMode string `yaml:"timestamp_mode"` // previous, current
	WarmupMS      int    `yaml:"warmup_ms"`      // 0 disables warm-up

	// Changes replays device rotations: each entry calls SetParameters once
	// its delay since start has elapsed.
	Changes []ParamChange `yaml:"changes"`
}

// ParamChange is one scripted parameter change.
type ParamChange struct {
	AfterMS     int  `yaml:"after_ms"`
	Orientation int  `yaml:"orientation"`
	Flip        bool `yaml:"flip"`
}

// SourceConfig selects the frame producer.
type SourceConfig struct {
	Kind        string  `yaml:"kind"` // synthetic, y4m, gstreamer
	FPS         float64 `yaml:"fps"`
	PixelStride int     `yaml:"pixel_stride"` // synthetic: 1 planar, 2 semi-planar
	Path        string  `yaml:"path"`         // y4m file
	Loop        bool    `yaml:"loop"`         // y4m: rewind at end of file
	Device      string  `yaml:"device"`       // gstreamer: v4l2 device path, or "test"
	Decode      string  `yaml:"decode"`       // gstreamer: nv21 or planes
}

// TrackerConfig tunes the mock tracker.
type TrackerConfig struct {
	LatencyMS int `yaml:"latency_ms"` // simulated processing time per frame
	MaxFrames int `yaml:"max_frames"` // stop after this many frames, 0 = unlimited
}

// PreviewConfig enables the debug HTTP server when Listen is set.
type PreviewConfig struct {
	Listen      string `yaml:"listen"`
	JPEGQuality int    `yaml:"jpeg_quality"`
	SnapshotDir string `yaml:"snapshot_dir"`
}

// MQTTConfig enables telemetry when Broker is set.
type MQTTConfig struct {
	Broker       string `yaml:"broker"`
	ClientID     string `yaml:"client_id"`
	Topic        string `yaml:"topic"`
	ControlTopic string `yaml:"control_topic"` // responses go to <control_topic>/response
	QoS          byte   `yaml:"qos"`
}

// StatsConfig schedules periodic stats logging and telemetry.
type StatsConfig struct {
	Schedule string `yaml:"schedule"` // cron spec, e.g. "@every 5s"
}

// WaitTimeout returns the camera wait timeout as a duration.
func (c CameraConfig) WaitTimeout() time.Duration {
	return time.Duration(c.WaitTimeoutMS) * time.Millisecond
}

// Warmup returns the warm-up duration.
func (c CameraConfig) Warmup() time.Duration {
	return time.Duration(c.WarmupMS) * time.Millisecond
}

// Interval returns the frame interval of the source.
func (s SourceConfig) Interval() time.Duration {
	return time.Duration(float64(time.Second) / s.FPS)
}

// Load reads, parses and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
