// Package telemetry publishes capture counters to an MQTT broker as
// msgpack-encoded snapshots.
package telemetry

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Snapshot is one telemetry sample.
type Snapshot struct {
	InstanceID string `msgpack:"instance_id"`
	CaptureID  string `msgpack:"capture_id"`
	TakenAtMS  int64  `msgpack:"taken_at_ms"`

	Width       int  `msgpack:"width"`
	Height      int  `msgpack:"height"`
	Orientation int  `msgpack:"orientation"`
	Flip        bool `msgpack:"flip"`

	Writes          uint64 `msgpack:"writes"`
	Grabs           uint64 `msgpack:"grabs"`
	Drops           uint64 `msgpack:"drops"`
	Timeouts        uint64 `msgpack:"timeouts"`
	Rejected        uint64 `msgpack:"rejected"`
	Rebuilds        uint64 `msgpack:"rebuilds"`
	LastTransformUS int64  `msgpack:"last_transform_us"`

	SourceFrames  uint64 `msgpack:"source_frames"`
	TrackedFrames uint64 `msgpack:"tracked_frames"`
}

// Encode marshals s to msgpack.
func Encode(s Snapshot) ([]byte, error) {
	b, err := msgpack.Marshal(&s)
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to marshal snapshot: %w", err)
	}
	return b, nil
}

// Decode unmarshals a msgpack snapshot.
func Decode(b []byte) (Snapshot, error) {
	var s Snapshot
	if err := msgpack.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("telemetry: failed to unmarshal snapshot: %w", err)
	}
	return s, nil
}
