package gstsource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/camera-capture/internal/colorconv"
)

func TestBuildCaps(t *testing.T) {
	tests := []struct {
		name string
		fps  float64
		want string
	}{
		{"integer", 30, "video/x-raw,format=NV21,width=640,height=480,framerate=30/1"},
		{"fractional", 0.5, "video/x-raw,format=NV21,width=640,height=480,framerate=1/2"},
		{"rounds", 29.97, "video/x-raw,format=NV21,width=640,height=480,framerate=30/1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildCaps(640, 480, tt.fps))
		})
	}
}

func TestBackoff(t *testing.T) {
	cfg := DefaultReconnectConfig()
	assert.Equal(t, 1*time.Second, backoff(1, cfg))
	assert.Equal(t, 2*time.Second, backoff(2, cfg))
	assert.Equal(t, 16*time.Second, backoff(5, cfg))
	assert.Equal(t, 30*time.Second, backoff(6, cfg))
	assert.Equal(t, 30*time.Second, backoff(64, cfg))
}

func TestRunWithReconnect_GivesUp(t *testing.T) {
	cfg := ReconnectConfig{MaxRetries: 2, RetryDelay: time.Millisecond, MaxRetryDelay: 2 * time.Millisecond}
	state := &reconnectState{reconnects: new(atomic.Uint32)}
	boom := errors.New("boom")

	calls := 0
	err := runWithReconnect(context.Background(), func(ctx context.Context, s *reconnectState) error {
		calls++
		return boom
	}, cfg, state, zerolog.Nop())

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
	assert.Equal(t, uint32(3), state.reconnects.Load())
}

func TestRunWithReconnect_PlayingResetsRetries(t *testing.T) {
	cfg := ReconnectConfig{MaxRetries: 1, RetryDelay: time.Millisecond, MaxRetryDelay: time.Millisecond}
	state := &reconnectState{reconnects: new(atomic.Uint32)}

	// Every session reaches PLAYING before failing, so retries never
	// accumulate past one; the fifth session stops cleanly.
	calls := 0
	err := runWithReconnect(context.Background(), func(ctx context.Context, s *reconnectState) error {
		calls++
		s.reset()
		if calls == 5 {
			return nil
		}
		return errors.New("unplugged")
	}, cfg, state, zerolog.Nop())

	require.NoError(t, err)
	assert.Equal(t, 5, calls)
	assert.Equal(t, uint32(4), state.reconnects.Load())
}

func TestRunWithReconnect_CancelDuringBackoff(t *testing.T) {
	cfg := ReconnectConfig{MaxRetries: 5, RetryDelay: time.Hour, MaxRetryDelay: time.Hour}
	state := &reconnectState{reconnects: new(atomic.Uint32)}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() {
		done <- runWithReconnect(ctx, func(ctx context.Context, s *reconnectState) error {
			return errors.New("fail")
		}, cfg, state, zerolog.Nop())
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runWithReconnect did not return after cancel")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg, debug string
		want       ErrorCategory
	}{
		{"Could not open device '/dev/video0' for reading and writing.", "v4l2_calls.c(621): system error: Permission denied", ErrCategoryPermission},
		{"Internal data stream error.", "streaming stopped, reason not-negotiated (-4)", ErrCategoryFormat},
		{"Device '/dev/video2' is busy", "", ErrCategoryDevice},
		{"Cannot identify device '/dev/video9'.", "No such file or directory", ErrCategoryDevice},
		{"Something odd", "", ErrCategoryUnknown},
	}
	for _, tt := range tests {
		got := classify(tt.msg, tt.debug)
		assert.Equal(t, tt.want, got, tt.msg)
	}
	assert.Equal(t, ErrCategoryUnknown, ClassifyGStreamerError(nil))
	assert.Equal(t, "format", ErrCategoryFormat.String())
}

func TestCheckDevice(t *testing.T) {
	assert.NoError(t, checkDevice(TestDevice))

	_, err := New(Config{Device: filepath.Join(t.TempDir(), "video0"), Width: 640, Height: 480, FPS: 30}, zerolog.Nop())
	assert.ErrorIs(t, err, os.ErrNotExist)

	regular := filepath.Join(t.TempDir(), "video0")
	require.NoError(t, os.WriteFile(regular, nil, 0o644))
	assert.ErrorIs(t, checkDevice(regular), ErrNotDevice)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Width: 641, Height: 480, FPS: 30}, zerolog.Nop())
	assert.Error(t, err)
	_, err = New(Config{Width: 640, Height: 480}, zerolog.Nop())
	assert.Error(t, err)

	c, err := New(Config{Width: 640, Height: 480, FPS: 30}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, TestDevice, c.cfg.Device)
	assert.Equal(t, 5, c.cfg.Reconnect.MaxRetries)
}

func TestParseDecode(t *testing.T) {
	d, err := ParseDecode("planes")
	require.NoError(t, err)
	assert.Equal(t, DecodePlanes, d)
	d, err = ParseDecode("")
	require.NoError(t, err)
	assert.Equal(t, DecodeNV21, d)
	_, err = ParseDecode("rgb")
	assert.Error(t, err)
}

type fakeSink struct {
	nv21   []byte
	planes colorconv.Planes
	stride int
}

func (f *fakeSink) WriteFrameYUV420(y, u, v []byte, ts int64, pixelStride int) error {
	f.planes = colorconv.Planes{Y: y, U: u, V: v}
	f.stride = pixelStride
	return nil
}

func (f *fakeSink) WriteFrameNV21(nv21 []byte, ts int64) error {
	f.nv21 = nv21
	return nil
}

func TestDeliver(t *testing.T) {
	// 2x2 frame: four luma bytes then one V,U pair.
	frame := []byte{1, 2, 3, 4, 200, 50}

	s := &fakeSink{}
	require.NoError(t, deliver(s, DecodeNV21, frame, 2, 2, 0))
	assert.Equal(t, frame, s.nv21)

	s = &fakeSink{}
	require.NoError(t, deliver(s, DecodePlanes, frame, 2, 2, 0))
	assert.Equal(t, 2, s.stride)
	assert.Equal(t, []byte{1, 2, 3, 4}, s.planes.Y)
	assert.Equal(t, byte(200), s.planes.V[0])
	assert.Equal(t, byte(50), s.planes.U[0])

	assert.ErrorIs(t, deliver(&fakeSink{}, DecodePlanes, frame[:5], 2, 2, 0), colorconv.ErrShortPlane)
}
