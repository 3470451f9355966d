package cameracapture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/camera-capture/internal/colorconv"
)

const testWait = 50 * time.Millisecond

func grayPlanes(w, h int, y byte, stride int) (yp, up, vp []byte) {
	n := colorconv.ChromaLen(w, h, stride)
	yp = make([]byte, w*h)
	up = make([]byte, n)
	vp = make([]byte, n)
	for i := range yp {
		yp[i] = y
	}
	for i := range up {
		up[i], vp[i] = 128, 128
	}
	return yp, up, vp
}

func newStream(t *testing.T, cfg StreamConfig) *Capture {
	t.Helper()
	if cfg.WaitTimeout == 0 {
		cfg.WaitTimeout = testWait
	}
	c, err := NewStreamCapture(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

// TestStreamCapture_GrayPortrait: a 4x2 uniform gray frame (y=200, u=v=128)
// with orientation 90 comes out as a 2x4 RGB frame of 200s.
func TestStreamCapture_GrayPortrait(t *testing.T) {
	c := newStream(t, StreamConfig{Width: 4, Height: 2, Orientation: 90})

	y, u, v := grayPlanes(4, 2, 200, 1)
	require.NoError(t, c.WriteFrameYUV420(y, u, v, 10, 1))

	f, ok := c.GrabFrame()
	require.True(t, ok)
	assert.Equal(t, 2, f.Width)
	assert.Equal(t, 4, f.Height)
	assert.Equal(t, 3, f.Channels)
	assert.Equal(t, 6, f.Stride)
	for i, b := range f.Pix {
		assert.Equal(t, byte(200), b, "byte %d", i)
	}

	w, h := c.OutputSize()
	assert.Equal(t, [2]int{2, 4}, [2]int{w, h})
}

// TestStreamCapture_RotatesContent places a colour block in the top-left
// corner of a landscape frame; after a 90 degree turn it sits top-right.
func TestStreamCapture_RotatesContent(t *testing.T) {
	const W, H = 4, 4
	rgb := make([]byte, W*H*3)
	for i := range rgb {
		rgb[i] = 100
	}
	for yy := 0; yy < 2; yy++ {
		for xx := 0; xx < 2; xx++ {
			o := (yy*W + xx) * 3
			rgb[o], rgb[o+1], rgb[o+2] = 220, 40, 40
		}
	}
	p, err := colorconv.RGBToYUV420(rgb, W, H, 2)
	require.NoError(t, err)

	c := newStream(t, StreamConfig{Width: W, Height: H, Orientation: 90})
	require.NoError(t, c.WriteFrameYUV420(p.Y, p.U, p.V, 1, p.PixelStride))

	f, ok := c.GrabFrame()
	require.True(t, ok)
	for yy := 0; yy < H; yy++ {
		for xx := 0; xx < W; xx++ {
			red := xx >= 2 && yy < 2
			px := f.At(xx, yy)
			assert.Equal(t, red, px[0] > 200 && px[1] < 60, "(%d,%d) = %v", xx, yy, px)
		}
	}
}

func TestStreamCapture_NV21(t *testing.T) {
	c := newStream(t, StreamConfig{Width: 2, Height: 2})

	nv21 := []byte{128, 128, 128, 128, 128, 128}
	require.NoError(t, c.WriteFrameNV21(nv21, 5))

	f, ok := c.GrabFrame()
	require.True(t, ok)
	assert.Equal(t, []byte{130, 130, 130, 130, 130, 130, 130, 130, 130, 130, 130, 130}, f.Pix)
}

func TestNewStreamCapture_Invalid(t *testing.T) {
	cases := []struct {
		name string
		cfg  StreamConfig
		err  error
	}{
		{"zero width", StreamConfig{Width: 0, Height: 2}, ErrInvalidSize},
		{"odd height", StreamConfig{Width: 4, Height: 3}, ErrInvalidSize},
		{"bad orientation", StreamConfig{Width: 4, Height: 2, Orientation: 45}, ErrInvalidOrientation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewStreamCapture(tc.cfg)
			assert.ErrorIs(t, err, tc.err)
		})
	}

	c, err := NewStreamCapture(StreamConfig{Width: 4, Height: 2, Orientation: 360})
	require.NoError(t, err)
	defer c.Close()
	w, h := c.OutputSize()
	assert.Equal(t, [2]int{4, 2}, [2]int{w, h})
}

// TestStreamCapture_RejectedFrameLeavesState: a short plane is refused,
// counted, and the consumer still sees nothing new.
func TestStreamCapture_RejectedFrameLeavesState(t *testing.T) {
	c := newStream(t, StreamConfig{Width: 4, Height: 2})

	y, u, v := grayPlanes(4, 2, 50, 2)
	assert.ErrorIs(t, c.WriteFrameYUV420(y[:3], u, v, 1, 2), ErrShortPlane)
	assert.ErrorIs(t, c.WriteFrameYUV420(y, u, v, 1, 3), ErrInvalidPixelStride)
	assert.ErrorIs(t, c.WriteFrameYUV420(y, nil, v, 1, 2), ErrNilPlane)

	_, ok := c.GrabFrame()
	assert.False(t, ok)

	st := c.Stats()
	assert.Equal(t, uint64(3), st.Rejected)
	assert.Zero(t, st.Writes)
	assert.Equal(t, uint64(1), st.Timeouts)
	assert.Equal(t, ModeStream, st.Mode)
	assert.Equal(t, c.ID(), st.CaptureID)
}

func TestStreamCapture_TimestampModes(t *testing.T) {
	y, u, v := grayPlanes(2, 2, 10, 1)

	prev := newStream(t, StreamConfig{Width: 2, Height: 2})
	require.NoError(t, prev.WriteFrameYUV420(y, u, v, 100, 1))
	require.NoError(t, prev.WriteFrameYUV420(y, u, v, 200, 1))
	f, ok := prev.GrabFrame()
	require.True(t, ok)
	assert.Equal(t, int64(0), f.Timestamp)
	assert.Equal(t, uint64(1), prev.Stats().Drops)

	cur := newStream(t, StreamConfig{Width: 2, Height: 2, TimestampMode: TimestampCurrent})
	require.NoError(t, cur.WriteFrameYUV420(y, u, v, 100, 1))
	require.NoError(t, cur.WriteFrameYUV420(y, u, v, 200, 1))
	f, ok = cur.GrabFrame()
	require.True(t, ok)
	assert.Equal(t, int64(200), f.Timestamp)
}

func TestStreamCapture_CloseWakesGrab(t *testing.T) {
	c, err := NewStreamCapture(StreamConfig{Width: 2, Height: 2, WaitTimeout: 5 * time.Second})
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Close()
	}()
	start := time.Now()
	_, ok := c.GrabFrame()
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)

	y, u, v := grayPlanes(2, 2, 10, 1)
	assert.ErrorIs(t, c.WriteFrameYUV420(y, u, v, 1, 1), ErrClosed)
	c.Close()
}

func TestCapture_WrongMode(t *testing.T) {
	img, err := NewImageCapture(ImageConfig{Width: 2, Height: 2, Format: FormatRGB})
	require.NoError(t, err)
	defer img.Close()

	y, u, v := grayPlanes(2, 2, 10, 1)
	assert.ErrorIs(t, img.WriteFrameYUV420(y, u, v, 1, 1), ErrWrongMode)
	assert.ErrorIs(t, img.WriteFrameNV21(make([]byte, 6), 1), ErrWrongMode)
	_, err = img.Warmup(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, ErrWrongMode)

	s := newStream(t, StreamConfig{Width: 2, Height: 2})
	assert.ErrorIs(t, s.WriteFrame(make([]byte, 12), 2, 2), ErrWrongMode)
}

func TestImageCapture(t *testing.T) {
	clock := func() time.Time { return time.UnixMilli(9000) }
	c, err := NewImageCapture(ImageConfig{Width: 2, Height: 1, Format: FormatLuminance}, WithClock(clock))
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, ModeImage, c.Mode())

	_, ok := c.GrabFrame()
	assert.False(t, ok)

	require.NoError(t, c.WriteFrame([]byte{7, 8}, 2, 1))
	f, ok := c.GrabFrame()
	require.True(t, ok)
	assert.Equal(t, []byte{7, 8}, f.Pix)
	assert.Equal(t, 1, f.Channels)
	assert.Equal(t, int64(9000), f.Timestamp)

	assert.ErrorIs(t, c.WriteFrame([]byte{1, 2, 3, 4}, 4, 1), ErrSizeMismatch)

	st := c.Stats()
	assert.Equal(t, uint64(1), st.Writes)
	assert.Equal(t, uint64(1), st.Grabs)
}

func TestNewImageCapture_Invalid(t *testing.T) {
	_, err := NewImageCapture(ImageConfig{Width: 2, Height: 2, Format: PixelFormat(12)})
	assert.ErrorIs(t, err, ErrInvalidPixelFormat)
	_, err = NewImageCapture(ImageConfig{Width: -1, Height: 2})
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestStreamCapture_Warmup(t *testing.T) {
	c := newStream(t, StreamConfig{Width: 2, Height: 2})
	y, u, v := grayPlanes(2, 2, 10, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		tick := time.NewTicker(5 * time.Millisecond)
		defer tick.Stop()
		for ts := int64(0); ; ts += 5 {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				_ = c.WriteFrameYUV420(y, u, v, ts, 1)
			}
		}
	}()

	st, err := c.Warmup(ctx, 150*time.Millisecond)
	if err != nil {
		assert.ErrorContains(t, err, "unstable")
	}
	require.NotNil(t, st)
	assert.Greater(t, st.Frames, 5)
}
