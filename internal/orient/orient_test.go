package orient

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/camera-capture/internal/pixbuf"
)

// sentinel fills a frame so every pixel is distinguishable.
func sentinel(t *testing.T, w, h int) *pixbuf.Buffer {
	t.Helper()
	b, err := pixbuf.NewBuffer(w, h, 3)
	require.NoError(t, err)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := b.At(x, y)
			px[0] = byte(x)
			px[1] = byte(y)
			px[2] = byte(y*w + x)
		}
	}
	b.Timestamp = 1234
	return b
}

func TestPlanFor_Table(t *testing.T) {
	cases := []struct {
		o    Orientation
		flip bool
		want Plan
	}{
		{Deg0, false, Plan{}},
		{Deg0, true, Plan{FlipX: true}},
		{Deg90, false, Plan{Transpose: true, FlipX: true}},
		{Deg90, true, Plan{Transpose: true}},
		{Deg180, false, Plan{FlipX: true, FlipY: true}},
		{Deg180, true, Plan{FlipY: true}},
		{Deg270, false, Plan{Transpose: true, FlipY: true}},
		{Deg270, true, Plan{Transpose: true, FlipX: true, FlipY: true}},
	}
	for _, tc := range cases {
		got, err := PlanFor(tc.o, tc.flip)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%d flip=%v", tc.o, tc.flip)
	}
}

func TestParse(t *testing.T) {
	o, err := Parse(360)
	require.NoError(t, err)
	assert.Equal(t, Deg0, o)

	for _, deg := range []int{45, -90, 450} {
		_, err := Parse(deg)
		assert.ErrorIs(t, err, ErrInvalidOrientation, "%d", deg)
	}
	_, err = PlanFor(Orientation(45), false)
	assert.ErrorIs(t, err, ErrInvalidOrientation)
}

// TestTransformer_SourceMapping checks every output pixel against the input
// pixel it must come from, for all eight combinations.
func TestTransformer_SourceMapping(t *testing.T) {
	const W, H = 4, 2
	src := sentinel(t, W, H)

	cases := []struct {
		o      Orientation
		flip   bool
		ow, oh int
		from   func(x, y int) (int, int)
	}{
		{Deg0, false, W, H, func(x, y int) (int, int) { return x, y }},
		{Deg0, true, W, H, func(x, y int) (int, int) { return W - 1 - x, y }},
		{Deg90, false, H, W, func(x, y int) (int, int) { return y, H - 1 - x }},
		{Deg90, true, H, W, func(x, y int) (int, int) { return y, x }},
		{Deg180, false, W, H, func(x, y int) (int, int) { return W - 1 - x, H - 1 - y }},
		{Deg180, true, W, H, func(x, y int) (int, int) { return x, H - 1 - y }},
		{Deg270, false, H, W, func(x, y int) (int, int) { return W - 1 - y, x }},
		{Deg270, true, H, W, func(x, y int) (int, int) { return W - 1 - y, H - 1 - x }},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d_flip_%v", tc.o, tc.flip), func(t *testing.T) {
			tr, err := NewTransformer(W, H, 3, tc.o, tc.flip)
			require.NoError(t, err)

			out, err := tr.Apply(src)
			require.NoError(t, err)
			require.Equal(t, tc.ow, out.Width)
			require.Equal(t, tc.oh, out.Height)
			assert.Equal(t, tc.ow*3, out.Stride)
			assert.Equal(t, int64(1234), out.Timestamp)

			for y := 0; y < tc.oh; y++ {
				for x := 0; x < tc.ow; x++ {
					sx, sy := tc.from(x, y)
					assert.Equal(t, src.At(sx, sy), out.At(x, y), "out (%d,%d)", x, y)
				}
			}
		})
	}
}

func TestTransformer_DimensionsSwapOnlyForQuarterTurns(t *testing.T) {
	for _, o := range []Orientation{Deg0, Deg90, Deg180, Deg270} {
		tr, err := NewTransformer(6, 4, 3, o, false)
		require.NoError(t, err)
		w, h := tr.OutputSize()
		if o.Swapped() {
			assert.Equal(t, [2]int{4, 6}, [2]int{w, h}, "%d", o)
		} else {
			assert.Equal(t, [2]int{6, 4}, [2]int{w, h}, "%d", o)
		}
	}
}

func TestRemap_GeometryMismatch(t *testing.T) {
	src := sentinel(t, 4, 2)
	dst, err := pixbuf.NewBuffer(4, 2, 3)
	require.NoError(t, err)
	assert.ErrorIs(t, Remap(dst, src, Plan{Transpose: true}), pixbuf.ErrInvalidSize)
}

func TestPlan_String(t *testing.T) {
	assert.Equal(t, "copy", Plan{}.String())
	assert.Equal(t, "TXY", Plan{Transpose: true, FlipX: true, FlipY: true}.String())
	assert.True(t, Plan{}.Identity())
}
