package orient

import (
	"fmt"

	"github.com/e7canasta/camera-capture/internal/pixbuf"
)

// Remap writes src into dst following p. dst must already have the output
// geometry: src dimensions, swapped when p.Transpose is set.
func Remap(dst, src *pixbuf.Buffer, p Plan) error {
	ow, oh := src.Width, src.Height
	if p.Transpose {
		ow, oh = oh, ow
	}
	if dst.Width != ow || dst.Height != oh || dst.Channels != src.Channels {
		return fmt.Errorf("orient: remap %dx%d (%s) into %dx%d: %w",
			src.Width, src.Height, p, dst.Width, dst.Height, pixbuf.ErrInvalidSize)
	}

	ch := src.Channels
	if !p.Transpose && !p.FlipX {
		for y := 0; y < oh; y++ {
			sy := y
			if p.FlipY {
				sy = oh - 1 - y
			}
			copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], src.Pix[sy*src.Stride:(sy+1)*src.Stride])
		}
		dst.Timestamp = src.Timestamp
		return nil
	}

	for y := 0; y < oh; y++ {
		sy := y
		if p.FlipY {
			sy = oh - 1 - y
		}
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < ow; x++ {
			sx := x
			if p.FlipX {
				sx = ow - 1 - x
			}
			var off int
			if p.Transpose {
				off = sx*src.Stride + sy*ch
			} else {
				off = sy*src.Stride + sx*ch
			}
			copy(row[x*ch:x*ch+ch], src.Pix[off:off+ch])
		}
	}
	dst.Timestamp = src.Timestamp
	return nil
}

// Transformer owns the output buffers for one capture geometry. Both the
// normal (W x H) and the transposed (H x W) buffer are allocated up front.
//
// Not safe for concurrent use: the consumer calls Apply under the capture's
// conversion lock.
type Transformer struct {
	plan       Plan
	normal     *pixbuf.Buffer
	transposed *pixbuf.Buffer
}

// NewTransformer validates the orientation and allocates the output buffers.
func NewTransformer(width, height, channels int, o Orientation, flip bool) (*Transformer, error) {
	plan, err := PlanFor(o, flip)
	if err != nil {
		return nil, err
	}
	normal, err := pixbuf.NewBuffer(width, height, channels)
	if err != nil {
		return nil, err
	}
	transposed, err := pixbuf.NewBuffer(height, width, channels)
	if err != nil {
		return nil, err
	}
	return &Transformer{plan: plan, normal: normal, transposed: transposed}, nil
}

// Plan returns the plan applied by Apply.
func (t *Transformer) Plan() Plan { return t.plan }

// Output returns the buffer Apply writes into.
func (t *Transformer) Output() *pixbuf.Buffer {
	if t.plan.Transpose {
		return t.transposed
	}
	return t.normal
}

// OutputSize returns the oriented frame dimensions.
func (t *Transformer) OutputSize() (width, height int) {
	out := t.Output()
	return out.Width, out.Height
}

// Apply orients src into the transformer's output buffer and returns it.
// The buffer stays valid until the next Apply.
func (t *Transformer) Apply(src *pixbuf.Buffer) (*pixbuf.Buffer, error) {
	out := t.Output()
	if err := Remap(out, src, t.plan); err != nil {
		return nil, err
	}
	return out, nil
}
