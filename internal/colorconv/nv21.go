package colorconv

import "fmt"

// NV21Len returns the packed NV21 size of a width x height frame.
func NV21Len(width, height int) int {
	return width * height * 3 / 2
}

// ValidateNV21 checks geometry and buffer length of a packed NV21 frame.
func ValidateNV21(src []byte, width, height int) error {
	if err := checkDims(width, height); err != nil {
		return err
	}
	if src == nil {
		return fmt.Errorf("colorconv: nv21: %w", ErrNilPlane)
	}
	if len(src) < NV21Len(width, height) {
		return fmt.Errorf("colorconv: nv21 buffer %d bytes, want %d: %w", len(src), NV21Len(width, height), ErrShortPlane)
	}
	return nil
}

// NV21ToRGB decodes a packed NV21 frame into dst (width*height*3 bytes).
//
// Luma is floored at 16, chroma pairs are stored V then U after the luma
// plane, one pair per 2x2 block.
func NV21ToRGB(dst, src []byte, width, height int) error {
	if err := ValidateNV21(src, width, height); err != nil {
		return err
	}
	if err := checkDst(dst, width, height); err != nil {
		return err
	}

	frameSize := width * height
	o := 0
	for j := 0; j < height; j++ {
		uvp := frameSize + (j>>1)*width
		u, v := 0, 0
		for i := 0; i < width; i++ {
			y := int(src[j*width+i]) - 16
			if y < 0 {
				y = 0
			}
			if i&1 == 0 {
				v = int(src[uvp]) - 128
				u = int(src[uvp+1]) - 128
				uvp += 2
			}

			y1192 := 1192 * y
			r := y1192 + 1634*v
			g := y1192 - 832*v - 400*u
			b := y1192 + 2066*u

			dst[o] = clamp(r >> 10)
			dst[o+1] = clamp(g >> 10)
			dst[o+2] = clamp(b >> 10)
			o += 3
		}
	}
	return nil
}

// SplitNV21 returns a semi-planar view of a packed NV21 frame, the same
// shape a camera API hands out for its chroma planes (pixel stride 2,
// V first). No bytes are copied.
func SplitNV21(nv21 []byte, width, height int) (Planes, error) {
	if err := ValidateNV21(nv21, width, height); err != nil {
		return Planes{}, err
	}
	fs := width * height
	end := fs + fs/2
	return Planes{
		Y:           nv21[:fs],
		U:           nv21[fs+1 : end],
		V:           nv21[fs : end-1],
		PixelStride: 2,
	}, nil
}
