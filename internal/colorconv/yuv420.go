package colorconv

import "fmt"

// Full-range chroma terms indexed by the raw sample, each truncated toward
// zero on its own:
//
//	r = y + trunc(1.370705(v-128))
//	g = y - trunc(0.698001(v-128)) - trunc(0.337633(u-128))
//	b = y + trunc(1.732446(u-128))
var termRV, termGV, termGU, termBU [256]int

func init() {
	for i := range termRV {
		d := float64(i - 128)
		termRV[i] = int(kRV * d)
		termGV[i] = int(kGV * d)
		termGU[i] = int(kGU * d)
		termBU[i] = int(kBU * d)
	}
}

// ValidateYUV420 checks geometry, pixel stride and plane lengths.
func ValidateYUV420(p Planes, width, height int) error {
	if err := checkDims(width, height); err != nil {
		return err
	}
	if p.PixelStride != 1 && p.PixelStride != 2 {
		return fmt.Errorf("colorconv: pixel stride %d: %w", p.PixelStride, ErrInvalidPixelStride)
	}
	if p.Y == nil || p.U == nil || p.V == nil {
		return fmt.Errorf("colorconv: yuv420: %w", ErrNilPlane)
	}
	if len(p.Y) < width*height {
		return fmt.Errorf("colorconv: luma plane %d bytes, want %d: %w", len(p.Y), width*height, ErrShortPlane)
	}
	need := ChromaLen(width, height, p.PixelStride)
	if len(p.U) < need || len(p.V) < need {
		return fmt.Errorf("colorconv: chroma planes %d/%d bytes, want %d: %w", len(p.U), len(p.V), need, ErrShortPlane)
	}
	return nil
}

// YUV420ToRGB decodes p into dst (width*height*3 bytes, RGB order).
//
// Rows are walked in pairs. Each chroma sample covers the 2x2 luma block at
// the same position and the chroma index advances by PixelStride per block,
// continuing across row pairs.
func YUV420ToRGB(dst []byte, p Planes, width, height int) error {
	if err := ValidateYUV420(p, width, height); err != nil {
		return err
	}
	if err := checkDst(dst, width, height); err != nil {
		return err
	}

	stride := width * 3
	k := 0
	for row := 0; row < height; row += 2 {
		yTop := row * width
		yBot := yTop + width
		oTop := row * stride
		oBot := oTop + stride

		for col := 0; col < width; col += 2 {
			u, v := p.U[k], p.V[k]
			k += p.PixelStride

			rd := termRV[v]
			gd := -termGV[v] - termGU[u]
			bd := termBU[u]

			for dx := 0; dx < 2; dx++ {
				y := int(p.Y[yTop+col+dx])
				o := oTop + (col+dx)*3
				dst[o] = clamp(y + rd)
				dst[o+1] = clamp(y + gd)
				dst[o+2] = clamp(y + bd)

				y = int(p.Y[yBot+col+dx])
				o = oBot + (col+dx)*3
				dst[o] = clamp(y + rd)
				dst[o+1] = clamp(y + gd)
				dst[o+2] = clamp(y + bd)
			}
		}
	}
	return nil
}
