package colorconv

import (
	"fmt"
	"math"
)

// Inverse of the YUV420ToRGB matrix.
const (
	kRV = 1.370705
	kGV = 0.698001
	kGU = 0.337633
	kBU = 1.732446

	lumaDen = 1 + kGV/kRV + kGU/kBU
	lumaR   = (kGV / kRV) / lumaDen
	lumaG   = 1 / lumaDen
	lumaB   = (kGU / kBU) / lumaDen
)

// RGBToYUV420 encodes an RGB frame into planes that YUV420ToRGB decodes
// back to within rounding. Chroma is averaged over each 2x2 block.
//
// With pixelStride 2 the chroma planes are views into one interleaved VU
// buffer, V first.
func RGBToYUV420(rgb []byte, width, height, pixelStride int) (Planes, error) {
	if err := checkDims(width, height); err != nil {
		return Planes{}, err
	}
	if pixelStride != 1 && pixelStride != 2 {
		return Planes{}, fmt.Errorf("colorconv: pixel stride %d: %w", pixelStride, ErrInvalidPixelStride)
	}
	if len(rgb) < width*height*3 {
		return Planes{}, fmt.Errorf("colorconv: rgb buffer %d bytes, want %d: %w", len(rgb), width*height*3, ErrShortPlane)
	}

	p := Planes{Y: make([]byte, width*height), PixelStride: pixelStride}
	blocks := (width / 2) * (height / 2)
	if pixelStride == 1 {
		p.U = make([]byte, blocks)
		p.V = make([]byte, blocks)
	} else {
		vu := make([]byte, blocks*2)
		p.V = vu[:len(vu)-1]
		p.U = vu[1:]
	}

	k := 0
	for row := 0; row < height; row += 2 {
		for col := 0; col < width; col += 2 {
			var su, sv float64
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					i := (row+dy)*width + col + dx
					r := float64(rgb[i*3])
					g := float64(rgb[i*3+1])
					b := float64(rgb[i*3+2])
					y := lumaR*r + lumaG*g + lumaB*b
					p.Y[i] = clamp(int(math.Round(y)))
					su += (b - y) / kBU
					sv += (r - y) / kRV
				}
			}
			p.U[k] = clamp(int(math.Round(128 + su/4)))
			p.V[k] = clamp(int(math.Round(128 + sv/4)))
			k += pixelStride
		}
	}
	return p, nil
}

// RGBToNV21 encodes an RGB frame into packed NV21 with BT.601 limited-range
// integer coefficients. Chroma is averaged over each 2x2 block.
func RGBToNV21(rgb []byte, width, height int) ([]byte, error) {
	if err := checkDims(width, height); err != nil {
		return nil, err
	}
	if len(rgb) < width*height*3 {
		return nil, fmt.Errorf("colorconv: rgb buffer %d bytes, want %d: %w", len(rgb), width*height*3, ErrShortPlane)
	}

	out := make([]byte, NV21Len(width, height))
	fs := width * height
	for i := 0; i < fs; i++ {
		r, g, b := int(rgb[i*3]), int(rgb[i*3+1]), int(rgb[i*3+2])
		out[i] = clamp(((66*r + 129*g + 25*b + 128) >> 8) + 16)
	}

	uv := fs
	for row := 0; row < height; row += 2 {
		for col := 0; col < width; col += 2 {
			var r, g, b int
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					i := ((row+dy)*width + col + dx) * 3
					r += int(rgb[i])
					g += int(rgb[i+1])
					b += int(rgb[i+2])
				}
			}
			r, g, b = (r+2)/4, (g+2)/4, (b+2)/4
			out[uv] = clamp(((112*r - 94*g - 18*b + 128) >> 8) + 128)
			out[uv+1] = clamp(((-38*r - 74*g + 112*b + 128) >> 8) + 128)
			uv += 2
		}
	}
	return out, nil
}
