// Package colorconv decodes camera YUV frames into interleaved RGB.
//
// Two decoders are kept side by side because camera paths deliver
// different layouts:
//
//   - YUV420ToRGB takes three planes with a chroma pixel stride of 1
//     (I420) or 2 (NV21/NV12 semi-planar views) and uses full-range
//     coefficients, each chroma term truncated toward zero.
//   - NV21ToRGB takes one packed NV21 buffer and uses BT.601 limited-range
//     coefficients scaled by 1024.
//
// Both validate their inputs up front and never read past a plane.
package colorconv

import (
	"errors"
	"fmt"

	"github.com/e7canasta/camera-capture/internal/pixbuf"
)

var (
	ErrInvalidPixelStride = errors.New("invalid chroma pixel stride")
	ErrShortPlane         = errors.New("plane shorter than frame geometry")
	ErrNilPlane           = errors.New("nil plane")
)

// Planes is a YUV 4:2:0 frame as the camera hands it over.
//
// U and V are sampled once per 2x2 luma block. PixelStride is the distance
// in bytes between consecutive chroma samples of the same plane.
type Planes struct {
	Y, U, V     []byte
	PixelStride int
}

// ChromaLen returns the minimum chroma plane length for a width x height frame.
func ChromaLen(width, height, pixelStride int) int {
	return ((width/2)*(height/2)-1)*pixelStride + 1
}

func checkDims(width, height int) error {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return fmt.Errorf("colorconv: %dx%d must be positive and even: %w", width, height, pixbuf.ErrInvalidSize)
	}
	return nil
}

func checkDst(dst []byte, width, height int) error {
	if len(dst) != width*height*3 {
		return fmt.Errorf("colorconv: destination %d bytes, want %d: %w", len(dst), width*height*3, pixbuf.ErrSizeMismatch)
	}
	return nil
}

func clamp(x int) byte {
	if x < 0 {
		return 0
	}
	if x > 255 {
		return 255
	}
	return byte(x)
}
