// Package snapshot turns captured frames into standard images and writes
// them to disk.
package snapshot

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/e7canasta/camera-capture/internal/pixbuf"
	"github.com/e7canasta/camera-capture/internal/still"
)

// ToImage wraps or converts b according to its pixel format. Luminance
// and RGBA frames share b's pixels; the other formats are copied.
func ToImage(b *pixbuf.Buffer, f still.PixelFormat) (image.Image, error) {
	if b == nil {
		return nil, fmt.Errorf("snapshot: nil frame")
	}
	if f.Channels() != b.Channels {
		return nil, fmt.Errorf("snapshot: %s frame with %d channels: %w", f, b.Channels, still.ErrInvalidPixelFormat)
	}
	if len(b.Pix) < b.Len() {
		return nil, fmt.Errorf("snapshot: %d bytes for %dx%d: %w", len(b.Pix), b.Width, b.Height, pixbuf.ErrSizeMismatch)
	}

	rect := image.Rect(0, 0, b.Width, b.Height)
	switch f {
	case still.Luminance:
		return &image.Gray{Pix: b.Pix, Stride: b.Stride, Rect: rect}, nil
	case still.RGBA:
		return &image.NRGBA{Pix: b.Pix, Stride: b.Stride, Rect: rect}, nil
	}

	// r, g, b offsets within a pixel
	ri, gi, bi := 0, 1, 2
	if f == still.BGR || f == still.BGRA {
		ri, bi = 2, 0
	}
	img := image.NewNRGBA(rect)
	for y := 0; y < b.Height; y++ {
		src := b.Pix[y*b.Stride : y*b.Stride+b.Width*b.Channels]
		dst := img.Pix[y*img.Stride : y*img.Stride+b.Width*4]
		for x, s := 0, 0; x < b.Width*4; x, s = x+4, s+b.Channels {
			dst[x+0] = src[s+ri]
			dst[x+1] = src[s+gi]
			dst[x+2] = src[s+bi]
			if b.Channels == 4 {
				dst[x+3] = src[s+3]
			} else {
				dst[x+3] = 255
			}
		}
	}
	return img, nil
}

// EncodeJPEG writes img as a JPEG of the given quality (1-100).
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("snapshot: jpeg encode failed: %w", err)
	}
	return nil
}

// EncodePNG writes img as a PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("snapshot: png encode failed: %w", err)
	}
	return nil
}
