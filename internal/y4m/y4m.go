// Package y4m reads and writes YUV4MPEG2 streams carrying 4:2:0 frames.
//
//	YUV4MPEG2 W1280 H720 F30:1 Ip A1:1 C420jpeg
//	FRAME
//	<Y plane><U plane><V plane>
package y4m

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/e7canasta/camera-capture/internal/colorconv"
	"github.com/e7canasta/camera-capture/internal/pixbuf"
)

const (
	magic    = "YUV4MPEG2"
	frameHdr = "FRAME"
)

// ErrUnsupported is returned for streams that are not 4:2:0.
var ErrUnsupported = errors.New("y4m: unsupported format")

// Header is the parsed stream header.
type Header struct {
	Width      int
	Height     int
	FPSNum     int
	FPSDen     int
	Colorspace string
}

// ParseHeader parses a stream header line without its trailing newline.
func ParseHeader(b []byte) (Header, error) {
	h := Header{Colorspace: "420jpeg"}
	fields := bytes.Fields(b)
	if len(fields) == 0 || string(fields[0]) != magic {
		return h, fmt.Errorf("y4m: bad magic %q", b)
	}

	for _, f := range fields[1:] {
		key, value := f[0], string(f[1:])
		var err error
		switch key {
		case 'W':
			h.Width, err = strconv.Atoi(value)
		case 'H':
			h.Height, err = strconv.Atoi(value)
		case 'C':
			h.Colorspace = value
		case 'F':
			if i := bytes.IndexByte(f, ':'); i > 1 {
				if h.FPSNum, err = strconv.Atoi(string(f[1:i])); err == nil {
					h.FPSDen, err = strconv.Atoi(string(f[i+1:]))
				}
			}
		}
		if err != nil {
			return h, fmt.Errorf("y4m: field %q: %w", f, err)
		}
	}

	if h.Width <= 0 || h.Height <= 0 {
		return h, fmt.Errorf("y4m: missing dimensions in %q", b)
	}
	return h, h.validate()
}

// validate checks that frames are 4:2:0 with even dimensions and that the
// decoded RGB frame fits a pixel buffer.
func (h Header) validate() error {
	if h.Width <= 0 || h.Height <= 0 || h.Width%2 != 0 || h.Height%2 != 0 {
		return fmt.Errorf("y4m: %dx%d must be positive and even: %w", h.Width, h.Height, pixbuf.ErrInvalidSize)
	}
	if h.Width > pixbuf.MaxBytes/3/h.Height {
		return fmt.Errorf("y4m: %dx%d exceeds %d bytes: %w", h.Width, h.Height, pixbuf.MaxBytes, pixbuf.ErrAllocation)
	}
	if h.FrameSize() == 0 {
		return fmt.Errorf("%w: colorspace %s", ErrUnsupported, h.Colorspace)
	}
	return nil
}

// FrameSize returns the payload size of one frame, or 0 when the
// colorspace is not 4:2:0.
func (h Header) FrameSize() int {
	switch h.Colorspace {
	case "420", "420jpeg", "420mpeg2", "420paldv":
		return h.Width * h.Height * 3 / 2
	}
	return 0
}

// FPS returns the frame rate, or 0 when the header does not carry one.
func (h Header) FPS() float64 {
	if h.FPSNum <= 0 || h.FPSDen <= 0 {
		return 0
	}
	return float64(h.FPSNum) / float64(h.FPSDen)
}

// String renders the header line without the trailing newline.
func (h Header) String() string {
	s := fmt.Sprintf("%s W%d H%d", magic, h.Width, h.Height)
	if h.FPSNum > 0 && h.FPSDen > 0 {
		s += fmt.Sprintf(" F%d:%d", h.FPSNum, h.FPSDen)
	}
	return s + " Ip A1:1 C" + h.Colorspace
}

// Planes slices an I420 frame payload into its planes (pixel stride 1).
func (h Header) Planes(frame []byte) colorconv.Planes {
	ys := h.Width * h.Height
	cs := ys / 4
	return colorconv.Planes{
		Y:           frame[:ys],
		U:           frame[ys : ys+cs],
		V:           frame[ys+cs : ys+2*cs],
		PixelStride: 1,
	}
}

// Reader reads frames from a YUV4MPEG2 stream.
type Reader struct {
	Header Header
	rd     *bufio.Reader
}

// NewReader reads the stream header from r.
func NewReader(r io.Reader) (*Reader, error) {
	rd := bufio.NewReaderSize(r, 1<<16)
	line, err := rd.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("y4m: read header: %w", err)
	}
	h, err := ParseHeader(bytes.TrimRight(line, "\n"))
	if err != nil {
		return nil, err
	}
	return &Reader{Header: h, rd: rd}, nil
}

// Next reads the next frame into buf, growing it when needed, and returns
// the payload. io.EOF marks a clean end of stream.
func (r *Reader) Next(buf []byte) ([]byte, error) {
	line, err := r.rd.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(line) == 0 {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("y4m: read frame header: %w", err)
	}
	if !bytes.HasPrefix(line, []byte(frameHdr)) {
		return nil, fmt.Errorf("y4m: bad frame header %q", line)
	}

	if err := r.Header.validate(); err != nil {
		return nil, err
	}
	size := r.Header.FrameSize()
	if cap(buf) < size {
		buf = make([]byte, size)
	}
	buf = buf[:size]
	if _, err := io.ReadFull(r.rd, buf); err != nil {
		return nil, fmt.Errorf("y4m: read frame: %w", err)
	}
	return buf, nil
}

// Writer writes a YUV4MPEG2 stream.
type Writer struct {
	Header Header
	w      io.Writer
}

// NewWriter writes the stream header to w.
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	if h.Colorspace == "" {
		h.Colorspace = "420jpeg"
	}
	if err := h.validate(); err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, h.String()+"\n"); err != nil {
		return nil, err
	}
	return &Writer{Header: h, w: w}, nil
}

// WritePlanes writes one frame from planar Y, U and V data.
func (w *Writer) WritePlanes(p colorconv.Planes) error {
	ys := w.Header.Width * w.Header.Height
	cs := ys / 4
	if len(p.Y) < ys || len(p.U) < cs || len(p.V) < cs || p.PixelStride != 1 {
		return fmt.Errorf("y4m: frame does not match %dx%d I420", w.Header.Width, w.Header.Height)
	}
	if _, err := io.WriteString(w.w, frameHdr+"\n"); err != nil {
		return err
	}
	for _, b := range [][]byte{p.Y[:ys], p.U[:cs], p.V[:cs]} {
		if _, err := w.w.Write(b); err != nil {
			return err
		}
	}
	return nil
}
