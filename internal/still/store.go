// Package still keeps the latest already-decoded image for image mode
// captures. No colour conversion and no orientation happen here: the
// producer hands over pixels in the configured format and the consumer gets
// a copy of the latest one.
package still

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/camera-capture/internal/pixbuf"
)

// ErrInvalidPixelFormat is returned for unknown pixel formats.
var ErrInvalidPixelFormat = errors.New("invalid pixel format")

// PixelFormat is the layout of an image mode frame.
type PixelFormat int

const (
	RGB PixelFormat = iota
	BGR
	Luminance
	RGBA
	BGRA
)

var formatNames = [...]string{"rgb", "bgr", "luminance", "rgba", "bgra"}

// Channels returns the bytes per pixel, or 0 for an unknown format.
func (f PixelFormat) Channels() int {
	switch f {
	case RGB, BGR:
		return 3
	case Luminance:
		return 1
	case RGBA, BGRA:
		return 4
	}
	return 0
}

func (f PixelFormat) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return fmt.Sprintf("PixelFormat(%d)", int(f))
	}
	return formatNames[f]
}

// ParsePixelFormat accepts the names returned by String, case-insensitive.
func ParsePixelFormat(s string) (PixelFormat, error) {
	for i, name := range formatNames {
		if strings.EqualFold(s, name) {
			return PixelFormat(i), nil
		}
	}
	return 0, fmt.Errorf("still: %q: %w", s, ErrInvalidPixelFormat)
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for write timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a single mutex-guarded image slot.
type Store struct {
	format        PixelFormat
	width, height int
	now           func() time.Time

	mu      sync.Mutex
	buf     *pixbuf.Buffer
	out     *pixbuf.Buffer
	written bool

	writes atomic.Uint64
	grabs  atomic.Uint64
}

// New allocates the slot and the stable output buffer.
func New(width, height int, format PixelFormat, opts ...Option) (*Store, error) {
	ch := format.Channels()
	if ch == 0 {
		return nil, fmt.Errorf("still: format %d: %w", int(format), ErrInvalidPixelFormat)
	}
	buf, err := pixbuf.NewBuffer(width, height, ch)
	if err != nil {
		return nil, err
	}
	out, err := pixbuf.NewBuffer(width, height, ch)
	if err != nil {
		return nil, err
	}
	s := &Store{format: format, width: width, height: height, now: time.Now, buf: buf, out: out}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Format returns the configured pixel format.
func (s *Store) Format() PixelFormat { return s.format }

// Size returns the configured image dimensions.
func (s *Store) Size() (width, height int) { return s.width, s.height }

// Write copies data into the slot, replacing any previous image.
// width and height must match the store geometry.
func (s *Store) Write(data []byte, width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf == nil {
		return pixbuf.ErrClosed
	}
	if width != s.buf.Width || height != s.buf.Height {
		return fmt.Errorf("still: %dx%d into %dx%d: %w", width, height, s.buf.Width, s.buf.Height, pixbuf.ErrSizeMismatch)
	}
	if len(data) < s.buf.Len() {
		return fmt.Errorf("still: %d bytes, want %d: %w", len(data), s.buf.Len(), pixbuf.ErrSizeMismatch)
	}
	copy(s.buf.Pix, data)
	s.buf.Timestamp = s.now().UnixMilli()
	s.written = true
	s.writes.Add(1)
	return nil
}

// Grab copies the latest image into the output buffer and returns it.
// Never blocks; ok is false until the first Write. The returned buffer is
// valid until the next Grab.
func (s *Store) Grab() (*pixbuf.Buffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.written || s.buf == nil {
		return nil, false
	}
	if err := s.out.CopyFrom(s.buf); err != nil {
		return nil, false
	}
	s.grabs.Add(1)
	return s.out, true
}

// Counts returns the number of writes and grabs.
func (s *Store) Counts() (writes, grabs uint64) {
	return s.writes.Load(), s.grabs.Load()
}

// Close drops the image memory. Idempotent.
func (s *Store) Close() {
	s.mu.Lock()
	s.buf = nil
	s.mu.Unlock()
}
