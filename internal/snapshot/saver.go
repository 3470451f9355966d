package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/e7canasta/camera-capture/internal/pixbuf"
	"github.com/e7canasta/camera-capture/internal/still"
)

// Saver writes frames to a directory as PNG or JPEG. Safe for concurrent
// use.
type Saver struct {
	dir         string
	format      string
	jpegQuality int

	saved   atomic.Uint64
	dropped atomic.Uint64
}

// NewSaver creates dir if needed. format is "png" or "jpeg".
func NewSaver(dir, format string, jpegQuality int) (*Saver, error) {
	if format != "png" && format != "jpeg" {
		return nil, fmt.Errorf("snapshot: unsupported format: %s (must be png or jpeg)", format)
	}
	if jpegQuality < 1 || jpegQuality > 100 {
		return nil, fmt.Errorf("snapshot: jpeg quality %d out of range", jpegQuality)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: failed to create output directory: %w", err)
	}
	return &Saver{dir: dir, format: format, jpegQuality: jpegQuality}, nil
}

// Save writes b as frame_{seq}_{timestamp}ms.{ext} and returns the path.
func (s *Saver) Save(b *pixbuf.Buffer, f still.PixelFormat, seq uint64) (string, error) {
	img, err := ToImage(b, f)
	if err != nil {
		s.dropped.Add(1)
		return "", err
	}

	path := filepath.Join(s.dir, fmt.Sprintf("frame_%06d_%dms.%s", seq, b.Timestamp, s.format))
	file, err := os.Create(path)
	if err != nil {
		s.dropped.Add(1)
		return "", fmt.Errorf("snapshot: failed to create file: %w", err)
	}
	defer file.Close()

	if s.format == "png" {
		err = EncodePNG(file, img)
	} else {
		err = EncodeJPEG(file, img, s.jpegQuality)
	}
	if err != nil {
		s.dropped.Add(1)
		return "", err
	}

	s.saved.Add(1)
	return path, nil
}

// Stats returns how many frames were saved and how many failed.
func (s *Saver) Stats() (saved, dropped uint64) {
	return s.saved.Load(), s.dropped.Load()
}
