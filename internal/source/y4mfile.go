package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/e7canasta/camera-capture/internal/y4m"
)

// defaultFPS is used when neither the caller nor the file sets a rate.
const defaultFPS = 30

// Y4MFile replays a YUV4MPEG2 file as planar frames.
type Y4MFile struct {
	counters

	path     string
	loop     bool
	fps      float64
	log      zerolog.Logger
	rewinds  uint64
	header   y4m.Header
	file     *os.File
	reader   *y4m.Reader
	scratch  []byte
	interval time.Duration
}

// OpenY4M opens path and reads its header. fps 0 uses the file's rate.
func OpenY4M(path string, fps float64, loop bool, log zerolog.Logger) (*Y4MFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	r, err := y4m.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("source: %s: %w", path, err)
	}

	if fps <= 0 {
		fps = r.Header.FPS()
	}
	if fps <= 0 {
		fps = defaultFPS
	}

	return &Y4MFile{
		path:     path,
		loop:     loop,
		fps:      fps,
		log:      log.With().Str("source", "y4m").Str("path", path).Logger(),
		header:   r.Header,
		file:     f,
		reader:   r,
		interval: time.Duration(float64(time.Second) / fps),
	}, nil
}

// Header returns the stream header.
func (s *Y4MFile) Header() y4m.Header { return s.header }

// Rewinds reports how many times the file was replayed from the start.
func (s *Y4MFile) Rewinds() uint64 { return s.rewinds }

// Close closes the underlying file.
func (s *Y4MFile) Close() error { return s.file.Close() }

// Run implements Source. Without loop it returns nil at end of file.
func (s *Y4MFile) Run(ctx context.Context, sink Sink) error {
	s.log.Info().
		Int("width", s.header.Width).
		Int("height", s.header.Height).
		Str("colorspace", s.header.Colorspace).
		Float64("fps", s.fps).
		Msg("source started")

	err := pace(ctx, s.interval, func(seq uint64, ts int64) error {
		frame, err := s.next()
		if err != nil {
			return err
		}
		p := s.header.Planes(frame)
		return s.deliver(s.log, seq, sink.WriteFrameYUV420(p.Y, p.U, p.V, ts, p.PixelStride))
	})

	s.log.Info().Uint64("frames", s.frames.Load()).Uint64("rewinds", s.rewinds).Msg("source stopped")
	return err
}

func (s *Y4MFile) next() ([]byte, error) {
	frame, err := s.reader.Next(s.scratch)
	if errors.Is(err, io.EOF) {
		if !s.loop || s.frames.Load() == 0 {
			return nil, errStop
		}
		if err := s.rewind(); err != nil {
			return nil, err
		}
		frame, err = s.reader.Next(s.scratch)
	}
	if err != nil {
		return nil, fmt.Errorf("source: %s: %w", s.path, err)
	}
	s.scratch = frame
	return frame, nil
}

func (s *Y4MFile) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("source: rewind %s: %w", s.path, err)
	}
	r, err := y4m.NewReader(s.file)
	if err != nil {
		return fmt.Errorf("source: rewind %s: %w", s.path, err)
	}
	s.reader = r
	s.rewinds++
	s.log.Debug().Uint64("rewinds", s.rewinds).Msg("rewound")
	return nil
}
