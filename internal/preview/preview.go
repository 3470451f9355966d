// Package preview serves the latest grabbed frame over HTTP for debugging:
// a JPEG snapshot, an MJPEG stream and the capture counters.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/e7canasta/camera-capture/internal/pixbuf"
	"github.com/e7canasta/camera-capture/internal/snapshot"
	"github.com/e7canasta/camera-capture/internal/still"
)

const boundary = "frame"

// StatsFunc returns the value served by /stats. It must be safe to call
// from HTTP handlers.
type StatsFunc func() any

// Config configures the server.
type Config struct {
	JPEGQuality int
	MaxFPS      float64         // publish rate cap, 0 = every frame
	Stats       StatsFunc       // optional
	Saver       *snapshot.Saver // optional, enables POST /snapshot
}

// Server keeps the latest frame as JPEG.
type Server struct {
	cfg    Config
	log    zerolog.Logger
	router *gin.Engine

	mu        sync.RWMutex
	jpeg      []byte
	seq       uint64
	published time.Time
	updated   chan struct{} // closed and replaced on every publish
	raw       *pixbuf.Buffer
	format    still.PixelFormat
}

// New builds the server and its routes.
func New(cfg Config, log zerolog.Logger) *Server {
	if cfg.JPEGQuality == 0 {
		cfg.JPEGQuality = 80
	}
	s := &Server{
		cfg:     cfg,
		log:     log.With().Str("module", "preview").Logger(),
		updated: make(chan struct{}),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog)
	r.GET("/snapshot.jpg", s.handleSnapshot)
	r.GET("/stream.mjpeg", s.handleStream)
	r.GET("/stats", s.handleStats)
	if cfg.Saver != nil {
		r.POST("/snapshot", s.handleSave)
	}
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Publish encodes b and makes it the current frame. The caller keeps
// ownership of b. Frames arriving faster than MaxFPS are skipped and
// report false.
func (s *Server) Publish(b *pixbuf.Buffer, f still.PixelFormat) (bool, error) {
	s.mu.RLock()
	last := s.published
	s.mu.RUnlock()
	if s.cfg.MaxFPS > 0 && time.Since(last) < time.Duration(float64(time.Second)/s.cfg.MaxFPS) {
		return false, nil
	}

	img, err := snapshot.ToImage(b, f)
	if err != nil {
		return false, err
	}
	var buf bytes.Buffer
	if err := snapshot.EncodeJPEG(&buf, img, s.cfg.JPEGQuality); err != nil {
		return false, err
	}

	raw := s.keepRaw(b)

	s.mu.Lock()
	s.jpeg = buf.Bytes()
	s.seq++
	s.published = time.Now()
	s.raw, s.format = raw, f
	close(s.updated)
	s.updated = make(chan struct{})
	s.mu.Unlock()
	return true, nil
}

// keepRaw copies b for POST /snapshot. Only done when a saver is
// configured.
func (s *Server) keepRaw(b *pixbuf.Buffer) *pixbuf.Buffer {
	if s.cfg.Saver == nil {
		return nil
	}
	raw, err := pixbuf.NewBuffer(b.Width, b.Height, b.Channels)
	if err != nil {
		return nil
	}
	if err := raw.CopyFrom(b); err != nil {
		return nil
	}
	return raw
}

// latest returns the current JPEG, its sequence number and the channel
// closed by the next publish.
func (s *Server) latest() ([]byte, uint64, <-chan struct{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jpeg, s.seq, s.updated
}

func (s *Server) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debug().
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int("status", c.Writer.Status()).
		Dur("took", time.Since(start)).
		Msg("preview: request")
}

func (s *Server) handleSnapshot(c *gin.Context) {
	img, seq, _ := s.latest()
	if img == nil {
		c.String(http.StatusServiceUnavailable, "no frame yet")
		return
	}
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("X-Frame-Seq", fmt.Sprint(seq))
	c.Data(http.StatusOK, "image/jpeg", img)
}

func (s *Server) handleStream(c *gin.Context) {
	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "streaming not supported")
		return
	}

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Status(http.StatusOK)

	var sent uint64
	for {
		img, seq, updated := s.latest()
		if img != nil && seq != sent {
			fmt.Fprintf(w, "--%s\r\n", boundary)
			fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
			fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(img))
			if _, err := w.Write(img); err != nil {
				return
			}
			fmt.Fprintf(w, "\r\n")
			flusher.Flush()
			sent = seq
		}

		select {
		case <-c.Request.Context().Done():
			return
		case <-updated:
		}
	}
}

func (s *Server) handleStats(c *gin.Context) {
	_, seq, _ := s.latest()
	body := gin.H{"published": seq}
	if s.cfg.Stats != nil {
		body["capture"] = s.cfg.Stats()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleSave(c *gin.Context) {
	s.mu.RLock()
	raw, format, seq := s.raw, s.format, s.seq
	s.mu.RUnlock()
	if raw == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no frame yet"})
		return
	}
	path, err := s.cfg.Saver.Save(raw, format, seq)
	if err != nil {
		s.log.Error().Err(err).Msg("preview: snapshot save failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "seq": seq})
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	// Streams end with ctx since their request contexts derive from it.
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Msg("preview: listening")

	select {
	case err := <-errCh:
		return fmt.Errorf("preview: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("preview: shutdown: %w", err)
	}
	return nil
}
