package preview

import (
	"bufio"
	"context"
	"encoding/json"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/camera-capture/internal/pixbuf"
	"github.com/e7canasta/camera-capture/internal/snapshot"
	"github.com/e7canasta/camera-capture/internal/still"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func grayFrame(t *testing.T, w, h int, v byte) *pixbuf.Buffer {
	t.Helper()
	b, err := pixbuf.NewBuffer(w, h, 3)
	require.NoError(t, err)
	for i := range b.Pix {
		b.Pix[i] = v
	}
	return b
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestSnapshot(t *testing.T) {
	s := New(Config{}, zerolog.Nop())

	rec := get(s, "/snapshot.jpg")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ok, err := s.Publish(grayFrame(t, 8, 4, 200), still.RGB)
	require.NoError(t, err)
	require.True(t, ok)

	rec = get(s, "/snapshot.jpg")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "1", rec.Header().Get("X-Frame-Seq"))

	img, err := jpeg.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	r, _, _, _ := img.At(3, 2).RGBA()
	assert.InDelta(t, 200, int(r>>8), 3)
}

func TestPublish_RateCap(t *testing.T) {
	s := New(Config{MaxFPS: 1}, zerolog.Nop())
	f := grayFrame(t, 4, 4, 10)

	ok, err := s.Publish(f, still.RGB)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Publish(f, still.RGB)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPublish_WrongFormat(t *testing.T) {
	s := New(Config{}, zerolog.Nop())
	_, err := s.Publish(grayFrame(t, 4, 4, 10), still.RGBA)
	assert.ErrorIs(t, err, still.ErrInvalidPixelFormat)
}

func TestStats(t *testing.T) {
	s := New(Config{Stats: func() any { return map[string]int{"grabs": 3} }}, zerolog.Nop())
	_, err := s.Publish(grayFrame(t, 4, 4, 10), still.RGB)
	require.NoError(t, err)

	rec := get(s, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Published uint64         `json:"published"`
		Capture   map[string]int `json:"capture"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, uint64(1), body.Published)
	assert.Equal(t, 3, body.Capture["grabs"])
}

func TestSave(t *testing.T) {
	saver, err := snapshot.NewSaver(t.TempDir(), "png", 80)
	require.NoError(t, err)
	s := New(Config{Saver: saver}, zerolog.Nop())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/snapshot", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f := grayFrame(t, 4, 4, 10)
	_, err = s.Publish(f, still.RGB)
	require.NoError(t, err)
	f.Pix[0] = 99 // the server holds its own copy

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/snapshot", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Path string `json:"path"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.FileExists(t, body.Path)

	saved, _ := saver.Stats()
	assert.Equal(t, uint64(1), saved)
}

func TestSaveRouteDisabledWithoutSaver(t *testing.T) {
	s := New(Config{}, zerolog.Nop())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/snapshot", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStream(t *testing.T) {
	s := New(Config{}, zerolog.Nop())
	_, err := s.Publish(grayFrame(t, 4, 4, 10), still.RGB)
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream.mjpeg", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))

	rd := bufio.NewReader(resp.Body)
	line, err := rd.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\n", line)
	line, err = rd.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "Content-Type: image/jpeg"))

	// A second publish reaches the open stream.
	next := grayFrame(t, 4, 4, 50)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = s.Publish(next, still.RGB)
	}()
	for {
		line, err = rd.ReadString('\n')
		require.NoError(t, err)
		if line == "--frame\r\n" {
			break
		}
	}
}

func TestListenAndServe_StopsWithContext(t *testing.T) {
	s := New(Config{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
