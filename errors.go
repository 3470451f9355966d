package cameracapture

import (
	"errors"

	"github.com/e7canasta/camera-capture/internal/colorconv"
	"github.com/e7canasta/camera-capture/internal/orient"
	"github.com/e7canasta/camera-capture/internal/pixbuf"
	"github.com/e7canasta/camera-capture/internal/still"
)

// Construction errors.
var (
	ErrInvalidSize        = pixbuf.ErrInvalidSize
	ErrAllocation         = pixbuf.ErrAllocation
	ErrInvalidOrientation = orient.ErrInvalidOrientation
	ErrInvalidPixelFormat = still.ErrInvalidPixelFormat
)

// Per-frame errors. The offending frame is discarded and the capture keeps
// its previous state.
var (
	ErrInvalidPixelStride = colorconv.ErrInvalidPixelStride
	ErrShortPlane         = colorconv.ErrShortPlane
	ErrNilPlane           = colorconv.ErrNilPlane
	ErrSizeMismatch       = pixbuf.ErrSizeMismatch
)

var (
	// ErrWrongMode is returned when a stream operation is called on an image
	// capture or the other way round.
	ErrWrongMode = errors.New("operation not supported in this capture mode")

	// ErrClosed is returned by writes after Close.
	ErrClosed = pixbuf.ErrClosed

	// ErrNotConfigured is returned by Bridge stream writes before the first
	// SetParameters.
	ErrNotConfigured = errors.New("capture parameters not set")
)
