package gstsource

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory classifies pipeline errors for logs and stats.
type ErrorCategory int

const (
	// ErrCategoryDevice covers missing, busy or unplugged cameras.
	ErrCategoryDevice ErrorCategory = iota
	// ErrCategoryFormat covers caps negotiation failures.
	ErrCategoryFormat
	// ErrCategoryPermission covers access to the device node.
	ErrCategoryPermission
	// ErrCategoryUnknown is everything else.
	ErrCategoryUnknown
)

func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryDevice:
		return "device"
	case ErrCategoryFormat:
		return "format"
	case ErrCategoryPermission:
		return "permission"
	default:
		return "unknown"
	}
}

var (
	permissionKeywords = []string{"permission", "denied", "not permitted", "eacces"}
	formatKeywords     = []string{"not negotiated", "negotiation", "caps", "format", "unsupported"}
	deviceKeywords     = []string{"device", "busy", "no such file", "resource", "v4l2", "disconnected", "cannot identify"}
)

// ClassifyGStreamerError classifies a bus error by its message text.
func ClassifyGStreamerError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return classify(gerr.Error(), gerr.DebugString())
}

// classify checks the most specific categories first.
func classify(msg, debug string) ErrorCategory {
	combined := strings.ToLower(msg + " " + debug)
	switch {
	case containsAny(combined, permissionKeywords):
		return ErrCategoryPermission
	case containsAny(combined, formatKeywords):
		return ErrCategoryFormat
	case containsAny(combined, deviceKeywords):
		return ErrCategoryDevice
	}
	return ErrCategoryUnknown
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
