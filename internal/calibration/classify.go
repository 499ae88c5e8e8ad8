package calibration

import (
	"fmt"

	"github.com/banshee-data/weccap/internal/frame"
)

// Visibility grades how many cameras observed a captured sample.
type Visibility int

const (
	Partial Visibility = iota
	NearComplete
	Complete
)

func (v Visibility) String() string {
	switch v {
	case Complete:
		return "complete"
	case NearComplete:
		return "near-complete"
	}
	return "partial"
}

// MarshalText encodes the visibility label.
func (v Visibility) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// UnmarshalText decodes a visibility label.
func (v *Visibility) UnmarshalText(b []byte) error {
	switch string(b) {
	case "partial":
		*v = Partial
	case "near-complete":
		*v = NearComplete
	case "complete":
		*v = Complete
	default:
		return fmt.Errorf("unknown visibility %q", b)
	}
	return nil
}

// Classify grades entry against the known camera count. It is informational
// and never blocks a submission. Before the camera count is known the width
// of entry stands in for it.
func Classify(entry frame.CameraPoints, numCams int) Visibility {
	if numCams <= 0 {
		numCams = len(entry)
	}
	switch entry.VisibleCount() {
	case numCams:
		return Complete
	case numCams - 1:
		return NearComplete
	}
	return Partial
}
