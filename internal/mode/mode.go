// Package mode holds the pipeline stage of the capture session.
//
// The backend is the only source of truth for the stage. Operator requests
// are sent as transition requests and take effect when the backend pushes
// the resulting mode back.
package mode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrUnknownMode is returned by ParseMode for values outside the enumeration.
var ErrUnknownMode = errors.New("unknown mode")

// Mode is an ordered pipeline stage. A feature gated at stage k is available
// in every mode >= k unless an Action bounds it from above.
type Mode int

const (
	CamerasFound Mode = iota
	ImageProcessing
	PointCapture
	Triangulation
)

var names = [...]string{"CamerasFound", "ImageProcessing", "PointCapture", "Triangulation"}

// Valid reports whether m is a defined stage.
func (m Mode) Valid() bool { return m >= CamerasFound && m <= Triangulation }

func (m Mode) String() string {
	if !m.Valid() {
		return "Mode(" + strconv.Itoa(int(m)) + ")"
	}
	return names[m]
}

// MarshalJSON encodes the numeric stage, the form used on the wire.
func (m Mode) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(m))), nil
}

// UnmarshalJSON accepts any form ParseMode does.
func (m *Mode) UnmarshalJSON(b []byte) error {
	v, err := ParseMode(json.RawMessage(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMode converts an integer, an integral float, a numeric string, a
// case-insensitive stage name, or a JSON value of any of those (optionally an
// object with a "mode" key) into a Mode.
func ParseMode(v any) (Mode, error) {
	switch x := v.(type) {
	case Mode:
		return check(int64(x))
	case int:
		return check(int64(x))
	case int64:
		return check(x)
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("%w: %v", ErrUnknownMode, x)
		}
		return check(int64(x))
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return check(n)
		}
		for i, name := range names {
			if strings.EqualFold(s, name) {
				return Mode(i), nil
			}
		}
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, x)
	case json.RawMessage:
		return parseJSON(x)
	case []byte:
		return parseJSON(x)
	default:
		return 0, fmt.Errorf("%w: %v (%T)", ErrUnknownMode, v, v)
	}
}

func parseJSON(b []byte) (Mode, error) {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			Mode json.RawMessage `json:"mode"`
		}
		if err := json.Unmarshal(b, &obj); err != nil || obj.Mode == nil {
			return 0, fmt.Errorf("%w: %s", ErrUnknownMode, b)
		}
		b = obj.Mode
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownMode, b)
	}
	if _, ok := v.(map[string]any); ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownMode, b)
	}
	return ParseMode(v)
}

func check(n int64) (Mode, error) {
	m := Mode(n)
	if int64(m) != n || !m.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownMode, n)
	}
	return m, nil
}

// Action is an operator control whose availability is bounded on both sides.
type Action int

const (
	ToggleImageProcessing Action = iota
	TogglePointCapture
	ToggleTriangulation
	CaptureFrame
	// ArmPose arms the camera pose capture, which needs detected points.
	ArmPose
	// ArmScale arms the scale capture, which needs triangulated frames.
	ArmScale
)

func (a Action) String() string {
	switch a {
	case ToggleImageProcessing:
		return "ToggleImageProcessing"
	case TogglePointCapture:
		return "TogglePointCapture"
	case ToggleTriangulation:
		return "ToggleTriangulation"
	case CaptureFrame:
		return "CaptureFrame"
	case ArmPose:
		return "ArmPose"
	case ArmScale:
		return "ArmScale"
	}
	return "Action(" + strconv.Itoa(int(a)) + ")"
}

// bounds returns the inclusive mode range in which the action is enabled.
func (a Action) bounds() (lo, hi Mode) {
	switch a {
	case ToggleImageProcessing:
		return CamerasFound, ImageProcessing
	case TogglePointCapture:
		return ImageProcessing, PointCapture
	case ToggleTriangulation:
		return PointCapture, Triangulation
	case CaptureFrame:
		return CamerasFound, CamerasFound
	case ArmPose:
		return PointCapture, Triangulation
	case ArmScale:
		return Triangulation, Triangulation
	}
	return Triangulation + 1, CamerasFound - 1
}

// EnabledIn reports whether the action is available in mode m.
func (a Action) EnabledIn(m Mode) bool {
	lo, hi := a.bounds()
	return m >= lo && m <= hi
}

// ToggleTarget returns the mode a toggle action requests from mode m.
// CaptureFrame does not change the mode and reports false.
func (a Action) ToggleTarget(m Mode) (Mode, bool) {
	switch a {
	case ToggleImageProcessing:
		if m == CamerasFound {
			return ImageProcessing, true
		}
		return CamerasFound, true
	case TogglePointCapture:
		if m == PointCapture {
			return ImageProcessing, true
		}
		return PointCapture, true
	case ToggleTriangulation:
		if m == PointCapture {
			return Triangulation, true
		}
		return PointCapture, true
	}
	return m, false
}
