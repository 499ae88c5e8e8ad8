// Package frame decodes the measurement payloads pushed by the capture
// backend: per-frame object point events and per-camera calibration samples.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformedFrame is returned when an object-points payload is not a
	// JSON object carrying the expected fields.
	ErrMalformedFrame = errors.New("malformed measurement frame")
	// ErrMalformedSample is returned when an image-points payload is not a
	// per-camera list of pixel pairs.
	ErrMalformedSample = errors.New("malformed camera sample")
)

var jsonNull = []byte("null")

// ImagePoint is one camera's pixel observation. A point that the camera did
// not see has Visible false.
type ImagePoint struct {
	X, Y    float64
	Visible bool
}

// Pt returns a visible image point.
func Pt(x, y float64) ImagePoint { return ImagePoint{X: x, Y: y, Visible: true} }

// Hidden is the "not visible" image point.
var Hidden = ImagePoint{}

// MarshalJSON encodes visible points as [x,y] and hidden ones as [null,null].
func (p ImagePoint) MarshalJSON() ([]byte, error) {
	if !p.Visible {
		return []byte("[null,null]"), nil
	}
	return json.Marshal([2]float64{p.X, p.Y})
}

// UnmarshalJSON accepts [x,y], [null,null] or null.
func (p *ImagePoint) UnmarshalJSON(b []byte) error {
	*p = ImagePoint{}
	if bytes.Equal(bytes.TrimSpace(b), jsonNull) {
		return nil
	}
	var pair []*float64
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("image point has %d coordinates, want 2", len(pair))
	}
	if pair[0] == nil || pair[1] == nil {
		return nil
	}
	*p = Pt(*pair[0], *pair[1])
	return nil
}

// CameraPoints holds one entry per camera for a single capture instant.
type CameraPoints []ImagePoint

// VisibleCount returns the number of cameras that observed the point.
func (c CameraPoints) VisibleCount() int {
	n := 0
	for _, p := range c {
		if p.Visible {
			n++
		}
	}
	return n
}

// Clone returns an independent copy.
func (c CameraPoints) Clone() CameraPoints {
	if c == nil {
		return nil
	}
	return append(CameraPoints(nil), c...)
}

// DecodeCameraPoints decodes an image-points payload.
func DecodeCameraPoints(raw json.RawMessage) (CameraPoints, error) {
	var pts CameraPoints
	if err := json.Unmarshal(raw, &pts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSample, err)
	}
	if pts == nil {
		return nil, fmt.Errorf("%w: null payload", ErrMalformedSample)
	}
	return pts, nil
}

// Frame is one object-points event. It is immutable once decoded.
type Frame struct {
	// ObjectPoints is nil when the backend could not resolve any point.
	ObjectPoints [][3]float64
	// Errors carries the reprojection error of each object point.
	Errors []float64
	// ImagePoints is the raw per-camera observation block, passed through
	// untouched.
	ImagePoints json.RawMessage
	// Objects and FilteredObjects are the located and tracked objects when
	// object location is enabled on the backend.
	Objects         []json.RawMessage
	FilteredObjects []json.RawMessage
	// TimeMs is the capture timestamp in milliseconds. HasTime is false when
	// the payload carried none.
	TimeMs  float64
	HasTime bool
}

type wireFrame struct {
	ObjectPoints    json.RawMessage   `json:"object_points"`
	Errors          json.RawMessage   `json:"errors"`
	ImagePoints     json.RawMessage   `json:"image_points"`
	Objects         []json.RawMessage `json:"objects"`
	FilteredObjects []json.RawMessage `json:"filtered_objects"`
	TimeMs          *float64          `json:"time_ms"`
}

// Decode parses an object-points payload. The object_points and errors keys
// are required; object_points may be null.
func Decode(raw json.RawMessage) (Frame, error) {
	// Presence is checked on the raw keys: a null value is a valid
	// unresolved frame, an absent key is not.
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	for _, k := range []string{"object_points", "errors"} {
		if _, ok := keys[k]; !ok {
			return Frame{}, fmt.Errorf("%w: missing %s", ErrMalformedFrame, k)
		}
	}

	var w wireFrame
	if err := json.Unmarshal(raw, &w); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var f Frame
	if len(w.ObjectPoints) > 0 && !bytes.Equal(bytes.TrimSpace(w.ObjectPoints), jsonNull) {
		if err := json.Unmarshal(w.ObjectPoints, &f.ObjectPoints); err != nil {
			return Frame{}, fmt.Errorf("%w: object_points: %v", ErrMalformedFrame, err)
		}
	}
	errs, err := decodeErrors(w.Errors)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: errors: %v", ErrMalformedFrame, err)
	}
	f.Errors = errs
	if len(w.ImagePoints) > 0 && !bytes.Equal(w.ImagePoints, jsonNull) {
		f.ImagePoints = w.ImagePoints
	}
	f.Objects = w.Objects
	f.FilteredObjects = w.FilteredObjects
	if w.TimeMs != nil {
		f.TimeMs = *w.TimeMs
		f.HasTime = true
	}
	return f, nil
}

// decodeErrors accepts a list of numbers, a single number or null.
func decodeErrors(b json.RawMessage) ([]float64, error) {
	if b = bytes.TrimSpace(b); len(b) == 0 || bytes.Equal(b, jsonNull) {
		return nil, nil
	}
	var list []float64
	if err := json.Unmarshal(b, &list); err == nil {
		return list, nil
	}
	var one float64
	if err := json.Unmarshal(b, &one); err != nil {
		return nil, err
	}
	return []float64{one}, nil
}
