// Package calibration implements the operator-driven sample capture used to
// calibrate the rig, and the requests that hand captured data to the backend.
//
// A capture is armed by the operator and consumes exactly one subsequent
// sample, whatever the arrival rate. The solving itself happens remotely.
package calibration

import (
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/weccap/internal/eventchannel"
	"github.com/banshee-data/weccap/internal/frame"
	"github.com/banshee-data/weccap/internal/monitoring"
)

// ErrEmptyPointSet is returned by submissions while no sample was captured.
var ErrEmptyPointSet = errors.New("no calibration points captured")

var logger = monitoring.Logger("calibration")

// State of a one-shot capture.
type State int

const (
	Idle State = iota
	Armed
)

func (s State) String() string {
	if s == Armed {
		return "armed"
	}
	return "idle"
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = Idle
	case "armed":
		*s = Armed
	default:
		return fmt.Errorf("unknown capture state %q", b)
	}
	return nil
}

// Kind selects the pose request a Capture submits.
type Kind string

const (
	KindFullPose         Kind = "fullPose"
	KindBundleAdjustment Kind = "bundleAdjustment"
)

// ParseKind validates a submission kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindFullPose, KindBundleAdjustment:
		return k, nil
	}
	return "", fmt.Errorf("unknown submission kind %q", s)
}

// Capture builds the calibration point set from image-points samples.
type Capture struct {
	emitter eventchannel.Emitter
	poses   *Poses

	mu     sync.Mutex
	state  State
	points []frame.CameraPoints
}

// NewCapture creates an idle capture with an empty point set.
func NewCapture(e eventchannel.Emitter, poses *Poses) *Capture {
	return &Capture{emitter: e, poses: poses}
}

// ArmNext arms the capture for the next sample. Arming while armed does
// nothing. It reports whether the state changed.
func (c *Capture) ArmNext() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Armed {
		return false
	}
	c.state = Armed
	return true
}

// OnSample appends pts to the point set if armed and disarms. It reports
// whether the sample was captured.
func (c *Capture) OnSample(pts frame.CameraPoints) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Armed {
		return false
	}
	c.points = append(c.points, pts.Clone())
	c.state = Idle
	logger.Debug("captured sample", "n", len(c.points), "visible", pts.VisibleCount())
	return true
}

// Clear empties the point set and disarms.
func (c *Capture) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points = nil
	c.state = Idle
}

// State returns the capture state.
func (c *Capture) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Len returns the number of captured samples.
func (c *Capture) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.points)
}

// Points returns the captured samples. The result shares no memory with the
// capture's own set.
func (c *Capture) Points() []frame.CameraPoints {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]frame.CameraPoints, len(c.points))
	for i, p := range c.points {
		out[i] = p.Clone()
	}
	return out
}

type poseRequest struct {
	CameraPoints []frame.CameraPoints `json:"cameraPoints"`
	CameraPoses  []CameraPose         `json:"cameraPoses,omitempty"`
}

// Submit sends the whole point set as a pose request. The set is kept.
func (c *Capture) Submit(kind Kind) error {
	pts := c.Points()
	if len(pts) == 0 {
		return ErrEmptyPointSet
	}

	var name string
	req := poseRequest{CameraPoints: pts}
	switch kind {
	case KindFullPose:
		name = eventchannel.EmitCameraPose
	case KindBundleAdjustment:
		name = eventchannel.EmitBundleAdjustment
		req.CameraPoses = c.poses.CameraPoses()
	default:
		return fmt.Errorf("unknown submission kind %q", kind)
	}

	if err := c.emitter.Emit(name, req); err != nil {
		return fmt.Errorf("submit %s: %w", kind, err)
	}
	logger.Info("submitted calibration points", "kind", kind, "points", len(pts))
	return nil
}
