package calibration

import (
	"fmt"
	"sync"

	"github.com/banshee-data/weccap/internal/eventchannel"
	"github.com/banshee-data/weccap/internal/frame"
)

// ScaleCapture records the object points of one frame per arm request. The
// backend derives the world scale from pairs of markers at a known distance.
// It is fed from the accumulator as a mirror.
type ScaleCapture struct {
	emitter eventchannel.Emitter
	poses   *Poses

	mu     sync.Mutex
	state  State
	points [][][3]float64
}

// NewScaleCapture creates an idle scale capture.
func NewScaleCapture(e eventchannel.Emitter, poses *Poses) *ScaleCapture {
	return &ScaleCapture{emitter: e, poses: poses}
}

// ArmNext arms the capture for the next frame. Arming while armed does nothing.
func (s *ScaleCapture) ArmNext() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Armed {
		return false
	}
	s.state = Armed
	return true
}

// MirrorFrame captures f's object points when armed. Frames with no resolved
// points leave the capture armed.
func (s *ScaleCapture) MirrorFrame(f frame.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Armed || len(f.ObjectPoints) == 0 {
		return
	}
	s.points = append(s.points, append([][3]float64(nil), f.ObjectPoints...))
	s.state = Idle
}

// Clear empties the recorded points and disarms.
func (s *ScaleCapture) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = nil
	s.state = Idle
}

// State returns the capture state.
func (s *ScaleCapture) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Points returns the recorded frames' object points.
func (s *ScaleCapture) Points() [][][3]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][][3]float64(nil), s.points...)
}

type scaleRequest struct {
	ObjectPoints [][][3]float64 `json:"objectPoints"`
	CameraPoses  []CameraPose   `json:"cameraPoses"`
}

// Submit sends the recorded points with the current pose estimate.
func (s *ScaleCapture) Submit() error {
	pts := s.Points()
	if len(pts) == 0 {
		return ErrEmptyPointSet
	}
	req := scaleRequest{ObjectPoints: pts, CameraPoses: s.poses.CameraPoses()}
	if err := s.emitter.Emit(eventchannel.EmitDetermineScale, req); err != nil {
		return fmt.Errorf("submit scale: %w", err)
	}
	logger.Info("submitted scale points", "frames", len(pts))
	return nil
}
