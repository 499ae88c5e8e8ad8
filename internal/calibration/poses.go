package calibration

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Vec3 is a translation vector. It decodes from [x,y,z] or the column form
// [[x],[y],[z]] and always encodes as [x,y,z].
type Vec3 [3]float64

// UnmarshalJSON accepts a flat or column vector.
func (v *Vec3) UnmarshalJSON(b []byte) error {
	var flat [3]float64
	if err := json.Unmarshal(b, &flat); err == nil {
		*v = flat
		return nil
	}
	var col [][]float64
	if err := json.Unmarshal(b, &col); err != nil {
		return fmt.Errorf("translation: %w", err)
	}
	if len(col) != 3 {
		return fmt.Errorf("translation has %d rows, want 3", len(col))
	}
	for i, row := range col {
		if len(row) != 1 {
			return fmt.Errorf("translation row %d has %d values, want 1", i, len(row))
		}
		v[i] = row[0]
	}
	return nil
}

// CameraPose is one camera's extrinsics.
type CameraPose struct {
	R [3][3]float64 `json:"R"`
	T Vec3          `json:"t"`
}

// rotationTolerance bounds how far det(R) may be from +-1.
const rotationTolerance = 1e-3

func (p CameraPose) validate() error {
	r := mat.NewDense(3, 3, []float64{
		p.R[0][0], p.R[0][1], p.R[0][2],
		p.R[1][0], p.R[1][1], p.R[1][2],
		p.R[2][0], p.R[2][1], p.R[2][2],
	})
	det := mat.Det(r)
	if math.IsNaN(det) || math.Abs(math.Abs(det)-1) > rotationTolerance {
		return fmt.Errorf("R is not a rotation: det %.6f", det)
	}
	return nil
}

// WorldMatrix is the homogeneous camera-to-world transform.
type WorldMatrix [4][4]float64

func (w WorldMatrix) validate() error {
	flat := make([]float64, 0, 16)
	for _, row := range w {
		flat = append(flat, row[:]...)
	}
	if det := mat.Det(mat.NewDense(4, 4, flat)); det == 0 || math.IsNaN(det) {
		return fmt.Errorf("world matrix is singular")
	}
	return nil
}

// DefaultCameraPoses are the extrinsics of the reference two-camera rig.
func DefaultCameraPoses() []CameraPose {
	return []CameraPose{
		{
			R: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
			T: Vec3{0, 0, 0},
		},
		{
			R: [3][3]float64{
				{0.9803735500353231, -0.10861349423881929, 0.16453209796380658},
				{0.08640076769276835, 0.9868471824824758, 0.13662922735820185},
				{-0.17720781510203765, -0.11973198108956898, 0.9768631649167292},
			},
			T: Vec3{-0.14338726094315887, -0.8124954016497306, -0.565158041121874},
		},
	}
}

// DefaultWorldMatrix is the world transform of the reference rig.
func DefaultWorldMatrix() WorldMatrix {
	return WorldMatrix{
		{0.9941338485260931, 0.0986512964608827, -0.04433748889242502, 0.9938296704767513},
		{-0.0986512964608827, 0.659022672138982, -0.7456252673517598, 2.593331619023365},
		{0.04433748889242498, -0.7456252673517594, -0.6648888236128887, 2.9576262456228286},
		{0, 0, 0, 1},
	}
}

// Poses holds the latest camera pose estimate and world transform pushed by
// the backend.
type Poses struct {
	mu      sync.RWMutex
	cameras []CameraPose
	world   WorldMatrix
}

// NewPoses starts from the reference rig.
func NewPoses() *Poses {
	return &Poses{cameras: DefaultCameraPoses(), world: DefaultWorldMatrix()}
}

// CameraPoses returns a copy of the pose estimate.
func (p *Poses) CameraPoses() []CameraPose {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]CameraPose(nil), p.cameras...)
}

// WorldMatrix returns the world transform.
func (p *Poses) WorldMatrix() WorldMatrix {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.world
}

// SetCameraPoses replaces the estimate after validating every rotation.
func (p *Poses) SetCameraPoses(poses []CameraPose) error {
	if len(poses) == 0 {
		return fmt.Errorf("camera pose list is empty")
	}
	for i, c := range poses {
		if err := c.validate(); err != nil {
			return fmt.Errorf("camera %d: %w", i, err)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cameras = append([]CameraPose(nil), poses...)
	return nil
}

// SetWorldMatrix replaces the world transform.
func (p *Poses) SetWorldMatrix(w WorldMatrix) error {
	if err := w.validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.world = w
	return nil
}

// OnCameraPoseEvent applies a camera-pose event payload.
func (p *Poses) OnCameraPoseEvent(raw json.RawMessage) error {
	var msg struct {
		CameraPoses []CameraPose `json:"camera_poses"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode camera-pose: %w", err)
	}
	if err := p.SetCameraPoses(msg.CameraPoses); err != nil {
		return fmt.Errorf("camera-pose: %w", err)
	}
	logger.Info("camera poses updated", "cameras", len(msg.CameraPoses))
	return nil
}

// OnWorldMatrixEvent applies a to-world-coords-matrix event payload.
func (p *Poses) OnWorldMatrixEvent(raw json.RawMessage) error {
	var msg struct {
		Matrix *WorldMatrix `json:"to_world_coords_matrix"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode to-world-coords-matrix: %w", err)
	}
	if msg.Matrix == nil {
		return fmt.Errorf("to-world-coords-matrix: missing matrix")
	}
	if err := p.SetWorldMatrix(*msg.Matrix); err != nil {
		return fmt.Errorf("to-world-coords-matrix: %w", err)
	}
	logger.Info("world matrix updated")
	return nil
}
