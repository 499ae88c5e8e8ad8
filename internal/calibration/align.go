package calibration

import (
	"fmt"

	"github.com/banshee-data/weccap/internal/eventchannel"
)

type floorRequest struct {
	ObjectPoints        [][][3]float64 `json:"objectPoints"`
	ToWorldCoordsMatrix WorldMatrix    `json:"toWorldCoordsMatrix"`
}

type originRequest struct {
	ObjectPoint         [3]float64  `json:"objectPoint"`
	ToWorldCoordsMatrix WorldMatrix `json:"toWorldCoordsMatrix"`
}

// AcquireFloor asks the backend to level the world transform on the given
// accumulated object points, which should lie on the floor.
func AcquireFloor(e eventchannel.Emitter, poses *Poses, objectPoints [][][3]float64) error {
	resolved := make([][][3]float64, 0, len(objectPoints))
	for _, pts := range objectPoints {
		if len(pts) > 0 {
			resolved = append(resolved, pts)
		}
	}
	if len(resolved) == 0 {
		return ErrEmptyPointSet
	}
	req := floorRequest{ObjectPoints: resolved, ToWorldCoordsMatrix: poses.WorldMatrix()}
	if err := e.Emit(eventchannel.EmitAcquireFloor, req); err != nil {
		return fmt.Errorf("acquire floor: %w", err)
	}
	logger.Info("requested floor alignment", "frames", len(resolved))
	return nil
}

// SetOrigin asks the backend to move the world origin to the first resolved
// object point.
func SetOrigin(e eventchannel.Emitter, poses *Poses, objectPoints [][][3]float64) error {
	for _, pts := range objectPoints {
		if len(pts) == 0 {
			continue
		}
		req := originRequest{ObjectPoint: pts[0], ToWorldCoordsMatrix: poses.WorldMatrix()}
		if err := e.Emit(eventchannel.EmitSetOrigin, req); err != nil {
			return fmt.Errorf("set origin: %w", err)
		}
		logger.Info("requested origin", "point", pts[0])
		return nil
	}
	return ErrEmptyPointSet
}
