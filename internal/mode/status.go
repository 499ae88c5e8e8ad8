package mode

import (
	"encoding/json"
	"fmt"
)

// Status is the authoritative session state returned by the backend status
// endpoint.
type Status struct {
	Mode            Mode
	LocatingObjects bool
}

type wireStatus struct {
	Mode                  json.RawMessage `json:"mode"`
	IsCapturingPoints     bool            `json:"is_capturing_points"`
	IsTriangulatingPoints bool            `json:"is_triangulating_points"`
	IsLocatingObjects     bool            `json:"is_locating_objects"`
}

// DecodeStatus parses a status endpoint reply. A "mode" field wins when
// present; otherwise the legacy capture flags are mapped onto a mode. An
// unrecognized mode value is reported as an error alongside CamerasFound.
func DecodeStatus(body []byte) (Status, error) {
	var w wireStatus
	if err := json.Unmarshal(body, &w); err != nil {
		return Status{}, fmt.Errorf("decode status: %w", err)
	}

	st := Status{LocatingObjects: w.IsLocatingObjects}
	switch {
	case w.Mode != nil:
		m, err := ParseMode(w.Mode)
		if err != nil {
			return Status{Mode: CamerasFound, LocatingObjects: w.IsLocatingObjects}, fmt.Errorf("decode status: %w", err)
		}
		st.Mode = m
	case w.IsTriangulatingPoints:
		st.Mode = Triangulation
	case w.IsCapturingPoints:
		st.Mode = PointCapture
	default:
		st.Mode = CamerasFound
	}
	return st, nil
}
