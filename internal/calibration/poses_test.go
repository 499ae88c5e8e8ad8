package calibration

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVec3_Unmarshal(t *testing.T) {
	var v Vec3
	require.NoError(t, json.Unmarshal([]byte(`[1,2,3]`), &v))
	assert.Equal(t, Vec3{1, 2, 3}, v)

	require.NoError(t, json.Unmarshal([]byte(`[[4],[5],[6]]`), &v))
	assert.Equal(t, Vec3{4, 5, 6}, v)

	assert.Error(t, json.Unmarshal([]byte(`[[1],[2]]`), &v))
	assert.Error(t, json.Unmarshal([]byte(`[[1,2],[3],[4]]`), &v))
	assert.Error(t, json.Unmarshal([]byte(`"x"`), &v))

	b, err := json.Marshal(Vec3{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, `[1,2,3]`, string(b))
}

func TestPoses_Defaults(t *testing.T) {
	p := NewPoses()
	assert.Len(t, p.CameraPoses(), 2)
	assert.Equal(t, 1.0, p.WorldMatrix()[3][3])
	for i, c := range DefaultCameraPoses() {
		assert.NoError(t, c.validate(), "default pose %d", i)
	}
	assert.NoError(t, DefaultWorldMatrix().validate())
}

func TestPoses_OnCameraPoseEvent(t *testing.T) {
	p := NewPoses()
	raw := json.RawMessage(`{"error": null, "camera_poses": [
		{"R": [[1,0,0],[0,1,0],[0,0,1]], "t": [[0],[0],[0]]},
		{"R": [[0,-1,0],[1,0,0],[0,0,1]], "t": [0.5, 0, 0]},
		{"R": [[1,0,0],[0,1,0],[0,0,1]], "t": [1, 1, 1]}
	]}`)
	require.NoError(t, p.OnCameraPoseEvent(raw))
	poses := p.CameraPoses()
	require.Len(t, poses, 3)
	assert.Equal(t, Vec3{0.5, 0, 0}, poses[1].T)

	// Returned slices are copies.
	poses[0].T = Vec3{9, 9, 9}
	assert.Equal(t, Vec3{}, p.CameraPoses()[0].T)
}

func TestPoses_RejectsInvalid(t *testing.T) {
	p := NewPoses()
	tests := []string{
		`{"camera_poses": []}`,
		`{"camera_poses": [{"R": [[2,0,0],[0,1,0],[0,0,1]], "t": [0,0,0]}]}`,
		`{"camera_poses": "nope"}`,
		`not json`,
	}
	for _, raw := range tests {
		assert.Error(t, p.OnCameraPoseEvent(json.RawMessage(raw)), raw)
	}
	assert.Equal(t, DefaultCameraPoses(), p.CameraPoses(), "rejected updates leave the estimate alone")
}

func TestPoses_OnWorldMatrixEvent(t *testing.T) {
	p := NewPoses()
	require.NoError(t, p.OnWorldMatrixEvent(json.RawMessage(
		`{"to_world_coords_matrix": [[1,0,0,1],[0,1,0,2],[0,0,1,3],[0,0,0,1]]}`)))
	assert.Equal(t, 3.0, p.WorldMatrix()[2][3])

	assert.Error(t, p.OnWorldMatrixEvent(json.RawMessage(`{}`)))
	assert.Error(t, p.OnWorldMatrixEvent(json.RawMessage(`{"to_world_coords_matrix": [[0,0,0,0],[0,0,0,0],[0,0,0,0],[0,0,0,0]]}`)))
	assert.Equal(t, 3.0, p.WorldMatrix()[2][3])
}
