package mode

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeOrdering(t *testing.T) {
	assert.True(t, CamerasFound < ImageProcessing)
	assert.True(t, ImageProcessing < PointCapture)
	assert.True(t, PointCapture < Triangulation)
	assert.Equal(t, "Triangulation", Triangulation.String())
	assert.Equal(t, "Mode(7)", Mode(7).String())
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   any
		want Mode
	}{
		{0, CamerasFound},
		{int64(3), Triangulation},
		{2.0, PointCapture},
		{"1", ImageProcessing},
		{" pointcapture ", PointCapture},
		{"Triangulation", Triangulation},
		{PointCapture, PointCapture},
		{json.RawMessage("3"), Triangulation},
		{json.RawMessage(`"ImageProcessing"`), ImageProcessing},
		{json.RawMessage(`{"mode": 2}`), PointCapture},
		{[]byte("1"), ImageProcessing},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		require.NoError(t, err, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}
}

func TestParseMode_Unknown(t *testing.T) {
	for _, in := range []any{
		-1, 4, 99, 1.5, "Recording", "", nil, true,
		json.RawMessage("null"), json.RawMessage(`{"state":1}`), json.RawMessage("{"),
		json.RawMessage(`{"mode":{"mode":1}}`),
	} {
		_, err := ParseMode(in)
		assert.True(t, errors.Is(err, ErrUnknownMode), "%v: %v", in, err)
	}
}

func TestMode_JSON(t *testing.T) {
	b, err := json.Marshal(PointCapture)
	require.NoError(t, err)
	assert.Equal(t, "2", string(b))

	var m Mode
	require.NoError(t, json.Unmarshal([]byte(`"triangulation"`), &m))
	assert.Equal(t, Triangulation, m)
	assert.Error(t, json.Unmarshal([]byte("9"), &m))
}

func TestAction_Bounds(t *testing.T) {
	tests := []struct {
		action Action
		want   [4]bool // enabled in CamerasFound..Triangulation
	}{
		{ToggleImageProcessing, [4]bool{true, true, false, false}},
		{TogglePointCapture, [4]bool{false, true, true, false}},
		{ToggleTriangulation, [4]bool{false, false, true, true}},
		{CaptureFrame, [4]bool{true, false, false, false}},
		{ArmPose, [4]bool{false, false, true, true}},
		{ArmScale, [4]bool{false, false, false, true}},
		{Action(42), [4]bool{}},
	}
	for _, tt := range tests {
		for m := CamerasFound; m <= Triangulation; m++ {
			assert.Equal(t, tt.want[m], tt.action.EnabledIn(m), "%s in %s", tt.action, m)
		}
	}
}

func TestAction_ToggleTarget(t *testing.T) {
	tests := []struct {
		action Action
		from   Mode
		want   Mode
	}{
		{ToggleImageProcessing, CamerasFound, ImageProcessing},
		{ToggleImageProcessing, ImageProcessing, CamerasFound},
		{TogglePointCapture, ImageProcessing, PointCapture},
		{TogglePointCapture, PointCapture, ImageProcessing},
		{ToggleTriangulation, PointCapture, Triangulation},
		{ToggleTriangulation, Triangulation, PointCapture},
	}
	for _, tt := range tests {
		got, ok := tt.action.ToggleTarget(tt.from)
		assert.True(t, ok)
		assert.Equal(t, tt.want, got, "%s from %s", tt.action, tt.from)
	}
	_, ok := CaptureFrame.ToggleTarget(CamerasFound)
	assert.False(t, ok)
}
