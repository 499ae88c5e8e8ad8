package calibration

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/weccap/internal/frame"
)

func TestRenderOverlay(t *testing.T) {
	points := []frame.CameraPoints{
		{frame.Pt(10, 20), frame.Pt(30, 40)},
		{frame.Pt(100, 120), frame.Hidden},
		{frame.Hidden, frame.Hidden},
	}
	var buf bytes.Buffer
	require.NoError(t, RenderOverlay(&buf, points, 2))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), img.Bounds().Dy(), "panels are laid out side by side")
}

func TestRenderOverlay_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderOverlay(&buf, nil, 0))
	_, err := png.Decode(&buf)
	require.NoError(t, err)
}
