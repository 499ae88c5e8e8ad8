package calibration

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/weccap/internal/frame"
)

// Camera image size in pixels; one overlay panel per camera.
const (
	PanelWidth  = 320
	PanelHeight = 240
)

var visibilityColors = map[Visibility]color.RGBA{
	Complete:     {R: 0, G: 170, B: 0, A: 255},
	NearComplete: {R: 0, G: 90, B: 220, A: 255},
	Partial:      {R: 220, G: 0, B: 0, A: 255},
}

// RenderOverlay draws every captured sample onto one panel per camera and
// writes the result as PNG. Points are coloured by the visibility of their
// sample: green complete, blue near-complete, red partial.
func RenderOverlay(w io.Writer, points []frame.CameraPoints, numCams int) error {
	if numCams <= 0 {
		for _, p := range points {
			numCams = max(numCams, len(p))
		}
		numCams = max(numCams, 1)
	}

	panels := make([]*plot.Plot, numCams)
	for cam := range panels {
		p := plot.New()
		p.Title.Text = fmt.Sprintf("camera %d", cam)
		p.X.Min, p.X.Max = 0, PanelWidth
		p.Y.Min, p.Y.Max = 0, PanelHeight
		p.Y.Scale = plot.InvertedScale{Normalizer: plot.LinearScale{}}

		var xys plotter.XYs
		var colors []color.Color
		for _, sample := range points {
			if cam >= len(sample) || !sample[cam].Visible {
				continue
			}
			xys = append(xys, plotter.XY{X: sample[cam].X, Y: sample[cam].Y})
			colors = append(colors, visibilityColors[Classify(sample, numCams)])
		}
		if len(xys) > 0 {
			sc, err := plotter.NewScatter(xys)
			if err != nil {
				return fmt.Errorf("camera %d scatter: %w", cam, err)
			}
			sc.GlyphStyleFunc = func(i int) draw.GlyphStyle {
				return draw.GlyphStyle{Color: colors[i], Radius: vg.Points(3), Shape: draw.CircleGlyph{}}
			}
			p.Add(sc)
		}
		panels[cam] = p
	}

	img := vgimg.New(vg.Points(float64(PanelWidth*numCams)), vg.Points(PanelHeight+40))
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 1, Cols: numCams, PadX: vg.Points(4)}
	canvases := plot.Align([][]*plot.Plot{panels}, tiles, dc)
	for i, p := range panels {
		p.Draw(canvases[0][i])
	}

	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(w); err != nil {
		return fmt.Errorf("encode overlay png: %w", err)
	}
	return nil
}
