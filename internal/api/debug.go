package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/weccap/internal/accumulator"
)

// maxChartPoints caps the scatter size; longer streams are strided.
const maxChartPoints = 5000

// AttachAdminRoutes mounts the debug charts under /debug/.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("errors", "reprojection error per frame", s.handleErrorChart)
}

// errorSeries returns (seconds since first frame, mean frame error) pairs
// for every frame with at least one finite error.
func errorSeries(snap accumulator.Stream) []opts.ScatterData {
	n := snap.Len()
	if n == 0 {
		return nil
	}
	stride := max(1, n/maxChartPoints)
	t0 := snap.Times[0]

	data := make([]opts.ScatterData, 0, n/stride+1)
	for i := 0; i < n; i += stride {
		var sum float64
		var count int
		for _, e := range snap.Errors[i] {
			if math.IsNaN(e) || math.IsInf(e, 0) {
				continue
			}
			sum += e
			count++
		}
		if count == 0 {
			continue
		}
		secs := (snap.Times[i] - t0) / 1000
		data = append(data, opts.ScatterData{Value: []interface{}{secs, sum / float64(count)}})
	}
	return data
}

func (s *Server) handleErrorChart(w http.ResponseWriter, r *http.Request) {
	snap := s.console.Accumulator().Snapshot()
	data := errorSeries(snap)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Reprojection error", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Reprojection error", Subtitle: fmt.Sprintf("frames=%d plotted=%d", snap.Len(), len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25, Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "mean error (px)", NameLocation: "middle", NameGap: 40}),
	)
	scatter.AddSeries("error", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("failed to render chart: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
