package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/vaclab-data/pressure.report/internal/db"
	"github.com/vaclab-data/pressure.report/internal/httputil"
)

// chartSampleLimit caps how many samples a chart pulls from the store.
const chartSampleLimit = 2000

// chartSamples fetches the samples for a chart, oldest first.
func (s *Server) chartSamples(r *http.Request) ([]db.Sample, error) {
	limit, err := parseLimit(r, "limit")
	if err != nil {
		return nil, err
	}
	if limit == 0 || limit > chartSampleLimit {
		limit = chartSampleLimit
	}

	samples, err := s.store.RecentSamples(r.URL.Query().Get("run"), limit)
	if err != nil {
		return nil, err
	}
	// RecentSamples returns newest first; charts read left to right.
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	return samples, nil
}

// pressureChart serves GET /charts/pressure: an HTML line chart of pressure
// over time on a log axis, since vacuum data spans decades.
func (s *Server) pressureChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	samples, err := s.chartSamples(r)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load samples: %v", err))
		return
	}

	xs := make([]string, len(samples))
	points := make([]opts.LineData, len(samples))
	unit := ""
	for i, sm := range samples {
		xs[i] = sm.RecordedAt.Format(time.RFC3339)
		points[i] = opts.LineData{Value: sm.Pressure}
		unit = sm.Unit
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Pressure", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Pressure", Subtitle: fmt.Sprintf("samples=%d unit=%s", len(samples), unit)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Type: "log", Name: fmt.Sprintf("pressure (%s)", unit)}),
	)
	line.SetXAxis(xs).AddSeries("pressure", points,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))

	renderChart(w, line)
}

// temperatureChart serves GET /charts/temperature.
func (s *Server) temperatureChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	samples, err := s.chartSamples(r)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load samples: %v", err))
		return
	}

	xs := make([]string, len(samples))
	points := make([]opts.LineData, len(samples))
	for i, sm := range samples {
		xs[i] = sm.RecordedAt.Format(time.RFC3339)
		points[i] = opts.LineData{Value: sm.Temperature}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Temperature", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Temperature", Subtitle: fmt.Sprintf("samples=%d", len(samples))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "temperature (°C)"}),
	)
	line.SetXAxis(xs).AddSeries("temperature", points,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))

	renderChart(w, line)
}

func renderChart(w http.ResponseWriter, line *charts.Line) {
	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
