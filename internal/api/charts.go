package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/meridian-robotics/areatrack/internal/httputil"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// AttachAdminRoutes mounts the journal-backed debug charts under /debug.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("progress-chart", "Save progress timeline for a session", s.handleProgressChart)
	debug.HandleFunc("pose-rate-chart", "Journaled pose rate per second", s.handlePoseRateChart)
}

// handleProgressChart renders the journaled save-progress samples of one
// session as an HTML scatter timeline. Query params:
//   - session (optional; defaults to the current session)
func (s *Server) handleProgressChart(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		httputil.ServiceUnavailable(w, "journal not enabled")
		return
	}
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = s.sessionID
	}

	rows, err := s.journal.ProgressHistory(sessionID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to read progress history: %v", err))
		return
	}
	if len(rows) == 0 {
		httputil.NotFound(w, "no progress samples for session")
		return
	}

	start := rows[0].Timestamp
	maxElapsed := 0.0
	data := make([]opts.ScatterData, 0, len(rows))
	for _, row := range rows {
		elapsed := row.Timestamp.Sub(start).Seconds()
		if elapsed > maxElapsed {
			maxElapsed = elapsed
		}
		data = append(data, opts.ScatterData{Value: []interface{}{elapsed, row.Percent}})
	}

	// Add a small padding so points at the edges are visible
	pad := maxElapsed * 1.05
	if pad == 0 {
		pad = 1.0
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Save Progress", Theme: "dark", Width: "900px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Area Description Save Progress", Subtitle: fmt.Sprintf("session=%s samples=%d", sessionID, len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: pad, Name: "elapsed (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 105, Name: "percent", NameLocation: "middle", NameGap: 30}),
	)

	scatter.AddSeries("progress", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handlePoseRateChart renders per-second journaled pose counts for one
// session as an HTML bar chart. Query params:
//   - session (optional; defaults to the current session)
func (s *Server) handlePoseRateChart(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		httputil.ServiceUnavailable(w, "journal not enabled")
		return
	}
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = s.sessionID
	}

	buckets, err := s.journal.PoseCounts(sessionID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to read pose counts: %v", err))
		return
	}
	if len(buckets) == 0 {
		httputil.NotFound(w, "no pose samples for session")
		return
	}

	x := make([]string, 0, len(buckets))
	y := make([]opts.BarData, 0, len(buckets))
	for _, b := range buckets {
		label := b.Bucket
		// A session fits inside a day; the date part is noise on the axis.
		if len(label) == 19 {
			label = label[11:]
		}
		x = append(x, label)
		y = append(y, opts.BarData{Value: b.Count})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Journaled Pose Rate", Subtitle: fmt.Sprintf("session=%s seconds=%d", sessionID, len(buckets))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("poses/s", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
