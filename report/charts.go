package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"navsim-go/sim"
)

// AssetsHost is where rendered pages load echarts from.
var AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// maxPoints caps the samples per series; longer episodes are strided.
const maxPoints = 2000

// ErrorChart renders per-tick filter error: position error, heading error
// and covariance trace, plus the running collision count.
func ErrorChart(title string, ticks []sim.Snapshot) *charts.Line {
	stride := 1
	if len(ticks) > maxPoints {
		stride = (len(ticks) + maxPoints - 1) / maxPoints
	}
	var (
		x       []int
		posErr  []opts.LineData
		headErr []opts.LineData
		trace   []opts.LineData
		hits    []opts.LineData
	)
	for i := 0; i < len(ticks); i += stride {
		s := ticks[i]
		x = append(x, s.Tick)
		posErr = append(posErr, opts.LineData{Value: s.PositionError()})
		headErr = append(headErr, opts.LineData{Value: s.HeadingError()})
		trace = append(trace, opts.LineData{Value: s.Estimate.Trace()})
		hits = append(hits, opts.LineData{Value: s.Collisions})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "480px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("ticks=%d stride=%d", len(ticks), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "tick"}),
	)
	line.SetXAxis(x).
		AddSeries("position error", posErr).
		AddSeries("heading error", headErr).
		AddSeries("covariance trace", trace).
		AddSeries("collisions", hits)
	return line
}

// ScoreChart renders the score and collisions of each episode in a batch.
func ScoreChart(title string, results []sim.Result) *charts.Bar {
	x := make([]string, len(results))
	scores := make([]opts.BarData, len(results))
	collisions := make([]opts.BarData, len(results))
	for i, r := range results {
		x[i] = fmt.Sprintf("#%d", i)
		scores[i] = opts.BarData{Name: r.EpisodeID, Value: r.Score}
		collisions[i] = opts.BarData{Name: r.EpisodeID, Value: r.Collisions}
	}
	sum := sim.Summarize(results)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "480px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("episodes=%d mean=%.3f std=%.3f min=%.3f max=%.3f",
			sum.Episodes, sum.MeanScore, sum.StdScore, sum.MinScore, sum.MaxScore)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
	)
	bar.SetXAxis(x).
		AddSeries("score", scores).
		AddSeries("collisions", collisions)
	return bar
}

// WritePage renders the given charts into one HTML page.
func WritePage(w io.Writer, cs ...components.Charter) error {
	page := components.NewPage()
	page.SetAssetsHost(AssetsHost)
	page.AddCharts(cs...)
	return page.Render(w)
}
