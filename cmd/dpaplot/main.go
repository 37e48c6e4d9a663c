// Command dpaplot renders the artifacts of a finished dpa run as an HTML
// page: interval-maxima convergence, final key ranking and differential
// traces for the leading hypotheses.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/golang/glog"
	"gonum.org/v1/gonum/mat"

	"dpa-engine/report"
)

// lineItems maps NaN to an empty point so the page still encodes.
func lineItems(vals []float64) []opts.LineData {
	out := make([]opts.LineData, len(vals))
	for i, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = opts.LineData{Value: "-"}
			continue
		}
		out[i] = opts.LineData{Value: v}
	}
	return out
}

func hypName(h int) string { return fmt.Sprintf("0x%02x", h) }

// highlighted returns the top n hypotheses of the ranking plus extra if it
// is not already among them.
func highlighted(rank []report.Candidate, n, extra int) []int {
	var out []int
	for i := 0; i < n && i < len(rank); i++ {
		out = append(out, rank[i].Hypothesis)
	}
	if extra < 0 {
		return out
	}
	for _, h := range out {
		if h == extra {
			return out
		}
	}
	return append(out, extra)
}

func newConvergenceChart(iv *report.Intervals, hs []int) *charts.Line {
	x := make([]string, len(iv.Traces))
	for i, n := range iv.Traces {
		x[i] = strconv.Itoa(n)
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Interval maxima", Subtitle: "max differential per hypothesis vs traces processed"}),
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "DPA", Width: "1200px", Height: "600px"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "traces"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "max |Δmean|", Type: "value"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}, opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(x)
	for _, h := range hs {
		line.AddSeries(hypName(h), lineItems(mat.Col(nil, h, iv.Maxes)))
	}
	return line
}

func newRankingChart(last []float64) *charts.Bar {
	x := make([]string, len(last))
	items := make([]opts.BarData, len(last))
	for h, v := range last {
		x[h] = hypName(h)
		items[h] = opts.BarData{Value: v}
	}
	title := "Final interval maxima"
	if c, ok := report.Confidence(last); ok {
		title = fmt.Sprintf("%s (confidence %.3f)", title, c)
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "DPA", Width: "1200px", Height: "500px"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}, opts.DataZoom{Type: "slider"}),
	)
	bar.SetXAxis(x).
		AddSeries("max", items).
		SetSeriesOptions(charts.WithLabelOpts(opts.Label{Show: opts.Bool(false)}))
	return bar
}

func newDifferentialChart(d *report.Differentials, hs []int) *charts.Line {
	x := make([]string, len(d.Times))
	for i, t := range d.Times {
		x[i] = strconv.FormatUint(uint64(t), 10)
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Final differentials", Subtitle: "|mean(group 0) - mean(group 1)| per sample time"}),
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "DPA", Width: "1200px", Height: "600px"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "sample time"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}, opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(x)
	for _, h := range hs {
		line.AddSeries(hypName(h), lineItems(mat.Col(nil, h, d.Diffs)))
	}
	return line
}

func main() {
	manifestPath := flag.String("manifest", "", "manifest JSON written by dpa")
	outPath := flag.String("out", "", "output HTML (default: next to the manifest)")
	top := flag.Int("top", 5, "hypotheses to highlight")
	key := flag.Int("key", -1, "known key byte to highlight as well (-1 = none)")
	flag.Parse()
	defer glog.Flush()

	if *manifestPath == "" {
		glog.Exitf("[dpaplot] -manifest is required")
	}
	m, err := report.LoadManifest(*manifestPath)
	if err != nil {
		glog.Exitf("[dpaplot] %v", err)
	}
	dir := filepath.Dir(*manifestPath)
	iv, err := report.ReadIntervalMaxima(filepath.Join(dir, m.Names.IntervalMaxima))
	if err != nil {
		glog.Exitf("[dpaplot] %v", err)
	}
	d, err := report.ReadDifferentials(filepath.Join(dir, m.Names.Differentials))
	if err != nil {
		glog.Exitf("[dpaplot] %v", err)
	}
	last := iv.Last()
	hs := highlighted(report.Rank(last), *top, *key)
	glog.Infof("[dpaplot] run %s: %d reports, %d sample times, highlighting %v", m.RunID, len(iv.Traces), len(d.Times), hs)

	page := components.NewPage()
	page.AddCharts(
		newConvergenceChart(iv, hs),
		newRankingChart(last),
		newDifferentialChart(d, hs),
	)

	if *outPath == "" {
		*outPath = filepath.Join(dir, fmt.Sprintf("dpa_byte%02d_%s.html", m.Params.TargetByte, m.RunID))
	}
	f, err := os.Create(*outPath)
	if err != nil {
		glog.Exitf("[dpaplot] create html: %v", err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		glog.Exitf("[dpaplot] render html: %v", err)
	}
	fmt.Println("Chart page:", *outPath)
}
