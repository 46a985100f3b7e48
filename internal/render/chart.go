package render

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/ultrasonic.radar/internal/sensor"
	"github.com/banshee-data/ultrasonic.radar/internal/sweep"
)

const (
	DefaultDistanceRange = 50.0
	defaultAssetsHost    = "https://go-echarts.github.io/go-echarts-assets/assets/"
)

// Options controls chart geometry. Zero values take the defaults of a 0-90
// degree arc, a 50 cm radial range and a 30 cm warning distance.
type Options struct {
	ArcMin          float64
	ArcMax          float64
	DistanceRange   float64
	WarningDistance float64
	// AssetsHost is where the echarts page loads its JavaScript from.
	AssetsHost string
}

func (o Options) withDefaults() Options {
	if o.ArcMax <= o.ArcMin {
		o.ArcMin, o.ArcMax = 0, 90
	}
	if o.DistanceRange <= 0 {
		o.DistanceRange = DefaultDistanceRange
	}
	if o.WarningDistance <= 0 {
		o.WarningDistance = DefaultWarningDistance
	}
	if o.AssetsHost == "" {
		o.AssetsHost = defaultAssetsHost
	}
	return o
}

// Project converts a polar reading (degrees, cm) to cartesian coordinates with
// 0 degrees along +X.
func Project(angle, distance float64) (x, y float64) {
	rad := angle * math.Pi / 180
	return distance * math.Cos(rad), distance * math.Sin(rad)
}

// CurrentLabel is the caption drawn next to the most recent reading.
func CurrentLabel(r sweep.Reading) string {
	return fmt.Sprintf("Angle: %s, Distance: %.2f cm", strconv.FormatFloat(r.Angle, 'f', -1, 64), r.Distance)
}

// axisBounds returns the X and Y extents covering the arc out to the range.
func axisBounds(o Options) (xMin, xMax, yMin, yMax float64) {
	xMin, xMax, yMin, yMax = 0, 0, 0, 0
	for _, a := range arcSamples(o.ArcMin, o.ArcMax) {
		x, y := Project(a, o.DistanceRange)
		xMin, xMax = min(xMin, x), max(xMax, x)
		yMin, yMax = min(yMin, y), max(yMax, y)
	}
	return xMin, xMax, yMin, yMax
}

// arcSamples returns the arc endpoints plus every axis crossing between them.
func arcSamples(lo, hi float64) []float64 {
	out := []float64{lo, hi}
	for a := math.Ceil(lo/90) * 90; a < hi; a += 90 {
		out = append(out, a)
	}
	return out
}

// Chart renders snap as a standalone go-echarts HTML page. Readings with a
// negative distance are omitted; the current reading is highlighted and
// labelled only when it is in range.
func Chart(w io.Writer, snap sensor.Snapshot, o Options) error {
	o = o.withDefaults()

	sweepData := make([]opts.ScatterData, 0, len(snap.Angles))
	for i, a := range snap.Angles {
		d := snap.Distances[i]
		if d < 0 {
			continue
		}
		x, y := Project(a, d)
		sweepData = append(sweepData, opts.ScatterData{Value: []interface{}{x, y}})
	}

	xMin, xMax, yMin, yMax := axisBounds(o)
	alert := Classify(snap.Current.Distance, o.WarningDistance)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Ultrasonic Radar", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: o.AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Ultrasonic Radar", Subtitle: fmt.Sprintf("%s | points=%d samples=%d", alert.Message, len(sweepData), snap.Samples)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithXAxisOpts(opts.XAxis{Min: xMin, Max: xMax, Name: "X (cm)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: yMin, Max: yMax, Name: "Y (cm)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("sweep", sweepData,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "green"}),
	)

	if snap.Current.Distance >= 0 && snap.Samples > 0 {
		x, y := Project(snap.Current.Angle, snap.Current.Distance)
		label := CurrentLabel(snap.Current)
		scatter.AddSeries("current", []opts.ScatterData{{Name: label, Value: []interface{}{x, y}}},
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: "lime"}),
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top", Formatter: "{b}"}),
		)
	}

	return scatter.Render(w)
}
