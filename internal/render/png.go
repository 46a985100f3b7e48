package render

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/ultrasonic.radar/internal/sensor"
)

// PNGSize is the edge length of the square PNG chart.
const PNGSize = 6 * vg.Inch

var (
	sweepColour   = color.RGBA{G: 160, A: 255}
	currentColour = color.RGBA{R: 50, G: 255, B: 50, A: 255}
	rangeColour   = color.Gray{Y: 180}
)

// PNG draws snap with gonum/plot and returns it ready to be written as a PNG.
func PNG(snap sensor.Snapshot, o Options) (io.WriterTo, error) {
	o = o.withDefaults()

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Ultrasonic Radar: %s", Classify(snap.Current.Distance, o.WarningDistance).Message)
	p.X.Label.Text = "X (cm)"
	p.Y.Label.Text = "Y (cm)"
	p.Add(plotter.NewGrid())

	rings, err := rangeRings(o)
	if err != nil {
		return nil, err
	}
	p.Add(rings...)

	pts := make(plotter.XYs, 0, len(snap.Angles))
	for i, a := range snap.Angles {
		if snap.Distances[i] < 0 {
			continue
		}
		x, y := Project(a, snap.Distances[i])
		pts = append(pts, plotter.XY{X: x, Y: y})
	}
	if len(pts) > 0 {
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("sweep scatter: %w", err)
		}
		sc.GlyphStyle.Color = sweepColour
		sc.GlyphStyle.Radius = vg.Points(1.5)
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(sc)
	}

	if snap.Samples > 0 && snap.Current.Distance >= 0 {
		x, y := Project(snap.Current.Angle, snap.Current.Distance)
		cur, err := plotter.NewScatter(plotter.XYs{{X: x, Y: y}})
		if err != nil {
			return nil, fmt.Errorf("current scatter: %w", err)
		}
		cur.GlyphStyle.Color = currentColour
		cur.GlyphStyle.Radius = vg.Points(4)
		cur.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(cur)

		labels, err := plotter.NewLabels(plotter.XYLabels{
			XYs:    []plotter.XY{{X: x, Y: y}},
			Labels: []string{CurrentLabel(snap.Current)},
		})
		if err != nil {
			return nil, fmt.Errorf("current label: %w", err)
		}
		p.Add(labels)
	}

	xMin, xMax, yMin, yMax := axisBounds(o)
	p.X.Min, p.X.Max = xMin, xMax
	p.Y.Min, p.Y.Max = yMin, yMax

	wt, err := p.WriterTo(PNGSize, PNGSize, "png")
	if err != nil {
		return nil, fmt.Errorf("render png: %w", err)
	}
	return wt, nil
}

// rangeRings draws arcs at the warning distance and the full range.
func rangeRings(o Options) ([]plot.Plotter, error) {
	var out []plot.Plotter
	for _, r := range []float64{o.WarningDistance, o.DistanceRange} {
		if r > o.DistanceRange {
			continue
		}
		const steps = 60
		pts := make(plotter.XYs, 0, steps+1)
		for i := 0; i <= steps; i++ {
			a := o.ArcMin + (o.ArcMax-o.ArcMin)*float64(i)/steps
			x, y := Project(a, r)
			pts = append(pts, plotter.XY{X: x, Y: y})
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("range ring %.0f: %w", r, err)
		}
		line.Color = rangeColour
		line.Width = vg.Points(0.5)
		line.Dashes = []vg.Length{vg.Points(3), vg.Points(3)}
		out = append(out, line)
	}
	return out, nil
}
