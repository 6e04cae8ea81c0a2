package chart

import (
	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

type timelineBar struct {
	from, to float64 // minutes since midnight
	row      float64
	color    drawing.Color
}

// timelineSeries draws horizontal bars; go-chart has no gantt series.
type timelineSeries struct {
	name  string
	color drawing.Color
	bars  []timelineBar
}

func (s timelineSeries) GetName() string { return s.name }
func (s timelineSeries) GetYAxis() gochart.YAxisType { return gochart.YAxisPrimary }
func (s timelineSeries) Validate() error { return nil }
func (s timelineSeries) GetStyle() gochart.Style {
	return gochart.Style{StrokeColor: s.color, StrokeWidth: 4, FillColor: s.color}
}

func (s timelineSeries) Render(r gochart.Renderer, box gochart.Box, xr, yr gochart.Range, _ gochart.Style) {
	for _, b := range s.bars {
		x0 := box.Left + xr.Translate(b.from)
		x1 := max(box.Left+xr.Translate(b.to), x0+2)
		bar := gochart.Box{
			Top:    box.Bottom - yr.Translate(b.row+0.3),
			Bottom: box.Bottom - yr.Translate(b.row-0.3),
			Left:   x0,
			Right:  x1,
		}
		gochart.Draw.Box(r, bar, gochart.Style{FillColor: b.color, StrokeColor: b.color, StrokeWidth: 1})
	}
}

// barSeries draws vertical bars centred on each x value; it shares the
// continuous axes with line series.
type barSeries struct {
	name   string
	xs, ys []float64
	color  drawing.Color
}

func (s barSeries) GetName() string { return s.name }
func (s barSeries) GetYAxis() gochart.YAxisType { return gochart.YAxisPrimary }
func (s barSeries) Validate() error { return nil }
func (s barSeries) GetStyle() gochart.Style {
	return gochart.Style{StrokeColor: s.color, StrokeWidth: 4, FillColor: s.color}
}

func (s barSeries) Render(r gochart.Renderer, box gochart.Box, xr, yr gochart.Range, _ gochart.Style) {
	for i, x := range s.xs {
		if i >= len(s.ys) || s.ys[i] <= 0 {
			continue
		}
		bar := gochart.Box{
			Top:    box.Bottom - yr.Translate(s.ys[i]),
			Bottom: box.Bottom - yr.Translate(0),
			Left:   box.Left + xr.Translate(x-0.2),
			Right:  box.Left + xr.Translate(x+0.2),
		}
		gochart.Draw.Box(r, bar, gochart.Style{FillColor: s.color, StrokeColor: s.color, StrokeWidth: 1})
	}
}
