package render

import (
	"image/color"
)

// Series is one named waveform. Values are expected in roughly [-1, 1].
type Series struct {
	Label  string
	Values []float64
	Color  color.RGBA
}

// Window is the displayed time span [Min, Max) in seconds. Either bound may
// be negative to place the span relative to an anchor.
type Window struct {
	Min, Max float64
}

// TimeAt returns the time shown at pixel column px of a chart width pixels wide.
func (w Window) TimeAt(px, width int) float64 {
	return w.Min + float64(px)*(w.Max-w.Min)/float64(width)
}

// IndexAt returns the series index shown at pixel column px. The conversion
// truncates toward zero.
func (w Window) IndexAt(px, width int, sampleRate float64) int {
	return int(w.TimeAt(px, width) * sampleRate)
}

// ValueToY maps a value to a pixel row: 0 at the vertical centre, +1 at the
// bottom edge and -1 at the top edge.
func ValueToY(v float64, origin, size Point) int {
	half := float64(size.Y) / 2
	return int(float64(origin.Y) + half + v*half)
}

// Polyline samples values once per pixel column across the window. Columns
// that fall before the first sample are left empty; the first column past the
// last sample ends the line. A window starting before zero is read relative
// to the series anchor, so the line starts at the column for t=0.
func Polyline(values []float64, sampleRate float64, win Window, origin, size Point) []Point {
	if size.X <= 0 {
		return nil
	}
	pts := make([]Point, 0, min(size.X, len(values)))
	for px := 0; px < size.X; px++ {
		idx := win.IndexAt(px, size.X, sampleRate)
		if idx < 0 {
			continue
		}
		if idx >= len(values) {
			break
		}
		pts = append(pts, Point{X: origin.X + px, Y: ValueToY(values[idx], origin, size)})
	}
	return pts
}

const (
	guideThickness = 2
	axisLabelSize  = 20
	axisLabelPad   = 4
	legendSize     = 13
	legendPad      = 4
	legendMargin   = 8
	legendGap      = 2
)

// DrawChart draws the chart furniture and every series into the rectangle at
// origin with the given size. Nothing is carried between calls.
func DrawChart(s Surface, series []Series, sampleRate float64, win Window, origin, size Point) {
	s.FillRect(origin.X, origin.Y, size.X, size.Y, LightGray)

	top := origin.Y
	center := origin.Y + size.Y/2
	bottom := origin.Y + size.Y
	for _, y := range []int{top, center, bottom} {
		s.FillRect(origin.X, y, size.X, guideThickness, Gray)
	}

	for _, sr := range series {
		drawPolyline(s, Polyline(sr.Values, sampleRate, win, origin, size), sr.Color)
	}

	right := origin.X + size.X
	for _, l := range []struct {
		text string
		y    int
	}{
		{"-1", top},
		{"0", center},
		{"+1", bottom},
	} {
		x := right - s.MeasureText(l.text, axisLabelSize) - axisLabelPad
		s.Text(l.text, x, l.y-axisLabelSize/2, axisLabelSize, Black)
	}

	drawLegend(s, series, Point{X: origin.X + legendMargin, Y: origin.Y + legendMargin})
}

func drawPolyline(s Surface, pts []Point, c color.RGBA) {
	if len(pts) == 0 {
		return
	}
	last := pts[0]
	for _, p := range pts {
		s.Line(last.X, last.Y, p.X, p.Y, c)
		last = p
	}
}

// drawLegend stacks one entry per series: a colour swatch followed by the
// label, on a background sized to the text.
func drawLegend(s Surface, series []Series, at Point) {
	y := at.Y
	for _, sr := range series {
		textW := s.MeasureText(sr.Label, legendSize)
		h := legendSize + 2*legendPad
		w := legendPad + legendSize + legendPad + textW + legendPad

		s.FillRect(at.X, y, w, h, White)
		s.FillRect(at.X+legendPad, y+legendPad, legendSize, legendSize, sr.Color)
		s.Text(sr.Label, at.X+2*legendPad+legendSize, y+legendPad, legendSize, Black)

		y += h + legendGap
	}
}

// DrawNoData fills the surface with the "no data" state.
func DrawNoData(s Surface) {
	_, h := s.Size()
	size := max(20, min(100, h/5))
	s.Clear(White)
	s.Text("NO DATA", 12, 12, size, Red)
}
