// Package display turns the shared slot into a picture once per tick.
package display

import (
	"fmt"
	"strings"
	"time"

	"github.com/star/heartbeat/internal/frame"
	"github.com/star/heartbeat/internal/metrics"
	"github.com/star/heartbeat/internal/render"
)

// Raw samples are centred on CenterOffset and span FullScale either side.
const (
	CenterOffset = 512
	FullScale    = 512
)

// Window is the displayed time span.
var Window = render.Window{Min: 0, Max: 0.1}

const (
	titleSize  = 20
	statusSize = 13
	margin     = 12
)

// Display draws the current slot contents.
type Display struct {
	store  *frame.Store
	window render.Window
}

// New creates a Display reading from store.
func New(store *frame.Store) *Display {
	return &Display{store: store, window: Window}
}

// Center maps raw samples to roughly [-1, 1].
func Center(data []int16) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = (float64(v) - CenterOffset) / FullScale
	}
	return out
}

// Compose builds the series drawn for a result.
func Compose(r *frame.Result) []render.Series {
	return []render.Series{
		{Label: "EKG", Values: Center(r.Frame.Data), Color: render.Red},
		{Label: "Correlation", Values: r.Correlation, Color: render.Blue},
	}
}

// Layout returns the chart rectangle for a surface of the given size.
func Layout(width, height int) (origin, size render.Point) {
	return render.Point{X: 0, Y: height / 5}, render.Point{X: width, Y: 3 * height / 5}
}

// Draw renders one tick onto s and reports whether a result was shown.
// The slot is read exactly once.
func (d *Display) Draw(s render.Surface) bool {
	start := time.Now()
	defer func() { metrics.ObserveRenderDuration(time.Since(start)) }()

	r := d.store.Get()
	if r == nil || r.Frame == nil {
		render.DrawNoData(s)
		metrics.IncRenderTicks("no_data")
		return false
	}

	w, h := s.Size()
	s.Clear(render.White)
	s.Text("Heartbeat", margin, margin, titleSize, render.Black)
	s.Text(StatusLine(r), margin, margin+titleSize+4, statusSize, render.Gray)

	origin, size := Layout(w, h)
	render.DrawChart(s, Compose(r), r.Frame.SampleRate, d.window, origin, size)
	metrics.IncRenderTicks("chart")
	return true
}

// RenderPNG draws one tick onto a fresh raster and encodes it.
func (d *Display) RenderPNG(width, height int) ([]byte, bool, error) {
	r := render.NewRaster(width, height)
	shown := d.Draw(r)
	data, err := r.EncodePNG()
	if err != nil {
		return nil, shown, err
	}
	return data, shown, nil
}

// StatusLine summarises a result in one line.
func StatusLine(r *frame.Result) string {
	f := r.Frame
	parts := make([]string, 0, 6)
	if r.NodeID != "" {
		parts = append(parts, "node "+r.NodeID)
	}
	parts = append(parts,
		fmt.Sprintf("%g Hz", f.SampleRate),
		fmt.Sprintf("%d samples", len(f.Data)),
	)
	if f.Metadata.HasGPSFix {
		parts = append(parts, fmt.Sprintf("GPS fix (%d sats)", f.Fix))
	} else {
		parts = append(parts, "no GPS fix")
	}
	if f.Metadata.IsClipping {
		parts = append(parts, "CLIPPING")
	}
	if f.Timestamp != nil {
		parts = append(parts, fmt.Sprintf("t=%d", *f.Timestamp))
	} else {
		parts = append(parts, "no clock")
	}
	return strings.Join(parts, " | ")
}
