package display

import (
	"bytes"
	"context"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/star/heartbeat/internal/acquire"
	"github.com/star/heartbeat/internal/correlate"
	"github.com/star/heartbeat/internal/frame"
	"github.com/star/heartbeat/internal/render"
)

type line struct {
	x0, y0, x1, y1 int
	c              color.RGBA
}

// surface records lines and text; everything else is ignored.
type surface struct {
	width, height int
	lines         []line
	texts         []string
}

func (s *surface) Size() (int, int)                        { return s.width, s.height }
func (s *surface) Clear(color.RGBA)                        {}
func (s *surface) FillRect(int, int, int, int, color.RGBA) {}
func (s *surface) Line(x0, y0, x1, y1 int, c color.RGBA) {
	s.lines = append(s.lines, line{x0, y0, x1, y1, c})
}
func (s *surface) Text(str string, x, y, size int, c color.RGBA) { s.texts = append(s.texts, str) }
func (s *surface) MeasureText(str string, size int) int          { return len(str) * size / 2 }

func flatResult(t *testing.T, n int, value int16, rate float64) *frame.Result {
	t.Helper()
	data := make([]int16, n)
	for i := range data {
		data[i] = value
	}
	template := correlate.SynthesizeReference(rate, acquire.ReferenceFrequency, acquire.ReferenceDuration)
	raw, err := correlate.Correlate(correlate.FromInt16(data), template)
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	norm, err := correlate.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	return &frame.Result{
		NodeID:         "N1",
		Frame:          &frame.Frame{SampleRate: rate, Data: data},
		Correlation:    norm,
		TemplateLength: len(template),
	}
}

func TestCenter(t *testing.T) {
	got := Center([]int16{0, 512, 1024, 768})
	want := []float64{-1, 0, 1, 0.5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Center[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLayout(t *testing.T) {
	origin, size := Layout(1000, 600)
	if origin != (render.Point{X: 0, Y: 120}) {
		t.Errorf("origin = %+v, want {0 120}", origin)
	}
	if size != (render.Point{X: 1000, Y: 360}) {
		t.Errorf("size = %+v, want {1000 360}", size)
	}
}

// TestDrawFlatEKG draws 1800 samples of 512 at 20 kHz: every EKG segment
// must sit on the vertical centre of the chart.
func TestDrawFlatEKG(t *testing.T) {
	store := frame.NewStore()
	store.Set(flatResult(t, 1800, 512, 20000))
	s := &surface{width: 1000, height: 600}

	if !New(store).Draw(s) {
		t.Fatal("Draw reported no data")
	}

	origin, size := Layout(s.width, s.height)
	center := origin.Y + size.Y/2

	var red int
	for _, l := range s.lines {
		if l.c != render.Red {
			continue
		}
		red++
		if l.y0 != center || l.y1 != center {
			t.Fatalf("EKG segment %+v off centre %d", l, center)
		}
	}
	if red == 0 {
		t.Fatal("no EKG segments drawn")
	}

	if len(s.texts) < 2 || s.texts[0] != "Heartbeat" {
		t.Errorf("texts = %q, want title first", s.texts)
	}
}

func TestDrawEmptyStore(t *testing.T) {
	s := &surface{width: 640, height: 480}
	if New(frame.NewStore()).Draw(s) {
		t.Error("Draw reported data for an empty store")
	}
	if len(s.lines) != 0 {
		t.Errorf("drew %d segments with no data", len(s.lines))
	}
	if len(s.texts) != 1 || s.texts[0] != "NO DATA" {
		t.Errorf("texts = %q, want [NO DATA]", s.texts)
	}
}

// TestUnreachableLeavesNoData runs three cycles against a closed endpoint and
// checks the next tick shows the no-data state.
func TestUnreachableLeavesNoData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	store := frame.NewStore()
	store.Set(flatResult(t, 100, 600, 1000))
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	loop := acquire.NewLoop(frame.NewFetcher(url), store, acquire.Config{Interval: time.Millisecond}, logger)
	for i := 0; i < 3; i++ {
		loop.Cycle(context.Background())
	}

	s := &surface{width: 640, height: 480}
	if New(store).Draw(s) {
		t.Error("Draw reported data after unreachable cycles")
	}
}

func TestRenderPNG(t *testing.T) {
	store := frame.NewStore()
	d := New(store)

	data, shown, err := d.RenderPNG(320, 240)
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	if shown {
		t.Error("empty store reported as shown")
	}
	if _, err := png.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("decoding no-data png: %v", err)
	}

	store.Set(flatResult(t, 1800, 512, 20000))
	data, shown, err = d.RenderPNG(640, 480)
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	if !shown {
		t.Error("result not shown")
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decoding chart png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 640 || b.Dy() != 480 {
		t.Errorf("bounds = %v, want 640x480", b)
	}
}

func TestStatusLine(t *testing.T) {
	ts := int64(1700000000)
	tests := []struct {
		name   string
		result *frame.Result
		want   []string
	}{
		{
			name: "no clock",
			result: &frame.Result{NodeID: "N1", Frame: &frame.Frame{
				SampleRate: 20000, Data: make([]int16, 1800),
			}},
			want: []string{"node N1", "20000 Hz", "1800 samples", "no GPS fix", "no clock"},
		},
		{
			name: "fix and clipping",
			result: &frame.Result{Frame: &frame.Frame{
				Timestamp:  &ts,
				SampleRate: 1000,
				Metadata:   frame.Metadata{HasGPSFix: true, IsClipping: true},
				Fix:        7,
			}},
			want: []string{"GPS fix (7 sats)", "CLIPPING", "t=1700000000"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StatusLine(tt.result)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("StatusLine() = %q, missing %q", got, w)
				}
			}
		})
	}
}
