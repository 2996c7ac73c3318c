package acquire

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/star/heartbeat/internal/correlate"
	"github.com/star/heartbeat/internal/frame"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// scriptedSource returns the queued responses in order, repeating the last one.
type scriptedSource struct {
	mu    sync.Mutex
	steps []step
	calls int
}

type step struct {
	env *frame.Envelope
	err error
}

func (s *scriptedSource) Fetch(ctx context.Context) (*frame.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := min(s.calls, len(s.steps)-1)
	s.calls++
	return s.steps[i].env, s.steps[i].err
}

func flatFrame(n int, value int16, rate float64) *frame.Frame {
	data := make([]int16, n)
	for i := range data {
		data[i] = value
	}
	return &frame.Frame{SampleRate: rate, Data: data}
}

func TestCyclePublishesResult(t *testing.T) {
	store := frame.NewStore()
	src := &scriptedSource{steps: []step{{env: &frame.Envelope{NodeID: "N1", Frame: flatFrame(1800, 512, 20000)}}}}
	loop := NewLoop(src, store, Config{}, testLogger())

	if err := loop.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	res := store.Get()
	if res == nil {
		t.Fatal("slot is empty after a successful cycle")
	}
	if res.NodeID != "N1" {
		t.Errorf("node id = %q, want N1", res.NodeID)
	}
	// 20 kHz * 0.02 s = 400-sample template.
	if res.TemplateLength != 400 {
		t.Errorf("template length = %d, want 400", res.TemplateLength)
	}
	if want := 1800 + 400 - 1; len(res.Correlation) != want {
		t.Errorf("correlation len = %d, want %d", len(res.Correlation), want)
	}
	peak, _ := correlate.Peak(res.Correlation)
	if peak != 1 {
		t.Errorf("normalised peak = %v, want 1", peak)
	}
	if res.Peak <= 0 {
		t.Errorf("raw peak = %v, want > 0", res.Peak)
	}
	if loop.Cycles() != 1 {
		t.Errorf("cycles = %d, want 1", loop.Cycles())
	}
}

// TestCycleAbsentFrameClears verifies a reachable node with no frame empties the slot.
func TestCycleAbsentFrameClears(t *testing.T) {
	store := frame.NewStore()
	src := &scriptedSource{steps: []step{
		{env: &frame.Envelope{NodeID: "N1", Frame: flatFrame(100, 600, 1000)}},
		{env: &frame.Envelope{NodeID: "N1"}},
	}}
	loop := NewLoop(src, store, Config{}, testLogger())

	loop.Cycle(context.Background())
	if store.Get() == nil {
		t.Fatal("first cycle should publish")
	}
	if err := loop.Cycle(context.Background()); err != nil {
		t.Fatalf("absent frame is not an error: %v", err)
	}
	if store.Get() != nil {
		t.Error("slot should be empty after an absent frame")
	}
}

// TestCycleErrorsClear verifies every failure kind clears the slot and is returned.
func TestCycleErrorsClear(t *testing.T) {
	tests := []struct {
		name string
		step step
		want error
		kind string
	}{
		{"transport", step{err: frame.ErrTransport}, frame.ErrTransport, "transport_error"},
		{"decode", step{err: frame.ErrDecode}, frame.ErrDecode, "decode_error"},
		{"empty samples", step{env: &frame.Envelope{Frame: &frame.Frame{SampleRate: 1000}}}, correlate.ErrInvalidInput, "invalid_input"},
		{"template too short", step{env: &frame.Envelope{Frame: flatFrame(10, 5, 10)}}, correlate.ErrInvalidInput, "invalid_input"},
		{"rate below reference", step{env: &frame.Envelope{Frame: flatFrame(3, 512, 25)}}, correlate.ErrInvalidInput, "invalid_input"},
		{"all-zero signal", step{env: &frame.Envelope{Frame: flatFrame(100, 0, 1000)}}, correlate.ErrInvalidInput, "invalid_input"},
		{"huge sample rate", step{env: &frame.Envelope{Frame: flatFrame(3, 1, 1e300)}}, correlate.ErrInvalidInput, "invalid_input"},
		{"template past ceiling", step{env: &frame.Envelope{Frame: flatFrame(3, 1, 1e10)}}, correlate.ErrInvalidInput, "invalid_input"},
		{"too much work", step{env: &frame.Envelope{Frame: flatFrame(1<<15, 1, 3e6)}}, correlate.ErrInvalidInput, "invalid_input"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := frame.NewStore()
			store.Set(&frame.Result{NodeID: "stale"})
			loop := NewLoop(&scriptedSource{steps: []step{tt.step}}, store, Config{}, testLogger())

			err := loop.Cycle(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if got := errorKind(err); got != tt.kind {
				t.Errorf("errorKind = %q, want %q", got, tt.kind)
			}
			if store.Get() != nil {
				t.Error("slot should be cleared after a failed cycle")
			}
		})
	}
}

// TestCycleDecodedHugeRate feeds a decoded frame with an absurd but finite
// sample rate through a cycle: it must fail cleanly, not panic.
func TestCycleDecodedHugeRate(t *testing.T) {
	env, err := frame.Decode([]byte(`{"sample_rate":1e300,"metadata":{},"data":[1,2,3]}`), "application/json")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	store := frame.NewStore()
	store.Set(&frame.Result{NodeID: "stale"})
	loop := NewLoop(&scriptedSource{steps: []step{{env: env}}}, store, Config{}, testLogger())

	if err := loop.Cycle(context.Background()); !errors.Is(err, correlate.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
	if store.Get() != nil {
		t.Error("slot should be cleared")
	}
}

// TestRunUnreachableEndpoint runs the real loop against a closed server for
// three cycles: the slot stays empty and the loop keeps going.
func TestRunUnreachableEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	store := frame.NewStore()
	store.Set(&frame.Result{NodeID: "stale"})
	loop := NewLoop(frame.NewFetcher(url), store, Config{Interval: 5 * time.Millisecond}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(ctx)
	}()

	deadline := time.After(5 * time.Second)
	for loop.Cycles() < 3 {
		if c := loop.Cycles(); c > 0 && store.Get() != nil {
			t.Error("slot should be empty while the endpoint is unreachable")
		}
		select {
		case <-deadline:
			t.Fatalf("only %d cycles completed", loop.Cycles())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done

	if store.Get() != nil {
		t.Error("slot should be empty after unreachable cycles")
	}
}

// TestRunAgainstNode exercises the loop end to end against an HTTP node that
// returns a flat frame and then a null frame.
func TestRunAgainstNode(t *testing.T) {
	data := make([]int16, 1800)
	for i := range data {
		data[i] = 512
	}
	withFrame, _ := json.Marshal(map[string]any{
		"node_id": "N1",
		"frame": map[string]any{
			"timestamp":   nil,
			"sample_rate": 20000,
			"metadata":    map[string]bool{"has_gps_fix": false, "is_clipping": false},
			"fix":         0,
			"data":        data,
		},
	})

	var mu sync.Mutex
	body := withFrame
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	defer server.Close()

	store := frame.NewStore()
	loop := NewLoop(frame.NewFetcher(server.URL), store, Config{}, testLogger())

	if err := loop.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	res := store.Get()
	if res == nil || len(res.Frame.Data) != 1800 || res.Frame.Timestamp != nil {
		t.Fatalf("unexpected result: %+v", res)
	}

	mu.Lock()
	body = []byte(`{"node_id":"N1","frame":null}`)
	mu.Unlock()

	if err := loop.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if store.Get() != nil {
		t.Error("slot should clear when the node reports no frame")
	}
}
