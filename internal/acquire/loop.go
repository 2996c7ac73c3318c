// Package acquire runs the background loop that keeps the shared slot fresh.
//
// Each cycle performs exactly one fetch against the acquisition node, derives
// the correlation for a present frame and writes the store exactly once: a
// new Result, or a cleared slot when the node has no frame or the cycle
// failed. Failures are logged and never stop the loop.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/star/heartbeat/internal/correlate"
	"github.com/star/heartbeat/internal/frame"
	"github.com/star/heartbeat/internal/metrics"
)

// Compiled-in cadence and reference template parameters.
const (
	PollInterval       = 500 * time.Millisecond
	ReferenceFrequency = 50.0 // Hz
	ReferenceDuration  = 0.02 // seconds, one period at ReferenceFrequency
)

// Source yields one envelope per call. *frame.Fetcher implements it.
type Source interface {
	Fetch(ctx context.Context) (*frame.Envelope, error)
}

// Config holds loop parameters. Zero values fall back to the compiled-in constants.
type Config struct {
	Interval           time.Duration
	ReferenceFrequency float64
	ReferenceDuration  float64
}

// Loop is the acquisition task.
type Loop struct {
	source Source
	store  *frame.Store
	config Config
	logger *slog.Logger
	now    func() time.Time

	cycles atomic.Int64
}

// NewLoop creates an acquisition loop that publishes into store.
func NewLoop(source Source, store *frame.Store, config Config, logger *slog.Logger) *Loop {
	if config.Interval <= 0 {
		config.Interval = PollInterval
	}
	if config.ReferenceFrequency <= 0 {
		config.ReferenceFrequency = ReferenceFrequency
	}
	if config.ReferenceDuration <= 0 {
		config.ReferenceDuration = ReferenceDuration
	}
	return &Loop{
		source: source,
		store:  store,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Run repeats cycles until ctx is cancelled, waiting Interval between them.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("acquisition loop started",
		"interval_ms", l.config.Interval.Milliseconds(),
		"reference_hz", l.config.ReferenceFrequency,
		"reference_seconds", l.config.ReferenceDuration,
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("acquisition loop stopped", "cycles", l.cycles.Load())
			return
		case <-timer.C:
		}

		l.Cycle(ctx)
		timer.Reset(l.config.Interval)
	}
}

// Cycles returns the number of completed cycles.
func (l *Loop) Cycles() int64 {
	return l.cycles.Load()
}

// Cycle performs one fetch-and-publish cycle. The returned error has already
// been logged and turned into a cleared slot; it is returned for callers that
// want to report it.
func (l *Loop) Cycle(ctx context.Context) error {
	start := time.Now()
	defer func() {
		l.cycles.Add(1)
		metrics.ObserveAcquisitionDuration(time.Since(start))
		metrics.SetSlot(l.store.AgeSeconds())
	}()

	env, err := l.source.Fetch(ctx)
	if err != nil {
		return l.fail(err)
	}

	if env.Frame == nil {
		l.store.Clear()
		metrics.IncAcquisitionCycles("empty")
		l.logger.Debug("node has no current frame", "node_id", env.NodeID)
		return nil
	}

	result, err := l.process(env)
	if err != nil {
		return l.fail(err)
	}

	l.store.Set(result)
	metrics.IncAcquisitionCycles("frame")
	metrics.SetFrame(len(result.Frame.Data), result.Frame.SampleRate, result.Peak)
	l.logger.Debug("frame published",
		"node_id", result.NodeID,
		"samples", len(result.Frame.Data),
		"sample_rate", result.Frame.SampleRate,
		"peak_index", result.PeakIndex,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// process correlates a present frame against a fresh reference template.
func (l *Loop) process(env *frame.Envelope) (*frame.Result, error) {
	f := env.Frame
	template := correlate.SynthesizeReference(f.SampleRate, l.config.ReferenceFrequency, l.config.ReferenceDuration)
	if template == nil {
		return nil, fmt.Errorf("no reference template at %g Hz: %w", f.SampleRate, correlate.ErrInvalidInput)
	}

	raw, err := correlate.Correlate(correlate.FromInt16(f.Data), template)
	if err != nil {
		return nil, fmt.Errorf("correlating %d samples with %d-sample template: %w", len(f.Data), len(template), err)
	}

	norm, err := correlate.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("normalising correlation: %w", err)
	}

	peak, peakIdx := correlate.Peak(raw)
	return &frame.Result{
		NodeID:         env.NodeID,
		Frame:          f,
		FetchedAt:      l.now(),
		Correlation:    norm,
		TemplateLength: len(template),
		Peak:           peak,
		PeakIndex:      peakIdx,
	}, nil
}

func (l *Loop) fail(err error) error {
	l.store.Clear()
	kind := errorKind(err)
	metrics.IncAcquisitionCycles(kind)
	l.logger.Warn("acquisition cycle failed", "kind", kind, "error", err)
	return err
}

// errorKind maps an error to its metrics label.
func errorKind(err error) string {
	switch {
	case errors.Is(err, frame.ErrTransport):
		return "transport_error"
	case errors.Is(err, frame.ErrDecode):
		return "decode_error"
	case errors.Is(err, correlate.ErrInvalidInput):
		return "invalid_input"
	default:
		return "transport_error"
	}
}
