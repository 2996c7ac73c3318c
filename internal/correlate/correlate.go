// Package correlate compares a live sample buffer against a synthetic sine
// template using a direct time-domain cross-correlation.
//
// All functions are pure. Inputs are small (hundreds to a few thousand
// samples) and recomputed once per acquisition cycle, so the O(n·m) nested
// sum is used as is.
package correlate

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrInvalidInput is returned for degenerate inputs: empty or oversized
// sequences, or a normalisation whose maximum is zero.
var ErrInvalidInput = errors.New("invalid input")

const (
	// MaxTemplateLength bounds the reference template. A 20 ms template at
	// 3.2 MHz still fits.
	MaxTemplateLength = 1 << 16

	// maxProducts bounds the multiply-adds of one Correlate call.
	maxProducts = 1 << 30
)

// SynthesizeReference returns floor(duration*sampleRate) samples of a sine
// wave at frequency Hz, with phase zero at index 0. It returns nil when the
// count is less than one or more than MaxTemplateLength.
func SynthesizeReference(sampleRate, frequency, duration float64) []float64 {
	n := math.Floor(duration * sampleRate)
	if !(n >= 1) || n > MaxTemplateLength {
		return nil
	}
	out := make([]float64, int(n))
	step := 2 * math.Pi * frequency / sampleRate
	for i := range out {
		out[i] = math.Sin(step * float64(i))
	}
	return out
}

// Correlate computes the full linear correlation
//
//	out[k] = Σ_i signal[i] * template[k-i]
//
// over every i where both indices are valid. The template is not reversed.
// len(out) == len(signal) + len(template) - 1; the first and last
// len(template)-1 outputs sum fewer terms. Inputs whose product of lengths
// exceeds 2^30 are rejected with ErrInvalidInput.
func Correlate(signal, template []float64) ([]float64, error) {
	if len(signal) == 0 || len(template) == 0 {
		return nil, ErrInvalidInput
	}
	if len(template) > maxProducts/len(signal) {
		return nil, ErrInvalidInput
	}
	out := make([]float64, len(signal)+len(template)-1)
	for k := range out {
		lo := max(0, k-len(template)+1)
		hi := min(len(signal)-1, k)
		var sum float64
		for i := lo; i <= hi; i++ {
			sum += signal[i] * template[k-i]
		}
		out[k] = sum
	}
	return out, nil
}

// Normalize divides every element by the largest element (not the largest
// magnitude). A negative maximum is used as is, which flips every sign.
// An empty input or a maximum of exactly zero returns ErrInvalidInput.
func Normalize(values []float64) ([]float64, error) {
	if len(values) == 0 {
		return nil, ErrInvalidInput
	}
	m := floats.Max(values)
	if m == 0 || math.IsNaN(m) {
		return nil, ErrInvalidInput
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v / m
	}
	return out, nil
}

// Peak returns the largest element and its index, or (0, -1) for an empty input.
func Peak(values []float64) (float64, int) {
	if len(values) == 0 {
		return 0, -1
	}
	i := floats.MaxIdx(values)
	return values[i], i
}

// FromInt16 converts raw samples to float64 without centering or scaling.
func FromInt16(data []int16) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out
}
