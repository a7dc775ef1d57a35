// Package noise produces the pseudo-random channel disturbance samples that
// drive both the key-exchange QBER measurement and the live telemetry feed.
package noise

import (
	"math"
	"math/rand"
)

// Channel amplitudes in display units. An active adversary widens the
// disturbance envelope by an order of magnitude.
const (
	AmplitudeQuiet     = 10.0
	AmplitudeAdversary = 100.0
)

// QBERScale maps an absolute noise sample to an error-rate percentage.
// With samples uniform on [-A, A], a quiet channel (A=10) can never exceed
// 4.5% while an adversary channel (A=100) lands above 10% most of the time.
// The separation is statistical, not guaranteed per run.
const QBERScale = 0.45

// Amplitude returns the channel amplitude for the given adversary state.
func Amplitude(adversaryActive bool) float64 {
	if adversaryActive {
		return AmplitudeAdversary
	}
	return AmplitudeQuiet
}

// Source draws disturbance samples. It holds no state beyond its random
// source and is safe for concurrent use; independent callers sampling with
// independent amplitudes never share or correlate output.
type Source struct {
	randFn func() float64
}

// NewSource returns a Source backed by the shared math/rand generator.
func NewSource() *Source {
	return &Source{randFn: rand.Float64}
}

// NewSourceWithRand returns a Source backed by the given generator function,
// which must return values in [0, 1). Used to pin outcomes in tests.
func NewSourceWithRand(fn func() float64) *Source {
	return &Source{randFn: fn}
}

// Sample returns one value uniformly distributed over [-amplitude, amplitude].
func (s *Source) Sample(amplitude float64) float64 {
	return (s.randFn()*2 - 1) * amplitude
}

// QBER maps a raw noise sample to a bit-error-rate percentage in [0, 100].
func QBER(sample float64) float64 {
	q := math.Abs(sample) * QBERScale
	if q > 100 {
		return 100
	}
	return q
}
