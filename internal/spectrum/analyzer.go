package spectrum

import (
	"errors"
	"fmt"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

var ErrInvalidWindow = errors.New("spectrum: window length must be positive")

// Analyzer computes the single sided amplitude spectrum of a fixed length window.
// It keeps no state between Compute calls other than its last outputs and is meant
// to be driven by a single goroutine. Results cross goroutines as Result values.
type Analyzer struct {
	samples    []float64
	magnitudes []float64

	offset      float64
	dominantBin int
}

// Result is an immutable copy of one computed spectrum.
type Result struct {
	Frequency  float64
	Offset     float64
	Peak       float64
	BinWidth   float64
	Magnitudes []float64
}

func New(sampleCount int) (*Analyzer, error) {
	if sampleCount <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWindow, sampleCount)
	}

	return &Analyzer{
		samples:    make([]float64, sampleCount),
		magnitudes: make([]float64, sampleCount/2+1),
	}, nil
}

func (a *Analyzer) WindowLength() int {
	return len(a.samples)
}

// SetData loads up to WindowLength samples. A short source is zero padded.
func (a *Analyzer) SetData(src []float64) {
	n := copy(a.samples, src)
	clear(a.samples[n:])
}

func (a *Analyzer) Compute() {
	n := len(a.samples)
	out := fft.FFTReal(a.samples)

	for i := range a.magnitudes {
		m := cmplx.Abs(out[i]) / float64(n)
		// everything except DC and the Nyquist bin also has a mirrored negative frequency
		if i != 0 && !(n%2 == 0 && i == n/2) {
			m *= 2
		}
		a.magnitudes[i] = m
	}

	// bin 0 of a real signal is real, its sign is the sign of the offset
	a.offset = real(out[0]) / float64(n)

	a.dominantBin = 0
	if len(a.magnitudes) < 2 {
		return
	}
	a.dominantBin = 1
	peak := a.magnitudes[1]
	for i := 2; i < len(a.magnitudes); i++ {
		if a.magnitudes[i] > peak {
			peak = a.magnitudes[i]
			a.dominantBin = i
		}
	}
}

// Offset is the DC component of the last computed window.
func (a *Analyzer) Offset() float64 {
	return a.offset
}

func (a *Analyzer) DominantBin() int {
	return a.dominantBin
}

// Frequency converts the dominant bin to Hz.
func (a *Analyzer) Frequency(samplingRate float64) float64 {
	return float64(a.dominantBin) * samplingRate / float64(len(a.samples))
}

func (a *Analyzer) BinWidth(samplingRate float64) float64 {
	return samplingRate / float64(len(a.samples))
}

func (a *Analyzer) Magnitudes() []float64 {
	out := make([]float64, len(a.magnitudes))
	copy(out, a.magnitudes)
	return out
}

func (a *Analyzer) Result(samplingRate float64) Result {
	return Result{
		Frequency:  a.Frequency(samplingRate),
		Offset:     a.offset,
		Peak:       a.magnitudes[a.dominantBin],
		BinWidth:   a.BinWidth(samplingRate),
		Magnitudes: a.Magnitudes(),
	}
}
