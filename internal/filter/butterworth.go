package filter

import (
	"fmt"
	"math"
)

// biquad is one second order section in transposed direct form II.
// First order sections leave b2 and a2 at zero.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	z1, z2     float64
}

func (s *biquad) apply(x float64) float64 {
	y := s.b0*x + s.z1
	s.z1 = s.b1*x - s.a1*y + s.z2
	s.z2 = s.b2*x - s.a2*y
	return y
}

// Butterworth is a cascade of biquads with maximally flat pass band.
type Butterworth struct {
	sections []biquad
	highPass bool
	order    int
	cutoff   float64
	rate     float64
}

func NewLowPass(order int, samplingRate, cutoff float64) (*Butterworth, error) {
	return newButterworth(order, samplingRate, cutoff, false)
}

func NewHighPass(order int, samplingRate, cutoff float64) (*Butterworth, error) {
	return newButterworth(order, samplingRate, cutoff, true)
}

func newButterworth(order int, samplingRate, cutoff float64, highPass bool) (*Butterworth, error) {
	if order < 1 || order > 16 {
		return nil, fmt.Errorf("%w: %d", ErrOrder, order)
	}
	if cutoff <= 0 || cutoff >= samplingRate/2 {
		return nil, fmt.Errorf("%w: cutoff=%g rate=%g", ErrCutoff, cutoff, samplingRate)
	}

	b := &Butterworth{highPass: highPass, order: order, cutoff: cutoff, rate: samplingRate}

	w0 := 2 * math.Pi * cutoff / samplingRate
	cosW, sinW := math.Cos(w0), math.Sin(w0)

	// pole pair angles from the negative real axis, shifted by half a step for odd orders
	for k := 0; k < order/2; k++ {
		q := 1 / (2 * math.Cos(math.Pi*float64(2*k+1+order%2)/float64(2*order)))
		alpha := sinW / (2 * q)
		a0 := 1 + alpha

		var s biquad
		if highPass {
			s.b0 = (1 + cosW) / 2 / a0
			s.b1 = -(1 + cosW) / a0
		} else {
			s.b0 = (1 - cosW) / 2 / a0
			s.b1 = (1 - cosW) / a0
		}
		s.b2 = s.b0
		s.a1 = -2 * cosW / a0
		s.a2 = (1 - alpha) / a0
		b.sections = append(b.sections, s)
	}

	if order%2 == 1 {
		k := math.Tan(w0 / 2)
		var s biquad
		if highPass {
			s.b0 = 1 / (1 + k)
			s.b1 = -s.b0
		} else {
			s.b0 = k / (1 + k)
			s.b1 = s.b0
		}
		s.a1 = (k - 1) / (k + 1)
		b.sections = append(b.sections, s)
	}

	return b, nil
}

func (b *Butterworth) Reset() {
	for i := range b.sections {
		b.sections[i].z1 = 0
		b.sections[i].z2 = 0
	}
}

func (b *Butterworth) Apply(sample float64) float64 {
	for i := range b.sections {
		sample = b.sections[i].apply(sample)
	}
	return sample
}

func (b *Butterworth) Cutoff() float64 {
	return b.cutoff
}

func (b *Butterworth) Order() int {
	return b.order
}

func (b *Butterworth) Kind() Kind {
	if b.highPass {
		return KindHighPass
	}
	return KindLowPass
}
