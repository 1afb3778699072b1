package filter

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Filter is a stateful sample transform. Apply is only called from the acquisition goroutine.
type Filter interface {
	Reset()
	Apply(sample float64) float64
}

type Kind string

const (
	KindNone     Kind = "none"
	KindLowPass  Kind = "lowpass"
	KindHighPass Kind = "highpass"
	KindLua      Kind = "lua"
)

const (
	DefaultOrder          = 8
	DefaultLowPassCutoff  = 20
	DefaultHighPassCutoff = 100
)

var (
	ErrUnknownKind = errors.New("filter: unknown kind")
	ErrCutoff      = errors.New("filter: cutoff must be between 0 and the Nyquist frequency")
	ErrOrder       = errors.New("filter: order must be between 1 and 16")
)

type Options struct {
	Kind   Kind    `yaml:"type"`
	Cutoff float64 `yaml:"cutoff_hz"`
	Order  int     `yaml:"order"`
	Script string  `yaml:"script"`
}

// New builds the filter described by opts for the given sampling rate.
func New(opts Options, samplingRate float64, logger *zap.Logger) (Filter, error) {
	order := opts.Order
	if order == 0 {
		order = DefaultOrder
	}

	switch opts.Kind {
	case "", KindNone:
		return Passthrough{}, nil
	case KindLowPass:
		cutoff := opts.Cutoff
		if cutoff == 0 {
			cutoff = defaultCutoff(KindLowPass, DefaultLowPassCutoff, samplingRate)
		}
		return NewLowPass(order, samplingRate, cutoff)
	case KindHighPass:
		cutoff := opts.Cutoff
		if cutoff == 0 {
			cutoff = defaultCutoff(KindHighPass, DefaultHighPassCutoff, samplingRate)
		}
		return NewHighPass(order, samplingRate, cutoff)
	case KindLua:
		source, err := os.ReadFile(opts.Script)
		if err != nil {
			return nil, fmt.Errorf("read filter script: %w", err)
		}
		return NewLuaFilter(string(source), samplingRate, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, opts.Kind)
	}
}

// CutoffRange is the range a cutoff can be tuned in for the given kind.
// Low pass goes up to a quarter of the sampling rate, high pass starts there.
func CutoffRange(kind Kind, samplingRate float64) (lo, hi float64) {
	switch kind {
	case KindLowPass:
		return 1, samplingRate / 4
	case KindHighPass:
		return samplingRate / 4, samplingRate/2 - 1
	default:
		return 0, 0
	}
}

// defaultCutoff keeps a default inside the tunable range of the sampling rate.
func defaultCutoff(kind Kind, cutoff, samplingRate float64) float64 {
	lo, hi := CutoffRange(kind, samplingRate)
	return min(max(cutoff, lo), hi)
}

// Passthrough returns samples unchanged.
type Passthrough struct{}

func (Passthrough) Reset() {}

func (Passthrough) Apply(sample float64) float64 {
	return sample
}
