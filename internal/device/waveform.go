package device

import (
	"errors"
	"fmt"
	"math"
)

type Waveform string

const (
	Sine     Waveform = "sine"
	Triangle Waveform = "triangle"
	Square   Waveform = "square"
	Sawtooth Waveform = "sawtooth"
)

// DefaultTablePoints is the resolution of one waveform period in the firmware tables.
const DefaultTablePoints = 64

// the phase accumulator carries 8 fractional bits
const phaseFraction = 8

var ErrUnknownWaveform = errors.New("device: unknown waveform")

// Table builds one period of a waveform swinging between the device levels from and to.
// from may be larger than to, the table then starts at the high level.
func Table(w Waveform, points int, from, to byte) ([]byte, error) {
	if points <= 0 {
		return nil, fmt.Errorf("device: table needs at least one point, got %d", points)
	}

	center := (float64(from) + float64(to)) / 2
	amplitude := (float64(to) - float64(from)) / 2

	table := make([]byte, points)
	for i := range table {
		x := float64(i) / float64(points)

		var v float64
		switch w {
		case Sine:
			v = math.Sin(2 * math.Pi * x)
		case Triangle:
			v = 1 - 4*math.Abs(math.Mod(x+0.25, 1)-0.5)
		case Square:
			v = 1
			if x >= 0.5 {
				v = -1
			}
		case Sawtooth:
			v = 2*x - 1
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownWaveform, w)
		}

		table[i] = byte(math.Round(center + amplitude*v))
	}
	return table, nil
}

// Generator steps through a table with a fixed point phase accumulator, like a DDS.
// The output frequency is increment * rate / (points << 8).
type Generator struct {
	table     []byte
	phase     uint32
	increment uint32
	wrap      uint32
}

func NewGenerator(table []byte, frequency, samplingRate float64) *Generator {
	points := uint32(len(table))
	return &Generator{
		table:     table,
		increment: uint32(frequency * float64(points) * (1 << phaseFraction) / samplingRate),
		wrap:      points << phaseFraction,
	}
}

// Frequency is the frequency actually produced after truncating the increment.
func (g *Generator) Frequency(samplingRate float64) float64 {
	return float64(g.increment) * samplingRate / float64(g.wrap)
}

func (g *Generator) Next() byte {
	v := g.table[g.phase>>phaseFraction]
	g.phase = (g.phase + g.increment) % g.wrap
	return v
}

func (g *Generator) Fill(p []byte) {
	for i := range p {
		p[i] = g.Next()
	}
}

func (g *Generator) Reset() {
	g.phase = 0
}
