package processing

import (
	"errors"
	"fmt"
	"math"
)

// The device ADC full scale maps onto ±6 V.
const (
	DefaultSpan   = 12.0
	DefaultOffset = -6.0
)

var ErrInvalidMapping = errors.New("processing: minimum and maximum must differ")

// Mapper converts device bytes to physical units and back:
//
//	value = (raw - Minimum) * Span / (Maximum - Minimum) + Offset
//
// Minimum may be larger than Maximum, which flips the polarity.
type Mapper struct {
	Minimum      int
	Maximum      int
	Span         float64
	Offset       float64
	InvertOutput bool
}

func NewMapper(minimum, maximum int, invertOutput bool) (Mapper, error) {
	if minimum == maximum {
		return Mapper{}, fmt.Errorf("%w: %d", ErrInvalidMapping, minimum)
	}

	return Mapper{
		Minimum:      minimum,
		Maximum:      maximum,
		Span:         DefaultSpan,
		Offset:       DefaultOffset,
		InvertOutput: invertOutput,
	}, nil
}

func (m Mapper) Scale() float64 {
	return m.Span / float64(m.Maximum-m.Minimum)
}

func (m Mapper) Transform(raw byte) float64 {
	return float64(int(raw)-m.Minimum)*m.Scale() + m.Offset
}

// Inverse maps a physical value back to device units, clamped to a byte.
func (m Mapper) Inverse(value float64) byte {
	result := math.Round((value-m.Offset)/m.Scale() + float64(m.Minimum))
	if result < 0 {
		return 0
	}
	if result > 255 {
		return 255
	}
	return byte(result)
}

// Output is the byte written back to the device for a filtered value. The DAC is inverted.
func (m Mapper) Output(value float64) byte {
	b := m.Inverse(value)
	if m.InvertOutput {
		return 255 - b
	}
	return b
}
