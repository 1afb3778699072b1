package device

import (
	"errors"
	"sync"
	"time"
)

var ErrClosed = errors.New("device: simulator closed")

// Simulator stands in for the serial device. It produces samples from a Generator and keeps
// what the pipeline writes back, the way the firmware would echo it to its DAC.
type Simulator struct {
	gen          *Generator
	samplingRate float64
	paced        bool
	limit        int
	readTimeout  time.Duration
	captureLimit int

	mu       sync.Mutex
	start    time.Time
	produced int
	written  []byte
	closed   bool
}

type SimulatorOption func(*Simulator)

// Paced releases samples at the sampling rate instead of as fast as they are read.
func Paced() SimulatorOption {
	return func(s *Simulator) {
		s.paced = true
	}
}

// Limit stops producing after n samples; later reads behave like timeouts.
func Limit(n int) SimulatorOption {
	return func(s *Simulator) {
		s.limit = n
	}
}

func WithReadTimeout(d time.Duration) SimulatorOption {
	return func(s *Simulator) {
		s.readTimeout = d
	}
}

// CaptureLimit bounds how many written bytes are kept.
func CaptureLimit(n int) SimulatorOption {
	return func(s *Simulator) {
		s.captureLimit = n
	}
}

func NewSimulator(gen *Generator, samplingRate float64, opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		gen:          gen,
		samplingRate: samplingRate,
		readTimeout:  10 * time.Millisecond,
		captureLimit: 1 << 20,
		start:        time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// due is how many samples can be handed out right now. Callers hold mu.
func (s *Simulator) due() int {
	n := int(^uint(0) >> 1)
	if s.paced {
		n = int(time.Since(s.start).Seconds()*s.samplingRate) - s.produced
	}
	if s.limit > 0 {
		n = min(n, s.limit-s.produced)
	}
	return max(n, 0)
}

func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}

	n := min(len(p), s.due())
	if n == 0 {
		wait := s.wait()
		s.mu.Unlock()
		time.Sleep(wait)
		return 0, nil
	}

	s.gen.Fill(p[:n])
	s.produced += n
	s.mu.Unlock()
	return n, nil
}

// wait is how long an empty read blocks: one sample period when paced, the read timeout otherwise.
// Callers hold mu.
func (s *Simulator) wait() time.Duration {
	if s.paced && (s.limit == 0 || s.produced < s.limit) {
		return min(s.readTimeout, time.Duration(float64(time.Second)/s.samplingRate)+time.Microsecond)
	}
	return s.readTimeout
}

func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	room := s.captureLimit - len(s.written)
	if room > 0 {
		s.written = append(s.written, p[:min(room, len(p))]...)
	}
	return len(p), nil
}

func (s *Simulator) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}
	return min(s.due(), 1<<16)
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func (s *Simulator) Produced() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.produced
}

// Written returns a copy of the bytes written back so far.
func (s *Simulator) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]byte(nil), s.written...)
}
