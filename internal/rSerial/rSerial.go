// r in rserial stands for "robust"
package rserial

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sleepywoodpecker/serial-scope/internal/buffers"
)

const (
	DefaultBufferSize  = 1 << 16
	DefaultReadTimeout = 5 * time.Millisecond
	pumpChunk          = 4096
)

var ErrClosed = errors.New("rserial: port closed")

// Port is the part of serial.Port the pumps use.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Close() error
}

type PortError struct {
	Op       string
	PortName string
	Err      error
}

func (e *PortError) Error() string {
	return fmt.Sprintf("[rserial] %s %s: %v", e.Op, e.PortName, e.Err)
}

func (e *PortError) Unwrap() error {
	return e.Err
}

// RSerial decouples the device from the pipeline. One goroutine moves port bytes into the
// inbound ring, another drains the outbound ring to the port, so neither side waits on the other.
type RSerial struct {
	port        Port
	portName    string
	readTimeout time.Duration
	logger      *zap.Logger

	inbound  *buffers.RingBuffer[byte]
	outbound *buffers.RingBuffer[byte]

	dataReady chan struct{}
	pending   chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	errMu sync.Mutex
	err   error

	droppedIn  atomic.Uint64
	droppedOut atomic.Uint64
}

// Open opens portName at baud and starts the pumps.
func Open(portName string, baud int, readTimeout time.Duration, logger *zap.Logger) (*RSerial, error) {
	mode := &serial.Mode{
		BaudRate: baud,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, &PortError{Op: "open", PortName: portName, Err: err}
	}

	r, err := NewRSerial(port, portName, readTimeout, DefaultBufferSize, logger)
	if err != nil {
		return nil, multierr.Append(err, port.Close())
	}

	logger.Info("[rserial] opened serial port", zap.String("portName", portName), zap.Int("baud", baud))
	return r, nil
}

// NewRSerial wraps an already open port.
func NewRSerial(port Port, portName string, readTimeout time.Duration, bufferSize int, logger *zap.Logger) (*RSerial, error) {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	inbound, err := buffers.NewRingBuffer[byte](bufferSize)
	if err != nil {
		return nil, err
	}
	outbound, err := buffers.NewRingBuffer[byte](bufferSize)
	if err != nil {
		return nil, err
	}

	r := &RSerial{
		port:        port,
		portName:    portName,
		readTimeout: readTimeout,
		logger:      logger,
		inbound:     inbound,
		outbound:    outbound,
		dataReady:   make(chan struct{}, 1),
		pending:     make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	if err := r.initialize(); err != nil {
		return nil, err
	}

	r.wg.Add(2)
	go r.readLoop()
	go r.writeLoop()
	return r, nil
}

func (r *RSerial) initialize() error {
	if err := r.port.SetReadTimeout(r.readTimeout); err != nil {
		return &PortError{Op: "set read timeout", PortName: r.portName, Err: err}
	}
	// drop whatever the device sent before we were listening
	if err := r.port.ResetInputBuffer(); err != nil {
		return &PortError{Op: "reset input", PortName: r.portName, Err: err}
	}
	return nil
}

func (r *RSerial) readLoop() {
	defer r.wg.Done()
	buf := make([]byte, pumpChunk)

	for {
		select {
		case <-r.done:
			r.logger.Info("[rserial] exiting from rserial read loop", zap.String("portName", r.portName))
			return
		default:
		}

		n, err := r.port.Read(buf)
		if err != nil {
			r.fail(&PortError{Op: "read", PortName: r.portName, Err: err})
			return
		}
		if n == 0 {
			continue
		}

		if written := r.inbound.Write(buf[:n]); written < n {
			dropped := r.droppedIn.Add(uint64(n - written))
			r.logger.Warn("[rserial] inbound buffer full, dropping bytes",
				zap.String("portName", r.portName), zap.Int("count", n-written), zap.Uint64("totalDropped", dropped))
		}
		signal(r.dataReady)
	}
}

func (r *RSerial) writeLoop() {
	defer r.wg.Done()
	buf := make([]byte, pumpChunk)

	for {
		select {
		case <-r.done:
			return
		case <-r.pending:
		}

		for n := r.outbound.Read(buf); n > 0; n = r.outbound.Read(buf) {
			if err := r.writeAll(buf[:n]); err != nil {
				r.fail(&PortError{Op: "write", PortName: r.portName, Err: err})
				return
			}
		}
	}
}

func (r *RSerial) writeAll(p []byte) error {
	for len(p) > 0 {
		n, err := r.port.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// Read returns buffered bytes, waiting up to the read timeout when none are buffered.
// It returns 0, nil on timeout.
func (r *RSerial) Read(p []byte) (int, error) {
	if n := r.inbound.Read(p); n > 0 {
		return n, nil
	}
	if err := r.Err(); err != nil {
		return 0, err
	}

	timer := time.NewTimer(r.readTimeout)
	defer timer.Stop()

	select {
	case <-r.done:
		return 0, ErrClosed
	case <-r.dataReady:
	case <-timer.C:
	}

	if n := r.inbound.Read(p); n > 0 {
		return n, nil
	}
	return 0, r.Err()
}

// Write queues p for the port and returns how many bytes were queued. Bytes that do not fit
// the outbound buffer are dropped and counted, the caller is never blocked by a slow device.
func (r *RSerial) Write(p []byte) (int, error) {
	select {
	case <-r.done:
		return 0, ErrClosed
	default:
	}
	if err := r.Err(); err != nil {
		return 0, err
	}

	n := r.outbound.Write(p)
	if n < len(p) {
		r.droppedOut.Add(uint64(len(p) - n))
	}
	signal(r.pending)
	return n, nil
}

// Available is the number of inbound bytes that can be read without waiting.
func (r *RSerial) Available() int {
	return r.inbound.Size()
}

func (r *RSerial) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()

	return r.err
}

// Dropped reports the bytes lost to full inbound and outbound buffers.
func (r *RSerial) Dropped() (in, out uint64) {
	return r.droppedIn.Load(), r.droppedOut.Load()
}

func (r *RSerial) fail(err error) {
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.logger.Error("[rserial] serial port failed", zap.Error(err), zap.String("portName", r.portName))
	}
	r.errMu.Unlock()
	signal(r.dataReady)
}

func (r *RSerial) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()

		in, out := r.Dropped()
		r.closeErr = r.port.Close()
		if r.closeErr != nil {
			r.closeErr = &PortError{Op: "close", PortName: r.portName, Err: r.closeErr}
		}
		r.logger.Info("[rserial] closed serial port", zap.String("portName", r.portName),
			zap.Uint64("droppedIn", in), zap.Uint64("droppedOut", out))
	})
	return r.closeErr
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// ListPorts returns the serial ports present on this machine.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, &PortError{Op: "list", Err: err}
	}
	return ports, nil
}
