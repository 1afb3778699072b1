package rserial

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type fakePort struct {
	incoming chan []byte
	timeout  time.Duration

	mu       sync.Mutex
	written  bytes.Buffer
	readErr  error
	writeErr error
	resets   int
	closed   bool
}

func newFakePort() *fakePort {
	return &fakePort{incoming: make(chan []byte, 16)}
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	err := f.readErr
	timeout := f.timeout
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}

	select {
	case b := <-f.incoming:
		return copy(p, b), nil
	case <-time.After(timeout):
		return 0, nil
	}
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.written.Write(p)
}

func (f *fakePort) SetReadTimeout(t time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.timeout = t
	return nil
}

func (f *fakePort) ResetInputBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resets++
	return nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

func (f *fakePort) Written() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]byte(nil), f.written.Bytes()...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRSerial_ReadAndWrite(t *testing.T) {
	port := newFakePort()
	r, err := NewRSerial(port, "fake0", 2*time.Millisecond, 1024, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create rserial: %v", err)
	}
	defer r.Close()

	if port.resets != 1 {
		t.Errorf("expected the input buffer to be reset once, got %d", port.resets)
	}

	port.incoming <- []byte{1, 2, 3}
	port.incoming <- []byte{4, 5}
	waitFor(t, time.Second, func() bool { return r.Available() == 5 })

	buf := make([]byte, 16)
	n, err := r.Read(buf)
	if err != nil || n != 5 {
		t.Fatalf("expected 5 bytes, got %d (%v)", n, err)
	}
	if !bytes.Equal(buf[:n], []byte{1, 2, 3, 4, 5}) {
		t.Errorf("unexpected bytes %v", buf[:n])
	}

	// nothing buffered: the read times out empty
	if n, err := r.Read(buf); n != 0 || err != nil {
		t.Errorf("expected an empty timeout read, got %d (%v)", n, err)
	}

	if n, err := r.Write([]byte("abc")); n != 3 || err != nil {
		t.Fatalf("write failed: %d %v", n, err)
	}
	waitFor(t, time.Second, func() bool { return string(port.Written()) == "abc" })
}

func TestRSerial_ReadWakesOnData(t *testing.T) {
	port := newFakePort()
	r, err := NewRSerial(port, "fake0", time.Second, 1024, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create rserial: %v", err)
	}
	defer r.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		port.incoming <- []byte{42}
	}()

	start := time.Now()
	buf := make([]byte, 4)
	n, err := r.Read(buf)
	if err != nil || n != 1 || buf[0] != 42 {
		t.Fatalf("expected the byte 42, got %d %v %v", n, buf[:n], err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("read waited for the full timeout instead of waking on data")
	}
}

func TestRSerial_Overflow(t *testing.T) {
	port := newFakePort()
	r, err := NewRSerial(port, "fake0", time.Millisecond, 4, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create rserial: %v", err)
	}
	defer r.Close()

	port.incoming <- []byte{1, 2, 3, 4, 5, 6}
	waitFor(t, time.Second, func() bool {
		in, _ := r.Dropped()
		return in == 2
	})

	buf := make([]byte, 8)
	if n, _ := r.Read(buf); n != 4 || !bytes.Equal(buf[:4], []byte{1, 2, 3, 4}) {
		t.Errorf("expected the first 4 bytes to survive, got %v", buf[:n])
	}
}

func TestRSerial_WriteShortCount(t *testing.T) {
	port := newFakePort()
	r, err := NewRSerial(port, "fake0", time.Millisecond, 4, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create rserial: %v", err)
	}
	defer r.Close()

	n, err := r.Write([]byte{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 bytes queued, got %d", n)
	}
	if _, out := r.Dropped(); out != 2 {
		t.Errorf("expected 2 dropped bytes, got %d", out)
	}

	waitFor(t, time.Second, func() bool { return len(port.Written()) == 4 })
	if got := port.Written(); !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("expected the queued bytes on the port, got %v", got)
	}
}

func TestRSerial_PortFailure(t *testing.T) {
	port := newFakePort()
	r, err := NewRSerial(port, "fake0", time.Millisecond, 64, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create rserial: %v", err)
	}
	defer r.Close()

	port.incoming <- []byte{7}
	waitFor(t, time.Second, func() bool { return r.Available() == 1 })

	unplugged := errors.New("device unplugged")
	port.mu.Lock()
	port.readErr = unplugged
	port.mu.Unlock()
	waitFor(t, time.Second, func() bool { return r.Err() != nil })

	// buffered bytes are still delivered before the error
	buf := make([]byte, 4)
	if n, err := r.Read(buf); n != 1 || err != nil {
		t.Errorf("expected the buffered byte first, got %d (%v)", n, err)
	}

	_, err = r.Read(buf)
	var portErr *PortError
	if !errors.As(err, &portErr) || portErr.Op != "read" || !errors.Is(err, unplugged) {
		t.Fatalf("expected a read PortError wrapping the cause, got %v", err)
	}
	if _, err := r.Write([]byte{1}); !errors.Is(err, unplugged) {
		t.Errorf("expected writes to fail after the port failed, got %v", err)
	}
}

func TestRSerial_Close(t *testing.T) {
	port := newFakePort()
	r, err := NewRSerial(port, "fake0", time.Millisecond, 64, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create rserial: %v", err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
	if !port.closed {
		t.Error("expected the port to be closed")
	}
	if _, err := r.Read(make([]byte, 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := r.Write([]byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed on write, got %v", err)
	}
}
