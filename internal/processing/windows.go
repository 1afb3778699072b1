package processing

import (
	"sync"

	"sleepywoodpecker/serial-scope/internal/buffers"
)

// Windows holds the time, raw and filtered scroll windows. They always have the same
// length and index alignment because every triple push happens under mu.
type Windows struct {
	mu       sync.Mutex
	time     *buffers.ScrollWindow[float64]
	raw      *buffers.ScrollWindow[float64]
	filtered *buffers.ScrollWindow[float64]
}

func newWindows(capacity, view int) (*Windows, error) {
	w := &Windows{}
	var err error
	if w.time, err = buffers.NewScrollWindow[float64](capacity, view); err != nil {
		return nil, err
	}
	if w.raw, err = buffers.NewScrollWindow[float64](capacity, view); err != nil {
		return nil, err
	}
	if w.filtered, err = buffers.NewScrollWindow[float64](capacity, view); err != nil {
		return nil, err
	}
	return w, nil
}

// push must be called with mu held.
func (w *Windows) push(t, raw, filtered float64) {
	w.time.Push(t)
	w.raw.Push(raw)
	w.filtered.Push(filtered)
}

func (w *Windows) clear() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.time.Clear()
	w.raw.Clear()
	w.filtered.Clear()
}

// Read runs fn with the windows locked. fn must not keep the windows or their Data slices.
func (w *Windows) Read(fn func(time, raw, filtered *buffers.ScrollWindow[float64])) {
	w.mu.Lock()
	defer w.mu.Unlock()

	fn(w.time, w.raw, w.filtered)
}

// Count is the number of visible samples.
func (w *Windows) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.time.Count()
}

// latest returns the newest time index, false when empty. Callers hold mu.
func (w *Windows) latest() (float64, bool) {
	if w.time.Count() == 0 {
		return 0, false
	}
	return w.time.Back(), true
}
