package processing

import (
	"bufio"
	"fmt"
	"io"
	"sync"
)

// Default vertical limits of the plots in volts.
const (
	DefaultDownLimit = -7.0
	DefaultUpLimit   = 7.0
)

// Bounds are the axis limits of the time plots.
type Bounds struct {
	Left  float64
	Right float64
	Down  float64
	Up    float64
}

// Snapshot is a point in time copy of the visible windows. Index i of every slice comes
// from the same acquisition iteration.
type Snapshot struct {
	Bounds   Bounds
	FrozenAt float64

	time     []float64
	raw      []float64
	filtered []float64
}

func (s *Snapshot) Count() int {
	return len(s.time)
}

func (s *Snapshot) At(i int) (t, raw, filtered float64) {
	return s.time[i], s.raw[i], s.filtered[i]
}

func (s *Snapshot) Time() []float64 {
	return append([]float64(nil), s.time...)
}

func (s *Snapshot) Raw() []float64 {
	return append([]float64(nil), s.raw...)
}

func (s *Snapshot) Filtered() []float64 {
	return append([]float64(nil), s.filtered...)
}

// WriteCSV writes one `time,raw,filtered` row per sample.
func (s *Snapshot) WriteCSV(w io.Writer) error {
	writer := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(writer, "time,raw,filtered"); err != nil {
		return err
	}
	for i := range s.time {
		if _, err := fmt.Fprintf(writer, "%.6f,%.4f,%.4f\n", s.time[i], s.raw[i], s.filtered[i]); err != nil {
			return err
		}
	}
	return writer.Flush()
}

// Coordinator switches consumers between the live windows and a frozen snapshot.
// Acquisition never pauses; freezing only copies the windows under their lock.
//
// Lock order is Coordinator.mu before Windows.mu.
type Coordinator struct {
	windows *Windows
	visible float64

	mu       sync.Mutex
	snapshot *Snapshot
	zoom     Bounds
	down, up float64
}

func newCoordinator(windows *Windows, visibleSeconds float64) *Coordinator {
	return &Coordinator{
		windows: windows,
		visible: visibleSeconds,
		down:    DefaultDownLimit,
		up:      DefaultUpLimit,
	}
}

// Freeze copies the visible windows into a new snapshot. Freezing twice is a no-op and returns false.
func (c *Coordinator) Freeze() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot != nil {
		return false
	}

	w := c.windows
	w.mu.Lock()
	count := w.time.Count()
	snap := &Snapshot{
		time:     make([]float64, count),
		raw:      make([]float64, count),
		filtered: make([]float64, count),
	}
	for i := 0; i < count; i++ {
		snap.time[i] = w.time.At(i)
		snap.raw[i] = w.raw.At(i)
		snap.filtered[i] = w.filtered.At(i)
	}
	latest, _ := w.latest()
	w.mu.Unlock()

	snap.FrozenAt = latest
	snap.Bounds = c.follow(latest)
	c.snapshot = snap
	c.zoom = snap.Bounds
	return true
}

// Unfreeze drops the snapshot. It returns false when there was nothing to drop.
func (c *Coordinator) Unfreeze() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot == nil {
		return false
	}
	c.snapshot = nil
	return true
}

func (c *Coordinator) Toggle() bool {
	if c.Unfreeze() {
		return false
	}
	c.Freeze()
	return true
}

func (c *Coordinator) IsFrozen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshot != nil
}

// Snapshot returns the frozen snapshot, or false while live.
func (c *Coordinator) Snapshot() (*Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshot, c.snapshot != nil
}

// Bounds returns the frozen view bounds while frozen. Live bounds follow the newest sample
// once more than the visible span has been acquired.
func (c *Coordinator) Bounds() Bounds {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot != nil {
		return c.zoom
	}

	c.windows.mu.Lock()
	latest, _ := c.windows.latest()
	c.windows.mu.Unlock()

	return c.follow(latest)
}

// SetLimits changes the vertical limits. While frozen only the frozen view is zoomed,
// the snapshot keeps the bounds it was taken with.
func (c *Coordinator) SetLimits(down, up float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot != nil {
		c.zoom.Down, c.zoom.Up = down, up
		return
	}
	c.down, c.up = down, up
}

// ZoomFrozen sets the horizontal range of the frozen view. It is ignored while live.
func (c *Coordinator) ZoomFrozen(left, right float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot == nil {
		return
	}
	c.zoom.Left, c.zoom.Right = max(0, left), right
}

func (c *Coordinator) follow(latest float64) Bounds {
	b := Bounds{Left: 0, Right: c.visible, Down: c.down, Up: c.up}
	if latest > c.visible {
		b.Left, b.Right = latest-c.visible, latest
	}
	return b
}
