package processing

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"sleepywoodpecker/serial-scope/internal/buffers"
	"sleepywoodpecker/serial-scope/internal/device"
)

func TestCoordinator_FreezeWhileAcquiring(t *testing.T) {
	const total = 30000
	settings := testSettings(t)

	table := sineTable(t)
	expected := make([]byte, total)
	device.NewGenerator(table, 440, 3840).Fill(expected)

	sim := device.NewSimulator(device.NewGenerator(table, 440, 3840), 3840,
		device.Limit(total), device.WithReadTimeout(time.Millisecond))
	p := newTestPipeline(t, settings, func() (Transport, error) { return sim, nil })

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop()

	c := p.Coordinator()
	view := 2 * 3840
	for round := 0; round < 20; round++ {
		if !c.Freeze() {
			t.Fatalf("round %d: freeze was refused", round)
		}
		if c.Freeze() {
			t.Fatalf("round %d: second freeze must be a no-op", round)
		}

		snap, ok := c.Snapshot()
		if !ok {
			t.Fatalf("round %d: no snapshot while frozen", round)
		}

		acquired := 0
		if snap.Count() > 0 {
			acquired = int(math.Round(snap.FrozenAt*3840)) + 1
		}
		if snap.Count() != min(view, acquired) {
			t.Fatalf("round %d: expected %d samples, got %d", round, min(view, acquired), snap.Count())
		}

		prev := -1.0
		for i := 0; i < snap.Count(); i++ {
			ts, raw, filtered := snap.At(i)
			k := int(math.Round(ts * 3840))
			if want := settings.Mapper.Transform(expected[k]); raw != want {
				t.Fatalf("round %d index %d: raw %f does not belong to time %f", round, i, raw, ts)
			}
			if filtered != raw {
				t.Fatalf("round %d index %d: filtered %f torn from raw %f", round, i, filtered, raw)
			}
			if ts <= prev {
				t.Fatalf("round %d index %d: time is not increasing", round, i)
			}
			prev = ts
		}

		if !c.Unfreeze() {
			t.Fatalf("round %d: unfreeze was refused", round)
		}
		time.Sleep(time.Millisecond)
	}

	if c.Unfreeze() {
		t.Error("unfreeze while live must be a no-op")
	}
	if _, ok := c.Snapshot(); ok {
		t.Error("expected no snapshot while live")
	}

	// nothing acquired during the frozen intervals was lost
	waitFor(t, 5*time.Second, func() bool { return p.Status().Samples == total })
	p.Windows().Read(func(tw, rw, _ *buffers.ScrollWindow[float64]) {
		if tw.Count() != view {
			t.Fatalf("expected %d visible samples, got %d", view, tw.Count())
		}
		if got, want := tw.Back(), float64(total-1)/3840; math.Abs(got-want) > 1e-9 {
			t.Errorf("expected newest time %f, got %f", want, got)
		}
		for i := 0; i < view; i++ {
			if rw.At(i) != settings.Mapper.Transform(expected[total-view+i]) {
				t.Fatalf("live index %d does not match the acquired stream", i)
			}
		}
	})
}

func TestCoordinator_Bounds(t *testing.T) {
	settings := testSettings(t)
	p := newTestPipeline(t, settings, nil)
	c := p.Coordinator()

	if b := c.Bounds(); b.Left != 0 || b.Right != 2 || b.Down != DefaultDownLimit || b.Up != DefaultUpLimit {
		t.Errorf("unexpected initial bounds %+v", b)
	}

	p.Ingest(make([]byte, 3*3840))
	latest := float64(3*3840-1) / 3840
	if b := c.Bounds(); math.Abs(b.Right-latest) > 1e-9 || math.Abs(b.Left-(latest-2)) > 1e-9 {
		t.Errorf("expected bounds to follow the newest sample, got %+v", b)
	}

	c.SetLimits(-1, 1)
	c.Freeze()
	snap, _ := c.Snapshot()
	if snap.Bounds.Down != -1 || snap.Bounds.Up != 1 {
		t.Errorf("expected frozen bounds to keep the live limits, got %+v", snap.Bounds)
	}

	// zooming the frozen view leaves the snapshot and the live limits alone
	c.ZoomFrozen(-5, 1.5)
	c.SetLimits(-3, 3)
	if b := c.Bounds(); b.Left != 0 || b.Right != 1.5 || b.Down != -3 || b.Up != 3 {
		t.Errorf("unexpected frozen view bounds %+v", b)
	}
	if snap.Bounds.Down != -1 {
		t.Errorf("snapshot bounds changed: %+v", snap.Bounds)
	}

	p.Ingest(make([]byte, 100))
	if b := c.Bounds(); b.Right != 1.5 {
		t.Errorf("frozen bounds must not follow acquisition, got %+v", b)
	}

	c.Unfreeze()
	if b := c.Bounds(); b.Down != -1 || b.Up != 1 {
		t.Errorf("expected live limits to be restored, got %+v", b)
	}
}

func TestCoordinator_EmptyFreezeAndToggle(t *testing.T) {
	p := newTestPipeline(t, testSettings(t), nil)
	c := p.Coordinator()

	if !c.Toggle() {
		t.Fatal("expected toggle to freeze")
	}
	snap, ok := c.Snapshot()
	if !ok || snap.Count() != 0 {
		t.Fatalf("expected an empty snapshot, got %v %v", snap, ok)
	}
	if c.Toggle() {
		t.Fatal("expected toggle to unfreeze")
	}
	if c.IsFrozen() {
		t.Error("expected live state")
	}
}

func TestSnapshot_WriteCSV(t *testing.T) {
	p := newTestPipeline(t, testSettings(t), nil)
	p.Ingest([]byte{175, 49})
	p.Coordinator().Freeze()
	snap, _ := p.Coordinator().Snapshot()

	var buf bytes.Buffer
	if err := snap.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	want := "time,raw,filtered\n0.000000,-6.0000,-6.0000\n0.000260,6.0000,6.0000\n"
	if buf.String() != want {
		t.Errorf("unexpected CSV:\n%s", buf.String())
	}
	if !strings.HasPrefix(buf.String(), "time,") {
		t.Error("missing header")
	}
}
