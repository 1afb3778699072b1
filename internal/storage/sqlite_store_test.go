package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"sleepywoodpecker/serial-scope/internal/processing"
	"sleepywoodpecker/serial-scope/internal/spectrum"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := New(filepath.Join(t.TempDir(), "scope.db"))
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func TestStore_Sessions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.CreateSession(ctx, "/dev/ttyUSB0", 3840, map[string]int{"baud": 38400})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := store.CreateSession(ctx, "simulator", 1920, nil); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	sessions, err := store.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}

	first := sessions[0]
	if first.ID != id || first.Port != "/dev/ttyUSB0" || first.SamplingRate != 3840 {
		t.Errorf("unexpected session %+v", first)
	}
	if !first.Config.Valid || first.Config.String != `{"baud":38400}` {
		t.Errorf("unexpected config %+v", first.Config)
	}
	if first.StartTime.IsZero() {
		t.Error("expected a start time")
	}
	if sessions[1].Config.Valid {
		t.Error("expected no config for the second session")
	}
}

func TestStore_Spectra(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.CreateSession(ctx, "simulator", 3840, nil)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	sink := store.Sink(id)
	results := []spectrum.Result{
		{Frequency: 440, Offset: 0.5, Peak: 6, BinWidth: 1, Magnitudes: []float64{0.5, 0, 6, 0.25}},
		{Frequency: 441, Offset: -0.5, Peak: 5.5, BinWidth: 1},
	}
	for i, r := range results {
		if err := sink.RecordSpectrum(ctx, float64(i)*0.1, r); err != nil {
			t.Fatalf("RecordSpectrum failed: %v", err)
		}
	}

	spectra, err := store.Spectra(ctx, id)
	if err != nil {
		t.Fatalf("Spectra failed: %v", err)
	}
	if len(spectra) != 2 {
		t.Fatalf("expected 2 spectra, got %d", len(spectra))
	}

	got := spectra[0]
	if got.SessionID != id || got.Frequency != 440 || got.Offset != 0.5 || got.Peak != 6 || got.TimeIndex != 0 {
		t.Errorf("unexpected spectrum %+v", got)
	}
	if len(got.Magnitudes) != 4 || got.Magnitudes[2] != 6 || got.Magnitudes[3] != 0.25 {
		t.Errorf("magnitudes did not survive the round trip: %v", got.Magnitudes)
	}
	if len(spectra[1].Magnitudes) != 0 || spectra[1].TimeIndex != 0.1 {
		t.Errorf("unexpected second spectrum %+v", spectra[1])
	}

	other, err := store.Spectra(ctx, id+1)
	if err != nil || len(other) != 0 {
		t.Errorf("expected no spectra for another session, got %d (%v)", len(other), err)
	}
}

func TestStore_Snapshots(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mapper, err := processing.NewMapper(175, 49, true)
	if err != nil {
		t.Fatalf("NewMapper failed: %v", err)
	}
	settings := processing.Settings{
		SamplingRate:       100,
		MaxRetainedSeconds: 2,
		VisibleSeconds:     1,
		Mapper:             mapper,
	}
	p, err := processing.NewPipeline(settings, nil, nil, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	p.Ingest([]byte{175, 112, 49})
	p.Coordinator().Freeze()
	snap, ok := p.Coordinator().Snapshot()
	if !ok {
		t.Fatal("expected a snapshot")
	}

	id, err := store.CreateSession(ctx, "simulator", 100, nil)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := store.SaveSnapshot(ctx, id, snap); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	snapshots, err := store.Snapshots(ctx, id)
	if err != nil {
		t.Fatalf("Snapshots failed: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snapshots))
	}

	got := snapshots[0]
	if got.SampleCount != 3 || got.FrozenAt != snap.FrozenAt || got.Bounds != snap.Bounds {
		t.Errorf("unexpected snapshot %+v", got)
	}
	if lines := strings.Split(strings.TrimSpace(got.SamplesCSV), "\n"); len(lines) != 4 || lines[0] != "time,raw,filtered" {
		t.Errorf("unexpected samples csv %q", got.SamplesCSV)
	}
}

func TestFloatsEncoding(t *testing.T) {
	if _, err := decodeFloats([]byte{1, 2, 3}); err == nil {
		t.Error("expected an error for a truncated blob")
	}
	values, err := decodeFloats(encodeFloats([]float64{-1.5, 0, 3840}))
	if err != nil || len(values) != 3 || values[0] != -1.5 || values[2] != 3840 {
		t.Errorf("unexpected values %v (%v)", values, err)
	}
}
