package storage

import (
	"database/sql"
	"time"

	"sleepywoodpecker/serial-scope/internal/processing"
)

type SessionData struct {
	ID           int64
	StartTime    time.Time
	Port         string
	SamplingRate int
	Config       sql.NullString
}

type SpectrumData struct {
	ID         int64
	SessionID  int64
	TimeIndex  float64
	Frequency  float64
	Offset     float64
	Peak       float64
	BinWidth   float64
	Magnitudes []float64
}

type SnapshotData struct {
	ID          int64
	SessionID   int64
	FrozenAt    float64
	Bounds      processing.Bounds
	SampleCount int
	// SamplesCSV is the snapshot as written by Snapshot.WriteCSV.
	SamplesCSV string
}
