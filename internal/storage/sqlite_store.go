package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"

	"sleepywoodpecker/serial-scope/internal/processing"
	"sleepywoodpecker/serial-scope/internal/spectrum"
)

// Store keeps acquisition sessions, the spectra computed during them and the snapshots
// taken by freezing, in a sqlite database.
type Store struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

func New(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *Store) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *Store) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		// the schema has to exist before a read only connection can see it
		if _, err := s.getWriteDB(); err != nil {
			s.readDBErr = err
			return
		}

		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

// CreateSession starts a session and returns its ID. config is stored as JSON.
func (s *Store) CreateSession(ctx context.Context, port string, samplingRate int, config any) (sessionID int64, err error) {
	var configData sql.NullString

	if config != nil {
		var p []byte
		if p, err = json.Marshal(config); err != nil {
			err = fmt.Errorf("marshaling config: %w", err)
			return
		}

		configData.Valid = true
		configData.String = string(p)
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	result, err := db.ExecContext(ctx, insertSessionSQL, time.Now().UTC(), port, samplingRate, configData)
	if err != nil {
		err = fmt.Errorf("inserting session: %w", err)
		return
	}

	return result.LastInsertId()
}

func (s *Store) Sessions(ctx context.Context) (sessions []SessionData, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		err = fmt.Errorf("querying sessions: %w", err)
		return
	}
	defer func() {
		if cErr := rows.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", cErr)
		}
	}()

	for rows.Next() {
		var sess SessionData
		if err = rows.Scan(&sess.ID, &sess.StartTime, &sess.Port, &sess.SamplingRate, &sess.Config); err != nil {
			err = fmt.Errorf("scanning session: %w", err)
			return
		}
		sessions = append(sessions, sess)
	}
	err = rows.Err()
	return
}

func (s *Store) InsertSpectrum(ctx context.Context, sessionID int64, at float64, result spectrum.Result) (spectrumID int64, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	res, err := db.ExecContext(ctx, insertSpectrumSQL,
		sessionID,
		at,
		result.Frequency,
		result.Offset,
		result.Peak,
		result.BinWidth,
		encodeFloats(result.Magnitudes),
	)
	if err != nil {
		err = fmt.Errorf("inserting spectrum: %w", err)
		return
	}

	return res.LastInsertId()
}

func (s *Store) Spectra(ctx context.Context, sessionID int64) (spectra []SpectrumData, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectSpectraSQL, sessionID)
	if err != nil {
		err = fmt.Errorf("querying spectra: %w", err)
		return
	}
	defer func() {
		if cErr := rows.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", cErr)
		}
	}()

	for rows.Next() {
		var (
			sp   SpectrumData
			blob []byte
		)
		if err = rows.Scan(&sp.ID, &sp.SessionID, &sp.TimeIndex, &sp.Frequency, &sp.Offset, &sp.Peak, &sp.BinWidth, &blob); err != nil {
			err = fmt.Errorf("scanning spectrum: %w", err)
			return
		}
		if sp.Magnitudes, err = decodeFloats(blob); err != nil {
			err = fmt.Errorf("decoding magnitudes of spectrum %d: %w", sp.ID, err)
			return
		}
		spectra = append(spectra, sp)
	}
	err = rows.Err()
	return
}

func (s *Store) SaveSnapshot(ctx context.Context, sessionID int64, snap *processing.Snapshot) (snapshotID int64, err error) {
	var samples bytes.Buffer
	if err = snap.WriteCSV(&samples); err != nil {
		err = fmt.Errorf("encoding snapshot: %w", err)
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	res, err := db.ExecContext(ctx, insertSnapshotSQL,
		sessionID,
		snap.FrozenAt,
		snap.Bounds.Left,
		snap.Bounds.Right,
		snap.Bounds.Down,
		snap.Bounds.Up,
		snap.Count(),
		samples.String(),
	)
	if err != nil {
		err = fmt.Errorf("inserting snapshot: %w", err)
		return
	}

	return res.LastInsertId()
}

func (s *Store) Snapshots(ctx context.Context, sessionID int64) (snapshots []SnapshotData, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectSnapshotsSQL, sessionID)
	if err != nil {
		err = fmt.Errorf("querying snapshots: %w", err)
		return
	}
	defer func() {
		if cErr := rows.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", cErr)
		}
	}()

	for rows.Next() {
		var snap SnapshotData
		b := &snap.Bounds
		if err = rows.Scan(&snap.ID, &snap.SessionID, &snap.FrozenAt, &b.Left, &b.Right, &b.Down, &b.Up, &snap.SampleCount, &snap.SamplesCSV); err != nil {
			err = fmt.Errorf("scanning snapshot: %w", err)
			return
		}
		snapshots = append(snapshots, snap)
	}
	err = rows.Err()
	return
}

// Close closes the database connections
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.readDB != nil {
			s.closeErr = multierr.Append(s.closeErr, s.readDB.Close())
			s.readDB = nil
		}
		if s.writeDB != nil {
			s.closeErr = multierr.Append(s.closeErr, s.writeDB.Close())
			s.writeDB = nil
		}
	})

	return s.closeErr
}

// SessionSink binds a session to the pipeline's spectrum output.
type SessionSink struct {
	store     *Store
	sessionID int64
}

func (s *Store) Sink(sessionID int64) *SessionSink {
	return &SessionSink{store: s, sessionID: sessionID}
}

func (s *SessionSink) SessionID() int64 {
	return s.sessionID
}

func (s *SessionSink) RecordSpectrum(ctx context.Context, at float64, result spectrum.Result) error {
	_, err := s.store.InsertSpectrum(ctx, s.sessionID, at, result)
	return err
}

func encodeFloats(values []float64) []byte {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

func decodeFloats(buf []byte) ([]float64, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 8", len(buf))
	}
	values := make([]float64, len(buf)/8)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return values, nil
}
