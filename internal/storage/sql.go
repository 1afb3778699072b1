package storage

const (
	initSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    start_time    TIMESTAMP NOT NULL,
    port          TEXT NOT NULL,
    sampling_rate INTEGER NOT NULL,
    config        TEXT
);

CREATE TABLE IF NOT EXISTS spectra (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  INTEGER NOT NULL REFERENCES sessions (id),
    time_index  REAL NOT NULL,
    frequency   REAL NOT NULL,
    dc_offset   REAL NOT NULL,
    peak        REAL NOT NULL,
    bin_width   REAL NOT NULL,
    magnitudes  BLOB
);

CREATE INDEX IF NOT EXISTS idx_spectra_session ON spectra (session_id, time_index);

CREATE TABLE IF NOT EXISTS snapshots (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   INTEGER NOT NULL REFERENCES sessions (id),
    frozen_at    REAL NOT NULL,
    bound_left   REAL NOT NULL,
    bound_right  REAL NOT NULL,
    bound_down   REAL NOT NULL,
    bound_up     REAL NOT NULL,
    sample_count INTEGER NOT NULL,
    samples_csv  TEXT NOT NULL
);`

	insertSessionSQL = `
INSERT INTO sessions (
                      start_time,
                      port,
                      sampling_rate,
                      config)
VALUES (?, ?, ?, ?)`

	selectSessionsSQL = `
SELECT
    id,
    start_time,
    port,
    sampling_rate,
    config
FROM sessions
ORDER BY id`

	insertSpectrumSQL = `
INSERT INTO spectra (session_id,
                     time_index,
                     frequency,
                     dc_offset,
                     peak,
                     bin_width,
                     magnitudes)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	selectSpectraSQL = `
SELECT
    id,
    session_id,
    time_index,
    frequency,
    dc_offset,
    peak,
    bin_width,
    magnitudes
FROM spectra
WHERE
    session_id = ?
ORDER BY time_index`

	insertSnapshotSQL = `
INSERT INTO snapshots (session_id,
                       frozen_at,
                       bound_left,
                       bound_right,
                       bound_down,
                       bound_up,
                       sample_count,
                       samples_csv)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	selectSnapshotsSQL = `
SELECT
    id,
    session_id,
    frozen_at,
    bound_left,
    bound_right,
    bound_down,
    bound_up,
    sample_count,
    samples_csv
FROM snapshots
WHERE
    session_id = ?
ORDER BY id`
)
