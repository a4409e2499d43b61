// Package store persists recording sessions, detection events, and
// alerts in an embedded SQLite database.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/numia-vision/vision-server/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid        TEXT NOT NULL UNIQUE,
	camera_id   TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	ended_at    TEXT,
	notes       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS detections (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	camera_id       TEXT NOT NULL,
	person_count    INTEGER NOT NULL,
	avg_confidence  REAL NOT NULL,
	persons_json    TEXT NOT NULL DEFAULT '[]',
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_detections_created ON detections(created_at);
CREATE INDEX IF NOT EXISTS idx_detections_camera ON detections(camera_id);

CREATE TABLE IF NOT EXISTS alerts (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	camera_id     TEXT NOT NULL,
	person_count  INTEGER NOT NULL,
	threshold     INTEGER NOT NULL,
	acknowledged  INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL
);
`

// Store wraps the SQLite handle. Methods are safe for concurrent use;
// database/sql serializes access and the driver runs in WAL mode.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	logger.Info("Store", "database ready at %s", path)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// now returns the current UTC time formatted so SQLite's strftime can
// operate on it directly.
func now() string {
	return time.Now().UTC().Format("2006-01-02 15:04:05")
}
