package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/numia-vision/vision-server/internal/detect"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Session is one recording session of a camera.
type Session struct {
	ID        int64   `json:"id"`
	UUID      string  `json:"uuid"`
	CameraID  string  `json:"camera_id"`
	StartedAt string  `json:"started_at"`
	EndedAt   *string `json:"ended_at"`
	Notes     string  `json:"notes"`
}

// DetectionRecord is one persisted detection event.
type DetectionRecord struct {
	ID            int64   `json:"id"`
	CameraID      string  `json:"camera_id"`
	PersonCount   int     `json:"person_count"`
	AvgConfidence float64 `json:"avg_confidence"`
	CreatedAt     string  `json:"created_at"`
}

// Alert is an occupancy threshold violation awaiting acknowledgement.
type Alert struct {
	ID           int64  `json:"id"`
	CameraID     string `json:"camera_id"`
	PersonCount  int    `json:"person_count"`
	Threshold    int    `json:"threshold"`
	Acknowledged bool   `json:"acknowledged"`
	CreatedAt    string `json:"created_at"`
}

// TodayStats summarizes detection activity since local midnight UTC.
type TodayStats struct {
	TotalDetections int     `json:"total_detections"`
	MaxCount        int     `json:"max_count"`
	AvgCount        float64 `json:"avg_count"`
}

// HourlyBucket is one hour of today's detection activity.
type HourlyBucket struct {
	Hour     int     `json:"hour"`
	Total    int     `json:"total"`
	AvgCount float64 `json:"avg_count"`
}

// HeatmapBucket is one weekday/hour cell of the weekly activity grid.
type HeatmapBucket struct {
	Weekday  int     `json:"weekday"` // 0 = Sunday
	Hour     int     `json:"hour"`
	AvgCount float64 `json:"avg_count"`
}

// CreateSession starts a new session for a camera, ending any session
// still open for it first.
func (s *Store) CreateSession(cameraID, notes string) (Session, error) {
	ts := now()
	if _, err := s.db.Exec(
		`UPDATE sessions SET ended_at = ? WHERE camera_id = ? AND ended_at IS NULL`,
		ts, cameraID,
	); err != nil {
		return Session{}, fmt.Errorf("end previous session: %w", err)
	}

	sess := Session{
		UUID:      uuid.NewString(),
		CameraID:  cameraID,
		StartedAt: ts,
		Notes:     notes,
	}
	res, err := s.db.Exec(
		`INSERT INTO sessions (uuid, camera_id, started_at, notes) VALUES (?, ?, ?, ?)`,
		sess.UUID, sess.CameraID, sess.StartedAt, sess.Notes,
	)
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	sess.ID, _ = res.LastInsertId()
	return sess, nil
}

// ActiveSession returns the open session for a camera.
func (s *Store) ActiveSession(cameraID string) (Session, error) {
	row := s.db.QueryRow(
		`SELECT id, uuid, camera_id, started_at, ended_at, notes
		 FROM sessions WHERE camera_id = ? AND ended_at IS NULL
		 ORDER BY id DESC LIMIT 1`, cameraID)
	return scanSession(row)
}

// EndSession closes the session identified by uid.
func (s *Store) EndSession(uid string) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET ended_at = ? WHERE uuid = ? AND ended_at IS NULL`,
		now(), uid,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSessions returns up to limit sessions, newest first.
func (s *Store) ListSessions(limit int) ([]Session, error) {
	rows, err := s.db.Query(
		`SELECT id, uuid, camera_id, started_at, ended_at, notes
		 FROM sessions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// UpdateSessionNotes replaces the notes of the session identified by uid.
func (s *Store) UpdateSessionNotes(uid, notes string) error {
	res, err := s.db.Exec(`UPDATE sessions SET notes = ? WHERE uuid = ?`, notes, uid)
	if err != nil {
		return fmt.Errorf("update session notes: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes the session identified by uid.
func (s *Store) DeleteSession(uid string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE uuid = ?`, uid)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveDetection persists one detection event.
func (s *Store) SaveDetection(cameraID string, count int, avgConfidence float64, persons []detect.Person) error {
	blob, err := json.Marshal(persons)
	if err != nil {
		blob = []byte("[]")
	}
	_, err = s.db.Exec(
		`INSERT INTO detections (camera_id, person_count, avg_confidence, persons_json, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		cameraID, count, avgConfidence, string(blob), now(),
	)
	if err != nil {
		return fmt.Errorf("insert detection: %w", err)
	}
	return nil
}

// Today summarizes detection activity since UTC midnight.
func (s *Store) Today(cameraID string) (TodayStats, error) {
	var stats TodayStats
	err := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(MAX(person_count), 0), COALESCE(AVG(person_count), 0)
		 FROM detections
		 WHERE camera_id = ? AND date(created_at) = date('now')`,
		cameraID,
	).Scan(&stats.TotalDetections, &stats.MaxCount, &stats.AvgCount)
	if err != nil {
		return TodayStats{}, fmt.Errorf("today stats: %w", err)
	}
	return stats, nil
}

// Hourly returns per-hour detection activity for today.
func (s *Store) Hourly(cameraID string) ([]HourlyBucket, error) {
	rows, err := s.db.Query(
		`SELECT CAST(strftime('%H', created_at) AS INTEGER), COUNT(*), AVG(person_count)
		 FROM detections
		 WHERE camera_id = ? AND date(created_at) = date('now')
		 GROUP BY 1 ORDER BY 1`,
		cameraID,
	)
	if err != nil {
		return nil, fmt.Errorf("hourly stats: %w", err)
	}
	defer rows.Close()

	var out []HourlyBucket
	for rows.Next() {
		var b HourlyBucket
		if err := rows.Scan(&b.Hour, &b.Total, &b.AvgCount); err != nil {
			return nil, fmt.Errorf("scan hourly bucket: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// WeeklyHeatmap returns average occupancy per weekday/hour cell over
// the last seven days.
func (s *Store) WeeklyHeatmap(cameraID string) ([]HeatmapBucket, error) {
	rows, err := s.db.Query(
		`SELECT CAST(strftime('%w', created_at) AS INTEGER),
		        CAST(strftime('%H', created_at) AS INTEGER),
		        AVG(person_count)
		 FROM detections
		 WHERE camera_id = ? AND created_at >= datetime('now', '-7 days')
		 GROUP BY 1, 2 ORDER BY 1, 2`,
		cameraID,
	)
	if err != nil {
		return nil, fmt.Errorf("weekly heatmap: %w", err)
	}
	defer rows.Close()

	var out []HeatmapBucket
	for rows.Next() {
		var b HeatmapBucket
		if err := rows.Scan(&b.Weekday, &b.Hour, &b.AvgCount); err != nil {
			return nil, fmt.Errorf("scan heatmap bucket: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CreateAlert records a threshold violation.
func (s *Store) CreateAlert(cameraID string, count, threshold int) (Alert, error) {
	a := Alert{
		CameraID:    cameraID,
		PersonCount: count,
		Threshold:   threshold,
		CreatedAt:   now(),
	}
	res, err := s.db.Exec(
		`INSERT INTO alerts (camera_id, person_count, threshold, created_at) VALUES (?, ?, ?, ?)`,
		a.CameraID, a.PersonCount, a.Threshold, a.CreatedAt,
	)
	if err != nil {
		return Alert{}, fmt.Errorf("insert alert: %w", err)
	}
	a.ID, _ = res.LastInsertId()
	return a, nil
}

// PendingAlerts returns unacknowledged alerts, newest first.
func (s *Store) PendingAlerts(limit int) ([]Alert, error) {
	rows, err := s.db.Query(
		`SELECT id, camera_id, person_count, threshold, acknowledged, created_at
		 FROM alerts WHERE acknowledged = 0 ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending alerts: %w", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.ID, &a.CameraID, &a.PersonCount, &a.Threshold, &a.Acknowledged, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AcknowledgeAlert marks an alert as handled.
func (s *Store) AcknowledgeAlert(id int64) error {
	res, err := s.db.Exec(`UPDATE alerts SET acknowledged = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingAlertCount returns the number of unacknowledged alerts.
func (s *Store) PendingAlertCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM alerts WHERE acknowledged = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("pending alert count: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.UUID, &sess.CameraID, &sess.StartedAt, &sess.EndedAt, &sess.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	return sess, nil
}
