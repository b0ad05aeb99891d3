// Package journal persists session activity to sqlite: pose samples,
// relocalization marks, save progress, map saves, and metadata edits.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/meridian-robotics/areatrack/internal/db"
	"github.com/meridian-robotics/areatrack/internal/tracker"
)

// SessionRecord is one row of the sessions table.
type SessionRecord struct {
	SessionID     string     `json:"session_id"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	Learning      bool       `json:"learning"`
	LoadedUUID    string     `json:"loaded_uuid,omitempty"`
	ModuleVersion string     `json:"module_version,omitempty"`
}

// PoseRow is one journaled pose sample.
type PoseRow struct {
	SessionID string    `json:"session_id"`
	FramePair string    `json:"frame_pair"`
	ModuleTS  float64   `json:"module_ts"`
	Tx        float64   `json:"tx"`
	Ty        float64   `json:"ty"`
	Tz        float64   `json:"tz"`
	Qx        float64   `json:"qx"`
	Qy        float64   `json:"qy"`
	Qz        float64   `json:"qz"`
	Qw        float64   `json:"qw"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// RelocalizationRow marks the first valid device-in-area fix of a session.
type RelocalizationRow struct {
	SessionID string    `json:"session_id"`
	ModuleTS  float64   `json:"module_ts"`
	MapUUID   string    `json:"map_uuid,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressRow is one journaled save-progress percentage.
type ProgressRow struct {
	SessionID string    `json:"session_id"`
	Percent   int       `json:"percent"`
	Timestamp time.Time `json:"timestamp"`
}

// MapSaveRow records a successful area description save.
type MapSaveRow struct {
	SessionID string    `json:"session_id"`
	MapUUID   string    `json:"map_uuid"`
	Timestamp time.Time `json:"timestamp"`
}

// MetadataEditRow records a persisted metadata write.
type MetadataEditRow struct {
	SessionID string    `json:"session_id"`
	MapUUID   string    `json:"map_uuid"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// RateBucket is a per-second pose count for rate charts.
type RateBucket struct {
	Bucket string `json:"bucket"`
	Count  int64  `json:"count"`
}

// Store persists and queries journal rows.
type Store struct {
	db *db.DB
}

// NewStore creates a Store over an open journal database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// StartSession inserts the session row at connect time.
func (s *Store) StartSession(rec SessionRecord) error {
	query := `
		INSERT INTO sessions (session_id, started_at, learning, loaded_uuid, module_version)
		VALUES (?, ?, ?, ?, ?)
	`
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			rec.SessionID,
			rec.StartedAt.UTC().Format(time.RFC3339),
			rec.Learning,
			nullStr(rec.LoadedUUID),
			nullStr(rec.ModuleVersion),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("starting session %s: %w", rec.SessionID, err)
	}
	return nil
}

// EndSession stamps the session row at disconnect time.
func (s *Store) EndSession(sessionID string, endedAt time.Time) error {
	query := `UPDATE sessions SET ended_at = ? WHERE session_id = ?`
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query, endedAt.UTC().Format(time.RFC3339), sessionID)
		return err
	})
	if err != nil {
		return fmt.Errorf("ending session %s: %w", sessionID, err)
	}
	return nil
}

// RecordPose appends one pose sample.
func (s *Store) RecordPose(sessionID string, p tracker.Pose) error {
	query := `
		INSERT INTO pose_samples (session_id, frame_pair, module_ts, tx, ty, tz, qx, qy, qz, qw, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	q := p.Transform.Orientation
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			sessionID,
			p.Pair.String(),
			p.Timestamp,
			p.Transform.Translation[0],
			p.Transform.Translation[1],
			p.Transform.Translation[2],
			q.Imag, q.Jmag, q.Kmag, q.Real,
			p.Status.String(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("recording pose for session %s: %w", sessionID, err)
	}
	return nil
}

// RecordRelocalization appends a relocalization mark.
func (s *Store) RecordRelocalization(sessionID string, moduleTS float64, mapUUID string) error {
	query := `INSERT INTO relocalizations (session_id, module_ts, map_uuid) VALUES (?, ?, ?)`
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query, sessionID, moduleTS, nullStr(mapUUID))
		return err
	})
	if err != nil {
		return fmt.Errorf("recording relocalization for session %s: %w", sessionID, err)
	}
	return nil
}

// RecordProgress appends one save-progress percentage.
func (s *Store) RecordProgress(sessionID string, percent int) error {
	query := `INSERT INTO progress_samples (session_id, percent) VALUES (?, ?)`
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query, sessionID, percent)
		return err
	})
	if err != nil {
		return fmt.Errorf("recording progress for session %s: %w", sessionID, err)
	}
	return nil
}

// RecordMapSave appends a successful save.
func (s *Store) RecordMapSave(sessionID, mapUUID string) error {
	query := `INSERT INTO map_saves (session_id, map_uuid) VALUES (?, ?)`
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query, sessionID, mapUUID)
		return err
	})
	if err != nil {
		return fmt.Errorf("recording map save for session %s: %w", sessionID, err)
	}
	return nil
}

// RecordMetadataEdit appends a persisted metadata write.
func (s *Store) RecordMetadataEdit(sessionID, mapUUID, key, value string) error {
	query := `INSERT INTO metadata_edits (session_id, map_uuid, key, value) VALUES (?, ?, ?, ?)`
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query, sessionID, mapUUID, key, value)
		return err
	})
	if err != nil {
		return fmt.Errorf("recording metadata edit for session %s: %w", sessionID, err)
	}
	return nil
}

// Session returns a single session row, or nil when it does not exist.
func (s *Store) Session(sessionID string) (*SessionRecord, error) {
	query := `
		SELECT session_id, started_at, ended_at, learning, loaded_uuid, module_version
		FROM sessions
		WHERE session_id = ?
	`
	var rec SessionRecord
	var endedAt sql.NullTime
	var loadedUUID, moduleVersion sql.NullString
	err := s.db.QueryRow(query, sessionID).Scan(
		&rec.SessionID, &rec.StartedAt, &endedAt, &rec.Learning, &loadedUUID, &moduleVersion,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying session %s: %w", sessionID, err)
	}
	if endedAt.Valid {
		t := endedAt.Time
		rec.EndedAt = &t
	}
	if loadedUUID.Valid {
		rec.LoadedUUID = loadedUUID.String
	}
	if moduleVersion.Valid {
		rec.ModuleVersion = moduleVersion.String
	}
	return &rec, nil
}

// ListSessions returns recent sessions, most recent first.
func (s *Store) ListSessions(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := `
		SELECT session_id, started_at, ended_at, learning, loaded_uuid, module_version
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var endedAt sql.NullTime
		var loadedUUID, moduleVersion sql.NullString
		if err := rows.Scan(&rec.SessionID, &rec.StartedAt, &endedAt, &rec.Learning, &loadedUUID, &moduleVersion); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		if endedAt.Valid {
			t := endedAt.Time
			rec.EndedAt = &t
		}
		if loadedUUID.Valid {
			rec.LoadedUUID = loadedUUID.String
		}
		if moduleVersion.Valid {
			rec.ModuleVersion = moduleVersion.String
		}
		sessions = append(sessions, rec)
	}
	return sessions, rows.Err()
}

// RecentPoses returns the latest pose samples for a session, newest first.
// pair filters to one frame pair when non-empty.
func (s *Store) RecentPoses(sessionID, pair string, limit int) ([]PoseRow, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT session_id, frame_pair, module_ts, tx, ty, tz, qx, qy, qz, qw, status, timestamp
		FROM pose_samples
		WHERE session_id = ? AND (? = '' OR frame_pair = ?)
		ORDER BY rowid DESC
		LIMIT ?
	`
	rows, err := s.db.Query(query, sessionID, pair, pair, limit)
	if err != nil {
		return nil, fmt.Errorf("listing poses for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	return scanPoseRows(rows)
}

// PosePath returns the valid pose samples of one frame pair in insertion
// order, for trajectory rendering.
func (s *Store) PosePath(sessionID, pair string) ([]PoseRow, error) {
	query := `
		SELECT session_id, frame_pair, module_ts, tx, ty, tz, qx, qy, qz, qw, status, timestamp
		FROM pose_samples
		WHERE session_id = ? AND frame_pair = ? AND status = 'valid'
		ORDER BY rowid
	`
	rows, err := s.db.Query(query, sessionID, pair)
	if err != nil {
		return nil, fmt.Errorf("loading pose path for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	return scanPoseRows(rows)
}

func scanPoseRows(rows *sql.Rows) ([]PoseRow, error) {
	var poses []PoseRow
	for rows.Next() {
		var p PoseRow
		if err := rows.Scan(&p.SessionID, &p.FramePair, &p.ModuleTS,
			&p.Tx, &p.Ty, &p.Tz, &p.Qx, &p.Qy, &p.Qz, &p.Qw,
			&p.Status, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning pose row: %w", err)
		}
		poses = append(poses, p)
	}
	return poses, rows.Err()
}

// Relocalizations returns the relocalization marks of a session in order.
func (s *Store) Relocalizations(sessionID string) ([]RelocalizationRow, error) {
	query := `
		SELECT session_id, module_ts, map_uuid, timestamp
		FROM relocalizations
		WHERE session_id = ?
		ORDER BY rowid
	`
	rows, err := s.db.Query(query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing relocalizations for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var marks []RelocalizationRow
	for rows.Next() {
		var m RelocalizationRow
		var mapUUID sql.NullString
		if err := rows.Scan(&m.SessionID, &m.ModuleTS, &mapUUID, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning relocalization row: %w", err)
		}
		if mapUUID.Valid {
			m.MapUUID = mapUUID.String
		}
		marks = append(marks, m)
	}
	return marks, rows.Err()
}

// ProgressHistory returns a session's save-progress samples in order.
func (s *Store) ProgressHistory(sessionID string) ([]ProgressRow, error) {
	query := `
		SELECT session_id, percent, timestamp
		FROM progress_samples
		WHERE session_id = ?
		ORDER BY rowid
	`
	rows, err := s.db.Query(query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing progress for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var samples []ProgressRow
	for rows.Next() {
		var p ProgressRow
		if err := rows.Scan(&p.SessionID, &p.Percent, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning progress row: %w", err)
		}
		samples = append(samples, p)
	}
	return samples, rows.Err()
}

// SaveHistory returns recent map saves across all sessions, newest first.
func (s *Store) SaveHistory(limit int) ([]MapSaveRow, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := `
		SELECT session_id, map_uuid, timestamp
		FROM map_saves
		ORDER BY rowid DESC
		LIMIT ?
	`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing map saves: %w", err)
	}
	defer rows.Close()

	var saves []MapSaveRow
	for rows.Next() {
		var m MapSaveRow
		if err := rows.Scan(&m.SessionID, &m.MapUUID, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning map save row: %w", err)
		}
		saves = append(saves, m)
	}
	return saves, rows.Err()
}

// MetadataEdits returns the persisted metadata writes for one map, in order.
func (s *Store) MetadataEdits(mapUUID string) ([]MetadataEditRow, error) {
	query := `
		SELECT session_id, map_uuid, key, value, timestamp
		FROM metadata_edits
		WHERE map_uuid = ?
		ORDER BY rowid
	`
	rows, err := s.db.Query(query, mapUUID)
	if err != nil {
		return nil, fmt.Errorf("listing metadata edits for %s: %w", mapUUID, err)
	}
	defer rows.Close()

	var edits []MetadataEditRow
	for rows.Next() {
		var e MetadataEditRow
		if err := rows.Scan(&e.SessionID, &e.MapUUID, &e.Key, &e.Value, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning metadata edit row: %w", err)
		}
		edits = append(edits, e)
	}
	return edits, rows.Err()
}

// PoseCounts returns per-second pose sample counts for a session.
func (s *Store) PoseCounts(sessionID string) ([]RateBucket, error) {
	query := `
		SELECT strftime('%Y-%m-%dT%H:%M:%S', timestamp) AS bucket, COUNT(*)
		FROM pose_samples
		WHERE session_id = ?
		GROUP BY bucket
		ORDER BY bucket
	`
	rows, err := s.db.Query(query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("counting poses for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var buckets []RateBucket
	for rows.Next() {
		var b RateBucket
		if err := rows.Scan(&b.Bucket, &b.Count); err != nil {
			return nil, fmt.Errorf("scanning rate bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// nullStr returns nil for empty strings, pointer to string otherwise.
func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
