package store

// Package store handles all database interactions using SQLite.
// It keeps the saved upload targets in most-recently-used order and the
// persisted log of upload outcomes, so both survive daemon restarts.

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"camera2url/internal/api"
	"camera2url/internal/history"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrTargetNotFound is returned when a target id does not exist.
var ErrTargetNotFound = errors.New("target not found")

// UploadRow represents a row in the 'uploads' table.
type UploadRow struct {
	ID       int64
	TargetID string
	history.Record
}

// Store wraps the SQL database connection.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore initializes the SQLite database connection and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", dbPath, err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the necessary tables and indexes if they don't exist.
func (s *Store) migrate() error {
	query := `
	PRAGMA journal_mode = WAL;
	CREATE TABLE IF NOT EXISTS targets (
		id TEXT PRIMARY KEY,
		verb TEXT NOT NULL,
		url TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		last_used INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (verb, url, note)
	);
	CREATE INDEX IF NOT EXISTS idx_targets_last_used ON targets(last_used);

	CREATE TABLE IF NOT EXISTS uploads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		capture_number INTEGER NOT NULL,
		origin TEXT NOT NULL,
		success INTEGER NOT NULL,
		status_code INTEGER,
		error_message TEXT,
		request_summary TEXT NOT NULL,
		response_summary TEXT,
		target_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_uploads_created_at ON uploads(created_at);
	`
	_, err := s.db.Exec(query)
	return err
}

// nextRank returns a value greater than every stored last_used rank.
func (s *Store) nextRank(tx *sql.Tx) (int64, error) {
	var rank int64
	err := tx.QueryRow(`SELECT COALESCE(MAX(last_used), 0) + 1 FROM targets`).Scan(&rank)
	return rank, err
}

// UpsertTarget saves a target and moves it to the front of the list.
// An existing target with the same normalized verb, url and note keeps its id.
func (s *Store) UpsertTarget(verb api.Verb, url, note string) (api.TargetConfig, error) {
	if verb == "" {
		verb = api.DefaultVerb
	}
	url = strings.TrimSpace(url)
	note = strings.TrimSpace(note)

	tx, err := s.db.Begin()
	if err != nil {
		return api.TargetConfig{}, err
	}
	defer tx.Rollback()

	rank, err := s.nextRank(tx)
	if err != nil {
		return api.TargetConfig{}, err
	}

	var id string
	err = tx.QueryRow(`SELECT id FROM targets WHERE verb = ? AND url = ? AND note = ?`,
		string(verb), url, note).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = uuid.NewString()
		_, err = tx.Exec(`
		INSERT INTO targets (id, verb, url, note, last_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, id, string(verb), url, note, rank, s.now().UTC())
	case err == nil:
		_, err = tx.Exec(`UPDATE targets SET last_used = ? WHERE id = ?`, rank, id)
	}
	if err != nil {
		return api.TargetConfig{}, fmt.Errorf("failed to save target: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return api.TargetConfig{}, err
	}
	return api.TargetConfig{ID: id, Verb: verb, URL: url, Note: note}, nil
}

// ListTargets returns every saved target, most recently used first.
func (s *Store) ListTargets() ([]api.TargetConfig, error) {
	rows, err := s.db.Query(`
	SELECT id, verb, url, note
	FROM targets
	ORDER BY last_used DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []api.TargetConfig
	for rows.Next() {
		var t api.TargetConfig
		var verb string
		if err := rows.Scan(&t.ID, &verb, &t.URL, &t.Note); err != nil {
			return nil, err
		}
		t.Verb = api.Verb(verb)
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// CurrentTarget returns the most recently used target.
func (s *Store) CurrentTarget() (api.TargetConfig, bool, error) {
	var t api.TargetConfig
	var verb string
	err := s.db.QueryRow(`
	SELECT id, verb, url, note
	FROM targets
	ORDER BY last_used DESC
	LIMIT 1
	`).Scan(&t.ID, &verb, &t.URL, &t.Note)
	if errors.Is(err, sql.ErrNoRows) {
		return api.TargetConfig{}, false, nil
	}
	if err != nil {
		return api.TargetConfig{}, false, err
	}
	t.Verb = api.Verb(verb)
	return t, true, nil
}

// SelectTarget moves the target with the given id to the front.
func (s *Store) SelectTarget(id string) (api.TargetConfig, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return api.TargetConfig{}, err
	}
	defer tx.Rollback()

	rank, err := s.nextRank(tx)
	if err != nil {
		return api.TargetConfig{}, err
	}
	res, err := tx.Exec(`UPDATE targets SET last_used = ? WHERE id = ?`, rank, id)
	if err != nil {
		return api.TargetConfig{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return api.TargetConfig{}, fmt.Errorf("%w: %s", ErrTargetNotFound, id)
	}
	if err := tx.Commit(); err != nil {
		return api.TargetConfig{}, err
	}

	t, _, err := s.CurrentTarget()
	return t, err
}

// DeleteTarget removes a target by id.
func (s *Store) DeleteTarget(id string) error {
	res, err := s.db.Exec(`DELETE FROM targets WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, id)
	}
	return nil
}

// DeleteAllTargets removes every saved target.
func (s *Store) DeleteAllTargets() error {
	_, err := s.db.Exec(`DELETE FROM targets`)
	return err
}

// RecordUpload appends an outcome to the persisted log.
func (s *Store) RecordUpload(r history.Record, targetID string) error {
	query := `
	INSERT INTO uploads (capture_number, origin, success, status_code, error_message,
		request_summary, response_summary, target_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
	`
	_, err := s.db.Exec(query,
		r.CaptureNumber,
		string(r.Origin),
		r.Success,
		nullInt(r.StatusCode),
		nullString(r.ErrorMessage),
		r.RequestSummary,
		nullString(r.ResponseSummary),
		targetID,
		r.Timestamp.UTC(),
	)
	return err
}

// ListUploads returns up to limit outcomes, newest first.
func (s *Store) ListUploads(limit int) ([]UploadRow, error) {
	if limit <= 0 {
		limit = history.MaxRecords
	}
	query := `
	SELECT id, capture_number, origin, success, status_code, error_message,
		request_summary, response_summary, target_id, created_at
	FROM uploads
	ORDER BY created_at DESC, id DESC
	LIMIT ?
	`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UploadRow
	for rows.Next() {
		var u UploadRow
		var origin string
		var status sql.NullInt64
		var message, response sql.NullString
		err := rows.Scan(&u.ID, &u.CaptureNumber, &origin, &u.Success, &status, &message,
			&u.RequestSummary, &response, &u.TargetID, &u.Timestamp)
		if err != nil {
			return nil, err
		}
		u.Origin = history.Origin(origin)
		if status.Valid {
			code := int(status.Int64)
			u.StatusCode = &code
		}
		if message.Valid {
			u.ErrorMessage = &message.String
		}
		if response.Valid {
			u.ResponseSummary = &response.String
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CountUploads returns the number of persisted outcomes.
func (s *Store) CountUploads() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM uploads`).Scan(&n)
	return n, err
}

// DeleteUploadsBefore removes outcomes recorded before cutoff.
func (s *Store) DeleteUploadsBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM uploads WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteOldestUploads removes the n oldest outcomes.
func (s *Store) DeleteOldestUploads(n int) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	res, err := s.db.Exec(`
	DELETE FROM uploads WHERE id IN (
		SELECT id FROM uploads ORDER BY created_at ASC, id ASC LIMIT ?
	)`, n)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClearUploads removes every persisted outcome.
func (s *Store) ClearUploads() error {
	_, err := s.db.Exec(`DELETE FROM uploads`)
	return err
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
