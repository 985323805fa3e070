package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/agentrelay/core"
)

// SQLiteStore is a CheckpointStore backed by a SQLite database file, so that
// canResume checkpoints survive process restarts and can feed auto-recovery.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures the
// checkpoint schema exists. Parent directories are created as needed.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode allows the checkpoint tick to write while status queries read.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		task_id     TEXT PRIMARY KEY,
		id          TEXT NOT NULL,
		timestamp   TEXT NOT NULL,
		state       TEXT,
		description TEXT,
		progress    REAL NOT NULL DEFAULT 0,
		can_resume  INTEGER NOT NULL DEFAULT 0
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Path returns the path to the database file.
func (s *SQLiteStore) Path() string { return s.dbPath }

// Save writes or replaces the checkpoint for its task.
func (s *SQLiteStore) Save(ctx context.Context, cp *core.TaskCheckpoint) error {
	state, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("encode checkpoint state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (task_id, id, timestamp, state, description, progress, can_resume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			id = excluded.id,
			timestamp = excluded.timestamp,
			state = excluded.state,
			description = excluded.description,
			progress = excluded.progress,
			can_resume = excluded.can_resume`,
		cp.TaskID, cp.ID, cp.Timestamp.UTC().Format(time.RFC3339Nano),
		string(state), cp.Description, cp.Progress, boolToInt(cp.CanResume),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.TaskID, err)
	}
	return nil
}

// Load returns the latest checkpoint for the task.
func (s *SQLiteStore) Load(ctx context.Context, taskID string) (*core.TaskCheckpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, id, timestamp, state, description, progress, can_resume
		FROM checkpoints WHERE task_id = ?`, taskID)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrCheckpointNotFound
	}
	return cp, err
}

// List returns all stored checkpoints, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]*core.TaskCheckpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, id, timestamp, state, description, progress, can_resume
		FROM checkpoints ORDER BY timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.TaskCheckpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Delete removes the checkpoint for the task. Missing entries are not an
// error.
func (s *SQLiteStore) Delete(ctx context.Context, taskID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", taskID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*core.TaskCheckpoint, error) {
	var (
		cp        core.TaskCheckpoint
		timestamp string
		state     sql.NullString
		canResume int
	)
	if err := row.Scan(&cp.TaskID, &cp.ID, &timestamp, &state, &cp.Description, &cp.Progress, &canResume); err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return nil, fmt.Errorf("parse checkpoint timestamp: %w", err)
	}
	cp.Timestamp = ts
	cp.CanResume = canResume != 0
	if state.Valid && state.String != "" && state.String != "null" {
		if err := json.Unmarshal([]byte(state.String), &cp.State); err != nil {
			return nil, fmt.Errorf("decode checkpoint state: %w", err)
		}
	}
	return &cp, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
