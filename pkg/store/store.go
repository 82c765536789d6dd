// Package store keeps LOOP scripts and the results of running them in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
	_ "modernc.org/sqlite"

	"github.com/antibyte/looplang/pkg/configuration"
	"github.com/antibyte/looplang/pkg/logger"
)

// ErrScriptNotFound is returned by GetScript and DeleteScript.
var ErrScriptNotFound = errors.New("script not found")

// Script is a named LOOP source.
type Script struct {
	Name      string
	Source    string
	Hash      string // blake2b-256 of Source, hex encoded
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Run is one recorded execution. Script is empty for unnamed sources.
type Run struct {
	ID         string
	Script     string
	SessionID  string
	SourceHash string
	Output     string
	Truncated  bool
	Error      string
	Statements int
	StartedAt  time.Time
	Duration   time.Duration
}

// Store wraps the SQLite connection.
type Store struct {
	conn      *sql.DB
	maxOutput int
}

// Open connects to the database at path and creates the tables.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{
		conn:      db,
		maxOutput: configuration.GetInt("Store", "max_output_kb", 256) * 1024,
	}
	if err := s.CreateTables(); err != nil {
		db.Close()
		return nil, err
	}
	logger.StoreInfo("Database opened: %s", path)
	return s, nil
}

// OpenFromConfig opens [Store] database.
func OpenFromConfig() (*Store, error) {
	return Open(configuration.GetString("Store", "database", "looplang.db"))
}

// Close closes the connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// CreateTables ensures all required tables exist.
func (s *Store) CreateTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS scripts (
			name TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			hash TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			script TEXT,
			session_id TEXT,
			source_hash TEXT,
			output TEXT,
			truncated INTEGER DEFAULT 0,
			error TEXT,
			statements INTEGER DEFAULT 0,
			started_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_script ON runs(script, started_at)`,
	}

	for _, query := range queries {
		if _, err := s.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// HashSource returns the hex blake2b-256 digest of src.
func HashSource(src string) string {
	sum := blake2b.Sum256([]byte(src))
	return hex.EncodeToString(sum[:])
}

// SaveScript stores src under name, replacing an earlier version.
// changed is false when the stored source was already identical.
func (s *Store) SaveScript(ctx context.Context, name, src string) (script Script, changed bool, err error) {
	if name == "" {
		return Script{}, false, fmt.Errorf("script name must not be empty")
	}
	hash := HashSource(src)
	now := time.Now()

	existing, err := s.GetScript(ctx, name)
	switch {
	case errors.Is(err, ErrScriptNotFound):
		_, err = s.conn.ExecContext(ctx,
			`INSERT INTO scripts (name, source, hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			name, src, hash, now.Unix(), now.Unix())
		if err != nil {
			return Script{}, false, fmt.Errorf("failed to insert script %s: %w", name, err)
		}
		logger.StoreInfo("Script %s saved (%s)", name, hash[:12])
		return Script{Name: name, Source: src, Hash: hash, CreatedAt: time.Unix(now.Unix(), 0), UpdatedAt: time.Unix(now.Unix(), 0)}, true, nil
	case err != nil:
		return Script{}, false, err
	case existing.Hash == hash:
		return existing, false, nil
	}

	_, err = s.conn.ExecContext(ctx,
		`UPDATE scripts SET source = ?, hash = ?, updated_at = ? WHERE name = ?`,
		src, hash, now.Unix(), name)
	if err != nil {
		return Script{}, false, fmt.Errorf("failed to update script %s: %w", name, err)
	}
	logger.StoreInfo("Script %s updated (%s -> %s)", name, existing.Hash[:12], hash[:12])
	existing.Source = src
	existing.Hash = hash
	existing.UpdatedAt = time.Unix(now.Unix(), 0)
	return existing, true, nil
}

// GetScript loads the script called name.
func (s *Store) GetScript(ctx context.Context, name string) (Script, error) {
	var script Script
	var created, updated int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT name, source, hash, created_at, updated_at FROM scripts WHERE name = ?`, name).
		Scan(&script.Name, &script.Source, &script.Hash, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Script{}, fmt.Errorf("%w: %s", ErrScriptNotFound, name)
	}
	if err != nil {
		return Script{}, fmt.Errorf("failed to load script %s: %w", name, err)
	}
	script.CreatedAt = time.Unix(created, 0)
	script.UpdatedAt = time.Unix(updated, 0)
	return script, nil
}

// ListScripts returns all scripts by name, without their source.
func (s *Store) ListScripts(ctx context.Context) ([]Script, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT name, hash, created_at, updated_at FROM scripts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scripts: %w", err)
	}
	defer rows.Close()

	var scripts []Script
	for rows.Next() {
		var script Script
		var created, updated int64
		if err := rows.Scan(&script.Name, &script.Hash, &created, &updated); err != nil {
			return nil, err
		}
		script.CreatedAt = time.Unix(created, 0)
		script.UpdatedAt = time.Unix(updated, 0)
		scripts = append(scripts, script)
	}
	return scripts, rows.Err()
}

// DeleteScript removes a script. Its recorded runs are kept.
func (s *Store) DeleteScript(ctx context.Context, name string) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM scripts WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete script %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrScriptNotFound, name)
	}
	logger.StoreInfo("Script %s deleted", name)
	return nil
}

// RecordRun stores run, assigning an ID when it has none and cutting the
// output down to [Store] max_output_kb.
func (s *Store) RecordRun(ctx context.Context, run Run) (Run, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if s.maxOutput > 0 && len(run.Output) > s.maxOutput {
		run.Output = truncateUTF8(run.Output, s.maxOutput)
		run.Truncated = true
	}

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO runs (id, script, session_id, source_hash, output, truncated, error, statements, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Script, run.SessionID, run.SourceHash, run.Output, boolToInt(run.Truncated),
		run.Error, run.Statements, run.StartedAt.UnixMilli(), run.Duration.Milliseconds())
	if err != nil {
		logger.StoreError("Failed to record run %s: %v", run.ID, err)
		return run, fmt.Errorf("failed to record run: %w", err)
	}
	logger.StoreDebug("Run %s recorded (script=%q, %d statements)", run.ID, run.Script, run.Statements)
	return run, nil
}

// History returns the latest runs, newest first. An empty script matches
// every run; limit <= 0 means no limit.
func (s *Store) History(ctx context.Context, script string, limit int) ([]Run, error) {
	query := `SELECT id, script, session_id, source_hash, output, truncated, error, statements, started_at, duration_ms FROM runs`
	var args []interface{}
	if script != "" {
		query += ` WHERE script = ?`
		args = append(args, script)
	}
	query += ` ORDER BY started_at DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var scriptName, sessionID, hash, output, errText sql.NullString
		var truncated int
		var started, durationMS int64
		if err := rows.Scan(&run.ID, &scriptName, &sessionID, &hash, &output, &truncated,
			&errText, &run.Statements, &started, &durationMS); err != nil {
			return nil, err
		}
		run.Script = scriptName.String
		run.SessionID = sessionID.String
		run.SourceHash = hash.String
		run.Output = output.String
		run.Error = errText.String
		run.Truncated = truncated != 0
		run.StartedAt = time.UnixMilli(started)
		run.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
