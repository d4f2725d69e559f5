// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Keeps the tool invocation ledger with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS invocations (
			id            TEXT PRIMARY KEY,
			request_id    TEXT NOT NULL,
			agent_id      TEXT NOT NULL,
			tool_name     TEXT NOT NULL,
			transport     TEXT NOT NULL,
			success       INTEGER NOT NULL,
			error_kind    TEXT,
			error_message TEXT,
			duration_ms   INTEGER NOT NULL,
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_invocations_agent_created
			ON invocations(agent_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_invocations_tool_created
			ON invocations(tool_name, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// RecordInvocation appends a ledger row. Generates ID and CreatedAt if not set.
func (s *SQLiteStore) RecordInvocation(ctx context.Context, inv *Invocation) error {
	prepareInvocation(inv)

	query := `
		INSERT INTO invocations (id, request_id, agent_id, tool_name, transport, success, error_kind, error_message, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		inv.ID,
		inv.RequestID,
		inv.AgentID,
		inv.ToolName,
		inv.Transport,
		inv.Success,
		nullString(inv.ErrorKind),
		nullString(inv.ErrorMessage),
		inv.DurationMS,
		inv.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting invocation: %w", err)
	}

	s.logger.Debug("recorded invocation",
		"id", inv.ID,
		"agent_id", inv.AgentID,
		"tool_name", inv.ToolName,
		"success", inv.Success,
	)
	return nil
}

const invocationColumns = `id, request_id, agent_id, tool_name, transport, success, error_kind, error_message, duration_ms, created_at`

// GetInvocation returns one ledger row by ID.
func (s *SQLiteStore) GetInvocation(ctx context.Context, id string) (*Invocation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invocationColumns+` FROM invocations WHERE id = ?`, id)
	inv, err := scanInvocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ListInvocations returns rows matching f, newest first.
func (s *SQLiteStore) ListInvocations(ctx context.Context, f InvocationFilter) ([]*Invocation, error) {
	var since any
	if f.Since != nil {
		since = f.Since.UTC().Format(timeLayout)
	}
	agentID := nullString(f.AgentID)
	toolName := nullString(f.ToolName)

	query := `
		SELECT ` + invocationColumns + `
		FROM invocations
		WHERE (? IS NULL OR agent_id = ?)
		  AND (? IS NULL OR tool_name = ?)
		  AND (? IS NULL OR created_at >= ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query,
		agentID, agentID,
		toolName, toolName,
		since, since,
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying invocations: %w", err)
	}
	defer rows.Close()

	var out []*Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating invocations: %w", err)
	}
	return out, nil
}

// PruneInvocations deletes rows created before cutoff.
func (s *SQLiteStore) PruneInvocations(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM invocations WHERE created_at < ?",
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning invocations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned rows: %w", err)
	}
	if n > 0 {
		s.logger.Info("pruned invocations", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// scanInvocation scans a row into an Invocation.
func scanInvocation(scanner interface{ Scan(dest ...any) error }) (*Invocation, error) {
	var inv Invocation
	var errorKind, errorMessage sql.NullString
	var createdAt string

	if err := scanner.Scan(
		&inv.ID,
		&inv.RequestID,
		&inv.AgentID,
		&inv.ToolName,
		&inv.Transport,
		&inv.Success,
		&errorKind,
		&errorMessage,
		&inv.DurationMS,
		&createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning invocation: %w", err)
	}

	inv.ErrorKind = errorKind.String
	inv.ErrorMessage = errorMessage.String
	inv.Duration = time.Duration(inv.DurationMS) * time.Millisecond

	var err error
	inv.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &inv, nil
}

// prepareInvocation fills generated fields.
func prepareInvocation(inv *Invocation) {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}
	inv.CreatedAt = inv.CreatedAt.UTC()
	if inv.DurationMS == 0 && inv.Duration > 0 {
		inv.DurationMS = inv.Duration.Milliseconds()
	}
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
