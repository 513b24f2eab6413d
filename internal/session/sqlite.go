package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mwortham/reeve/internal/llm"
)

// SQLiteStore is a SQLite-backed session store: one row per session
// plus one row per message, replaced wholesale on save.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at dbPath
// with WAL journaling and a busy timeout, and ensures the schema.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store, err := NewStoreWithDB(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStoreWithDB wraps an already-open database handle and ensures the
// schema. Tests use this with an in-memory database on the pure-Go
// driver.
func NewStoreWithDB(db *sql.DB, logger *slog.Logger) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db, logger: logger}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

// migrate creates the database schema.
func (s *SQLiteStore) migrate() error {
	schema := `
	-- One row per user session
	CREATE TABLE IF NOT EXISTS sessions (
		user_id        INTEGER PRIMARY KEY,
		selected_model TEXT NOT NULL DEFAULT '',
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL
	);

	-- Conversation history, replaced wholesale on save
	CREATE TABLE IF NOT EXISTS session_messages (
		user_id      INTEGER NOT NULL,
		seq          INTEGER NOT NULL,
		role         TEXT NOT NULL,
		content      TEXT NOT NULL,
		tool_calls   TEXT,
		tool_call_id TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (user_id, seq)
	);`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load returns the persisted session for userID, or (nil, nil) when
// none exists. History comes back exactly as saved; sanitizing it for
// replay is the registry's job.
func (s *SQLiteStore) Load(ctx context.Context, userID int64) (*Session, error) {
	sess := &Session{UserID: userID}

	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT selected_model, created_at, updated_at FROM sessions WHERE user_id = ?`,
		userID,
	).Scan(&sess.SelectedModel, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	sess.CreatedAt = parseStoredTime(createdAt)
	sess.UpdatedAt = parseStoredTime(updatedAt)

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, tool_calls, tool_call_id FROM session_messages WHERE user_id = ? ORDER BY seq`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m         llm.Message
			toolCalls sql.NullString
		)
		if err := rows.Scan(&m.Role, &m.Content, &toolCalls, &m.ToolCallID); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				s.logger.Warn("dropping unreadable tool_calls column",
					"user", userID, "error", err)
			}
		}
		sess.Messages = append(sess.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return sess, nil
}

// Save upserts the session row and replaces its messages in one
// transaction.
func (s *SQLiteStore) Save(ctx context.Context, sess *Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (user_id, selected_model, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			selected_model = excluded.selected_model,
			updated_at     = excluded.updated_at`,
		sess.UserID, sess.SelectedModel,
		formatStoredTime(sess.CreatedAt), formatStoredTime(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM session_messages WHERE user_id = ?`, sess.UserID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO session_messages (user_id, seq, role, content, tool_calls, tool_call_id)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range sess.Messages {
		var toolCalls any
		if len(m.ToolCalls) > 0 {
			b, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("marshal tool calls: %w", err)
			}
			toolCalls = string(b)
		}
		if _, err := stmt.ExecContext(ctx,
			sess.UserID, i, m.Role, m.Content, toolCalls, m.ToolCallID); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// Delete removes a session and its messages.
func (s *SQLiteStore) Delete(ctx context.Context, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM session_messages WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	return tx.Commit()
}

// List summarizes every persisted session, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.user_id, s.selected_model, s.updated_at, COUNT(m.user_id)
		FROM sessions s
		LEFT JOIN session_messages m ON m.user_id = s.user_id
		GROUP BY s.user_id
		ORDER BY s.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum       Summary
			updatedAt string
		)
		if err := rows.Scan(&sum.UserID, &sum.SelectedModel, &updatedAt, &sum.Messages); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.UpdatedAt = parseStoredTime(updatedAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// formatStoredTime renders a timestamp for a TEXT column. Zero times
// become now so a hand-built session never stores the zero value.
func formatStoredTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseStoredTime is lenient: an unparseable column yields a zero time
// rather than failing the load.
func parseStoredTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
