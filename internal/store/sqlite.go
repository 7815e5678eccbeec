package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quangdm/shopchat/internal/domain"
	"github.com/quangdm/shopchat/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements SessionStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serializes write paths to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed session store.
func NewSQLite(dbPath string) (SessionStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		profile_json TEXT,
		context_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls_json TEXT,
		context_json TEXT,
		created_at INTEGER NOT NULL,
		UNIQUE(session_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ensureSession creates the session row if it does not exist and bumps
// its updated_at timestamp. Callers must hold s.mu.
func (s *SQLiteStore) ensureSession(ctx context.Context, sessionID string) error {
	now := time.Now().Unix()
	query := `
	INSERT INTO sessions (session_id, context_json, created_at, updated_at)
	VALUES (?, '{}', ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, sessionID, now, now); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	return nil
}

// AddMessage appends a message to the session's history. The sequence
// number is assigned inside the insert so appends stay monotonic even
// under concurrent callers.
func (s *SQLiteStore) AddMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureSession(ctx, sessionID); err != nil {
		return err
	}

	var toolCallsJSON any
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCallsJSON = string(data)
	}

	var contextJSON any
	if len(msg.ContextSnapshot) > 0 {
		data, err := json.Marshal(msg.ContextSnapshot)
		if err != nil {
			return fmt.Errorf("marshal context snapshot: %w", err)
		}
		contextJSON = string(data)
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	query := `
	INSERT INTO messages (id, session_id, seq, role, content, tool_calls_json, context_json, created_at)
	SELECT ?, ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?, ?
	FROM messages WHERE session_id = ?`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID, sessionID, string(msg.Role), msg.Content,
		toolCallsJSON, contextJSON, ts.UnixMilli(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ConversationHistory returns the most recent limit messages, oldest first.
func (s *SQLiteStore) ConversationHistory(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	query := `
	SELECT id, role, content, tool_calls_json, context_json, created_at FROM (
		SELECT id, seq, role, content, tool_calls_json, context_json, created_at
		FROM messages WHERE session_id = ?
		ORDER BY seq DESC LIMIT ?
	) ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close history rows", "error", closeErr)
		}
	}()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var role string
		var toolCallsJSON, contextJSON sql.NullString
		var createdAt int64

		if err := rows.Scan(&msg.ID, &role, &msg.Content, &toolCallsJSON, &contextJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		msg.Role = domain.Role(role)
		msg.Timestamp = time.UnixMilli(createdAt)
		if toolCallsJSON.Valid {
			if err := json.Unmarshal([]byte(toolCallsJSON.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		if contextJSON.Valid {
			if err := json.Unmarshal([]byte(contextJSON.String), &msg.ContextSnapshot); err != nil {
				return nil, fmt.Errorf("unmarshal context snapshot: %w", err)
			}
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	return messages, nil
}

// Context returns the session's current merged context map.
func (s *SQLiteStore) Context(ctx context.Context, sessionID string) (map[string]any, error) {
	var contextJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT context_json FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&contextJSON)
	if err == sql.ErrNoRows {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query context: %w", err)
	}

	merged := map[string]any{}
	if err := json.Unmarshal([]byte(contextJSON), &merged); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	return merged, nil
}

// MergeContext applies an additive shallow merge, last-write-wins per key.
func (s *SQLiteStore) MergeContext(ctx context.Context, sessionID string, partial map[string]any) error {
	if len(partial) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureSession(ctx, sessionID); err != nil {
		return err
	}

	var contextJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT context_json FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&contextJSON)
	if err != nil {
		return fmt.Errorf("query context: %w", err)
	}

	merged := map[string]any{}
	if err := json.Unmarshal([]byte(contextJSON), &merged); err != nil {
		return fmt.Errorf("unmarshal context: %w", err)
	}
	for k, v := range partial {
		merged[k] = v
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET context_json = ?, updated_at = ? WHERE session_id = ?`,
		string(data), time.Now().Unix(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("update context: %w", err)
	}
	return nil
}

// SaveProfile replaces the session's user profile wholesale.
func (s *SQLiteStore) SaveProfile(ctx context.Context, sessionID string, profile *domain.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureSession(ctx, sessionID); err != nil {
		return err
	}

	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET profile_json = ?, updated_at = ? WHERE session_id = ?`,
		string(data), time.Now().Unix(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// Profile returns the session's profile, or nil if none was saved.
func (s *SQLiteStore) Profile(ctx context.Context, sessionID string) (*domain.UserProfile, error) {
	var profileJSON sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT profile_json FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&profileJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}
	if !profileJSON.Valid {
		return nil, nil
	}

	var profile domain.UserProfile
	if err := json.Unmarshal([]byte(profileJSON.String), &profile); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}
	return &profile, nil
}

// HasSession reports whether a session record exists.
func (s *SQLiteStore) HasSession(ctx context.Context, sessionID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query session: %w", err)
	}
	return true, nil
}

// ClearConversation empties history and context but keeps the session row
// (and its profile) valid for further chat.
func (s *SQLiteStore) ClearConversation(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET context_json = '{}', updated_at = ? WHERE session_id = ?`,
		time.Now().Unix(), sessionID,
	); err != nil {
		return fmt.Errorf("clear context: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear: %w", err)
	}
	return nil
}

// RemoveSession deletes the session's history, context, and profile.
// Retries with exponential backoff on SQLite concurrency errors.
func (s *SQLiteStore) RemoveSession(ctx context.Context, sessionID string) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.removeSessionOnce(ctx, sessionID)
		if err == nil {
			return nil
		}

		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("RemoveSession hit a busy database, retrying",
				"session_id", sessionID, "attempt", i+1, "delay", delay)
			time.Sleep(delay)
			continue
		}

		return fmt.Errorf("remove session %s: %w", sessionID, err)
	}

	return nil
}

func (s *SQLiteStore) removeSessionOnce(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	return tx.Commit()
}

// Stats returns aggregate counts over all persisted sessions.
func (s *SQLiteStore) Stats(ctx context.Context) (*SessionStats, error) {
	stats := &SessionStats{}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&stats.Sessions); err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&stats.Messages); err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	return stats, nil
}

// CleanupExpiredSessions removes sessions idle longer than ttl.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := time.Now().Add(-ttl).Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin cleanup: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id IN (SELECT session_id FROM sessions WHERE updated_at < ?)`,
		threshold,
	); err != nil {
		return 0, fmt.Errorf("cleanup messages: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cleanup: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
