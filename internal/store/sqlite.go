package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/streamloop/chatrelay/internal/model/chat"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists sessions and histories in a SQLite database. Unlike
// the file and blob drivers it appends rows instead of rewriting whole
// documents, but it exposes the same wholesale Put semantics.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dbPath with WAL enabled.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// modernc applies _pragma parameters on every pooled connection; the
	// mattn-style _journal/_sync keys are silently ignored by this driver.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (chat.Session, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM sessions WHERE id = ?`, id)

	var session chat.Session
	err := row.Scan(&session.ID, &session.CreatedAt)
	if err == sql.ErrNoRows {
		return chat.Session{}, false, nil
	}
	if err != nil {
		return chat.Session{}, false, fmt.Errorf("scan session row: %w", err)
	}
	return session, true, nil
}

func (s *SQLiteStore) PutSession(ctx context.Context, session chat.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, created_at) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET created_at = excluded.created_at`,
		session.ID, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, created_at
		FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var m chat.Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return messages, nil
}

func (s *SQLiteStore) PutMessages(ctx context.Context, sessionID string, messages []chat.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	for seq, m := range messages {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, session_id, seq, role, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			m.ID, sessionID, seq, string(m.Role), m.Content, m.CreatedAt); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
