package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"rlmrepl/internal/conversation"
)

// SessionInfo summarizes one recorded session.
type SessionInfo struct {
	ID       string `json:"id"`
	Messages int    `json:"messages"`
	First    string `json:"first"`
	Last     string `json:"last"`
}

// SQLite records transcripts in a SQLite database.
type SQLite struct {
	db     *sql.DB
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewSQLite opens (creating if needed) the transcript database at path.
func NewSQLite(path string, logger *zap.Logger) (*SQLite, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debug("SQLite pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	s := &SQLite{db: db, path: path, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Transcript store opened", zap.String("path", path))
	return s, nil
}

func (s *SQLite) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transcript_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		metadata TEXT,
		tokens INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(session_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_transcript_session ON transcript_messages(session_id, seq);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create transcript schema: %w", err)
	}
	return nil
}

// Record implements Recorder. The message ID is its sequence number within
// the session, so re-recording the same message is a no-op.
func (s *SQLite) Record(ctx context.Context, session string, msg conversation.Message) error {
	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO transcript_messages
		 (session_id, seq, role, content, timestamp, metadata, tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session, msg.ID, msg.Role, msg.Content, msg.Timestamp, string(meta), msg.Tokens,
	)
	if err != nil {
		return fmt.Errorf("record message %d: %w", msg.ID, err)
	}
	return nil
}

// Load implements Source.
func (s *SQLite) Load(ctx context.Context, session string) ([]conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, role, content, timestamp, metadata, tokens
		 FROM transcript_messages
		 WHERE session_id = ?
		 ORDER BY seq`,
		session,
	)
	if err != nil {
		return nil, fmt.Errorf("query session %s: %w", session, err)
	}
	defer rows.Close()

	msgs := []conversation.Message{}
	for rows.Next() {
		var m conversation.Message
		var meta sql.NullString
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Timestamp, &meta, &m.Tokens); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if meta.Valid && meta.String != "" && meta.String != "null" {
			if err := json.Unmarshal([]byte(meta.String), &m.Metadata); err != nil {
				s.logger.Warn("Dropping unreadable metadata",
					zap.String("session", session),
					zap.Int("seq", m.ID),
					zap.Error(err))
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Sessions lists recorded sessions, most recently active first.
func (s *SQLite) Sessions(ctx context.Context) ([]SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, COUNT(*), MIN(timestamp), MAX(timestamp)
		 FROM transcript_messages
		 GROUP BY session_id
		 ORDER BY MAX(timestamp) DESC, session_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.ID, &info.Messages, &info.First, &info.Last); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete removes every message of session.
func (s *SQLite) Delete(ctx context.Context, session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM transcript_messages WHERE session_id = ?", session); err != nil {
		return fmt.Errorf("delete session %s: %w", session, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
