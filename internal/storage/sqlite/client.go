package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/cellavenue/rag-backend/internal/storage/models"
	"github.com/cellavenue/rag-backend/pkg/logger"
)

// Client is the chat audit log. Writes are best effort: a failed insert is
// logged by the caller and never fails the request.
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_log (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		question TEXT NOT NULL,
		rewritten_query TEXT,
		answer TEXT NOT NULL,
		language TEXT NOT NULL,
		citations TEXT,
		chunks_used INTEGER NOT NULL,
		latency_ms INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_log_session ON chat_log(session_id);
	CREATE INDEX IF NOT EXISTS idx_chat_log_created ON chat_log(created_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertChatLog(entry *models.ChatLogEntry) error {
	citationsJSON, _ := json.Marshal(entry.Citations)

	query := `
		INSERT INTO chat_log (id, session_id, question, rewritten_query, answer, language,
			citations, chunks_used, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		entry.ID,
		entry.SessionID,
		entry.Question,
		entry.RewrittenQuery,
		entry.Answer,
		entry.Language,
		string(citationsJSON),
		entry.ChunksUsed,
		entry.LatencyMS,
		entry.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chat log entry: %w", err)
	}

	return nil
}

// GetSessionLog returns the most recent logged turns for a session,
// newest first.
func (c *Client) GetSessionLog(sessionID string, limit int) ([]models.ChatLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, session_id, question, rewritten_query, answer, language,
			citations, chunks_used, latency_ms, created_at
		FROM chat_log
		WHERE session_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat log: %w", err)
	}
	defer rows.Close()

	var entries []models.ChatLogEntry
	for rows.Next() {
		var e models.ChatLogEntry
		var citationsJSON string
		var createdAt int64

		err := rows.Scan(
			&e.ID, &e.SessionID, &e.Question, &e.RewrittenQuery, &e.Answer,
			&e.Language, &citationsJSON, &e.ChunksUsed, &e.LatencyMS, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		json.Unmarshal([]byte(citationsJSON), &e.Citations)
		e.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
