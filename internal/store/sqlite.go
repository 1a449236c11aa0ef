package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Fixed-width UTC layout so that text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore persists conversations and messages in a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at path.
// Parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store", "backend", "sqlite")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		);

		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			sender TEXT NOT NULL CHECK (sender IN ('user', 'ai')),
			text TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateConversation(ctx context.Context) (Conversation, error) {
	now := s.now()
	c := Conversation{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]any{},
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, created_at, updated_at, metadata) VALUES (?, ?, ?, '{}')`,
		c.ID,
		now.Format(sqliteTimeLayout),
		now.Format(sqliteTimeLayout),
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("inserting conversation: %w", err)
	}
	s.logger.Debug("created conversation", "conversation_id", c.ID)
	return c, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	var (
		c                    Conversation
		createdAt, updatedAt string
		metadataRaw          string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at, metadata FROM conversations WHERE id = ?`,
		id,
	).Scan(&c.ID, &createdAt, &updatedAt, &metadataRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("querying conversation: %w", err)
	}

	if c.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(sqliteTimeLayout, updatedAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	c.Metadata = map[string]any{}
	if metadataRaw != "" {
		if err := json.Unmarshal([]byte(metadataRaw), &c.Metadata); err != nil {
			return Conversation{}, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	return c, nil
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, conversationID string, sender Sender, text string) (Message, error) {
	if !sender.Valid() {
		return Message{}, ErrInvalidSender
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var lastCreated sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT (SELECT MAX(created_at) FROM messages WHERE conversation_id = c.id)
		 FROM conversations c WHERE c.id = ?`,
		conversationID,
	).Scan(&lastCreated)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("checking conversation: %w", err)
	}

	createdAt := s.now()
	if lastCreated.Valid {
		if prev, perr := time.Parse(sqliteTimeLayout, lastCreated.String); perr == nil && createdAt.Before(prev) {
			createdAt = prev
		}
	}
	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         sender,
		Text:           text,
		CreatedAt:      createdAt,
	}
	stamp := createdAt.Format(sqliteTimeLayout)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Sender), msg.Text, stamp,
	); err != nil {
		return Message{}, fmt.Errorf("inserting message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		stamp, conversationID,
	); err != nil {
		return Message{}, fmt.Errorf("touching conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("commit tx: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", conversationID, "sender", sender)
	return msg, nil
}

func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender, text, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at ASC, seq ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	return scanSQLiteMessages(rows, 16)
}

// GetRecentMessages gets the N most recent messages but returns them in
// chronological order, via a descending subquery re-sorted ascending.
func (s *SQLiteStore) GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender, text, created_at
		 FROM (
			SELECT seq, id, conversation_id, sender, text, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		 )
		 ORDER BY created_at ASC, seq ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent messages: %w", err)
	}
	return scanSQLiteMessages(rows, limit)
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

func scanSQLiteMessages(rows *sql.Rows, capacity int) ([]Message, error) {
	defer rows.Close()

	messages := make([]Message, 0, capacity)
	for rows.Next() {
		var (
			m         Message
			sender    string
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &sender, &m.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		t, err := time.Parse(sqliteTimeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		m.CreatedAt = t
		m.Sender = Sender(sender)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}
