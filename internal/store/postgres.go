package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgForeignKeyViolation = "23503"

// PostgresStore persists conversations and messages in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresStore(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, logger: logger.With("component", "store", "backend", "postgres")}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id UUID PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			sender VARCHAR(10) NOT NULL CHECK (sender IN ('user', 'ai')),
			text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb
		);`,
		// Tables created by older deployments lack the insertion sequence.
		`ALTER TABLE messages ADD COLUMN IF NOT EXISTS seq BIGSERIAL;`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages (conversation_id, created_at, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context) (Conversation, error) {
	id := uuid.New()
	c := Conversation{ID: id.String()}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (id) VALUES ($1)
		 RETURNING created_at, updated_at, metadata`,
		pgUUID(id),
	).Scan(&c.CreatedAt, &c.UpdatedAt, &c.Metadata)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	s.logger.Debug("created conversation", "conversation_id", c.ID)
	return c, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	key, ok := parsePgUUID(id)
	if !ok {
		return Conversation{}, ErrNotFound
	}

	c := Conversation{ID: uuid.UUID(key.Bytes).String()}
	err := s.pool.QueryRow(ctx,
		`SELECT created_at, updated_at, metadata FROM conversations WHERE id=$1`,
		key,
	).Scan(&c.CreatedAt, &c.UpdatedAt, &c.Metadata)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	return c, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, conversationID string, sender Sender, text string) (Message, error) {
	if !sender.Valid() {
		return Message{}, ErrInvalidSender
	}
	convKey, ok := parsePgUUID(conversationID)
	if !ok {
		return Message{}, ErrNotFound
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := uuid.New()
	msg := Message{
		ID:             id.String(),
		ConversationID: uuid.UUID(convKey.Bytes).String(),
		Sender:         sender,
		Text:           text,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO messages (id, conversation_id, sender, text)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		pgUUID(id),
		convKey,
		string(sender),
		text,
	).Scan(&msg.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE conversations SET updated_at=$2 WHERE id=$1`,
		convKey, msg.CreatedAt,
	); err != nil {
		return Message{}, fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID, "sender", sender)
	return msg, nil
}

func (s *PostgresStore) GetMessages(ctx context.Context, conversationID string) ([]Message, error) {
	key, ok := parsePgUUID(conversationID)
	if !ok {
		return []Message{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, sender, text, created_at
		 FROM messages WHERE conversation_id=$1 ORDER BY created_at ASC, seq ASC`,
		key,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	return collectMessages(rows, 16)
}

func (s *PostgresStore) GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	key, ok := parsePgUUID(conversationID)
	if !ok {
		return []Message{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, sender, text, created_at
		 FROM messages WHERE conversation_id=$1 ORDER BY created_at DESC, seq DESC LIMIT $2`,
		key,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	items, err := collectMessages(rows, limit)
	if err != nil {
		return nil, err
	}

	// Reverse into chronological order for prompt coherence.
	reverseMessages(items)
	return items, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func collectMessages(rows pgx.Rows, capacity int) ([]Message, error) {
	defer rows.Close()

	items := make([]Message, 0, capacity)
	for rows.Next() {
		var (
			m      Message
			id     pgtype.UUID
			convID pgtype.UUID
			sender string
		)
		if err := rows.Scan(&id, &convID, &sender, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.ID = uuid.UUID(id.Bytes).String()
		m.ConversationID = uuid.UUID(convID.Bytes).String()
		m.Sender = Sender(sender)
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return items, nil
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// parsePgUUID rejects ids that cannot exist in a UUID-keyed table.
func parsePgUUID(id string) (pgtype.UUID, bool) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return pgtype.UUID{}, false
	}
	return pgUUID(parsed), true
}
