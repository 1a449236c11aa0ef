package store

import (
	"context"
	"errors"
	"time"
)

// DefaultRecentLimit is the number of messages returned by GetRecentMessages
// when the caller passes a non-positive limit.
const DefaultRecentLimit = 10

var (
	// ErrNotFound is returned when a conversation id does not resolve.
	ErrNotFound = errors.New("conversation not found")
	// ErrInvalidSender is returned when a message sender is outside the closed set.
	ErrInvalidSender = errors.New("invalid message sender")
)

// Sender tags who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAI
}

// Conversation is the durable record of a chat session. Its ID doubles as the session id.
type Conversation struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata"`
}

// Message is a single immutable turn within a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         Sender    `json:"sender"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists conversations and their append-only message log.
//
// Message reads are always ascending by creation time, ties broken by
// insertion order.
type Store interface {
	CreateConversation(ctx context.Context) (Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	CreateMessage(ctx context.Context, conversationID string, sender Sender, text string) (Message, error)
	GetMessages(ctx context.Context, conversationID string) ([]Message, error)
	GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
	Ping(ctx context.Context) error
	Close() error
}

func cloneMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func reverseMessages(items []Message) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
