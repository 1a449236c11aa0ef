package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	messages      map[string][]Message
	now           func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]Message),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) CreateConversation(ctx context.Context) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	now := s.now()
	c := &Conversation{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]any{},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
	return cloneConversation(c), nil
}

func (s *InMemoryStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return cloneConversation(c), nil
}

func (s *InMemoryStore) CreateMessage(ctx context.Context, conversationID string, sender Sender, text string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if !sender.Valid() {
		return Message{}, ErrInvalidSender
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return Message{}, ErrNotFound
	}

	createdAt := s.now()
	arr := s.messages[conversationID]
	// Keep created_at non-decreasing so the slice order and the timestamp order agree.
	if n := len(arr); n > 0 && createdAt.Before(arr[n-1].CreatedAt) {
		createdAt = arr[n-1].CreatedAt
	}
	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         sender,
		Text:           text,
		CreatedAt:      createdAt,
	}
	s.messages[conversationID] = append(arr, msg)
	c.UpdatedAt = createdAt
	return msg, nil
}

func (s *InMemoryStore) GetMessages(ctx context.Context, conversationID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.messages[conversationID]
	out := make([]Message, len(arr))
	copy(out, arr)
	return out, nil
}

func (s *InMemoryStore) GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.messages[conversationID]
	if limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Message, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *InMemoryStore) Close() error { return nil }

func cloneConversation(c *Conversation) Conversation {
	out := *c
	out.Metadata = cloneMetadata(c.Metadata)
	return out
}
