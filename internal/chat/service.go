// Package chat coordinates a support conversation turn across the store and the reply generator.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ent0n29/spurchat/internal/llm"
	"github.com/ent0n29/spurchat/internal/reliability"
	"github.com/ent0n29/spurchat/internal/store"
)

// ContextWindow is the most recent message count read back for generation.
// It includes the user message just written, which is then excluded from history.
const ContextWindow = 10

// Turn stages reported to the Observer.
const (
	StageResolveConversation = "resolve_conversation"
	StagePersistUser         = "persist_user"
	StageLoadContext         = "load_context"
	StageGenerateReply       = "generate_reply"
	StagePersistReply        = "persist_reply"
	StageTurnTotal           = "turn_total"
)

const (
	defaultStoreTimeout    = 5 * time.Second
	defaultGenerateTimeout = 30 * time.Second
)

// Observer receives per-stage latency and per-turn outcome.
type Observer interface {
	ObserveStage(stage string, d time.Duration)
	ObserveTurn(err error)
}

type nopObserver struct{}

func (nopObserver) ObserveStage(string, time.Duration) {}
func (nopObserver) ObserveTurn(error)                  {}

// Options tunes a Service. Zero values pick defaults.
type Options struct {
	StoreTimeout    time.Duration
	GenerateTimeout time.Duration
	Logger          *slog.Logger
	Observer        Observer
	// SerializeSessions runs turns on the same existing conversation one at a time.
	SerializeSessions bool
}

// Reply is the result of a processed turn.
type Reply struct {
	Reply     string `json:"reply"`
	SessionID string `json:"sessionId"`
}

// History is a conversation with all of its messages in chronological order.
type History struct {
	Conversation store.Conversation `json:"conversation"`
	Messages     []store.Message    `json:"messages"`
}

// Service is the conversation orchestrator. It holds no per-request state
// and is safe for concurrent use.
type Service struct {
	store           store.Store
	generator       llm.Generator
	storeTimeout    time.Duration
	generateTimeout time.Duration
	logger          *slog.Logger
	observer        Observer
	locks           *keyedLock
}

func New(st store.Store, gen llm.Generator, opts Options) *Service {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = defaultGenerateTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	s := &Service{
		store:           st,
		generator:       gen,
		storeTimeout:    opts.StoreTimeout,
		generateTimeout: opts.GenerateTimeout,
		logger:          opts.Logger.With("component", "chat"),
		observer:        opts.Observer,
	}
	if opts.SerializeSessions {
		s.locks = newKeyedLock()
	}
	return s
}

// ProcessMessage records message on the session (creating one when sessionID
// is empty), generates a reply from recent context and records the reply.
func (s *Service) ProcessMessage(ctx context.Context, message, sessionID string) (reply Reply, err error) {
	started := time.Now()
	defer func() {
		s.observer.ObserveStage(StageTurnTotal, time.Since(started))
		s.observer.ObserveTurn(err)
	}()

	if strings.TrimSpace(message) == "" {
		return Reply{}, reliability.Errorf(reliability.KindValidationFailed, "chat.process", "message is empty")
	}
	sessionID = strings.TrimSpace(sessionID)

	conversationID, err := s.resolveConversation(ctx, sessionID)
	if err != nil {
		return Reply{}, s.fail(err, sessionID)
	}

	if sessionID != "" && s.locks != nil {
		unlock, lerr := s.locks.Lock(ctx, conversationID)
		if lerr != nil {
			return Reply{}, s.fail(reliability.New(reliability.KindStorageUnavailable, "chat.lock", lerr), conversationID)
		}
		defer unlock()
	}

	userMsg, err := s.persist(ctx, StagePersistUser, conversationID, store.SenderUser, message)
	if err != nil {
		return Reply{}, s.fail(err, conversationID)
	}

	history, err := s.loadContext(ctx, conversationID, userMsg.ID)
	if err != nil {
		return Reply{}, s.fail(err, conversationID)
	}

	text, err := s.generate(ctx, history, message)
	if err != nil {
		return Reply{}, s.fail(err, conversationID)
	}

	if _, err := s.persist(ctx, StagePersistReply, conversationID, store.SenderAI, text); err != nil {
		// The reply was generated but is not recorded; the caller gets no reply.
		s.logger.Error("discarding generated reply after storage failure",
			"conversation_id", conversationID,
			"error", err,
		)
		return Reply{}, s.fail(err, conversationID)
	}

	return Reply{Reply: text, SessionID: conversationID}, nil
}

// GetHistory returns the conversation and every message in it, oldest first.
func (s *Service) GetHistory(ctx context.Context, sessionID string) (History, error) {
	sessionID = strings.TrimSpace(sessionID)

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	conv, err := s.store.GetConversation(sctx, sessionID)
	if err != nil {
		return History{}, s.fail(classifyStore("chat.history", err, reliability.KindConversationNotFound), sessionID)
	}
	msgs, err := s.store.GetMessages(sctx, conv.ID)
	if err != nil {
		return History{}, s.fail(classifyStore("chat.history", err, reliability.KindConversationNotFound), sessionID)
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	return History{Conversation: conv, Messages: msgs}, nil
}

func (s *Service) resolveConversation(ctx context.Context, sessionID string) (string, error) {
	defer s.timeStage(StageResolveConversation)()

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if sessionID == "" {
		conv, err := s.store.CreateConversation(sctx)
		if err != nil {
			return "", classifyStore("chat.create_conversation", err, reliability.KindStorageUnavailable)
		}
		s.logger.Debug("started conversation", "conversation_id", conv.ID)
		return conv.ID, nil
	}

	conv, err := s.store.GetConversation(sctx, sessionID)
	if err != nil {
		return "", classifyStore("chat.resolve_session", err, reliability.KindSessionNotFound)
	}
	return conv.ID, nil
}

func (s *Service) persist(ctx context.Context, stage, conversationID string, sender store.Sender, text string) (store.Message, error) {
	defer s.timeStage(stage)()

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	msg, err := s.store.CreateMessage(sctx, conversationID, sender, text)
	if err != nil {
		return store.Message{}, classifyStore("chat."+stage, err, reliability.KindSessionNotFound)
	}
	s.logger.Debug("persisted message", "conversation_id", conversationID, "message_id", msg.ID, "sender", sender)
	return msg, nil
}

// loadContext reads the recent window and drops the message with excludeID,
// so the new user text reaches the generator only as newMessage.
func (s *Service) loadContext(ctx context.Context, conversationID, excludeID string) ([]store.Message, error) {
	defer s.timeStage(StageLoadContext)()

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	recent, err := s.store.GetRecentMessages(sctx, conversationID, ContextWindow)
	if err != nil {
		return nil, classifyStore("chat.load_context", err, reliability.KindSessionNotFound)
	}

	history := make([]store.Message, 0, len(recent))
	for _, m := range recent {
		if m.ID == excludeID {
			continue
		}
		history = append(history, m)
	}
	return history, nil
}

func (s *Service) generate(ctx context.Context, history []store.Message, message string) (string, error) {
	defer s.timeStage(StageGenerateReply)()

	gctx, cancel := context.WithTimeout(ctx, s.generateTimeout)
	defer cancel()

	text, err := s.generator.Generate(gctx, history, message)
	if err != nil {
		if reliability.IsClassified(err) {
			return "", err
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", reliability.New(reliability.KindProviderUnavailable, "chat.generate", err)
		}
		return "", reliability.New(reliability.KindGenerationFailed, "chat.generate", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", reliability.Errorf(reliability.KindGenerationFailed, "chat.generate", "empty reply")
	}
	return text, nil
}

func (s *Service) timeStage(stage string) func() {
	started := time.Now()
	return func() { s.observer.ObserveStage(stage, time.Since(started)) }
}

func (s *Service) fail(err error, conversationID string) error {
	kind := reliability.KindOf(err)
	switch kind {
	case reliability.KindSessionNotFound, reliability.KindConversationNotFound, reliability.KindValidationFailed:
		s.logger.Debug("request rejected", "kind", kind.String(), "conversation_id", conversationID, "error", err)
	default:
		s.logger.Warn("chat turn failed", "kind", kind.String(), "conversation_id", conversationID, "error", err)
	}
	return err
}

// classifyStore maps store.ErrNotFound to notFound and everything else to storage_unavailable.
func classifyStore(op string, err error, notFound reliability.Kind) error {
	if reliability.IsClassified(err) {
		return err
	}
	if errors.Is(err, store.ErrNotFound) {
		return reliability.New(notFound, op, err)
	}
	return reliability.New(reliability.KindStorageUnavailable, op, err)
}
