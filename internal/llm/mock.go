package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/spurchat/internal/knowledge"
	"github.com/ent0n29/spurchat/internal/reliability"
	"github.com/ent0n29/spurchat/internal/store"
)

// MockGenerator provides deterministic local replies when no provider is configured.
type MockGenerator struct {
	storeName string
}

func NewMockGenerator(kb knowledge.Base) *MockGenerator {
	name := strings.TrimSpace(kb.StoreName)
	if name == "" {
		name = knowledge.Default().StoreName
	}
	return &MockGenerator{storeName: name}
}

func (g *MockGenerator) Generate(ctx context.Context, history []store.Message, newMessage string) (string, error) {
	select {
	case <-ctx.Done():
		return "", reliability.New(reliability.KindProviderUnavailable, "llm.mock", ctx.Err())
	default:
	}
	return buildMockReply(g.storeName, history, newMessage), nil
}

func (g *MockGenerator) Ping(ctx context.Context) error {
	return ctx.Err()
}

func buildMockReply(storeName string, history []store.Message, newMessage string) string {
	base := strings.TrimSpace(newMessage)
	if base == "" {
		base = "your question"
	}

	if len(history) > MaxHistoryMessages {
		history = history[len(history)-MaxHistoryMessages:]
	}
	var lastUser string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Sender == store.SenderUser {
			lastUser = strings.TrimSpace(history[i].Text)
			break
		}
	}

	if lastUser == "" {
		return fmt.Sprintf("Thanks for contacting %s! You asked: %s", storeName, base)
	}
	return fmt.Sprintf("Thanks for contacting %s! You asked: %s\nEarlier you mentioned: %s", storeName, base, lastUser)
}
