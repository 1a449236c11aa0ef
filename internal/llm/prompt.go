package llm

import (
	"fmt"
	"strings"

	"github.com/ent0n29/spurchat/internal/knowledge"
	"github.com/ent0n29/spurchat/internal/store"
)

// MaxHistoryMessages caps the history forwarded to the provider.
const MaxHistoryMessages = 10

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PromptMessage is one provider-neutral chat turn.
type PromptMessage struct {
	Role    string
	Content string
}

// SystemPrompt renders the support-agent instruction around the knowledge block.
func SystemPrompt(kb knowledge.Base) string {
	name := strings.TrimSpace(kb.StoreName)
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a helpful and friendly customer support agent for %s, a small e-commerce business.\n\n", name)
	sb.WriteString("Your responsibilities:\n")
	sb.WriteString("- Answer customer questions clearly and concisely\n")
	sb.WriteString("- Be polite, professional, and empathetic\n")
	sb.WriteString("- Use the store information below to answer questions accurately\n")
	sb.WriteString("- If you don't know something, be honest and offer to help them contact human support\n")
	sb.WriteString("- Keep responses brief but helpful (2-3 sentences usually)\n")
	sb.WriteString("- Don't make up information not provided below\n\n")
	sb.WriteString(kb.Render())
	fmt.Fprintf(&sb, "\nRemember: You represent %s. Be helpful, accurate, and friendly!", name)
	return sb.String()
}

// BuildMessages lays out the system instruction, the last MaxHistoryMessages
// history entries in order, and newMessage as the final user turn.
func BuildMessages(systemPrompt string, history []store.Message, newMessage string) []PromptMessage {
	if len(history) > MaxHistoryMessages {
		history = history[len(history)-MaxHistoryMessages:]
	}

	out := make([]PromptMessage, 0, len(history)+2)
	out = append(out, PromptMessage{Role: RoleSystem, Content: systemPrompt})
	for _, m := range history {
		role := RoleUser
		if m.Sender == store.SenderAI {
			role = RoleAssistant
		}
		out = append(out, PromptMessage{Role: role, Content: m.Text})
	}
	out = append(out, PromptMessage{Role: RoleUser, Content: newMessage})
	return out
}
