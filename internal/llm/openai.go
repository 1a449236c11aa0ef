package llm

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ent0n29/spurchat/internal/reliability"
	"github.com/ent0n29/spurchat/internal/store"
)

// OpenAIGenerator calls the OpenAI chat completions API.
type OpenAIGenerator struct {
	client       *openai.Client
	model        string
	maxTokens    int
	temperature  float32
	timeout      time.Duration
	systemPrompt string
	logger       *slog.Logger
}

func NewOpenAIGenerator(cfg Config) (*OpenAIGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, reliability.Errorf(reliability.KindAuthFailure, "llm.openai", "OPENAI_API_KEY is not set")
	}
	cfg = cfg.withDefaults()

	clientCfg := openai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.BaseURL = strings.TrimRight(base, "/")
	}

	return &OpenAIGenerator{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		temperature:  float32(cfg.Temperature),
		timeout:      cfg.Timeout,
		systemPrompt: SystemPrompt(cfg.Knowledge),
		logger:       cfg.Logger.With("component", "llm", "provider", "openai"),
	}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, history []store.Message, newMessage string) (string, error) {
	prompt := BuildMessages(g.systemPrompt, history, newMessage)
	messages := make([]openai.ChatCompletionMessage, 0, len(prompt))
	for _, m := range prompt {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	started := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		classified := classifyOpenAIError("llm.generate", err)
		g.logger.Warn("completion failed",
			"kind", classified.Kind.String(),
			"timeout", classified.Timeout,
			"duration_ms", time.Since(started).Milliseconds(),
			"error", err,
		)
		return "", classified
	}

	var reply string
	if len(resp.Choices) > 0 {
		reply = strings.TrimSpace(resp.Choices[0].Message.Content)
	}
	if reply == "" {
		return "", reliability.Errorf(reliability.KindGenerationFailed, "llm.generate", "no response generated from provider")
	}

	g.logger.Debug("completion ok",
		"model", g.model,
		"history", len(prompt)-2,
		"completion_tokens", resp.Usage.CompletionTokens,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return reply, nil
}

// Ping lists models to confirm the credential and endpoint work.
func (g *OpenAIGenerator) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if _, err := g.client.ListModels(ctx); err != nil {
		return classifyOpenAIError("llm.ping", err)
	}
	return nil
}

func classifyOpenAIError(op string, err error) *reliability.Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return reliability.New(reliability.ClassifyProviderStatus(apiErr.HTTPStatusCode), op, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reliability.New(reliability.ClassifyProviderStatus(reqErr.HTTPStatusCode), op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return reliability.New(reliability.KindProviderUnavailable, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return reliability.New(reliability.KindProviderUnavailable, op, err)
	}
	return reliability.New(reliability.KindGenerationFailed, op, err)
}
