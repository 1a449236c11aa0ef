// Package llm turns conversation history into assistant replies.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ent0n29/spurchat/internal/knowledge"
	"github.com/ent0n29/spurchat/internal/store"
)

const (
	DefaultModel       = "gpt-3.5-turbo"
	DefaultMaxTokens   = 500
	DefaultTemperature = 0.7
	DefaultTimeout     = 30 * time.Second
)

// Generator produces a reply for newMessage given the prior conversation history.
// Implementations return errors classified with reliability kinds.
type Generator interface {
	Generate(ctx context.Context, history []store.Message, newMessage string) (string, error)
}

// Prober is implemented by generators that can check provider reachability.
type Prober interface {
	Ping(ctx context.Context) error
}

// Config controls generator construction.
type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Knowledge   knowledge.Base
	Logger      *slog.Logger
}

// NewGenerator builds the generator selected by cfg.Provider.
func NewGenerator(cfg Config) (Generator, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if mode == "" {
		mode = "openai"
	}

	switch mode {
	case "openai":
		g, err := NewOpenAIGenerator(cfg)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "mock":
		return NewMockGenerator(cfg.Knowledge), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

func (cfg Config) withDefaults() Config {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if strings.TrimSpace(cfg.Knowledge.StoreName) == "" {
		cfg.Knowledge = knowledge.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
