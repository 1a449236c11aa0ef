package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the support chat service.
type Config struct {
	BindAddr         string
	Environment      string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string
	LogFormat        string

	AllowAnyOrigin bool

	DatabaseURL          string
	SQLitePath           string
	StoreTimeout         time.Duration
	StoreConnectAttempts int

	LLMProvider    string
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	OpenAIModel    string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeout     time.Duration

	KnowledgePath string

	SerializeSessions bool
}

// Production reports whether error details should be hidden from clients.
func (c Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		// The original service listened on 3000.
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":3000"),
		Environment:          strings.ToLower(envOrDefault("APP_ENV", "development")),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "spurchat"),
		LogLevel:             strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(envOrDefault("APP_LOG_FORMAT", "text")),
		AllowAnyOrigin:       false,
		DatabaseURL:          stringsTrimSpace("DATABASE_URL"),
		SQLitePath:           stringsTrimSpace("SQLITE_PATH"),
		StoreTimeout:         5 * time.Second,
		StoreConnectAttempts: 5,
		LLMProvider:          strings.ToLower(envOrDefault("LLM_PROVIDER", "openai")),
		OpenAIAPIKey:         stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:        stringsTrimSpace("OPENAI_BASE_URL"),
		OpenAIModel:          envOrDefault("OPENAI_MODEL", "gpt-3.5-turbo"),
		LLMMaxTokens:         500,
		LLMTemperature:       0.7,
		LLMTimeout:           30 * time.Second,
		KnowledgePath:        stringsTrimSpace("KNOWLEDGE_PATH"),
		ShutdownTimeout:      15 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.StoreTimeout, err = durationFromEnv("STORE_TIMEOUT", cfg.StoreTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.StoreConnectAttempts, err = intFromEnv("STORE_CONNECT_ATTEMPTS", cfg.StoreConnectAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMMaxTokens, err = intFromEnv("LLM_MAX_TOKENS", cfg.LLMMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTemperature, err = floatFromEnv("LLM_TEMPERATURE", cfg.LLMTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTimeout, err = durationFromEnv("LLM_TIMEOUT", cfg.LLMTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SerializeSessions, err = boolFromEnv("CHAT_SERIALIZE_SESSIONS", cfg.SerializeSessions)
	if err != nil {
		return Config{}, err
	}

	if cfg.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if cfg.StoreTimeout <= 0 {
		return Config{}, fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	if cfg.StoreConnectAttempts <= 0 {
		return Config{}, fmt.Errorf("STORE_CONNECT_ATTEMPTS must be positive")
	}
	if cfg.LLMTimeout <= 0 {
		return Config{}, fmt.Errorf("LLM_TIMEOUT must be positive")
	}
	if cfg.LLMMaxTokens <= 0 {
		return Config{}, fmt.Errorf("LLM_MAX_TOKENS must be positive")
	}
	if cfg.LLMTemperature < 0 || cfg.LLMTemperature > 2 {
		return Config{}, fmt.Errorf("LLM_TEMPERATURE must be within [0,2]")
	}
	switch cfg.LLMProvider {
	case "openai", "mock":
	default:
		return Config{}, fmt.Errorf("LLM_PROVIDER must be openai or mock, got %q", cfg.LLMProvider)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("APP_LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
