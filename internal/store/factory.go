package store

import (
	"context"
	"log/slog"
	"strings"
)

// Options selects and configures a Store backend.
type Options struct {
	DatabaseURL string
	SQLitePath  string
	Logger      *slog.Logger
}

// Mode reports which backend NewStore will build for opts.
func Mode(opts Options) string {
	switch {
	case strings.TrimSpace(opts.DatabaseURL) != "":
		return "postgres"
	case strings.TrimSpace(opts.SQLitePath) != "":
		return "sqlite"
	default:
		return "memory"
	}
}

// NewStore creates a postgres-backed store when configured, then sqlite, otherwise in-memory.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	switch Mode(opts) {
	case "postgres":
		return NewPostgresStore(ctx, strings.TrimSpace(opts.DatabaseURL), opts.Logger)
	case "sqlite":
		return NewSQLiteStore(strings.TrimSpace(opts.SQLitePath), opts.Logger)
	default:
		return NewInMemoryStore(), nil
	}
}
