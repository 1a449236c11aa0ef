package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/spurchat/internal/chat"
	"github.com/ent0n29/spurchat/internal/config"
	"github.com/ent0n29/spurchat/internal/httpapi"
	"github.com/ent0n29/spurchat/internal/knowledge"
	"github.com/ent0n29/spurchat/internal/llm"
	"github.com/ent0n29/spurchat/internal/observability"
	"github.com/ent0n29/spurchat/internal/store"
)

func newChatServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics("test_chatperf")
	svc := chat.New(store.NewInMemoryStore(), llm.NewMockGenerator(knowledge.Default()), chat.Options{
		Logger:   logger,
		Observer: metrics,
	})
	ts := httptest.NewServer(httpapi.New(config.Config{}, svc, metrics, logger).Router())
	t.Cleanup(ts.Close)
	return ts
}

func TestRunReplaysOverBothTransports(t *testing.T) {
	ts := newChatServer(t)
	for _, transport := range []string{"http", "ws"} {
		t.Run(transport, func(t *testing.T) {
			cfg, err := parseFlags([]string{"-base-url", ts.URL, "-transport", transport, "-turns", "3", "-verbose=false"})
			if err != nil {
				t.Fatalf("parseFlags() error = %v", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			rep, err := run(ctx, cfg, io.Discard)
			if err != nil {
				t.Fatalf("run() error = %v", err)
			}
			if rep.Turns != 3 || len(rep.Latencies) != 3 || rep.SessionID == "" {
				t.Fatalf("report = %+v", rep)
			}
			if len(rep.Server.Stages) == 0 {
				t.Fatalf("server stage snapshot missing")
			}

			var out bytes.Buffer
			printReport(&out, rep)
			if !strings.Contains(out.String(), "client latency_ms p50=") {
				t.Fatalf("report output = %q", out.String())
			}
		})
	}
}

func TestParseFlagsValidation(t *testing.T) {
	bad := [][]string{
		{"-transport", "carrier-pigeon"},
		{"-turns", "0"},
		{"-base-url", "  "},
		{"-texts", " | | "},
	}
	for _, args := range bad {
		if _, err := parseFlags(args); err == nil {
			t.Fatalf("parseFlags(%q) should fail", args)
		}
	}

	cfg, err := parseFlags([]string{"-texts", "a| b |", "-base-url", "http://x/"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if len(cfg.texts) != 2 || cfg.texts[1] != "b" || cfg.baseURL != "http://x" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestWSURLFor(t *testing.T) {
	got, err := wsURLFor("https://chat.example.com/api")
	if err != nil {
		t.Fatalf("wsURLFor() error = %v", err)
	}
	if got != "wss://chat.example.com/api/chat/ws" {
		t.Fatalf("wsURLFor() = %q", got)
	}
	if _, err := wsURLFor("ftp://x"); err == nil {
		t.Fatalf("wsURLFor() should reject ftp")
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}
	if got := percentile(sorted, 0.5); got != 20 {
		t.Fatalf("p50 = %.1f, want 20", got)
	}
	if got := percentile(sorted, 1); got != 40 {
		t.Fatalf("max = %.1f, want 40", got)
	}
	if got := percentile(nil, 0.5); got != 0 {
		t.Fatalf("empty = %.1f, want 0", got)
	}
}
