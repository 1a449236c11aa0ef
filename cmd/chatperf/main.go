package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/spurchat/internal/observability"
)

type options struct {
	baseURL        string
	transport      string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

type chatResponse struct {
	Type      string `json:"type,omitempty"`
	Reply     string `json:"reply"`
	SessionID string `json:"sessionId"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

type historyResponse struct {
	Messages []struct {
		Sender string `json:"sender"`
		Text   string `json:"text"`
	} `json:"messages"`
}

type report struct {
	SessionID string
	Turns     int
	Latencies []time.Duration
	Server    observability.StageSnapshot
}

var defaultQuestions = []string{
	"What's your return policy?",
	"How long does standard shipping take?",
	"Do you ship internationally?",
	"What are your support hours on Saturday?",
	"Can I pay with Apple Pay?",
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatperf: %v\n", err)
		os.Exit(2)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()
	rep, err := run(ctx, cfg, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatperf: %v\n", err)
		os.Exit(1)
	}
	printReport(os.Stdout, rep)
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	fs := flag.NewFlagSet("chatperf", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:3000", "chat service base URL")
	fs.StringVar(&cfg.transport, "transport", "http", "http or ws")
	fs.IntVar(&cfg.turns, "turns", 5, "number of turns to replay on one session")
	fs.IntVar(&interTurnMS, "inter-turn-ms", 0, "delay between turns in milliseconds")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 45000, "timeout per turn in milliseconds")
	fs.StringVar(&textsRaw, "texts", "", "questions separated by '|' (optional)")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	cfg.transport = strings.ToLower(strings.TrimSpace(cfg.transport))
	if cfg.transport != "http" && cfg.transport != "ws" {
		return options{}, fmt.Errorf("transport must be http or ws")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultQuestions...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty questions")
		}
	}
	return cfg, nil
}

// turnSender sends one message and returns the reply.
type turnSender func(ctx context.Context, req chatRequest) (chatResponse, error)

func run(ctx context.Context, cfg options, progress io.Writer) (report, error) {
	httpClient := &http.Client{Timeout: cfg.turnTimeout}

	var send turnSender
	switch cfg.transport {
	case "ws":
		wsURL, err := wsURLFor(cfg.baseURL)
		if err != nil {
			return report{}, fmt.Errorf("build ws URL: %w", err)
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			return report{}, fmt.Errorf("open websocket: %w", err)
		}
		defer conn.Close()
		send = wsSender(conn, cfg.turnTimeout)
	default:
		send = httpSender(httpClient, cfg.baseURL)
	}

	rep := report{}
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		turnCtx, cancel := context.WithTimeout(ctx, cfg.turnTimeout)
		started := time.Now()
		resp, err := send(turnCtx, chatRequest{Message: text, SessionID: rep.SessionID})
		elapsed := time.Since(started)
		cancel()
		if err != nil {
			return rep, fmt.Errorf("turn %d: %w", i+1, err)
		}
		if rep.SessionID == "" {
			rep.SessionID = resp.SessionID
		} else if resp.SessionID != rep.SessionID {
			return rep, fmt.Errorf("turn %d: session changed from %s to %s", i+1, rep.SessionID, resp.SessionID)
		}
		rep.Turns++
		rep.Latencies = append(rep.Latencies, elapsed)
		if cfg.verbose {
			fmt.Fprintf(progress, "chatperf: turn=%d latency_ms=%d reply=%q\n", i+1, elapsed.Milliseconds(), truncate(resp.Reply, 80))
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	hist, err := fetchHistory(ctx, httpClient, cfg.baseURL, rep.SessionID)
	if err != nil {
		return rep, fmt.Errorf("read history: %w", err)
	}
	if want := 2 * rep.Turns; len(hist.Messages) != want {
		return rep, fmt.Errorf("history has %d messages, want %d", len(hist.Messages), want)
	}
	for i, m := range hist.Messages {
		want := "user"
		if i%2 == 1 {
			want = "ai"
		}
		if m.Sender != want {
			return rep, fmt.Errorf("history message %d sender = %q, want %q", i, m.Sender, want)
		}
	}

	// Server-side stage breakdown is best effort.
	if snap, err := fetchStageSnapshot(ctx, httpClient, cfg.baseURL); err == nil {
		rep.Server = snap
	}
	return rep, nil
}

func httpSender(client *http.Client, baseURL string) turnSender {
	return func(ctx context.Context, req chatRequest) (chatResponse, error) {
		payload, err := json.Marshal(req)
		if err != nil {
			return chatResponse{}, err
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/message", bytes.NewReader(payload))
		if err != nil {
			return chatResponse{}, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		res, err := client.Do(httpReq)
		if err != nil {
			return chatResponse{}, err
		}
		defer res.Body.Close()

		var out chatResponse
		if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
			return chatResponse{}, fmt.Errorf("decode response (status %d): %w", res.StatusCode, err)
		}
		if res.StatusCode != http.StatusOK {
			return chatResponse{}, fmt.Errorf("status %d %s: %s", res.StatusCode, out.Code, out.Error)
		}
		return out, nil
	}
}

func wsSender(conn *websocket.Conn, timeout time.Duration) turnSender {
	return func(ctx context.Context, req chatRequest) (chatResponse, error) {
		deadline := time.Now().Add(timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		_ = conn.SetWriteDeadline(deadline)
		if err := conn.WriteJSON(req); err != nil {
			return chatResponse{}, err
		}
		_ = conn.SetReadDeadline(deadline)
		var out chatResponse
		if err := conn.ReadJSON(&out); err != nil {
			return chatResponse{}, err
		}
		if out.Type != "reply" {
			return chatResponse{}, fmt.Errorf("%s: %s", out.Code, out.Error)
		}
		return out, nil
	}
}

func fetchHistory(ctx context.Context, client *http.Client, baseURL, sessionID string) (historyResponse, error) {
	var out historyResponse
	err := getJSON(ctx, client, baseURL+"/chat/history/"+url.PathEscape(sessionID), &out)
	return out, err
}

func fetchStageSnapshot(ctx context.Context, client *http.Client, baseURL string) (observability.StageSnapshot, error) {
	var out observability.StageSnapshot
	err := getJSON(ctx, client, baseURL+"/chat/perf/latency", &out)
	return out, err
}

func getJSON(ctx context.Context, client *http.Client, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("GET %s status %d: %s", u, res.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func wsURLFor(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/chat/ws"
	return u.String(), nil
}

func printReport(w io.Writer, rep report) {
	fmt.Fprintf(w, "chatperf: session=%s turns=%d\n", rep.SessionID, rep.Turns)
	sorted := make([]float64, 0, len(rep.Latencies))
	for _, d := range rep.Latencies {
		sorted = append(sorted, float64(d.Microseconds())/1000)
	}
	sort.Float64s(sorted)
	fmt.Fprintf(w, "client latency_ms p50=%.1f p95=%.1f max=%.1f\n",
		percentile(sorted, 0.50), percentile(sorted, 0.95), percentile(sorted, 1))
	for _, s := range rep.Server.Stages {
		fmt.Fprintf(w, "server %-22s samples=%-4d p50=%.2f p95=%.2f target_p95=%.0f\n",
			s.Stage, s.Samples, s.P50MS, s.P95MS, s.TargetP95MS)
	}
}

func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
