package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/ent0n29/spurchat/internal/chat"
	"github.com/ent0n29/spurchat/internal/config"
	"github.com/ent0n29/spurchat/internal/knowledge"
	"github.com/ent0n29/spurchat/internal/llm"
	"github.com/ent0n29/spurchat/internal/observability"
	"github.com/ent0n29/spurchat/internal/reliability"
	"github.com/ent0n29/spurchat/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg config.Config, chatService Chat, checks ...ReadinessCheck) *httptest.Server {
	t.Helper()
	metrics := observability.NewMetrics("test_httpapi")
	srv := New(cfg, chatService, metrics, quietLogger(), checks...)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func newChatService() *chat.Service {
	return chat.New(
		store.NewInMemoryStore(),
		llm.NewMockGenerator(knowledge.Default()),
		chat.Options{Logger: quietLogger()},
	)
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case string:
		raw = []byte(b)
	default:
		raw, _ = json.Marshal(b)
	}
	res, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	defer res.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return res, out
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer res.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return res, out
}

func TestChatMessageThenHistory(t *testing.T) {
	ts := newTestServer(t, config.Config{}, newChatService())

	res, body := postJSON(t, ts.URL+"/chat/message", map[string]string{"message": "What's your return policy?"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %+v)", res.StatusCode, body)
	}
	reply, _ := body["reply"].(string)
	if strings.TrimSpace(reply) == "" {
		t.Fatalf("empty reply in %+v", body)
	}
	sessionID, _ := body["sessionId"].(string)
	if _, err := uuid.Parse(sessionID); err != nil {
		t.Fatalf("sessionId %q is not a UUID", sessionID)
	}

	res, hist := getJSON(t, ts.URL+"/chat/history/"+sessionID)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d, want 200", res.StatusCode)
	}
	msgs, _ := hist["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(msgs))
	}
	first := msgs[0].(map[string]any)
	second := msgs[1].(map[string]any)
	if first["sender"] != "user" || first["text"] != "What's your return policy?" {
		t.Fatalf("messages[0] = %+v", first)
	}
	if second["sender"] != "ai" || second["text"] != reply {
		t.Fatalf("messages[1] = %+v", second)
	}
	conv, _ := hist["conversation"].(map[string]any)
	if conv["id"] != sessionID {
		t.Fatalf("conversation.id = %v, want %s", conv["id"], sessionID)
	}

	res, body = postJSON(t, ts.URL+"/chat/message", map[string]string{"message": "  and shipping?  ", "sessionId": sessionID})
	if res.StatusCode != http.StatusOK || body["sessionId"] != sessionID {
		t.Fatalf("follow-up status = %d body = %+v", res.StatusCode, body)
	}
	_, hist = getJSON(t, ts.URL+"/chat/history/"+sessionID)
	msgs, _ = hist["messages"].([]any)
	if len(msgs) != 4 {
		t.Fatalf("len(messages) = %d, want 4", len(msgs))
	}
	if got := msgs[2].(map[string]any)["text"]; got != "and shipping?" {
		t.Fatalf("stored text = %q, want trimmed message", got)
	}
}

func TestUppercaseSessionIDResumesConversation(t *testing.T) {
	ts := newTestServer(t, config.Config{}, newChatService())

	_, body := postJSON(t, ts.URL+"/chat/message", map[string]string{"message": "Do you ship to Canada?"})
	sessionID, _ := body["sessionId"].(string)
	upper := strings.ToUpper(sessionID)

	res, body := postJSON(t, ts.URL+"/chat/message", map[string]string{"message": "How long does it take?", "sessionId": upper})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %+v)", res.StatusCode, body)
	}
	if body["sessionId"] != sessionID {
		t.Fatalf("sessionId = %v, want %s", body["sessionId"], sessionID)
	}

	res, hist := getJSON(t, ts.URL+"/chat/history/"+upper)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d, want 200 (body %+v)", res.StatusCode, hist)
	}
	if msgs, _ := hist["messages"].([]any); len(msgs) != 4 {
		t.Fatalf("len(messages) = %d, want 4", len(msgs))
	}
}

func TestChatMessageValidation(t *testing.T) {
	ts := newTestServer(t, config.Config{}, newChatService())

	cases := []struct {
		name  string
		body  any
		field string
	}{
		{"missing message", map[string]string{}, "message"},
		{"blank message", map[string]string{"message": "   "}, "message"},
		{"too long", map[string]string{"message": strings.Repeat("a", 2001)}, "message"},
		{"bad session id", map[string]string{"message": "hi", "sessionId": "nope"}, "sessionId"},
		{"malformed json", `{"message":`, ""},
		{"wrong type", `{"message": 42}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, body := postJSON(t, ts.URL+"/chat/message", tc.body)
			if res.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", res.StatusCode)
			}
			if body["error"] != "Invalid request" || body["code"] != "validation_failed" {
				t.Fatalf("body = %+v", body)
			}
			details, _ := body["details"].([]any)
			if len(details) == 0 {
				t.Fatalf("missing details in %+v", body)
			}
			if tc.field != "" {
				if got := details[0].(map[string]any)["field"]; got != tc.field {
					t.Fatalf("details[0].field = %v, want %s", got, tc.field)
				}
			}
		})
	}
}

func TestChatMessageLengthCountsCharacters(t *testing.T) {
	ts := newTestServer(t, config.Config{}, newChatService())
	res, body := postJSON(t, ts.URL+"/chat/message", map[string]string{"message": strings.Repeat("é", 2000)})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 for 2000 multi-byte characters (body %+v)", res.StatusCode, body)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	ts := newTestServer(t, config.Config{}, newChatService())

	res, body := postJSON(t, ts.URL+"/chat/message", map[string]string{"message": "hi", "sessionId": uuid.NewString()})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.StatusCode)
	}
	if body["error"] != "Session not found. Please start a new conversation." || body["code"] != "session_not_found" {
		t.Fatalf("body = %+v", body)
	}

	res, body = getJSON(t, ts.URL+"/chat/history/"+uuid.NewString())
	if res.StatusCode != http.StatusNotFound || body["error"] != "Conversation not found." {
		t.Fatalf("history status = %d body = %+v", res.StatusCode, body)
	}

	res, body = getJSON(t, ts.URL+"/chat/history/not-a-uuid")
	if res.StatusCode != http.StatusBadRequest || body["error"] != "Invalid session ID format" {
		t.Fatalf("bad id status = %d body = %+v", res.StatusCode, body)
	}
}

type stubChat struct {
	err error
}

func (s stubChat) ProcessMessage(context.Context, string, string) (chat.Reply, error) {
	return chat.Reply{}, s.err
}

func (s stubChat) GetHistory(context.Context, string) (chat.History, error) {
	return chat.History{}, s.err
}

func TestErrorKindsMapToStatus(t *testing.T) {
	timeout := reliability.New(reliability.KindProviderUnavailable, "llm.generate", context.DeadlineExceeded)
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{reliability.New(reliability.KindProviderRateLimited, "op", errors.New("429")), http.StatusTooManyRequests, "provider_rate_limited"},
		{reliability.New(reliability.KindAuthFailure, "op", errors.New("401")), http.StatusServiceUnavailable, "auth_failure"},
		{reliability.New(reliability.KindProviderUnavailable, "op", errors.New("503")), http.StatusServiceUnavailable, "provider_unavailable"},
		{timeout, http.StatusGatewayTimeout, "provider_unavailable"},
		{reliability.New(reliability.KindGenerationFailed, "op", errors.New("model not found")), http.StatusServiceUnavailable, "generation_failed"},
		{reliability.New(reliability.KindGenerationFailed, "op", context.DeadlineExceeded), http.StatusGatewayTimeout, "generation_failed"},
		{reliability.New(reliability.KindStorageUnavailable, "op", errors.New("down")), http.StatusServiceUnavailable, "storage_unavailable"},
		{errors.New("mystery"), http.StatusInternalServerError, "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.code+"_"+http.StatusText(tc.status), func(t *testing.T) {
			ts := newTestServer(t, config.Config{}, stubChat{err: tc.err})
			res, body := postJSON(t, ts.URL+"/chat/message", map[string]string{"message": "hi"})
			if res.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d", res.StatusCode, tc.status)
			}
			if body["code"] != tc.code {
				t.Fatalf("code = %v, want %s", body["code"], tc.code)
			}
			if body["details"] != tc.err.Error() {
				t.Fatalf("details = %v, want raw error outside production", body["details"])
			}
		})
	}
}

func TestProductionHidesDetails(t *testing.T) {
	ts := newTestServer(t, config.Config{Environment: "production"}, stubChat{err: errors.New("db password leaked")})
	_, body := postJSON(t, ts.URL+"/chat/message", map[string]string{"message": "hi"})
	if _, ok := body["details"]; ok {
		t.Fatalf("details should be hidden in production: %+v", body)
	}
}

func TestServiceRoutes(t *testing.T) {
	ts := newTestServer(t, config.Config{}, newChatService())

	res, body := getJSON(t, ts.URL+"/")
	if res.StatusCode != http.StatusOK || body["name"] != "Spur Bot API" || body["status"] != "running" {
		t.Fatalf("root status = %d body = %+v", res.StatusCode, body)
	}

	res, body = getJSON(t, ts.URL+"/chat/health")
	if res.StatusCode != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("health status = %d body = %+v", res.StatusCode, body)
	}
	if stamp, _ := body["timestamp"].(string); !strings.HasSuffix(stamp, "Z") {
		t.Fatalf("timestamp = %q, want UTC ISO-8601", stamp)
	}

	res, body = getJSON(t, ts.URL+"/nowhere")
	if res.StatusCode != http.StatusNotFound || body["error"] != "Route not found" || body["path"] != "/nowhere" {
		t.Fatalf("404 status = %d body = %+v", res.StatusCode, body)
	}
}

func TestReadiness(t *testing.T) {
	ok := ReadinessCheck{Name: "store", Check: func(context.Context) error { return nil }}
	down := ReadinessCheck{Name: "llm", Check: func(context.Context) error { return errors.New("unreachable") }}

	ts := newTestServer(t, config.Config{}, newChatService(), ok)
	res, body := getJSON(t, ts.URL+"/chat/ready")
	if res.StatusCode != http.StatusOK || body["status"] != "ready" {
		t.Fatalf("ready status = %d body = %+v", res.StatusCode, body)
	}

	ts = newTestServer(t, config.Config{}, newChatService(), ok, down)
	res, body = getJSON(t, ts.URL+"/chat/ready")
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("ready status = %d, want 503", res.StatusCode)
	}
	checks, _ := body["checks"].(map[string]any)
	if checks["store"] != "ok" || checks["llm"] != "unreachable" {
		t.Fatalf("checks = %+v", checks)
	}
}

func TestMetricsAndLatencyRoutes(t *testing.T) {
	metrics := observability.NewMetrics("test_httpapi")
	svc := chat.New(store.NewInMemoryStore(), llm.NewMockGenerator(knowledge.Default()), chat.Options{
		Logger:   quietLogger(),
		Observer: metrics,
	})
	ts := httptest.NewServer(New(config.Config{}, svc, metrics, quietLogger()).Router())
	defer ts.Close()

	postJSON(t, ts.URL+"/chat/message", map[string]string{"message": "hello"})

	res, snap := getJSON(t, ts.URL+"/chat/perf/latency")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("latency status = %d", res.StatusCode)
	}
	stages, _ := snap["stages"].([]any)
	if len(stages) != 6 {
		t.Fatalf("len(stages) = %d, want 6", len(stages))
	}

	mres, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer mres.Body.Close()
	raw, _ := io.ReadAll(mres.Body)
	if !strings.Contains(string(raw), `test_httpapi_chat_turns_total{outcome="ok"} 1`) {
		t.Fatalf("metrics output missing turn counter:\n%s", raw)
	}
}
