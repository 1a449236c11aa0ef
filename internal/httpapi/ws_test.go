package httpapi

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/spurchat/internal/config"
)

func dialWS(t *testing.T, baseURL string, header http.Header) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial %s error = %v", wsURL, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsOutbound {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var out wsOutbound
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return out
}

func TestChatWebSocketConversation(t *testing.T) {
	ts := newTestServer(t, config.Config{}, newChatService())
	conn := dialWS(t, ts.URL, nil)

	if err := conn.WriteJSON(map[string]string{"message": "Do you accept PayPal?"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	first := readFrame(t, conn)
	if first.Type != "reply" || first.Reply == "" || first.SessionID == "" {
		t.Fatalf("first frame = %+v", first)
	}

	if err := conn.WriteJSON(map[string]string{"message": "and Apple Pay?", "sessionId": first.SessionID}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	second := readFrame(t, conn)
	if second.Type != "reply" || second.SessionID != first.SessionID {
		t.Fatalf("second frame = %+v", second)
	}
	if !strings.Contains(second.Reply, "Do you accept PayPal?") {
		t.Fatalf("reply should reflect earlier context, got %q", second.Reply)
	}
}

func TestChatWebSocketErrors(t *testing.T) {
	ts := newTestServer(t, config.Config{}, newChatService())
	conn := dialWS(t, ts.URL, nil)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	if got := readFrame(t, conn); got.Type != "error" || got.Code != "validation_failed" {
		t.Fatalf("frame = %+v, want validation error", got)
	}

	if err := conn.WriteJSON(map[string]string{"message": "hi", "sessionId": "6f1c1d1e-0000-4000-8000-000000000000"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	got := readFrame(t, conn)
	if got.Type != "error" || got.Code != "session_not_found" {
		t.Fatalf("frame = %+v, want session_not_found", got)
	}
}

func TestChatWebSocketRejectsForeignOrigin(t *testing.T) {
	ts := newTestServer(t, config.Config{}, newChatService())
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/chat/ws"
	_, res, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"https://evil.example"}})
	if err == nil {
		t.Fatalf("dial should fail for a foreign origin")
	}
	if res == nil || res.StatusCode != http.StatusForbidden {
		t.Fatalf("response = %+v, want 403", res)
	}
}
