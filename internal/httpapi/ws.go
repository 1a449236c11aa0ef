package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/spurchat/internal/reliability"
)

const (
	wsReadLimit    = 64 << 10
	wsIdleTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

type wsOutbound struct {
	Type      string `json:"type"`
	Reply     string `json:"reply,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// handleChatWS runs chat turns over a websocket. Frames on one connection
// are processed in arrival order.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.WSConnections.Inc()
	defer s.metrics.WSConnections.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan []byte, 16)
	outbound := make(chan wsOutbound, 16)

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		defer close(outbound)
		for data := range inbound {
			out := s.processFrame(ctx, data)
			select {
			case outbound <- out:
			case <-ctx.Done():
				return
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range outbound {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				cancel()
				return
			}
			s.metrics.ObserveWSMessage("outbound")
		}
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		s.metrics.ObserveWSMessage("inbound")
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- data:
		}
	}

	close(inbound)
	<-workerDone
	cancel()
	<-writerDone
}

func (s *Server) processFrame(ctx context.Context, data []byte) wsOutbound {
	var req chatMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return wsOutbound{
			Type:    "error",
			Code:    reliability.KindValidationFailed.String(),
			Error:   "Invalid request",
			Details: []fieldError{{Field: "", Message: err.Error()}},
		}
	}
	if details := s.validate.chatMessage(&req); len(details) > 0 {
		return wsOutbound{
			Type:    "error",
			Code:    reliability.KindValidationFailed.String(),
			Error:   "Invalid request",
			Details: details,
		}
	}

	reply, err := s.chat.ProcessMessage(ctx, req.Message, req.SessionID)
	if err != nil {
		_, body := s.errorBody(err)
		return wsOutbound{Type: "error", Code: body.Code, Error: body.Error, Details: body.Details}
	}
	return wsOutbound{Type: "reply", Reply: reply.Reply, SessionID: reply.SessionID}
}
