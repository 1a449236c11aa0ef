package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/spurchat/internal/reliability"
)

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	var req chatMessageRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "Invalid request",
			Code:    reliability.KindValidationFailed.String(),
			Details: []fieldError{{Field: "", Message: err.Error()}},
		})
		return
	}
	if details := s.validate.chatMessage(&req); len(details) > 0 {
		respondJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "Invalid request",
			Code:    reliability.KindValidationFailed.String(),
			Details: details,
		})
		return
	}

	reply, err := s.chat.ProcessMessage(r.Context(), req.Message, req.SessionID)
	if err != nil {
		s.respondChatError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.validate.sessionID(chi.URLParam(r, "sessionId"))
	if !ok {
		respondError(w, http.StatusBadRequest, reliability.KindValidationFailed.String(), "Invalid session ID format")
		return
	}

	history, err := s.chat.GetHistory(r.Context(), sessionID)
	if err != nil {
		s.respondChatError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}
