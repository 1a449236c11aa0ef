package httpapi

import (
	"net/http"

	"github.com/ent0n29/spurchat/internal/reliability"
)

type errorClass struct {
	status  int
	message string
}

// classifyError maps a classified failure to its status and client-facing message.
func classifyError(err error) (errorClass, reliability.Kind) {
	kind := reliability.KindOf(err)
	switch kind {
	case reliability.KindSessionNotFound:
		return errorClass{http.StatusNotFound, "Session not found. Please start a new conversation."}, kind
	case reliability.KindConversationNotFound:
		return errorClass{http.StatusNotFound, "Conversation not found."}, kind
	case reliability.KindValidationFailed:
		return errorClass{http.StatusBadRequest, "Invalid request"}, kind
	case reliability.KindProviderRateLimited:
		return errorClass{http.StatusTooManyRequests, "Too many requests. Please try again in a moment."}, kind
	case reliability.KindAuthFailure:
		return errorClass{http.StatusServiceUnavailable, "AI service is temporarily unavailable. Please try again later."}, kind
	case reliability.KindProviderUnavailable:
		if reliability.IsTimeout(err) {
			return errorClass{http.StatusGatewayTimeout, "Request timed out. Please try again."}, kind
		}
		return errorClass{http.StatusServiceUnavailable, "AI service is temporarily unavailable. Please try again later."}, kind
	case reliability.KindGenerationFailed:
		if reliability.IsTimeout(err) {
			return errorClass{http.StatusGatewayTimeout, "Request timed out. Please try again."}, kind
		}
		return errorClass{http.StatusServiceUnavailable, "Failed to generate response. Please try again later."}, kind
	case reliability.KindStorageUnavailable:
		return errorClass{http.StatusServiceUnavailable, "Service is temporarily unavailable. Please try again later."}, kind
	default:
		return errorClass{http.StatusInternalServerError, "An unexpected error occurred. Please try again later."}, kind
	}
}

// errorBody builds the JSON error payload. Raw error text is included outside production.
func (s *Server) errorBody(err error) (int, errorResponse) {
	class, kind := classifyError(err)
	body := errorResponse{Error: class.message, Code: kind.String()}
	if !s.cfg.Production() {
		body.Details = err.Error()
	}
	return class.status, body
}

func (s *Server) respondChatError(w http.ResponseWriter, err error) {
	status, body := s.errorBody(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("chat request failed", "status", status, "code", body.Code, "error", err)
	}
	respondJSON(w, status, body)
}
