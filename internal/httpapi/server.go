package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/spurchat/internal/chat"
	"github.com/ent0n29/spurchat/internal/config"
	"github.com/ent0n29/spurchat/internal/observability"
)

const (
	serviceName    = "Spur Bot API"
	serviceVersion = "1.0.0"

	maxBodyBytes = 1 << 20
	isoMillis    = "2006-01-02T15:04:05.000Z07:00"
)

// Chat is the orchestrator surface the HTTP layer drives.
type Chat interface {
	ProcessMessage(ctx context.Context, message, sessionID string) (chat.Reply, error)
	GetHistory(ctx context.Context, sessionID string) (chat.History, error)
}

// ReadinessCheck is one dependency probed by /chat/ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Server struct {
	cfg      config.Config
	chat     Chat
	metrics  *observability.Metrics
	logger   *slog.Logger
	checks   []ReadinessCheck
	validate *requestValidator
	upgrader websocket.Upgrader
}

func New(cfg config.Config, chatService Chat, metrics *observability.Metrics, logger *slog.Logger, checks ...ReadinessCheck) *Server {
	if metrics == nil {
		metrics = observability.NewMetrics(cfg.MetricsNamespace)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		chat:     chatService,
		metrics:  metrics,
		logger:   logger.With("component", "httpapi"),
		checks:   checks,
		validate: newRequestValidator(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the same origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/metrics", s.metrics.Handler().ServeHTTP)

	r.Route("/chat", func(r chi.Router) {
		r.Post("/message", s.handleChatMessage)
		r.Get("/history/{sessionId}", s.handleHistory)
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Get("/perf/latency", s.handlePerfLatency)
		r.Get("/ws", s.handleChatWS)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusNotFound, map[string]string{
			"error": "Route not found",
			"path":  r.URL.Path,
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"name":    serviceName,
		"version": serviceVersion,
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(isoMillis),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for _, c := range s.checks {
		if c.Check == nil {
			continue
		}
		if err := c.Check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[c.Name] = err.Error()
			s.logger.Warn("readiness check failed", "check", c.Name, "error", err)
			continue
		}
		results[c.Name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "unavailable"
	}
	respondJSON(w, status, map[string]any{
		"status": state,
		"checks": results,
	})
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
