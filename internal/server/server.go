// Package server exposes the HTTP API: session lifecycle operations, message
// submission, budget inspection, health, and the realtime events websocket.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"chat-bridge/backend/internal/notifier"
	"chat-bridge/backend/internal/ratelimit"
	"chat-bridge/backend/internal/session/domain"
)

// SessionManager is the subset of the orchestrator the HTTP layer drives.
type SessionManager interface {
	Start(ctx context.Context, tenantID, pairingHint string) error
	Stop(ctx context.Context, tenantID string) error
	SendMessage(ctx context.Context, tenantID, destination, text string) error
	Active(tenantID string) bool
}

// SessionReader reads persisted sessions for the listing endpoints.
type SessionReader interface {
	GetByTenant(ctx context.Context, tenantID string) (*domain.Session, error)
	List(ctx context.Context) ([]*domain.Session, error)
}

// BudgetReader reports a tenant's rate-limit consumption.
type BudgetReader interface {
	Status(ctx context.Context, tenantID string) ratelimit.Snapshot
}

// Pinger checks the session store connection for the health endpoint.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server is the HTTP API over the session orchestrator.
type Server struct {
	mgr            SessionManager
	sessions       SessionReader
	budget         BudgetReader
	events         *notifier.Notifier
	db             Pinger
	auth           *Authenticator
	allowedOrigins []string
	log            *slog.Logger
}

// New wires a server over its collaborators. auth may be nil (dev mode).
func New(
	mgr SessionManager,
	sessions SessionReader,
	budget BudgetReader,
	events *notifier.Notifier,
	db Pinger,
	auth *Authenticator,
	allowedOrigins []string,
	log *slog.Logger,
) *Server {
	return &Server{
		mgr:            mgr,
		sessions:       sessions,
		budget:         budget,
		events:         events,
		db:             db,
		auth:           auth,
		allowedOrigins: allowedOrigins,
		log:            log,
	}
}

// Router builds the chi router with middleware and all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Get("/sessions", s.handleListSessions)
		r.Route("/sessions/{tenantID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Post("/messages", s.handleSendMessage)
			r.Get("/limits", s.handleLimits)
		})

		r.Get("/events/ws", s.handleEventsWS)
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			s.log.Error("health check: store unreachable", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "degraded",
				"store":  "unreachable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
