package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"chat-bridge/backend/internal/netclient"
	"chat-bridge/backend/internal/orchestrator"
	"chat-bridge/backend/internal/session/domain"
)

type sessionView struct {
	TenantID         string `json:"tenantId"`
	Status           string `json:"status"`
	Active           bool   `json:"active"`
	PairedIdentifier string `json:"pairedIdentifier,omitempty"`
	PairingCode      string `json:"pairingCode,omitempty"`
	CreatedAt        string `json:"createdAt"`
	UpdatedAt        string `json:"updatedAt"`
}

func (s *Server) viewOf(sess *domain.Session) sessionView {
	return sessionView{
		TenantID:         sess.TenantID,
		Status:           string(sess.Status),
		Active:           s.mgr.Active(sess.TenantID),
		PairedIdentifier: sess.PairedIdentifier,
		PairingCode:      sess.PairingCode,
		CreatedAt:        sess.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        sess.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		s.log.Error("list sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	views := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, s.viewOf(sess))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	sess, err := s.sessions.GetByTenant(r.Context(), tenantID)
	if err != nil {
		s.log.Error("get session failed", "tenant", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "no session for tenant")
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(sess))
}

type startRequest struct {
	PairingHint string `json:"pairingHint,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	var req startRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := s.mgr.Start(r.Context(), tenantID, req.PairingHint); err != nil {
		if errors.Is(err, netclient.ErrClientInit) {
			s.log.Error("start failed", "tenant", tenantID, "error", err)
			writeError(w, http.StatusBadGateway, "network client could not be created")
			return
		}
		s.log.Error("start failed", "tenant", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"tenantId": tenantID, "starting": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if err := s.mgr.Stop(r.Context(), tenantID); err != nil {
		s.log.Error("stop failed", "tenant", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenantId": tenantID, "stopped": true})
}

type sendRequest struct {
	Destination string `json:"destination"`
	Text        string `json:"text"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Destination == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "destination and text are required")
		return
	}

	err := s.mgr.SendMessage(r.Context(), tenantID, req.Destination, req.Text)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"tenantId": tenantID, "delivered": true})
	case errors.Is(err, netclient.ErrInvalidDestination):
		writeError(w, http.StatusBadRequest, "invalid destination")
	case errors.Is(err, orchestrator.ErrNoActiveSession):
		writeError(w, http.StatusConflict, "no active session for tenant")
	case errors.Is(err, orchestrator.ErrDeliveryFailed):
		s.log.Warn("delivery failed", "tenant", tenantID, "error", err)
		writeError(w, http.StatusBadGateway, "message delivery failed")
	default:
		if rle, ok := orchestrator.AsRateLimited(err); ok {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(rle.RetryAfter)))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":      "rate limited",
				"reason":     rle.Reason,
				"retryAfter": rle.RetryAfter.Seconds(),
			})
			return
		}
		s.log.Error("send failed", "tenant", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	snap := s.budget.Status(r.Context(), tenantID)

	resp := map[string]any{
		"tenantId":  tenantID,
		"minute":    snap.Minute,
		"hour":      snap.Hour,
		"day":       snap.Day,
		"totalSent": snap.TotalSent,
	}
	if snap.CooldownUntil != nil {
		resp["cooldownUntil"] = snap.CooldownUntil.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// retryAfterSeconds rounds up so clients never retry early.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}
