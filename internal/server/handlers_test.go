package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chat-bridge/backend/internal/netclient"
	"chat-bridge/backend/internal/notifier"
	"chat-bridge/backend/internal/orchestrator"
	"chat-bridge/backend/internal/ratelimit"
	"chat-bridge/backend/internal/session/domain"
)

type fakeManager struct {
	startErr error
	stopErr  error
	sendErr  error
	active   map[string]bool
	started  []string
	stopped  []string
	sent     []string
}

func (m *fakeManager) Start(ctx context.Context, tenantID, pairingHint string) error {
	m.started = append(m.started, tenantID)
	return m.startErr
}

func (m *fakeManager) Stop(ctx context.Context, tenantID string) error {
	m.stopped = append(m.stopped, tenantID)
	return m.stopErr
}

func (m *fakeManager) SendMessage(ctx context.Context, tenantID, destination, text string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, tenantID+":"+destination+":"+text)
	return nil
}

func (m *fakeManager) Active(tenantID string) bool { return m.active[tenantID] }

type fakeReader struct {
	sessions map[string]*domain.Session
	err      error
}

func (r *fakeReader) GetByTenant(ctx context.Context, tenantID string) (*domain.Session, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.sessions[tenantID], nil
}

func (r *fakeReader) List(ctx context.Context) ([]*domain.Session, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make([]*domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out, nil
}

type fakeBudget struct {
	snap ratelimit.Snapshot
}

func (b *fakeBudget) Status(ctx context.Context, tenantID string) ratelimit.Snapshot {
	return b.snap
}

type fakePinger struct {
	err error
}

func (p *fakePinger) PingContext(ctx context.Context) error { return p.err }

func testServer(t *testing.T) (*Server, *fakeManager, *fakeReader, *fakeBudget, *fakePinger) {
	t.Helper()
	mgr := &fakeManager{active: map[string]bool{}}
	reader := &fakeReader{sessions: map[string]*domain.Session{}}
	budget := &fakeBudget{}
	pinger := &fakePinger{}
	events := notifier.New(slog.Default())
	s := New(mgr, reader, budget, events, pinger, nil, []string{"*"}, slog.Default())
	return s, mgr, reader, budget, pinger
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *strings.Reader
	if body == "" {
		reqBody = strings.NewReader("")
	} else {
		reqBody = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reqBody)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleStart(t *testing.T) {
	s, mgr, _, _, _ := testServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/sessions/hotel-1/start", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	if len(mgr.started) != 1 || mgr.started[0] != "hotel-1" {
		t.Errorf("started = %v", mgr.started)
	}
}

func TestHandleStart_ClientInitFailure(t *testing.T) {
	s, mgr, _, _, _ := testServer(t)
	mgr.startErr = netclient.ErrClientInit

	rec := doRequest(t, s, http.MethodPost, "/api/v1/sessions/hotel-1/start", "")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestHandleStop(t *testing.T) {
	s, mgr, _, _, _ := testServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/sessions/hotel-1/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(mgr.stopped) != 1 || mgr.stopped[0] != "hotel-1" {
		t.Errorf("stopped = %v", mgr.stopped)
	}
}

func TestHandleSendMessage(t *testing.T) {
	s, mgr, _, _, _ := testServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/sessions/hotel-1/messages",
		`{"destination":"+491701234567","text":"your room is ready"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if len(mgr.sent) != 1 {
		t.Fatalf("sent = %v", mgr.sent)
	}
}

func TestHandleSendMessage_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid destination", netclient.ErrInvalidDestination, http.StatusBadRequest},
		{"no active session", orchestrator.ErrNoActiveSession, http.StatusConflict},
		{"delivery failed", orchestrator.ErrDeliveryFailed, http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, mgr, _, _, _ := testServer(t)
			mgr.sendErr = tc.err
			rec := doRequest(t, s, http.MethodPost, "/api/v1/sessions/hotel-1/messages",
				`{"destination":"+491701234567","text":"hi"}`)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestHandleSendMessage_RateLimited(t *testing.T) {
	s, mgr, _, _, _ := testServer(t)
	mgr.sendErr = &orchestrator.RateLimitedError{Reason: "per-minute limit", RetryAfter: 42 * time.Second}

	rec := doRequest(t, s, http.MethodPost, "/api/v1/sessions/hotel-1/messages",
		`{"destination":"+491701234567","text":"hi"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "42" {
		t.Errorf("Retry-After = %q, want 42", got)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["reason"] != "per-minute limit" {
		t.Errorf("reason = %v", body["reason"])
	}
}

func TestHandleSendMessage_MissingFields(t *testing.T) {
	s, _, _, _, _ := testServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/sessions/hotel-1/messages", `{"text":"hi"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleGetSession(t *testing.T) {
	s, mgr, reader, _, _ := testServer(t)
	now := time.Now().UTC()
	reader.sessions["hotel-1"] = &domain.Session{
		TenantID:         "hotel-1",
		Status:           domain.StatusConnected,
		PairedIdentifier: "491701234567",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	mgr.active["hotel-1"] = true

	rec := doRequest(t, s, http.MethodGet, "/api/v1/sessions/hotel-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var view sessionView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if view.Status != "connected" || !view.Active || view.PairedIdentifier != "491701234567" {
		t.Errorf("view = %+v", view)
	}
}

func TestHandleGetSession_NotFound(t *testing.T) {
	s, _, _, _, _ := testServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/sessions/ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleListSessions(t *testing.T) {
	s, _, reader, _, _ := testServer(t)
	reader.sessions["hotel-1"] = &domain.Session{TenantID: "hotel-1", Status: domain.StatusCreated}
	reader.sessions["hotel-2"] = &domain.Session{TenantID: "hotel-2", Status: domain.StatusConnected}

	rec := doRequest(t, s, http.MethodGet, "/api/v1/sessions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Sessions []sessionView `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Sessions) != 2 {
		t.Errorf("got %d sessions, want 2", len(body.Sessions))
	}
}

func TestHandleLimits(t *testing.T) {
	s, _, _, budget, _ := testServer(t)
	until := time.Now().Add(10 * time.Minute).UTC()
	budget.snap = ratelimit.Snapshot{Minute: 1, Hour: 12, Day: 40, TotalSent: 75, CooldownUntil: &until}

	rec := doRequest(t, s, http.MethodGet, "/api/v1/sessions/hotel-1/limits", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["hour"] != float64(12) || body["totalSent"] != float64(75) {
		t.Errorf("body = %v", body)
	}
	if body["cooldownUntil"] == nil {
		t.Error("cooldownUntil missing")
	}
}

func TestHandleHealth(t *testing.T) {
	s, _, _, _, pinger := testServer(t)

	rec := doRequest(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	pinger.err = errors.New("connection refused")
	rec = doRequest(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when store unreachable", rec.Code)
	}
}
