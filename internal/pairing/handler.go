// Package pairing throttles raw pairing codes and republishes them in
// renderable form. The network re-issues codes every few seconds while
// unpaired; without the refresh window downstream consumers would be flooded.
package pairing

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"chat-bridge/backend/internal/notifier"
	"chat-bridge/backend/internal/session/domain"
)

const qrImageSize = 256

// SessionStore is the slice of the session repository the handler needs.
type SessionStore interface {
	GetByTenant(ctx context.Context, tenantID string) (*domain.Session, error)
	SetPairing(ctx context.Context, tenantID, pairingCode string) error
}

// Handler converts raw pairing codes into a rate-limited stream of QR images.
type Handler struct {
	store   SessionStore
	events  *notifier.Notifier
	refresh time.Duration
	log     *slog.Logger

	mu         sync.Mutex
	lastIssued map[string]time.Time
	nowF       func() time.Time
}

// NewHandler returns a handler that publishes at most one code per tenant per
// refresh interval.
func NewHandler(store SessionStore, events *notifier.Notifier, refresh time.Duration, log *slog.Logger) *Handler {
	return &Handler{
		store:      store,
		events:     events,
		refresh:    refresh,
		log:        log,
		lastIssued: make(map[string]time.Time),
		nowF:       time.Now,
	}
}

// OnPairingCode handles one raw code from the network client. Connected
// sessions never re-pair, so their codes are ignored. Codes arriving inside
// the refresh window are dropped; the client keeps emitting, so the next code
// after the window elapses gets through. The session store is updated before
// the event is published.
func (h *Handler) OnPairingCode(ctx context.Context, tenantID, rawCode string) error {
	s, err := h.store.GetByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("pairing: load session %s: %w", tenantID, err)
	}
	if s != nil && s.Status == domain.StatusConnected {
		return nil
	}

	now := h.nowF()
	h.mu.Lock()
	last, seen := h.lastIssued[tenantID]
	if seen && now.Sub(last) < h.refresh {
		h.mu.Unlock()
		h.log.Debug("pairing code throttled", "tenant", tenantID)
		return nil
	}
	h.mu.Unlock()

	rendered, err := render(rawCode)
	if err != nil {
		h.events.Publish(notifier.Event{
			Type:     notifier.EventPairingCodeError,
			TenantID: tenantID,
			Message:  "pairing code could not be rendered",
		})
		return fmt.Errorf("pairing: render code for %s: %w", tenantID, err)
	}

	if err := h.store.SetPairing(ctx, tenantID, rawCode); err != nil {
		return fmt.Errorf("pairing: persist code for %s: %w", tenantID, err)
	}

	// The throttle window opens only on codes that actually got published:
	// a failed render or persist must not suppress the next good code.
	h.mu.Lock()
	h.lastIssued[tenantID] = now
	h.mu.Unlock()

	h.events.Publish(notifier.Event{
		Type:           notifier.EventPairingCodeReady,
		TenantID:       tenantID,
		RenderableCode: rendered,
	})
	h.log.Info("pairing code published", "tenant", tenantID)
	return nil
}

// Forget clears the tenant's throttle state. Called when a session is torn
// down so a fresh start can publish immediately.
func (h *Handler) Forget(tenantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.lastIssued, tenantID)
}

// render encodes the raw code as a QR PNG data URI.
func render(rawCode string) (string, error) {
	png, err := qrcode.Encode(rawCode, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
