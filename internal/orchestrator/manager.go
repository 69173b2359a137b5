// Package orchestrator is the session core: it owns the registry of live
// network-client handles, applies the session state machine to client events,
// supervises reconnects, and gates outbound sends through the rate limiter.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-bridge/backend/internal/netclient"
	"chat-bridge/backend/internal/notifier"
	"chat-bridge/backend/internal/pairing"
	"chat-bridge/backend/internal/ratelimit"
	"chat-bridge/backend/internal/session/domain"
	"chat-bridge/backend/internal/session/repository"
	"chat-bridge/backend/internal/telemetry"
)

const (
	storeWriteAttempts = 3
	storeWriteBackoff  = 200 * time.Millisecond
)

// Manager maintains at most one live client handle per tenant and serializes
// all lifecycle operations for a tenant behind a per-tenant lock. Operations
// for different tenants run concurrently.
type Manager struct {
	sessions    repository.Repository
	factory     netclient.Factory
	pairing     *pairing.Handler
	events      *notifier.Notifier
	guard       *ratelimit.Guard
	metrics     *telemetry.Metrics
	sendTimeout time.Duration
	log         *slog.Logger

	mu      sync.RWMutex
	handles map[string]*handle

	tenantMu keyedMutex

	sleep func(time.Duration)

	// onDisconnect schedules the single automatic reconnect after an
	// unexpected disconnect. Wired by the supervisor; nil disables retries.
	onDisconnect func(tenantID string)
	// cancelRetry cancels a pending reconnect, if any. Wired by the supervisor.
	cancelRetry func(tenantID string)
}

// handle wraps one live network client. In-memory only; destroyed on
// disconnect or stop.
type handle struct {
	tenantID string
	client   netclient.Client
	events   <-chan netclient.Event
	done     chan struct{}
	// connected records whether this handle reached ready and incremented the
	// connected-sessions gauge. Guarded by the tenant lock.
	connected bool
}

// NewManager returns a manager over the given collaborators.
func NewManager(
	sessions repository.Repository,
	factory netclient.Factory,
	pairingHandler *pairing.Handler,
	events *notifier.Notifier,
	guard *ratelimit.Guard,
	metrics *telemetry.Metrics,
	sendTimeout time.Duration,
	log *slog.Logger,
) *Manager {
	return &Manager{
		sessions:    sessions,
		factory:     factory,
		pairing:     pairingHandler,
		events:      events,
		guard:       guard,
		metrics:     metrics,
		sendTimeout: sendTimeout,
		log:         log,
		handles:     make(map[string]*handle),
		sleep:       time.Sleep,
	}
}

// Start brings up a session for the tenant. Idempotent: a tenant with a live
// handle returns success immediately and never gets a second handle. Start
// returns once the handle is registered and the connect attempt is under way;
// connection progress is reported through the event notifier.
func (m *Manager) Start(ctx context.Context, tenantID, pairingHint string) error {
	unlock := m.tenantMu.lock(tenantID)
	defer unlock()

	if m.getHandle(tenantID) != nil {
		return nil
	}

	s, err := m.sessions.GetByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("start %s: load session: %w", tenantID, err)
	}
	if s == nil {
		now := time.Now().UTC()
		s = &domain.Session{
			TenantID:     tenantID,
			SessionToken: uuid.NewString(),
			Status:       domain.StatusCreated,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := m.sessions.Create(ctx, s); err != nil {
			return fmt.Errorf("start %s: create session: %w", tenantID, err)
		}
	}

	client, events, err := m.factory.New(ctx, s.SessionToken, pairingHint)
	if err != nil {
		m.writeStatus(tenantID, domain.StatusDisconnected)
		if !isClientInit(err) {
			err = fmt.Errorf("%w: %v", netclient.ErrClientInit, err)
		}
		return fmt.Errorf("start %s: %w", tenantID, err)
	}

	h := &handle{
		tenantID: tenantID,
		client:   client,
		events:   events,
		done:     make(chan struct{}),
	}
	m.mu.Lock()
	m.handles[tenantID] = h
	m.mu.Unlock()

	go m.consume(h)
	go m.connect(h)

	m.log.Info("session start initiated", "tenant", tenantID)
	return nil
}

// Stop tears the tenant's session down: pending reconnects are cancelled, the
// handle is removed and its client destroyed (best effort), and the session is
// marked disconnected. Stopping a tenant with no handle is a no-op success.
func (m *Manager) Stop(ctx context.Context, tenantID string) error {
	unlock := m.tenantMu.lock(tenantID)
	defer unlock()

	// Cancel under the tenant lock: a disconnect handler schedules its retry
	// while holding this lock, so by the time Stop holds it the retry is
	// either already pending (cancelled here) or will never be scheduled
	// (the handle is gone and the handler sees a stale one).
	if m.cancelRetry != nil {
		m.cancelRetry(tenantID)
	}

	h := m.getHandle(tenantID)
	if h == nil {
		return nil
	}

	// Remove first so the disconnect event from our own teardown is seen as
	// stale and ignored by the consumer loop.
	m.removeHandle(h)
	h.client.Disconnect()
	m.pairing.Forget(tenantID)

	m.writeStatus(tenantID, domain.StatusDisconnected)
	m.events.Publish(notifier.Event{
		Type:     notifier.EventSessionDisconnected,
		TenantID: tenantID,
		Reason:   "stopped by operator",
	})
	if h.connected {
		m.metrics.SessionDown(context.WithoutCancel(ctx))
	}
	m.log.Info("session stopped", "tenant", tenantID)
	return nil
}

// Active reports whether the tenant currently has a live handle.
func (m *Manager) Active(tenantID string) bool {
	return m.getHandle(tenantID) != nil
}

// ShutdownAll destroys every live handle without touching persisted status,
// so sessions that were connected restore on the next startup.
func (m *Manager) ShutdownAll() {
	m.mu.Lock()
	handles := make([]*handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.handles = make(map[string]*handle)
	m.mu.Unlock()

	for _, h := range handles {
		h.client.Disconnect()
	}
	m.log.Info("all session handles shut down", "count", len(handles))
}

// consume applies client events to the state machine for one handle, in the
// order the client emitted them. It exits when the handle's channel closes or
// a terminal event removes the handle.
func (m *Manager) consume(h *handle) {
	defer close(h.done)
	ctx := context.Background()
	for ev := range h.events {
		switch ev.Kind {
		case netclient.EventPairingCode:
			if err := m.pairing.OnPairingCode(ctx, h.tenantID, ev.PairingCode); err != nil {
				m.log.Error("pairing code handling failed", "tenant", h.tenantID, "error", err)
			}
		case netclient.EventReady:
			m.handleReady(h, ev)
		case netclient.EventDisconnected:
			m.handleGone(h, ev.Reason, true)
			return
		case netclient.EventAuthFailure:
			m.handleGone(h, "authentication failed: "+ev.Reason, false)
			return
		}
	}
}

// connect runs the client's connect attempt. An immediate failure is treated
// like an unexpected disconnect so the supervisor gets its single retry.
func (m *Manager) connect(h *handle) {
	if err := h.client.Connect(context.Background()); err != nil {
		m.log.Error("connect failed", "tenant", h.tenantID, "error", err)
		m.handleGone(h, "connect failed", true)
	}
}

func (m *Manager) handleReady(h *handle, ev netclient.Event) {
	unlock := m.tenantMu.lock(h.tenantID)
	defer unlock()

	if m.getHandle(h.tenantID) != h {
		// Stale handle: the registry moved on (stop or replacement). Its
		// events must not resurrect the session.
		m.log.Warn("ready from stale handle ignored", "tenant", h.tenantID)
		return
	}

	ctx := context.Background()
	s, err := m.sessions.GetByTenant(ctx, h.tenantID)
	if err != nil {
		m.log.Error("load session on ready failed", "tenant", h.tenantID, "error", err)
	}
	if s != nil && s.Status != domain.StatusConnected && !s.Status.CanTransition(domain.StatusConnected) {
		m.log.Warn("illegal transition to connected skipped", "tenant", h.tenantID, "from", string(s.Status))
		return
	}

	m.retryWrite(h.tenantID, func() error {
		return m.sessions.SetConnected(ctx, h.tenantID, ev.PairedIdentifier, ev.SessionToken)
	})
	m.pairing.Forget(h.tenantID)
	m.events.Publish(notifier.Event{
		Type:             notifier.EventSessionConnected,
		TenantID:         h.tenantID,
		PairedIdentifier: ev.PairedIdentifier,
	})
	if !h.connected {
		h.connected = true
		m.metrics.SessionUp(ctx)
	}
	m.log.Info("session connected", "tenant", h.tenantID, "paired", ev.PairedIdentifier)
}

// handleGone removes the handle and marks the session disconnected. When
// autoRetry is set the supervisor schedules exactly one reconnect; auth
// failures never retry and wait for an operator.
func (m *Manager) handleGone(h *handle, reason string, autoRetry bool) {
	unlock := m.tenantMu.lock(h.tenantID)

	if m.getHandle(h.tenantID) != h {
		unlock()
		return
	}
	m.removeHandle(h)
	h.client.Disconnect()

	ctx := context.Background()
	m.writeStatus(h.tenantID, domain.StatusDisconnected)

	// Schedule the retry before releasing the tenant lock. A concurrent Stop
	// acquires this lock first, so it either cancels the pending retry or
	// removes the handle before this handler runs; there is no window where
	// Stop returns success and a retry slips in afterwards.
	if autoRetry && m.onDisconnect != nil {
		m.onDisconnect(h.tenantID)
	}
	wasConnected := h.connected
	unlock()

	m.events.Publish(notifier.Event{
		Type:     notifier.EventSessionDisconnected,
		TenantID: h.tenantID,
		Reason:   reason,
	})
	if wasConnected {
		m.metrics.SessionDown(ctx)
	}

	if autoRetry {
		m.log.Warn("session disconnected, scheduling reconnect", "tenant", h.tenantID, "reason", reason)
		return
	}
	m.log.Error("session terminally disconnected, operator start required",
		"tenant", h.tenantID, "reason", reason)
}

func (m *Manager) getHandle(tenantID string) *handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handles[tenantID]
}

func (m *Manager) removeHandle(h *handle) {
	m.mu.Lock()
	if m.handles[h.tenantID] == h {
		delete(m.handles, h.tenantID)
	}
	m.mu.Unlock()
}

// writeStatus persists a status transition, skipping writes that would repeat
// the current status. Store failures are retried a bounded number of times
// and then logged; in-memory state stays authoritative until the next write.
func (m *Manager) writeStatus(tenantID string, status domain.Status) {
	ctx := context.Background()
	s, err := m.sessions.GetByTenant(ctx, tenantID)
	if err == nil && s != nil && s.Status == status {
		return
	}
	m.retryWrite(tenantID, func() error {
		return m.sessions.UpdateStatus(ctx, tenantID, status)
	})
}

func (m *Manager) retryWrite(tenantID string, write func() error) {
	var err error
	for attempt := 0; attempt < storeWriteAttempts; attempt++ {
		if err = write(); err == nil {
			return
		}
		if attempt < storeWriteAttempts-1 {
			m.sleep(storeWriteBackoff * time.Duration(attempt+1))
		}
	}
	m.log.Error("session store write failed, in-memory state authoritative",
		"tenant", tenantID, "error", err)
}

func isClientInit(err error) bool {
	return errors.Is(err, netclient.ErrClientInit)
}

// keyedMutex serializes operations per key while letting distinct keys run
// concurrently. Entries are never removed; the map is bounded by tenant count.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
