package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"chat-bridge/backend/internal/session/domain"
)

// Supervisor keeps tenant sessions alive: it schedules exactly one reconnect
// per disconnect event and restores previously-connected sessions at startup.
// Retry timers are explicit and cancellable so Stop can deterministically
// clear a pending reconnect.
type Supervisor struct {
	mgr          *Manager
	delay        time.Duration
	restoreLimit int
	log          *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewSupervisor wires a supervisor to the manager's disconnect hooks.
func NewSupervisor(mgr *Manager, delay time.Duration, restoreLimit int, log *slog.Logger) *Supervisor {
	s := &Supervisor{
		mgr:          mgr,
		delay:        delay,
		restoreLimit: restoreLimit,
		log:          log,
		pending:      make(map[string]*time.Timer),
	}
	mgr.onDisconnect = s.Schedule
	mgr.cancelRetry = s.Cancel
	return s
}

// Schedule arms a single reconnect for the tenant after the fixed delay. A
// tenant with a retry already pending keeps the earlier one. If the retry
// itself fails it is reported and not retried further; an operator must
// start the session explicitly.
func (s *Supervisor) Schedule(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pending[tenantID]; exists {
		return
	}
	s.pending[tenantID] = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		delete(s.pending, tenantID)
		s.mu.Unlock()

		s.mgr.metrics.Reconnect(context.Background())
		if err := s.mgr.Start(context.Background(), tenantID, ""); err != nil {
			s.log.Error("automatic reconnect failed, operator start required",
				"tenant", tenantID, "error", err)
		}
	})
	s.log.Info("reconnect scheduled", "tenant", tenantID, "delay", s.delay)
}

// Cancel clears a pending reconnect for the tenant, if any.
func (s *Supervisor) Cancel(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[tenantID]; ok {
		t.Stop()
		delete(s.pending, tenantID)
	}
}

// PendingCount reports how many reconnects are currently scheduled.
func (s *Supervisor) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// RestoreAll starts every session whose last known good state was connected.
// Runs with bounded concurrency; a tenant that fails to restore is marked
// disconnected and does not prevent the others from restoring.
func (s *Supervisor) RestoreAll(ctx context.Context) error {
	sessions, err := s.mgr.sessions.ListByStatus(ctx, domain.StatusConnected)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		return nil
	}
	s.log.Info("restoring sessions", "count", len(sessions))

	var g errgroup.Group
	g.SetLimit(s.restoreLimit)
	for _, sess := range sessions {
		tenantID := sess.TenantID
		g.Go(func() error {
			if err := s.mgr.Start(ctx, tenantID, ""); err != nil {
				s.log.Error("restore failed", "tenant", tenantID, "error", err)
				if uerr := s.mgr.sessions.UpdateStatus(ctx, tenantID, domain.StatusDisconnected); uerr != nil {
					s.log.Error("marking failed restore disconnected failed", "tenant", tenantID, "error", uerr)
				}
			}
			// Per-tenant failures are isolated; never abort the group.
			return nil
		})
	}
	return g.Wait()
}

// Shutdown cancels every pending reconnect.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tenantID, t := range s.pending {
		t.Stop()
		delete(s.pending, tenantID)
	}
}
