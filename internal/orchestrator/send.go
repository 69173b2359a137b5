package orchestrator

import (
	"context"
	"fmt"

	"chat-bridge/backend/internal/netclient"
)

// SendMessage delivers a text message for the tenant. The rate-limit guard is
// consulted first; accepted sends are recorded only after confirmed delivery,
// so a failed network send never consumes budget. Delivery is bounded by the
// configured send timeout and is not retried here.
func (m *Manager) SendMessage(ctx context.Context, tenantID, destination, text string) error {
	dest, err := netclient.NormalizeDestination(destination)
	if err != nil {
		return err
	}

	if dec := m.guard.CanSend(ctx, tenantID, dest); !dec.Allowed {
		m.metrics.RateLimited(ctx, dec.Reason)
		return &RateLimitedError{Reason: dec.Reason, RetryAfter: dec.RetryAfter}
	}

	h := m.getHandle(tenantID)
	if h == nil {
		return fmt.Errorf("%w: %s", ErrNoActiveSession, tenantID)
	}

	sendCtx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	defer cancel()
	if err := h.client.SendText(sendCtx, dest, text); err != nil {
		m.metrics.SendFailed(ctx)
		m.log.Warn("delivery failed", "tenant", tenantID, "destination", dest, "error", err)
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	// Record with a non-cancellable context: the send happened, the budget
	// must be charged even if the caller has gone away.
	m.guard.RecordSend(context.WithoutCancel(ctx), tenantID, dest)
	m.metrics.Sent(ctx)
	m.log.Info("message sent", "tenant", tenantID, "destination", dest)
	return nil
}
