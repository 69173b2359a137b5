package repository

import (
	"context"

	"chat-bridge/backend/internal/session/domain"
)

// Repository defines persistence for tenant sessions.
type Repository interface {
	// GetByTenant returns the session for the tenant, or nil if none exists.
	GetByTenant(ctx context.Context, tenantID string) (*domain.Session, error)
	// List returns all sessions ordered by tenant id.
	List(ctx context.Context) ([]*domain.Session, error)
	// ListByStatus returns all sessions currently in the given status.
	ListByStatus(ctx context.Context, status domain.Status) ([]*domain.Session, error)
	// Create persists a new session record. Fails if the tenant already has one.
	Create(ctx context.Context, s *domain.Session) error
	// UpdateStatus sets the session status and bumps updated_at.
	UpdateStatus(ctx context.Context, tenantID string, status domain.Status) error
	// SetPairing marks the session pairing and stores the latest pairing code.
	SetPairing(ctx context.Context, tenantID, pairingCode string) error
	// SetConnected marks the session connected, records the paired identifier
	// and the canonical session token, and clears any pairing code.
	SetConnected(ctx context.Context, tenantID, pairedIdentifier, sessionToken string) error
}
