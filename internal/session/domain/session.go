package domain

import "time"

// Status is the lifecycle state of a tenant's network session.
type Status string

const (
	StatusCreated      Status = "created"
	StatusPairing      Status = "pairing"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusPairing, StatusConnected, StatusDisconnected:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// transition. A connected session must fully disconnect before it may pair
// again; disconnected always admits a new start. Transitions straight to
// connected are allowed from any non-connected state because a client holding
// stored credentials skips the pairing handshake entirely.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return false
	}
	switch s {
	case StatusCreated:
		return next == StatusPairing || next == StatusConnected || next == StatusDisconnected
	case StatusPairing:
		return next == StatusConnected || next == StatusDisconnected
	case StatusConnected:
		return next == StatusDisconnected
	case StatusDisconnected:
		return next == StatusPairing || next == StatusConnected
	}
	return false
}

// Session is the persisted record of one tenant's network session.
// Exactly one record exists per tenant.
type Session struct {
	TenantID         string
	PairedIdentifier string // network identity (phone number); set only once connected
	SessionToken     string // opaque key into the network client's credential store
	Status           Status
	PairingCode      string // last issued raw pairing payload; cleared on connect
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
