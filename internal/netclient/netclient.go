// Package netclient defines the boundary to the external messaging network.
// The orchestrator only sees these types; concrete clients (whatsapp) live in
// subpackages and translate their library events and errors into this shape.
package netclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// EventKind classifies lifecycle events emitted by a network client.
type EventKind string

const (
	// EventPairingCode carries a fresh raw pairing payload while unpaired.
	EventPairingCode EventKind = "pairing_code"
	// EventReady fires once the session is authenticated and online.
	EventReady EventKind = "ready"
	// EventDisconnected fires on any connection loss after Connect.
	EventDisconnected EventKind = "disconnected"
	// EventAuthFailure fires when the network rejects the paired credential.
	// Terminal until an operator re-initiates pairing.
	EventAuthFailure EventKind = "auth_failure"
)

// Event is one lifecycle event from a network client. Clients emit events on
// their channel in the order they occur; consumers must preserve that order.
type Event struct {
	Kind EventKind
	// PairingCode is set for EventPairingCode.
	PairingCode string
	// PairedIdentifier is set for EventReady (the network identity, e.g. phone number).
	PairedIdentifier string
	// SessionToken is set for EventReady: the canonical token that re-opens
	// this credential on restart. Replaces any placeholder token.
	SessionToken string
	// Reason is set for EventDisconnected and EventAuthFailure.
	Reason string
}

// Client is one live connection to the messaging network on behalf of a tenant.
type Client interface {
	// Connect initiates the connection. It returns once the attempt is under
	// way; completion is reported through the event channel. Cancelling ctx
	// aborts an in-flight attempt.
	Connect(ctx context.Context) error
	// SendText delivers a text message to the normalized destination.
	SendText(ctx context.Context, destination, text string) error
	// Disconnect tears the connection down and closes the event channel.
	// Safe to call more than once.
	Disconnect()
}

// Factory constructs clients bound to a tenant's stored credential.
type Factory interface {
	// New returns a client for the session token plus the channel its
	// lifecycle events arrive on. pairingHint optionally carries the phone
	// number the tenant intends to pair. Construction failures are returned
	// as ErrClientInit wraps.
	New(ctx context.Context, sessionToken, pairingHint string) (Client, <-chan Event, error)
}

// ErrClientInit marks a failure to construct or initialize the underlying client.
var ErrClientInit = errors.New("network client initialization failed")

// ErrInvalidDestination marks a destination that cannot be normalized.
var ErrInvalidDestination = errors.New("invalid destination")

// NormalizeDestination reduces a destination to the network's addressing form:
// bare digits with no prefix. Accepts spaces, dashes, parentheses, and a
// leading plus. Returns ErrInvalidDestination for anything else or for numbers
// shorter than 7 digits.
func NormalizeDestination(destination string) (string, error) {
	var b strings.Builder
	for i, r := range destination {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidDestination, destination)
		}
	}
	digits := b.String()
	if len(digits) < 7 {
		return "", fmt.Errorf("%w: %q", ErrInvalidDestination, destination)
	}
	return digits, nil
}
