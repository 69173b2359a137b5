// Package notifier fans lifecycle events out to subscribers (the dashboard's
// real-time channel). Publishing never blocks: a subscriber that cannot keep
// up loses events, and authoritative state stays in the session store.
package notifier

import (
	"log/slog"
	"sync"
	"time"
)

// EventType identifies a lifecycle event published to subscribers.
type EventType string

const (
	EventPairingCodeReady    EventType = "pairing_code_ready"
	EventPairingCodeError    EventType = "pairing_code_error"
	EventSessionConnected    EventType = "session_connected"
	EventSessionDisconnected EventType = "session_disconnected"
)

// Event is one lifecycle notification.
type Event struct {
	Type     EventType `json:"type"`
	TenantID string    `json:"tenantId"`
	// RenderableCode is the base64 PNG data URI for pairing_code_ready.
	RenderableCode string `json:"renderableCode,omitempty"`
	// PairedIdentifier is set for session_connected.
	PairedIdentifier string `json:"pairedIdentifier,omitempty"`
	// Reason is set for session_disconnected.
	Reason string `json:"reason,omitempty"`
	// Message is set for pairing_code_error.
	Message string `json:"message,omitempty"`
	// At is when the event was published.
	At time.Time `json:"at"`
}

const subscriberBuffer = 32

// Notifier is a non-blocking fan-out of Events.
type Notifier struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
	log  *slog.Logger
	nowF func() time.Time
}

// New returns an empty notifier.
func New(log *slog.Logger) *Notifier {
	return &Notifier{
		subs: make(map[int]chan Event),
		log:  log,
		nowF: time.Now,
	}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called when done; it closes the channel.
func (n *Notifier) Subscribe() (<-chan Event, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.next
	n.next++
	ch := make(chan Event, subscriberBuffer)
	n.subs[id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if ch, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber without blocking. Events for full
// subscriber buffers are dropped and logged.
func (n *Notifier) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = n.nowF()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, ch := range n.subs {
		select {
		case ch <- ev:
		default:
			n.log.Warn("notifier: slow subscriber, event dropped",
				"subscriber", id, "type", string(ev.Type), "tenant", ev.TenantID)
		}
	}
}

// SubscriberCount reports how many subscribers are attached.
func (n *Notifier) SubscriberCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
