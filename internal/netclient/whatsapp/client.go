// Package whatsapp implements netclient on top of whatsmeow.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"chat-bridge/backend/internal/netclient"
)

const eventBuffer = 16

// Factory builds whatsmeow clients backed by a shared credential container.
type Factory struct {
	container *sqlstore.Container
	log       *slog.Logger
}

// NewFactory opens the whatsmeow credential store on the given Postgres DSN.
// The store holds one device row per paired session, keyed by JID.
func NewFactory(ctx context.Context, dsn string, log *slog.Logger) (*Factory, error) {
	container, err := sqlstore.New(ctx, "pgx", dsn, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("%w: open credential store: %v", netclient.ErrClientInit, err)
	}
	return &Factory{container: container, log: log}, nil
}

// New returns a client bound to the device identified by sessionToken (a JID
// string once paired). An unparseable or unknown token yields a fresh device
// that must go through the pairing handshake.
func (f *Factory) New(ctx context.Context, sessionToken, pairingHint string) (netclient.Client, <-chan netclient.Event, error) {
	device := f.container.NewDevice()
	if jid, err := types.ParseJID(sessionToken); err == nil && jid.User != "" {
		stored, err := f.container.GetDevice(ctx, jid)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: load device %s: %v", netclient.ErrClientInit, jid, err)
		}
		if stored != nil {
			device = stored
		}
	}

	c := &client{
		cli:    whatsmeow.NewClient(device, waLog.Noop),
		events: make(chan netclient.Event, eventBuffer),
		log:    f.log,
	}
	c.cli.AddEventHandler(c.handleEvent)
	return c, c.events, nil
}

type client struct {
	cli    *whatsmeow.Client
	events chan netclient.Event
	log    *slog.Logger

	mu     sync.Mutex
	closed bool
	qrDone context.CancelFunc
}

// Connect starts the connection. For unpaired devices the QR channel must be
// claimed before dialing, so pairing codes are forwarded from there.
func (c *client) Connect(ctx context.Context) error {
	if c.cli.Store.ID == nil {
		qrCtx, cancel := context.WithCancel(ctx)
		qrChan, err := c.cli.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("%w: qr channel: %v", netclient.ErrClientInit, err)
		}
		c.mu.Lock()
		c.qrDone = cancel
		c.mu.Unlock()
		go c.pumpQR(qrChan)
	}

	if err := c.cli.Connect(); err != nil {
		return fmt.Errorf("%w: connect: %v", netclient.ErrClientInit, err)
	}
	return nil
}

func (c *client) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			c.emit(netclient.Event{Kind: netclient.EventPairingCode, PairingCode: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			// events.Connected follows; nothing to forward here.
		case whatsmeow.QRChannelTimeout.Event:
			c.emit(netclient.Event{Kind: netclient.EventDisconnected, Reason: "pairing timed out"})
		}
	}
}

// handleEvent translates whatsmeow events into netclient events. whatsmeow
// dispatches handlers sequentially per client, which preserves ordering.
func (c *client) handleEvent(raw interface{}) {
	switch evt := raw.(type) {
	case *events.Connected:
		ev := netclient.Event{Kind: netclient.EventReady}
		if id := c.cli.Store.ID; id != nil {
			ev.PairedIdentifier = id.User
			ev.SessionToken = id.String()
		}
		c.emit(ev)
	case *events.LoggedOut:
		c.emit(netclient.Event{Kind: netclient.EventAuthFailure, Reason: fmt.Sprintf("logged out by network (%v)", evt.Reason)})
	case *events.StreamReplaced:
		c.emit(netclient.Event{Kind: netclient.EventDisconnected, Reason: "stream replaced by another connection"})
	case *events.Disconnected:
		c.emit(netclient.Event{Kind: netclient.EventDisconnected, Reason: "connection closed"})
	}
}

// SendText delivers a plain text message. destination must already be
// normalized to bare digits.
func (c *client) SendText(ctx context.Context, destination, text string) error {
	jid := types.NewJID(destination, types.DefaultUserServer)
	_, err := c.cli.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return fmt.Errorf("send to %s: %w", destination, err)
	}
	return nil
}

// Disconnect tears down the connection and closes the event channel. Safe to
// call more than once; late whatsmeow callbacks are dropped once closed.
func (c *client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	qrDone := c.qrDone
	c.mu.Unlock()

	if qrDone != nil {
		qrDone()
	}
	c.cli.Disconnect()

	c.mu.Lock()
	close(c.events)
	c.mu.Unlock()
}

// emit forwards an event unless the client is closed. A full buffer drops the
// event rather than blocking whatsmeow's dispatch goroutine; the authoritative
// state lives in the session store either way.
func (c *client) emit(ev netclient.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.log.Warn("network event dropped, buffer full", "kind", string(ev.Kind))
	}
}
