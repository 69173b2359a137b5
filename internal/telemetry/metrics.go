// Package telemetry exposes the orchestrator's OpenTelemetry instruments.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles the core's instruments. A nil *Metrics is a valid no-op
// receiver so callers never need nil checks.
type Metrics struct {
	sent        metric.Int64Counter
	sendFailed  metric.Int64Counter
	rateLimited metric.Int64Counter
	reconnects  metric.Int64Counter
	connected   metric.Int64UpDownCounter
}

// NewMetrics creates the instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.sent, err = meter.Int64Counter("bridge.messages.sent",
		metric.WithDescription("Messages delivered to the network")); err != nil {
		return nil, err
	}
	if m.sendFailed, err = meter.Int64Counter("bridge.messages.failed",
		metric.WithDescription("Message deliveries that failed or timed out")); err != nil {
		return nil, err
	}
	if m.rateLimited, err = meter.Int64Counter("bridge.messages.rate_limited",
		metric.WithDescription("Send attempts rejected by the rate-limit guard")); err != nil {
		return nil, err
	}
	if m.reconnects, err = meter.Int64Counter("bridge.sessions.reconnects",
		metric.WithDescription("Automatic reconnect attempts")); err != nil {
		return nil, err
	}
	if m.connected, err = meter.Int64UpDownCounter("bridge.sessions.connected",
		metric.WithDescription("Currently connected sessions")); err != nil {
		return nil, err
	}
	return m, nil
}

// Sent counts one delivered message.
func (m *Metrics) Sent(ctx context.Context) {
	if m == nil {
		return
	}
	m.sent.Add(ctx, 1)
}

// SendFailed counts one failed delivery.
func (m *Metrics) SendFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.sendFailed.Add(ctx, 1)
}

// RateLimited counts one rejected send attempt, labelled with the reason.
func (m *Metrics) RateLimited(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// Reconnect counts one automatic reconnect attempt.
func (m *Metrics) Reconnect(ctx context.Context) {
	if m == nil {
		return
	}
	m.reconnects.Add(ctx, 1)
}

// SessionUp marks one session as connected.
func (m *Metrics) SessionUp(ctx context.Context) {
	if m == nil {
		return
	}
	m.connected.Add(ctx, 1)
}

// SessionDown marks one session as no longer connected.
func (m *Metrics) SessionDown(ctx context.Context) {
	if m == nil {
		return
	}
	m.connected.Add(ctx, -1)
}
