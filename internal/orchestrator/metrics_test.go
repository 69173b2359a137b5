package orchestrator

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"chat-bridge/backend/internal/netclient"
	"chat-bridge/backend/internal/telemetry"
)

func connectedSessions(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "bridge.sessions.connected" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("bridge.sessions.connected data = %T, want Sum[int64]", m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetrics_ConnectedGaugeTracksOnlyReadySessions(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := telemetry.NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatal(err)
	}
	rig := newTestRigMetrics(t, time.Hour, metrics)
	ctx := context.Background()

	// Stopping a session that never reached ready must not drive the gauge
	// below zero.
	if err := rig.mgr.Start(ctx, "hotel-1", ""); err != nil {
		t.Fatal(err)
	}
	if err := rig.mgr.Stop(ctx, "hotel-1"); err != nil {
		t.Fatal(err)
	}
	if got := connectedSessions(t, reader); got != 0 {
		t.Fatalf("connected sessions after stop before ready = %d, want 0", got)
	}

	// Same for an unexpected disconnect before ready.
	if err := rig.mgr.Start(ctx, "hotel-1", ""); err != nil {
		t.Fatal(err)
	}
	rig.factory.lastClient().emit(netclient.Event{Kind: netclient.EventDisconnected, Reason: "network blip"})
	waitFor(t, "handle removed", func() bool { return !rig.mgr.Active("hotel-1") })
	if got := connectedSessions(t, reader); got != 0 {
		t.Fatalf("connected sessions after disconnect before ready = %d, want 0", got)
	}
	rig.sup.Cancel("hotel-1")

	// A full connect/stop cycle goes up to 1 and back to 0.
	if err := rig.mgr.Start(ctx, "hotel-1", ""); err != nil {
		t.Fatal(err)
	}
	rig.factory.lastClient().emit(netclient.Event{Kind: netclient.EventReady, PairedIdentifier: "491701234567"})
	waitFor(t, "gauge at one", func() bool { return connectedSessions(t, reader) == 1 })

	if err := rig.mgr.Stop(ctx, "hotel-1"); err != nil {
		t.Fatal(err)
	}
	if got := connectedSessions(t, reader); got != 0 {
		t.Errorf("connected sessions after stop = %d, want 0", got)
	}
}
