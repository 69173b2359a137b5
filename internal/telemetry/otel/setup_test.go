package otel

import (
	"context"
	"testing"
)

func TestNewProviders_EmptyEndpointIsNoop(t *testing.T) {
	p, err := NewProviders(context.Background(), "", "chat-bridge", false)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	if p.MeterProvider == nil {
		t.Fatal("MeterProvider should not be nil")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestNewProviders_RejectsBadEndpoint(t *testing.T) {
	if _, err := NewProviders(context.Background(), "http://", "chat-bridge", false); err == nil {
		t.Fatal("endpoint without host should be rejected")
	}
	if _, err := NewProviders(context.Background(), "://bad", "chat-bridge", false); err == nil {
		t.Fatal("unparseable endpoint should be rejected")
	}
}
