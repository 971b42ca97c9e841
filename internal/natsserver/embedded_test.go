package natsserver

import (
	"log/slog"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-coach/internal/config"
)

func TestStartDisabled(t *testing.T) {
	srv, err := Start(config.BusConfig{Embedded: false}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if srv != nil {
		t.Fatal("expected nil server when embedded mode is disabled")
	}
	srv.Shutdown()
}

func TestStartAcceptsConnections(t *testing.T) {
	srv, err := Start(config.BusConfig{Embedded: true, Port: -1}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Shutdown()

	conn, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()
	if !conn.IsConnected() {
		t.Fatal("expected connected client")
	}
}
