package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-coach/internal/config"
	"github.com/loqalabs/loqa-coach/internal/protocol"
	"github.com/loqalabs/loqa-coach/internal/session"
)

func TestRuntimeServesAndStops(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Bind = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Telemetry.PrometheusBind = "127.0.0.1:0"
	cfg.Bus.Port = -1
	cfg.Bus.StoreDir = ""
	cfg.Alerts.Log = false

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := New(cfg, logger, "test")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- rt.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !rt.Ready() {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("runtime did not become ready: %v", <-errCh)
		}
		time.Sleep(10 * time.Millisecond)
	}
	base := "http://" + rt.Addr()

	resp, err := http.Get(base + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ready, got %d", resp.StatusCode)
	}

	resp, err = http.Post(base+"/v1/sessions/s1/control", "application/json", strings.NewReader(`{"action":"arm","challenge_id":"1"}`))
	if err != nil {
		t.Fatalf("control: %v", err)
	}
	var reply protocol.ControlReply
	err = json.NewDecoder(resp.Body).Decode(&reply)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if !reply.OK || reply.Feedback.State != session.Armed {
		t.Fatalf("unexpected reply %+v", reply)
	}

	if addr := rt.MetricsAddr(); addr != "" {
		resp, err = http.Get("http://" + addr + "/metrics")
		if err != nil {
			t.Fatalf("metrics: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected metrics 200, got %d", resp.StatusCode)
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runtime exited with error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("runtime did not stop")
	}
}
