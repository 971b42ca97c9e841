package coach

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-coach/internal/bus"
	"github.com/loqalabs/loqa-coach/internal/config"
	"github.com/loqalabs/loqa-coach/internal/natsserver"
	"github.com/loqalabs/loqa-coach/internal/protocol"
	"github.com/loqalabs/loqa-coach/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, testLogger())
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, "coach-test", testLogger())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func subscribeJSON[T any](t *testing.T, conn *nats.Conn, subject string) <-chan T {
	t.Helper()
	ch := make(chan T, 64)
	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err == nil {
			select {
			case ch <- v:
			default:
			}
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	return ch
}

func TestServiceOverBus(t *testing.T) {
	client := startBus(t)
	cfg := testConfig()
	cfg.STTBridge = true
	svc, err := New(context.Background(), Options{
		Config:    cfg,
		Catalog:   testCatalog(t),
		Publisher: client,
		Logger:    testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	require.NoError(t, svc.Subscribe(client.Conn()))

	conn := client.Conn()
	feedback := subscribeJSON[session.Feedback](t, conn, "coach.feedback.s1")
	scores := subscribeJSON[session.Completion](t, conn, "coach.score.s1")
	require.NoError(t, conn.Flush())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var reply protocol.ControlReply
	require.NoError(t, client.RequestJSON(ctx, "coach.control.s1", protocol.Control{Action: "start", ChallengeID: "fox"}, &reply))
	require.True(t, reply.OK, reply.Error)
	assert.Equal(t, session.Recording, reply.Feedback.State)

	require.NoError(t, client.PublishJSON("coach.fragment.s1", protocol.Fragment{StartOffset: 0, Text: "the quick", IsFinal: true}))
	require.NoError(t, client.PublishJSON(protocol.SubjectTranscriptFinal, protocol.Transcript{SessionID: "s1", Text: "brown fox", StartOffset: 900}))

	waitFor(t, feedback, func(fb session.Feedback) bool { return fb.Transcript == "the quick brown fox" })

	require.NoError(t, client.PublishJSON("coach.upstream.end.s1", protocol.Heartbeat{SessionID: "s1", End: true}))
	c := waitFor(t, scores, func(session.Completion) bool { return true })
	assert.Equal(t, session.StopUpstream, c.Reason)
	assert.True(t, c.Score.CoverageSatisfied)

	var bad protocol.ControlReply
	require.NoError(t, client.RequestJSON(ctx, "coach.control.s1", protocol.Control{Action: "pause"}, &bad))
	assert.False(t, bad.OK)
	assert.NotEmpty(t, bad.Error)
}

func waitFor[T any](t *testing.T, ch <-chan T, match func(T) bool) T {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case v := <-ch:
			if match(v) {
				return v
			}
		case <-deadline:
			t.Fatal("timed out waiting for message")
			var zero T
			return zero
		}
	}
}
