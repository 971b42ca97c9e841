package upstream

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/loqalabs/loqa-coach/internal/config"
)

type lostEvent struct {
	id     string
	reason Reason
}

func newTestMonitor(t *testing.T) (*Monitor, *time.Time, *[]lostEvent) {
	t.Helper()
	var events []lostEvent
	m := NewMonitor(config.UpstreamConfig{HeartbeatTimeout: 5000, CheckInterval: 1000}, func(id string, r Reason) {
		events = append(events, lostEvent{id, r})
	}, slog.New(slog.DiscardHandler))
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now, &events
}

func TestEvaluateReportsTimedOutStreams(t *testing.T) {
	m, now, events := newTestMonitor(t)
	m.Beat("a", time.Time{})
	m.Beat("b", time.Time{})

	*now = now.Add(3 * time.Second)
	m.Beat("b", time.Time{})
	assert.Empty(t, m.Evaluate())

	*now = now.Add(3 * time.Second)
	assert.Equal(t, []string{"a"}, m.Evaluate())
	assert.Equal(t, []lostEvent{{"a", ReasonTimeout}}, *events)

	streams := m.Streams()
	assert.Len(t, streams, 1)
	assert.Equal(t, "b", streams[0].SessionID)

	// A lost stream is reported once.
	assert.Empty(t, m.Evaluate())
}

func TestBeatIgnoresOlderTimestamps(t *testing.T) {
	m, now, _ := newTestMonitor(t)
	m.Beat("a", *now)
	m.Beat("a", now.Add(-time.Minute))
	assert.Equal(t, *now, m.Streams()[0].LastSeen)
}

func TestEndReportsAndStopsTracking(t *testing.T) {
	m, _, events := newTestMonitor(t)
	m.Beat("a", time.Time{})
	m.End("a")
	assert.Empty(t, m.Streams())
	assert.Equal(t, []lostEvent{{"a", ReasonEnded}}, *events)

	m.Beat("b", time.Time{})
	m.Forget("b")
	assert.Empty(t, m.Streams())
	assert.Len(t, *events, 1)
}
