// Package upstream tracks transcription streams by heartbeat and reports the
// ones that went silent.
package upstream

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-coach/internal/config"
)

// Reason says why a stream stopped.
type Reason string

const (
	ReasonEnded   Reason = "ended"
	ReasonTimeout Reason = "timeout"
)

// Stream is the last known state of one session's upstream.
type Stream struct {
	SessionID string    `json:"session_id"`
	LastSeen  time.Time `json:"last_seen"`
}

// LostFunc is called once per stream that ends or times out. It runs on the
// monitor's goroutine and must not block.
type LostFunc func(sessionID string, reason Reason)

type Monitor struct {
	timeout  time.Duration
	interval time.Duration
	onLost   LostFunc
	log      *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	streams map[string]time.Time

	meter metric.Meter
	gauge metric.Int64ObservableGauge
}

func NewMonitor(cfg config.UpstreamConfig, onLost LostFunc, log *slog.Logger) *Monitor {
	m := &Monitor{
		timeout:  time.Duration(cfg.HeartbeatTimeout) * time.Millisecond,
		interval: time.Duration(cfg.CheckInterval) * time.Millisecond,
		onLost:   onLost,
		log:      log.With(slog.String("component", "upstream-monitor")),
		now:      time.Now,
		streams:  make(map[string]time.Time),
		meter:    otel.Meter("github.com/loqalabs/loqa-coach/upstream"),
	}
	if m.interval <= 0 {
		m.interval = time.Second
	}
	if err := m.initMetrics(); err != nil {
		m.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return m
}

// Beat records activity for sessionID at ts (now when zero).
func (m *Monitor) Beat(sessionID string, ts time.Time) {
	if ts.IsZero() {
		ts = m.now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.streams[sessionID]; !ok || ts.After(last) {
		m.streams[sessionID] = ts
	}
}

// End stops tracking sessionID and reports a clean end of stream.
func (m *Monitor) End(sessionID string) {
	m.mu.Lock()
	_, ok := m.streams[sessionID]
	delete(m.streams, sessionID)
	m.mu.Unlock()
	if !ok {
		m.log.Debug("end of stream for untracked session", slog.String("session_id", sessionID))
	}
	m.report(sessionID, ReasonEnded)
}

// Forget stops tracking sessionID without reporting it.
func (m *Monitor) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, sessionID)
}

// Run evaluates stream health every check interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Evaluate()
		}
	}
}

// Evaluate drops streams whose last heartbeat is older than the timeout and
// reports them. It returns the dropped session ids.
func (m *Monitor) Evaluate() []string {
	now := m.now()
	m.mu.Lock()
	var lost []string
	for id, last := range m.streams {
		if now.Sub(last) > m.timeout {
			lost = append(lost, id)
			delete(m.streams, id)
		}
	}
	m.mu.Unlock()

	sort.Strings(lost)
	for _, id := range lost {
		m.log.Warn("upstream heartbeat timed out", slog.String("session_id", id))
		m.report(id, ReasonTimeout)
	}
	return lost
}

// Streams returns the tracked streams ordered by session id.
func (m *Monitor) Streams() []Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Stream, 0, len(m.streams))
	for id, last := range m.streams {
		out = append(out, Stream{SessionID: id, LastSeen: last})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

func (m *Monitor) report(sessionID string, reason Reason) {
	if m.onLost != nil {
		m.onLost(sessionID, reason)
	}
}

func (m *Monitor) initMetrics() error {
	gauge, err := m.meter.Int64ObservableGauge("loqa.coach.upstream.streams", metric.WithDescription("Tracked transcription streams"))
	if err != nil {
		return err
	}
	m.gauge = gauge
	_, err = m.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		m.mu.Lock()
		n := int64(len(m.streams))
		m.mu.Unlock()
		obs.ObserveInt64(gauge, n)
		return nil
	}, gauge)
	return err
}
