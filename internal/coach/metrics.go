package coach

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-coach/internal/pace"
	"github.com/loqalabs/loqa-coach/internal/session"
)

type instruments struct {
	fragments metric.Int64Counter
	discards  metric.Int64Counter
	completed metric.Int64Counter
	alerts    metric.Int64Counter
	scores    metric.Int64Histogram
	active    metric.Int64ObservableGauge
	reg       metric.Registration
}

func newInstruments(s *Service) (*instruments, error) {
	meter := otel.Meter("github.com/loqalabs/loqa-coach/coach")
	m := &instruments{}
	var err error
	if m.fragments, err = meter.Int64Counter("loqa.coach.fragments", metric.WithDescription("Fragments applied to sessions")); err != nil {
		return nil, err
	}
	if m.discards, err = meter.Int64Counter("loqa.coach.events.discarded", metric.WithDescription("Stale ticks and fragments discarded")); err != nil {
		return nil, err
	}
	if m.completed, err = meter.Int64Counter("loqa.coach.sessions.completed", metric.WithDescription("Sessions that reached Completed")); err != nil {
		return nil, err
	}
	if m.alerts, err = meter.Int64Counter("loqa.coach.pace.alerts", metric.WithDescription("Overspeed alerts raised")); err != nil {
		return nil, err
	}
	if m.scores, err = meter.Int64Histogram("loqa.coach.score.total", metric.WithDescription("Final session score totals")); err != nil {
		return nil, err
	}
	if m.active, err = meter.Int64ObservableGauge("loqa.coach.sessions.active", metric.WithDescription("Sessions held in memory")); err != nil {
		return nil, err
	}
	m.reg, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		s.mu.Lock()
		n := int64(len(s.sessions))
		s.mu.Unlock()
		obs.ObserveInt64(m.active, n)
		return nil
	}, m.active)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *instruments) close() {
	if m == nil || m.reg == nil {
		return
	}
	_ = m.reg.Unregister()
}

func (m *instruments) fragment(ctx context.Context) {
	if m == nil {
		return
	}
	m.fragments.Add(ctx, 1)
}

func (m *instruments) discarded(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.discards.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *instruments) completion(ctx context.Context, c session.Completion) {
	if m == nil {
		return
	}
	m.completed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(c.Reason))))
	m.scores.Record(ctx, int64(c.Score.Total), metric.WithAttributes(attribute.Bool("coverage_satisfied", c.Score.CoverageSatisfied)))
}

func (m *instruments) alert(ctx context.Context) {
	if m == nil {
		return
	}
	m.alerts.Add(ctx, 1)
}

// countingSink counts alerts before handing them to next.
type countingSink struct {
	next    pace.AlertSink
	metrics *instruments
}

func (c countingSink) Alert(ctx context.Context, a pace.Alert) error {
	c.metrics.alert(ctx)
	if c.next == nil {
		return nil
	}
	return c.next.Alert(ctx, a)
}
