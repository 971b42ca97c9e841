// Package alert delivers pace alerts to output sinks.
package alert

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-coach/internal/pace"
	"github.com/loqalabs/loqa-coach/internal/protocol"
)

// LogSink writes alerts to a structured logger.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log.With(slog.String("component", "alert"))}
}

func (s *LogSink) Alert(_ context.Context, a pace.Alert) error {
	s.log.Info("pace alert",
		slog.String("session_id", a.SessionID),
		slog.Int("wpm", a.WPM),
		slog.Int("elapsed_seconds", a.ElapsedSeconds))
	return nil
}

// Publisher is the subset of the bus client used by BusSink.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// BusSink publishes alerts on coach.alert.pace.<session>.
type BusSink struct {
	pub Publisher
	now func() time.Time
}

func NewBusSink(pub Publisher) *BusSink {
	return &BusSink{pub: pub, now: time.Now}
}

func (s *BusSink) Alert(_ context.Context, a pace.Alert) error {
	return s.pub.PublishJSON(protocol.Subject(protocol.SubjectPaceAlertPrefix, a.SessionID), protocol.PaceAlert{
		SessionID:      a.SessionID,
		WPM:            a.WPM,
		ElapsedSeconds: a.ElapsedSeconds,
		Timestamp:      s.now().UTC(),
	})
}

// Multi fans an alert out to every sink and joins their errors.
type Multi []pace.AlertSink

func (m Multi) Alert(ctx context.Context, a pace.Alert) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Alert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Func adapts a function to pace.AlertSink.
type Func func(ctx context.Context, a pace.Alert) error

func (f Func) Alert(ctx context.Context, a pace.Alert) error { return f(ctx, a) }
