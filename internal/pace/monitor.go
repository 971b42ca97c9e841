// Package pace computes speaking rate and raises overspeed alerts.
package pace

import (
	"context"
	"fmt"
	"math"

	"github.com/loqalabs/loqa-coach/internal/textnorm"
)

// Classification buckets a words-per-minute reading.
type Classification string

const (
	Slow    Classification = "SLOW"
	Average Classification = "AVERAGE"
	Fast    Classification = "FAST"
)

// Default thresholds in words per minute.
const (
	DefaultSlowBelow = 120
	DefaultFastAbove = 160
)

// AlertMode selects when a FAST reading notifies the sink.
type AlertMode string

const (
	// AlertLevel fires on every update while the reading stays FAST.
	AlertLevel AlertMode = "level"
	// AlertEdge fires once per transition into FAST.
	AlertEdge AlertMode = "edge"
)

// Reading is one pace measurement.
type Reading struct {
	WPM            int            `json:"wpm"`
	Classification Classification `json:"classification"`
}

// Alert is delivered to the output sink on overspeed.
type Alert struct {
	SessionID      string `json:"session_id"`
	WPM            int    `json:"wpm"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
}

// AlertSink receives overspeed alerts. Implementations must not block for long;
// they are called from the session event loop.
type AlertSink interface {
	Alert(ctx context.Context, alert Alert) error
}

// Thresholds bound the AVERAGE band; both bounds are inclusive to AVERAGE.
type Thresholds struct {
	SlowBelow int
	FastAbove int
}

// DefaultThresholds returns the 120/160 band.
func DefaultThresholds() Thresholds {
	return Thresholds{SlowBelow: DefaultSlowBelow, FastAbove: DefaultFastAbove}
}

// Validate checks the band is well formed.
func (t Thresholds) Validate() error {
	if t.SlowBelow <= 0 {
		return fmt.Errorf("slow threshold must be positive, got %d", t.SlowBelow)
	}
	if t.FastAbove < t.SlowBelow {
		return fmt.Errorf("fast threshold %d below slow threshold %d", t.FastAbove, t.SlowBelow)
	}
	return nil
}

// Classify buckets wpm.
func (t Thresholds) Classify(wpm int) Classification {
	switch {
	case wpm < t.SlowBelow:
		return Slow
	case wpm > t.FastAbove:
		return Fast
	default:
		return Average
	}
}

// WPM returns round(words*60 / max(elapsed, 1)).
func WPM(words, elapsedSeconds int) int {
	if elapsedSeconds < 1 {
		elapsedSeconds = 1
	}
	return int(math.Round(float64(words) * 60 / float64(elapsedSeconds)))
}

// Monitor tracks pace for one session. Not safe for concurrent use.
type Monitor struct {
	sessionID  string
	thresholds Thresholds
	mode       AlertMode
	sink       AlertSink
	last       Reading
	onSinkErr  func(error)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithThresholds overrides the default band.
func WithThresholds(t Thresholds) Option {
	return func(m *Monitor) { m.thresholds = t }
}

// WithAlertMode selects level or edge triggering.
func WithAlertMode(mode AlertMode) Option {
	return func(m *Monitor) {
		if mode == AlertEdge || mode == AlertLevel {
			m.mode = mode
		}
	}
}

// WithSinkErrorHandler is called when the sink rejects an alert.
func WithSinkErrorHandler(fn func(error)) Option {
	return func(m *Monitor) { m.onSinkErr = fn }
}

// NewMonitor returns a monitor that reports alerts for sessionID to sink.
// A nil sink disables alerting.
func NewMonitor(sessionID string, sink AlertSink, opts ...Option) *Monitor {
	m := &Monitor{
		sessionID:  sessionID,
		thresholds: DefaultThresholds(),
		mode:       AlertLevel,
		sink:       sink,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.Reset()
	return m
}

// Update measures text over elapsedSeconds and notifies the sink when the
// reading is FAST according to the alert mode.
func (m *Monitor) Update(ctx context.Context, text string, elapsedSeconds int) Reading {
	wpm := WPM(textnorm.WordCount(text), elapsedSeconds)
	r := Reading{WPM: wpm, Classification: m.thresholds.Classify(wpm)}
	wasFast := m.last.Classification == Fast
	m.last = r
	if r.Classification != Fast || m.sink == nil {
		return r
	}
	if m.mode == AlertEdge && wasFast {
		return r
	}
	err := m.sink.Alert(ctx, Alert{SessionID: m.sessionID, WPM: wpm, ElapsedSeconds: elapsedSeconds})
	if err != nil && m.onSinkErr != nil {
		m.onSinkErr(err)
	}
	return r
}

// Last returns the most recent reading.
func (m *Monitor) Last() Reading {
	return m.last
}

// Reset clears the last reading.
func (m *Monitor) Reset() {
	m.last = Reading{Classification: m.thresholds.Classify(0)}
}
