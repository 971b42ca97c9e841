package coach

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-coach/internal/eventstore"
	"github.com/loqalabs/loqa-coach/internal/protocol"
	"github.com/loqalabs/loqa-coach/internal/session"
	"github.com/loqalabs/loqa-coach/internal/snapcache"
)

// observer forwards one session's outputs. It runs on the session loop, so
// every call here must return quickly.
type observer struct {
	svc *Service
	id  string
}

func (o *observer) Feedback(fb session.Feedback) {
	o.svc.publish(protocol.Subject(protocol.SubjectFeedbackPrefix, o.id), fb)
	o.svc.writer.putFeedback(fb)
}

func (o *observer) Completed(c session.Completion) {
	s := o.svc
	_, span := s.tracer.Start(s.ctx, "coach.session.complete", trace.WithAttributes(
		attribute.String("session.id", c.SessionID),
		attribute.String("session.instance", c.Instance),
		attribute.String("challenge.id", c.ChallengeID),
		attribute.String("session.stop_reason", string(c.Reason)),
		attribute.Int("score.wpm", c.Score.WPM),
		attribute.Int("score.accuracy_pct", c.Score.AccuracyPct),
		attribute.Bool("score.coverage_satisfied", c.Score.CoverageSatisfied),
		attribute.Int("score.total", c.Score.Total),
	))
	defer span.End()

	s.metrics.completion(s.ctx, c)
	s.publish(protocol.Subject(protocol.SubjectScorePrefix, o.id), c)
	s.writer.putCompletion(c)
	s.timeline.append(o.id, c.Instance, eventstore.TypeCompleted, c)
}

func (o *observer) Discarded(kind string, _ error) {
	o.svc.metrics.discarded(o.svc.ctx, kind)
}

func (s *Service) publish(subject string, v any) {
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishJSON(subject, v); err != nil {
		s.log.Warn("publish failed", slog.String("subject", subject), slogError(err))
	}
}

// cacheWriter mirrors snapshots to the cache off the session loop. Only the
// newest pending snapshot per session is written.
type cacheWriter struct {
	cache *snapcache.Cache
	log   *slog.Logger

	mu          sync.Mutex
	feedback    map[string]session.Feedback
	completions []session.Completion
	signal      chan struct{}
}

func newCacheWriter(cache *snapcache.Cache, log *slog.Logger) *cacheWriter {
	return &cacheWriter{
		cache:    cache,
		log:      log,
		feedback: make(map[string]session.Feedback),
		signal:   make(chan struct{}, 1),
	}
}

func (w *cacheWriter) putFeedback(fb session.Feedback) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.feedback[fb.SessionID] = fb
	w.mu.Unlock()
	w.notify()
}

func (w *cacheWriter) putCompletion(c session.Completion) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.completions = append(w.completions, c)
	w.mu.Unlock()
	w.notify()
}

func (w *cacheWriter) notify() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *cacheWriter) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			w.flush(flushCtx)
			cancel()
			return
		case <-w.signal:
			w.flush(ctx)
		}
	}
}

func (w *cacheWriter) flush(ctx context.Context) {
	w.mu.Lock()
	feedback := w.feedback
	completions := w.completions
	w.feedback = make(map[string]session.Feedback)
	w.completions = nil
	w.mu.Unlock()

	for id, fb := range feedback {
		if err := w.cache.PutFeedback(ctx, fb); err != nil {
			w.log.Warn("cache feedback write failed", slog.String("session_id", id), slogError(err))
		}
	}
	for _, c := range completions {
		if err := w.cache.PutCompletion(ctx, c); err != nil {
			w.log.Warn("cache score write failed", slog.String("session_id", c.SessionID), slogError(err))
		}
	}
}
