package coach

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-coach/internal/eventstore"
)

type timelineEntry struct {
	sessionID   string
	challengeID string
	instance    string
	eventType   string
	payload     any
}

// timelineWriter appends session events to the event store off the session
// loop. Entries are written in the order they were queued.
type timelineWriter struct {
	store *eventstore.Store
	log   *slog.Logger

	mu      sync.Mutex
	pending []timelineEntry
	signal  chan struct{}
}

func newTimelineWriter(store *eventstore.Store, log *slog.Logger) *timelineWriter {
	return &timelineWriter{store: store, log: log, signal: make(chan struct{}, 1)}
}

// recordSession queues an update of the session's challenge.
func (w *timelineWriter) recordSession(id, challengeID string) {
	w.put(timelineEntry{sessionID: id, challengeID: challengeID})
}

func (w *timelineWriter) append(id, instance, eventType string, payload any) {
	w.put(timelineEntry{sessionID: id, instance: instance, eventType: eventType, payload: payload})
}

func (w *timelineWriter) put(e timelineEntry) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.pending = append(w.pending, e)
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *timelineWriter) run(ctx context.Context) {
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

func (w *timelineWriter) flush(ctx context.Context) {
	w.mu.Lock()
	pending := w.pending
	w.pending = nil
	w.mu.Unlock()

	for _, e := range pending {
		if e.challengeID != "" {
			if err := w.store.RecordSession(ctx, e.sessionID, e.challengeID); err != nil {
				w.log.Warn("failed to record session", slog.String("session_id", e.sessionID), slogError(err))
			}
		}
		if e.eventType == "" {
			continue
		}
		if err := w.store.AppendJSON(ctx, e.sessionID, e.instance, e.eventType, e.payload); err != nil {
			w.log.Warn("failed to append event",
				slog.String("session_id", e.sessionID),
				slog.String("type", e.eventType),
				slogError(err))
		}
	}
}
