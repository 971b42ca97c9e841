// Package httpapi exposes the coach over HTTP for clients that do not speak
// the bus protocol.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/loqalabs/loqa-coach/internal/challenge"
	"github.com/loqalabs/loqa-coach/internal/coach"
	"github.com/loqalabs/loqa-coach/internal/protocol"
	"github.com/loqalabs/loqa-coach/internal/session"
)

// Coach is the session surface the API drives.
type Coach interface {
	Control(ctx context.Context, id string, ctl protocol.Control) (protocol.ControlReply, error)
	Fragment(ctx context.Context, id string, f protocol.Fragment) error
	Snapshot(ctx context.Context, id string) (session.Feedback, error)
	CloseSession(ctx context.Context, id string) error
	Sessions() []string
}

// Catalog lists the challenges sessions can arm.
type Catalog interface {
	Get(id string) (challenge.Challenge, error)
	List() []challenge.Challenge
}

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// Options configures the router. Ready gates /readyz before any of the
// Checks run.
type Options struct {
	Coach   Coach
	Catalog Catalog
	Ready   func() bool
	Checks  map[string]Check
	Metrics http.Handler
	Logger  *slog.Logger
}

type api struct {
	coach   Coach
	catalog Catalog
	ready   func() bool
	checks  map[string]Check
	log     *slog.Logger
}

func NewRouter(opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	a := &api{
		coach:   opts.Coach,
		catalog: opts.Catalog,
		ready:   opts.Ready,
		checks:  opts.Checks,
		log:     log.With(slog.String("component", "httpapi")),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(a.logging)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", a.healthz)
	r.Get("/readyz", a.readyz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/challenges", func(r chi.Router) {
			r.Get("/", a.listChallenges)
			r.Get("/{id}", a.getChallenge)
		})
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", a.listSessions)
			r.Get("/{id}", a.getSession)
			r.Delete("/{id}", a.closeSession)
			r.Post("/{id}/control", a.control)
			r.Post("/{id}/fragments", a.fragment)
		})
	})
	return r
}

func (a *api) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.log.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", chimiddleware.GetReqID(r.Context())))
	})
}

func (a *api) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) readyz(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil && !a.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "starting"})
		return
	}
	status := http.StatusOK
	checks := make(map[string]string, len(a.checks))
	for name, check := range a.checks {
		if err := check(r.Context()); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	label := "ok"
	if status != http.StatusOK {
		label = "unhealthy"
	}
	writeJSON(w, status, map[string]any{"status": label, "checks": checks})
}

func (a *api) listChallenges(w http.ResponseWriter, _ *http.Request) {
	list := a.catalog.List()
	writeJSON(w, http.StatusOK, map[string]any{"challenges": list, "count": len(list)})
}

func (a *api) getChallenge(w http.ResponseWriter, r *http.Request) {
	ch, err := a.catalog.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (a *api) listSessions(w http.ResponseWriter, _ *http.Request) {
	ids := a.coach.Sessions()
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids, "count": len(ids)})
}

func (a *api) getSession(w http.ResponseWriter, r *http.Request) {
	fb, err := a.coach.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fb)
}

func (a *api) closeSession(w http.ResponseWriter, r *http.Request) {
	if err := a.coach.CloseSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) control(w http.ResponseWriter, r *http.Request) {
	var ctl protocol.Control
	if err := json.NewDecoder(r.Body).Decode(&ctl); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if ctl.Action == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "action required"})
		return
	}
	reply, err := a.coach.Control(r.Context(), chi.URLParam(r, "id"), ctl)
	if err != nil {
		writeJSON(w, statusFor(err), reply)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (a *api) fragment(w http.ResponseWriter, r *http.Request) {
	var f protocol.Fragment
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	id := chi.URLParam(r, "id")
	f.SessionID = id
	if err := a.coach.Fragment(r.Context(), id, f); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.log.Warn("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, coach.ErrUnknownSession), errors.Is(err, challenge.ErrUnknownChallenge):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidTransition), errors.Is(err, coach.ErrNoChallenge):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, coach.ErrTooManySessions):
		return http.StatusTooManyRequests
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
