// Package coach hosts one session actor per session key and connects them to
// the bus, the alert sinks and the optional cache and timeline.
package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-coach/internal/challenge"
	"github.com/loqalabs/loqa-coach/internal/config"
	"github.com/loqalabs/loqa-coach/internal/eventstore"
	"github.com/loqalabs/loqa-coach/internal/lexicon"
	"github.com/loqalabs/loqa-coach/internal/pace"
	"github.com/loqalabs/loqa-coach/internal/protocol"
	"github.com/loqalabs/loqa-coach/internal/session"
	"github.com/loqalabs/loqa-coach/internal/snapcache"
	"github.com/loqalabs/loqa-coach/internal/upstream"
)

var (
	ErrUnknownSession  = errors.New("unknown session")
	ErrTooManySessions = errors.New("too many sessions")
	ErrNoChallenge     = errors.New("no challenge armed")
)

// Publisher is the subset of the bus client the service needs.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Options wires a Service. Only Config and Catalog are required.
type Options struct {
	Config    config.CoachConfig
	Catalog   *challenge.Catalog
	Publisher Publisher
	AlertSink pace.AlertSink
	Cache     *snapcache.Cache
	Events    *eventstore.Store
	Logger    *slog.Logger
}

type entry struct {
	actor  *session.Actor
	cancel context.CancelFunc
}

type Service struct {
	cfg        config.CoachConfig
	catalog    *challenge.Catalog
	pub        Publisher
	sink       pace.AlertSink
	cache      *snapcache.Cache
	events     *eventstore.Store
	log        *slog.Logger
	lexicon    *lexicon.Lexicon
	thresholds pace.Thresholds
	tick       time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*entry
	upstream *upstream.Monitor
	bridge   *sttBridge
	writer   *cacheWriter
	timeline *timelineWriter
	subs     []*nats.Subscription

	metrics *instruments
	tracer  trace.Tracer
}

func New(parent context.Context, opts Options) (*Service, error) {
	if opts.Catalog == nil {
		return nil, errors.New("coach: challenge catalog is required")
	}
	thresholds := pace.Thresholds{SlowBelow: opts.Config.SlowBelowWPM, FastAbove: opts.Config.FastAboveWPM}
	if err := thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("coach: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	tick := time.Duration(opts.Config.TickIntervalMS) * time.Millisecond
	if tick <= 0 {
		tick = time.Second
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:        opts.Config,
		catalog:    opts.Catalog,
		pub:        opts.Publisher,
		sink:       opts.AlertSink,
		cache:      opts.Cache,
		events:     opts.Events,
		log:        log.With(slog.String("component", "coach")),
		lexicon:    lexicon.Default(opts.Config.Fillers...),
		thresholds: thresholds,
		tick:       tick,
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[string]*entry),
		bridge:     newSTTBridge(),
		tracer:     otel.Tracer("github.com/loqalabs/loqa-coach/coach"),
	}
	if s.cache != nil {
		s.writer = newCacheWriter(s.cache, s.log)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.writer.run(ctx)
		}()
	}
	if s.events.Enabled() {
		s.timeline = newTimelineWriter(s.events, s.log)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.timeline.run(ctx)
		}()
	}
	metrics, err := newInstruments(s)
	if err != nil {
		s.log.Warn("failed to initialize metrics", slogError(err))
	}
	s.metrics = metrics
	return s, nil
}

// AttachUpstream routes heartbeats to m. Its LostFunc should be UpstreamLost.
func (s *Service) AttachUpstream(m *upstream.Monitor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upstream = m
}

// Catalog returns the challenge catalog sessions resolve against.
func (s *Service) Catalog() *challenge.Catalog {
	return s.catalog
}

// Close stops every session and background worker.
func (s *Service) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Drain()
	}

	s.mu.Lock()
	entries := make([]*entry, 0, len(s.sessions))
	for id, e := range s.sessions {
		entries = append(entries, e)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.actor.Close()
		e.cancel()
	}
	s.cancel()
	s.wg.Wait()
	s.metrics.close()
}

// Sessions returns the active session keys in order.
func (s *Service) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Service) lookup(id string) (*session.Actor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return e.actor, true
}

func (s *Service) getOrCreate(id string) (*session.Actor, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty session id", ErrUnknownSession)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[id]; ok {
		return e.actor, nil
	}
	if s.ctx.Err() != nil {
		return nil, session.ErrClosed
	}
	if s.cfg.MaxSessions > 0 && len(s.sessions) >= s.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}

	actor := session.NewActor(session.ActorConfig{
		ID: id,
		Options: session.Options{
			Lexicon:     s.lexicon,
			Thresholds:  s.thresholds,
			AlertMode:   pace.AlertMode(s.cfg.AlertMode),
			AlertSink:   s.alertSink(),
			OnSinkError: s.onSinkError(id),
		},
		Resolver:     s.catalog,
		Observer:     &observer{svc: s, id: id},
		Logger:       s.log,
		TickInterval: s.tick,
		QueueSize:    s.cfg.QueueSize,
	})
	ctx, cancel := context.WithCancel(s.ctx)
	s.sessions[id] = &entry{actor: actor, cancel: cancel}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := actor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("session loop exited", slog.String("session_id", id), slogError(err))
		}
	}()
	s.log.Info("session created", slog.String("session_id", id))
	return actor, nil
}

// Control applies a control command, creating the session on first use.
func (s *Service) Control(ctx context.Context, id string, ctl protocol.Control) (protocol.ControlReply, error) {
	ctx, span := s.tracer.Start(ctx, "coach.control", trace.WithAttributes(
		attribute.String("session.id", id),
		attribute.String("coach.action", ctl.Action),
	))
	defer span.End()

	reply, err := s.control(ctx, id, ctl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		reply.OK = false
		reply.Error = err.Error()
		return reply, err
	}
	reply.OK = true
	span.SetAttributes(attribute.String("session.state", string(reply.Feedback.State)))
	return reply, nil
}

func (s *Service) control(ctx context.Context, id string, ctl protocol.Control) (protocol.ControlReply, error) {
	actor, err := s.getOrCreate(id)
	if err != nil {
		return protocol.ControlReply{}, err
	}
	if ctl.Action == protocol.ActionNarrate {
		return s.narrate(ctx, actor, ctl)
	}

	cmd := ctl.Command()
	res, err := actor.Control(ctx, cmd)
	reply := protocol.ControlReply{Feedback: res.Feedback, Completion: res.Completion}
	if err != nil {
		return reply, err
	}
	switch cmd.Action {
	case session.ActionStart, session.ActionRestart, session.ActionReset:
		s.bridge.reset(id)
	}
	if ctl.ChallengeID != "" {
		s.timeline.recordSession(id, ctl.ChallengeID)
	}
	s.timeline.append(id, res.Feedback.Instance, eventstore.TypeControl, ctl)
	return reply, nil
}

func (s *Service) narrate(ctx context.Context, actor *session.Actor, ctl protocol.Control) (protocol.ControlReply, error) {
	fb, err := actor.Snapshot(ctx)
	if err != nil {
		return protocol.ControlReply{}, err
	}
	reply := protocol.ControlReply{Feedback: fb}
	id := ctl.ChallengeID
	if id == "" {
		id = fb.ChallengeID
	}
	if id == "" {
		return reply, ErrNoChallenge
	}
	ch, err := s.catalog.Get(id)
	if err != nil {
		return reply, err
	}
	voice := ctl.Voice
	if voice == "" {
		voice = s.cfg.NarrateVoice
	}
	if s.pub == nil {
		return reply, errors.New("narrate requires a bus connection")
	}
	req := protocol.TTSRequest{SessionID: actor.ID(), Text: ch.Script, Voice: voice}
	if err := s.pub.PublishJSON(protocol.SubjectTTSRequest, req); err != nil {
		return reply, err
	}
	return reply, nil
}

// Fragment enqueues a fragment for the session.
func (s *Service) Fragment(ctx context.Context, id string, f protocol.Fragment) error {
	actor, ok := s.lookup(id)
	if !ok {
		s.metrics.discarded(ctx, "fragment")
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if err := actor.Fragment(ctx, f.Instance, f.Transcript()); err != nil {
		return err
	}
	s.metrics.fragment(ctx)
	return nil
}

// Snapshot returns the session's latest feedback. Sessions no longer held in
// memory are served from the cache when one is configured.
func (s *Service) Snapshot(ctx context.Context, id string) (session.Feedback, error) {
	if actor, ok := s.lookup(id); ok {
		return actor.Snapshot(ctx)
	}
	if s.cache != nil {
		fb, ok, err := s.cache.Feedback(ctx, id)
		if err != nil {
			return session.Feedback{}, err
		}
		if ok {
			return fb, nil
		}
	}
	return session.Feedback{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
}

// EndOfStream completes the session with the transcript received so far.
func (s *Service) EndOfStream(ctx context.Context, id string) error {
	actor, ok := s.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return actor.EndOfStream(ctx)
}

// UpstreamLost is the upstream monitor callback.
func (s *Service) UpstreamLost(id string, reason upstream.Reason) {
	s.log.Info("upstream lost", slog.String("session_id", id), slog.String("reason", string(reason)))
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()
	if err := s.EndOfStream(ctx, id); err != nil && !errors.Is(err, ErrUnknownSession) {
		s.log.Warn("failed to end session stream", slog.String("session_id", id), slogError(err))
	}
	s.timeline.append(id, "", eventstore.TypeUpstreamLost, map[string]string{"reason": string(reason)})
}

// CloseSession stops and forgets a session.
func (s *Service) CloseSession(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.sessions[id]
	delete(s.sessions, id)
	mon := s.upstream
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	e.actor.Close()
	e.cancel()
	s.bridge.forget(id)
	if mon != nil {
		mon.Forget(id)
	}
	s.timeline.append(id, "", eventstore.TypeClosed, struct{}{})
	s.log.Info("session closed", slog.String("session_id", id))
	return nil
}

func (s *Service) alertSink() pace.AlertSink {
	return countingSink{next: s.sink, metrics: s.metrics}
}

func (s *Service) onSinkError(id string) func(error) {
	return func(err error) {
		s.log.Warn("alert sink failed", slog.String("session_id", id), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
