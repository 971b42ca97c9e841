package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-coach/internal/challenge"
	"github.com/loqalabs/loqa-coach/internal/transcript"
)

// Action is a user-issued control event.
type Action string

const (
	ActionArm     Action = "arm"
	ActionStart   Action = "start"
	ActionPause   Action = "pause"
	ActionResume  Action = "resume"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionReset   Action = "reset"
)

// Command is a control event, optionally naming a challenge.
type Command struct {
	Action      Action
	ChallengeID string
}

// Resolver looks up challenges by id.
type Resolver interface {
	Get(id string) (challenge.Challenge, error)
}

// Observer receives the actor's outputs. Calls are made from the event loop
// and must not call back into the actor.
type Observer interface {
	Feedback(fb Feedback)
	Completed(c Completion)
	Discarded(kind string, err error)
}

// Hooks adapts functions to Observer. Nil fields are ignored.
type Hooks struct {
	OnFeedback  func(Feedback)
	OnCompleted func(Completion)
	OnDiscarded func(kind string, err error)
}

func (h Hooks) Feedback(fb Feedback) {
	if h.OnFeedback != nil {
		h.OnFeedback(fb)
	}
}

func (h Hooks) Completed(c Completion) {
	if h.OnCompleted != nil {
		h.OnCompleted(c)
	}
}

func (h Hooks) Discarded(kind string, err error) {
	if h.OnDiscarded != nil {
		h.OnDiscarded(kind, err)
	}
}

// Result is the synchronous answer to a control command.
type Result struct {
	Feedback   Feedback
	Completion *Completion
}

type eventKind int

const (
	eventControl eventKind = iota
	eventFragment
	eventEndOfStream
	eventSnapshot
)

type event struct {
	kind     eventKind
	cmd      Command
	instance string
	fragment transcript.Fragment
	reply    chan reply
}

type reply struct {
	result Result
	err    error
}

// ActorConfig wires an actor.
type ActorConfig struct {
	ID           string
	Options      Options
	Resolver     Resolver
	Observer     Observer
	Logger       *slog.Logger
	TickInterval time.Duration
	QueueSize    int
}

// Actor serializes ticks, fragments and control commands for one session.
type Actor struct {
	id       string
	machine  *Machine
	resolver Resolver
	observer Observer
	log      *slog.Logger
	interval time.Duration

	events    chan event
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewActor builds an actor. Call Run to start its loop.
func NewActor(cfg ActorConfig) *Actor {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Observer == nil {
		cfg.Observer = Hooks{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Actor{
		id:       cfg.ID,
		machine:  NewMachine(cfg.ID, cfg.Options),
		resolver: cfg.Resolver,
		observer: cfg.Observer,
		log:      cfg.Logger.With(slog.String("component", "session"), slog.String("session_id", cfg.ID)),
		interval: cfg.TickInterval,
		events:   make(chan event, cfg.QueueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ID returns the session key.
func (a *Actor) ID() string { return a.id }

// Run processes events until ctx is cancelled or Close is called.
func (a *Actor) Run(ctx context.Context) error {
	defer close(a.done)
	var (
		ticker       *time.Ticker
		tickC        <-chan time.Time
		tickInstance string
	)
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tickC, tickInstance = nil, nil, ""
		}
	}
	defer stopTicker()

	for {
		// The ticker runs only while recording and is rebuilt for every new
		// instance, so the sub-second phase restarts on start and resume.
		if a.machine.State() == Recording {
			if ticker == nil || tickInstance != a.machine.Instance() {
				stopTicker()
				ticker = time.NewTicker(a.interval)
				tickC = ticker.C
				tickInstance = a.machine.Instance()
			}
		} else {
			stopTicker()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.quit:
			return nil
		case <-tickC:
			a.apply(ctx, "tick", func() (Outcome, error) {
				return a.machine.Tick(ctx, tickInstance)
			})
		case ev := <-a.events:
			a.handle(ctx, ev)
		}
	}
}

// Close stops the loop and waits for it to exit.
func (a *Actor) Close() {
	a.closeOnce.Do(func() { close(a.quit) })
	<-a.done
}

// Control applies a command and waits for its result.
func (a *Actor) Control(ctx context.Context, cmd Command) (Result, error) {
	return a.request(ctx, event{kind: eventControl, cmd: cmd})
}

// Snapshot returns the current feedback.
func (a *Actor) Snapshot(ctx context.Context) (Feedback, error) {
	res, err := a.request(ctx, event{kind: eventSnapshot})
	return res.Feedback, err
}

// Fragment enqueues a fragment for instance ("" for the current instance).
// Fragments are applied in the order they are enqueued.
func (a *Actor) Fragment(ctx context.Context, instance string, f transcript.Fragment) error {
	return a.enqueue(ctx, event{kind: eventFragment, instance: instance, fragment: f})
}

// EndOfStream reports that the transcription upstream ended.
func (a *Actor) EndOfStream(ctx context.Context) error {
	return a.enqueue(ctx, event{kind: eventEndOfStream})
}

func (a *Actor) enqueue(ctx context.Context, ev event) error {
	select {
	case <-a.done:
		return ErrClosed
	default:
	}
	select {
	case a.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return ErrClosed
	}
}

func (a *Actor) request(ctx context.Context, ev event) (Result, error) {
	ev.reply = make(chan reply, 1)
	if err := a.enqueue(ctx, ev); err != nil {
		return Result{}, err
	}
	select {
	case r := <-ev.reply:
		return r.result, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-a.done:
		return Result{}, ErrClosed
	}
}

func (a *Actor) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case eventFragment:
		a.apply(ctx, "fragment", func() (Outcome, error) {
			return a.machine.Ingest(ctx, ev.instance, ev.fragment)
		})
	case eventEndOfStream:
		a.apply(ctx, "end_of_stream", func() (Outcome, error) {
			c, err := a.machine.EndOfStream()
			return Outcome{Completion: c}, err
		})
	case eventSnapshot:
		ev.reply <- reply{result: Result{Feedback: a.machine.Snapshot(), Completion: a.machine.Completion()}}
	case eventControl:
		res, err := a.control(ev.cmd)
		ev.reply <- reply{result: res, err: err}
	}
}

func (a *Actor) apply(_ context.Context, kind string, fn func() (Outcome, error)) {
	out, err := fn()
	if err != nil {
		if errors.Is(err, ErrStaleEvent) {
			a.log.Debug("discarded event", slog.String("kind", kind), slog.String("reason", err.Error()))
			a.observer.Discarded(kind, err)
			return
		}
		a.log.Warn("event failed", slog.String("kind", kind), slogError(err))
		return
	}
	a.emit(out)
}

func (a *Actor) emit(out Outcome) {
	if out.Feedback != nil {
		a.observer.Feedback(*out.Feedback)
	}
	if out.Completion != nil {
		a.log.Info("session completed",
			slog.String("instance", out.Completion.Instance),
			slog.String("reason", string(out.Completion.Reason)),
			slog.Int("total", out.Completion.Score.Total))
		a.observer.Completed(*out.Completion)
	}
}

func (a *Actor) control(cmd Command) (Result, error) {
	m := a.machine
	var (
		completion *Completion
		err        error
	)
	// A challenge id on arm, start or restart arms it first. Arm refuses to
	// replace the challenge of a running instance.
	if cmd.ChallengeID != "" && (cmd.Action == ActionArm || cmd.Action == ActionStart || cmd.Action == ActionRestart) {
		if a.resolver == nil {
			return Result{Feedback: m.Snapshot()}, fmt.Errorf("%w: no challenge catalog", ErrInvalidConfiguration)
		}
		ch, lerr := a.resolver.Get(cmd.ChallengeID)
		if lerr != nil {
			return Result{Feedback: m.Snapshot()}, lerr
		}
		if err := m.Arm(ch); err != nil {
			return Result{Feedback: m.Snapshot()}, err
		}
	}

	switch cmd.Action {
	case ActionArm:
		if cmd.ChallengeID == "" {
			err = fmt.Errorf("%w: arm requires a challenge id", ErrInvalidConfiguration)
		}
	case ActionStart:
		err = m.Start()
	case ActionPause:
		err = m.Pause()
	case ActionResume:
		err = m.Resume()
	case ActionStop:
		completion, err = m.Stop()
	case ActionRestart:
		err = m.Restart()
	case ActionReset:
		err = m.Reset()
	default:
		err = fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, cmd.Action)
	}

	fb := m.Snapshot()
	if err != nil {
		a.log.Info("control rejected", slog.String("action", string(cmd.Action)), slogError(err))
		return Result{Feedback: fb}, err
	}
	a.log.Info("control applied", slog.String("action", string(cmd.Action)), slog.String("state", string(fb.State)))
	a.emit(Outcome{Feedback: &fb, Completion: completion})
	return Result{Feedback: fb, Completion: completion}, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
