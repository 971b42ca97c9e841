// Package session implements the practice-session lifecycle and the actor
// that serializes every update to a session.
package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-coach/internal/alignment"
	"github.com/loqalabs/loqa-coach/internal/challenge"
	"github.com/loqalabs/loqa-coach/internal/filler"
	"github.com/loqalabs/loqa-coach/internal/lexicon"
	"github.com/loqalabs/loqa-coach/internal/pace"
	"github.com/loqalabs/loqa-coach/internal/scoring"
	"github.com/loqalabs/loqa-coach/internal/transcript"
)

var (
	// ErrInvalidTransition is returned for a control event the current state does not accept.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrInvalidConfiguration is returned when a challenge cannot be started.
	ErrInvalidConfiguration = errors.New("invalid session configuration")
	// ErrStaleEvent marks a tick or fragment for an inactive or superseded instance.
	ErrStaleEvent = errors.New("stale session event")
	// ErrClosed is returned once the actor has stopped.
	ErrClosed = errors.New("session closed")
)

// State is a lifecycle state.
type State string

const (
	Idle      State = "idle"
	Armed     State = "armed"
	Recording State = "recording"
	Paused    State = "paused"
	Completed State = "completed"
)

// StopReason records why a session reached Completed.
type StopReason string

const (
	StopManual   StopReason = "manual"
	StopTimer    StopReason = "timer"
	StopUpstream StopReason = "upstream"
)

// Timer counts down whole seconds while recording.
type Timer struct {
	TimeLimitSeconds int `json:"time_limit_seconds"`
	RemainingSeconds int `json:"remaining_seconds"`
}

// Elapsed returns the seconds consumed so far.
func (t Timer) Elapsed() int {
	return t.TimeLimitSeconds - t.RemainingSeconds
}

// Feedback is the live snapshot emitted after every fragment or tick.
type Feedback struct {
	SessionID        string          `json:"session_id"`
	Instance         string          `json:"instance,omitempty"`
	State            State           `json:"state"`
	ChallengeID      string          `json:"challenge_id,omitempty"`
	Transcript       string          `json:"transcript"`
	FillerCount      int             `json:"filler_count"`
	Fillers          map[string]int  `json:"fillers,omitempty"`
	Alignment        alignment.State `json:"alignment"`
	ScriptProgress   float64         `json:"script_progress"`
	Pace             pace.Reading    `json:"pace"`
	Timer            Timer           `json:"timer"`
	ElapsedSeconds   int             `json:"elapsed_seconds"`
	FragmentsApplied int             `json:"fragments_applied"`
	Segments         int             `json:"segments"`
	FinalSegments    int             `json:"final_segments"`
}

// Progress accumulates practice points across completed sessions.
type Progress struct {
	Points    int      `json:"points"`
	Level     int      `json:"level"`
	Completed []string `json:"completed_challenges,omitempty"`
}

// Completion is emitted once when a session instance reaches Completed.
type Completion struct {
	SessionID   string        `json:"session_id"`
	Instance    string        `json:"instance"`
	ChallengeID string        `json:"challenge_id"`
	Reason      StopReason    `json:"reason"`
	Transcript  string        `json:"transcript"`
	FillerCount int           `json:"filler_count"`
	Score       scoring.Score `json:"score"`
	Progress    Progress      `json:"progress"`
}

// Outcome carries what an event produced. Either field may be nil.
type Outcome struct {
	Feedback   *Feedback
	Completion *Completion
}

// Options configure the feedback components of a machine.
type Options struct {
	Lexicon     *lexicon.Lexicon
	Thresholds  pace.Thresholds
	AlertMode   pace.AlertMode
	AlertSink   pace.AlertSink
	OnSinkError func(error)
	NewInstance func() string
}

func (o Options) withDefaults() Options {
	if o.Lexicon == nil {
		o.Lexicon = lexicon.Default()
	}
	if o.Thresholds == (pace.Thresholds{}) {
		o.Thresholds = pace.DefaultThresholds()
	}
	if o.AlertMode == "" {
		o.AlertMode = pace.AlertLevel
	}
	if o.NewInstance == nil {
		o.NewInstance = uuid.NewString
	}
	return o
}

// Machine holds all mutable state of one practice session. It is not safe
// for concurrent use; Actor owns it.
type Machine struct {
	id       string
	opts     Options
	state    State
	instance string

	challenge *challenge.Challenge
	reference challenge.Reference

	timer       Timer
	reconciler  transcript.Reconciler
	tracker     *alignment.Tracker
	detector    *filler.Detector
	pace        *pace.Monitor
	fillerCount int
	fillers     map[string]int
	applied     int

	completion *Completion
	progress   Progress
}

// NewMachine returns an Idle machine for session id.
func NewMachine(id string, opts Options) *Machine {
	opts = opts.withDefaults()
	m := &Machine{
		id:       id,
		opts:     opts,
		state:    Idle,
		detector: filler.NewDetector(opts.Lexicon),
		tracker:  alignment.NewTracker(nil),
		progress: Progress{Level: 1},
	}
	m.pace = pace.NewMonitor(id, opts.AlertSink,
		pace.WithThresholds(opts.Thresholds),
		pace.WithAlertMode(opts.AlertMode),
		pace.WithSinkErrorHandler(opts.OnSinkError),
	)
	return m
}

func (m *Machine) State() State     { return m.state }
func (m *Machine) Instance() string { return m.instance }

// Completion returns the terminal result of the current instance, if any.
func (m *Machine) Completion() *Completion {
	if m.completion == nil {
		return nil
	}
	c := *m.completion
	return &c
}

// Progress returns accumulated practice progress.
func (m *Machine) Progress() Progress {
	p := m.progress
	p.Completed = slices.Clone(p.Completed)
	return p
}

// Arm selects a challenge. Allowed from Idle, Armed and Completed.
func (m *Machine) Arm(ch challenge.Challenge) error {
	switch m.state {
	case Idle, Armed, Completed:
	default:
		return fmt.Errorf("%w: arm while %s", ErrInvalidTransition, m.state)
	}
	m.challenge = &ch
	m.reference = ch.Reference()
	m.clear()
	m.instance = ""
	m.state = Armed
	return nil
}

// Start begins recording the armed challenge. On invalid configuration the
// machine stays Armed.
func (m *Machine) Start() error {
	if m.state != Armed {
		return fmt.Errorf("%w: start while %s", ErrInvalidTransition, m.state)
	}
	return m.begin()
}

// Restart supersedes the current instance and starts over with the same
// challenge.
func (m *Machine) Restart() error {
	switch m.state {
	case Armed, Recording, Paused, Completed:
	default:
		return fmt.Errorf("%w: restart while %s", ErrInvalidTransition, m.state)
	}
	return m.begin()
}

// Reset abandons the current instance and returns to Armed.
func (m *Machine) Reset() error {
	if m.state == Idle {
		return fmt.Errorf("%w: reset while idle", ErrInvalidTransition)
	}
	m.clear()
	m.instance = m.opts.NewInstance()
	m.state = Armed
	return nil
}

// Pause suspends the timer and fragment ingestion.
func (m *Machine) Pause() error {
	if m.state != Recording {
		return fmt.Errorf("%w: pause while %s", ErrInvalidTransition, m.state)
	}
	m.state = Paused
	return nil
}

// Resume continues a paused session from its preserved state.
func (m *Machine) Resume() error {
	if m.state != Paused {
		return fmt.Errorf("%w: resume while %s", ErrInvalidTransition, m.state)
	}
	m.state = Recording
	return nil
}

// Stop ends a recording or paused session and scores it.
func (m *Machine) Stop() (*Completion, error) {
	if m.state != Recording && m.state != Paused {
		return nil, fmt.Errorf("%w: stop while %s", ErrInvalidTransition, m.state)
	}
	return m.complete(StopManual), nil
}

// EndOfStream completes the session with the transcript so far after the
// transcription upstream went away.
func (m *Machine) EndOfStream() (*Completion, error) {
	if m.state != Recording && m.state != Paused {
		return nil, ErrStaleEvent
	}
	return m.complete(StopUpstream), nil
}

// Tick consumes one second. instance must match the running instance; an
// empty instance means the current one.
func (m *Machine) Tick(ctx context.Context, instance string) (Outcome, error) {
	if err := m.accepts(instance); err != nil {
		return Outcome{}, err
	}
	if m.timer.RemainingSeconds > 0 {
		m.timer.RemainingSeconds--
	}
	m.pace.Update(ctx, m.reconciler.Render(), m.timer.Elapsed())
	fb := m.feedback()
	out := Outcome{Feedback: &fb}
	if m.timer.RemainingSeconds == 0 {
		out.Completion = m.complete(StopTimer)
	}
	return out, nil
}

// Ingest folds a fragment into the running transcript and recomputes feedback.
func (m *Machine) Ingest(ctx context.Context, instance string, f transcript.Fragment) (Outcome, error) {
	if err := m.accepts(instance); err != nil {
		return Outcome{}, err
	}
	text := m.reconciler.Ingest(f)
	m.applied++
	m.tracker.Update(text)
	m.fillers = m.detector.Matches(text)
	m.fillerCount = 0
	for _, n := range m.fillers {
		m.fillerCount += n
	}
	m.pace.Update(ctx, text, m.timer.Elapsed())
	fb := m.feedback()
	return Outcome{Feedback: &fb}, nil
}

// Snapshot returns the current feedback.
func (m *Machine) Snapshot() Feedback {
	return m.feedback()
}

func (m *Machine) accepts(instance string) error {
	if m.state != Recording {
		return fmt.Errorf("%w: session %s", ErrStaleEvent, m.state)
	}
	if instance != "" && instance != m.instance {
		return fmt.Errorf("%w: instance %s superseded", ErrStaleEvent, instance)
	}
	return nil
}

func (m *Machine) begin() error {
	if m.challenge == nil {
		return fmt.Errorf("%w: no challenge selected", ErrInvalidConfiguration)
	}
	if err := challenge.Validate(*m.challenge); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	m.clear()
	m.instance = m.opts.NewInstance()
	m.state = Recording
	return nil
}

func (m *Machine) clear() {
	m.reconciler.Reset()
	m.tracker = alignment.NewTracker(m.reference.Words)
	m.pace.Reset()
	m.fillerCount = 0
	m.fillers = nil
	m.applied = 0
	m.completion = nil
	m.timer = Timer{}
	if m.challenge != nil {
		m.timer = Timer{TimeLimitSeconds: m.challenge.TimeLimitSeconds, RemainingSeconds: m.challenge.TimeLimitSeconds}
	}
}

func (m *Machine) complete(reason StopReason) *Completion {
	text := m.reconciler.Render()
	score := scoring.Compute(scoring.Input{
		Transcript:     text,
		Reference:      m.reference.Text(),
		Keywords:       m.challenge.Keywords,
		ElapsedSeconds: m.timer.Elapsed(),
		TimerExpired:   reason == StopTimer,
	})
	if score.Total > 0 {
		m.progress.Points += score.Total
		m.progress.Level = m.progress.Points/100 + 1
		if !slices.Contains(m.progress.Completed, m.challenge.ID) {
			m.progress.Completed = append(m.progress.Completed, m.challenge.ID)
		}
	}
	m.state = Completed
	m.completion = &Completion{
		SessionID:   m.id,
		Instance:    m.instance,
		ChallengeID: m.challenge.ID,
		Reason:      reason,
		Transcript:  text,
		FillerCount: m.fillerCount,
		Score:       score,
		Progress:    m.Progress(),
	}
	c := *m.completion
	return &c
}

func (m *Machine) feedback() Feedback {
	fb := Feedback{
		SessionID:        m.id,
		Instance:         m.instance,
		State:            m.state,
		Transcript:       m.reconciler.Render(),
		FillerCount:      m.fillerCount,
		Fillers:          maps.Clone(m.fillers),
		Alignment:        m.tracker.State(),
		ScriptProgress:   m.tracker.Progress(),
		Pace:             m.pace.Last(),
		Timer:            m.timer,
		ElapsedSeconds:   m.timer.Elapsed(),
		FragmentsApplied: m.applied,
		Segments:         m.reconciler.Len(),
		FinalSegments:    m.reconciler.Finals(),
	}
	if m.challenge != nil {
		fb.ChallengeID = m.challenge.ID
	}
	return fb
}
