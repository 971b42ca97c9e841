package protocol

import (
	"strings"
	"time"

	"github.com/loqalabs/loqa-coach/internal/session"
	"github.com/loqalabs/loqa-coach/internal/transcript"
)

// Fragment is a timestamped transcription result for one session.
type Fragment struct {
	SessionID   string `json:"session_id,omitempty"`
	Instance    string `json:"instance,omitempty"`
	StartOffset int64  `json:"start_offset"`
	Text        string `json:"text"`
	IsFinal     bool   `json:"is_final"`
}

// Transcript converts the wire fragment to the reconciler's form.
func (f Fragment) Transcript() transcript.Fragment {
	return transcript.Fragment{StartOffset: f.StartOffset, Text: f.Text, IsFinal: f.IsFinal}
}

// ActionNarrate asks the runtime to read the armed script aloud. It does not
// change session state.
const ActionNarrate = "narrate"

// Control is a user command addressed to a session.
type Control struct {
	Action      string `json:"action"`
	ChallengeID string `json:"challenge_id,omitempty"`
	Voice       string `json:"voice,omitempty"`
}

// Command converts the wire control to a session command.
func (c Control) Command() session.Command {
	return session.Command{
		Action:      session.Action(strings.ToLower(strings.TrimSpace(c.Action))),
		ChallengeID: c.ChallengeID,
	}
}

// ControlReply answers a Control request.
type ControlReply struct {
	OK         bool                `json:"ok"`
	Error      string              `json:"error,omitempty"`
	Feedback   session.Feedback    `json:"feedback"`
	Completion *session.Completion `json:"completion,omitempty"`
}

// Heartbeat is sent periodically by the transcription upstream. End marks a
// clean end of stream.
type Heartbeat struct {
	SessionID string    `json:"session_id"`
	Instance  string    `json:"instance,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	End       bool      `json:"end,omitempty"`
}

// Transcript represents STT output broadcast on the bus by the speech service.
type Transcript struct {
	SessionID   string    `json:"session_id"`
	Text        string    `json:"text"`
	Partial     bool      `json:"partial"`
	Timestamp   time.Time `json:"timestamp"`
	Confidence  float64   `json:"confidence,omitempty"`
	StartOffset int64     `json:"start_offset,omitempty"`
}

// TTSRequest asks the speech service to synthesize text.
type TTSRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
}

// PaceAlert is published when a session's pace is FAST.
type PaceAlert struct {
	SessionID      string    `json:"session_id"`
	WPM            int       `json:"wpm"`
	ElapsedSeconds int       `json:"elapsed_seconds"`
	Timestamp      time.Time `json:"timestamp"`
}

const (
	SubjectFragmentPrefix    = "coach.fragment"
	SubjectControlPrefix     = "coach.control"
	SubjectHeartbeatPrefix   = "coach.upstream.heartbeat"
	SubjectEndPrefix         = "coach.upstream.end"
	SubjectFeedbackPrefix    = "coach.feedback"
	SubjectScorePrefix       = "coach.score"
	SubjectPaceAlertPrefix   = "coach.alert.pace"
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
	SubjectTTSRequest        = "tts.request"
)

// Subject joins prefix and session id.
func Subject(prefix, sessionID string) string {
	return prefix + "." + sessionID
}

// Wildcard matches prefix for every session.
func Wildcard(prefix string) string {
	return prefix + ".*"
}

// SessionFromSubject returns the last token of subject when it sits directly
// under prefix.
func SessionFromSubject(prefix, subject string) (string, bool) {
	rest, ok := strings.CutPrefix(subject, prefix+".")
	if !ok || rest == "" || strings.Contains(rest, ".") {
		return "", false
	}
	return rest, true
}
