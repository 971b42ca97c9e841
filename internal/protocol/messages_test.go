package protocol

import (
	"testing"

	"github.com/loqalabs/loqa-coach/internal/session"
)

func TestSessionFromSubject(t *testing.T) {
	cases := []struct {
		subject string
		want    string
		ok      bool
	}{
		{"coach.fragment.abc", "abc", true},
		{"coach.fragment.", "", false},
		{"coach.fragment.a.b", "", false},
		{"coach.control.abc", "", false},
	}
	for _, tc := range cases {
		got, ok := SessionFromSubject(SubjectFragmentPrefix, tc.subject)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("SessionFromSubject(%q) = %q, %v; want %q, %v", tc.subject, got, ok, tc.want, tc.ok)
		}
	}
	if s := Subject(SubjectScorePrefix, "abc"); s != "coach.score.abc" {
		t.Fatalf("unexpected subject %q", s)
	}
	if w := Wildcard(SubjectFragmentPrefix); w != "coach.fragment.*" {
		t.Fatalf("unexpected wildcard %q", w)
	}
}

func TestControlCommand(t *testing.T) {
	cmd := Control{Action: " Start ", ChallengeID: "2"}.Command()
	if cmd.Action != session.ActionStart || cmd.ChallengeID != "2" {
		t.Fatalf("unexpected command %+v", cmd)
	}
}
