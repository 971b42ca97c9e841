package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeDeterministic(t *testing.T) {
	in := Input{
		Transcript:     "hello world",
		Reference:      "hello world",
		Keywords:       []string{"hello"},
		ElapsedSeconds: 60,
	}
	got := Compute(in)
	assert.Equal(t, 2, got.WPM)
	assert.Equal(t, 100, got.AccuracyPct)
	assert.True(t, got.CoverageSatisfied)
	assert.Equal(t, 51, got.Total)
	assert.Equal(t, got, Compute(in))
}

func TestCoverageGateZeroesTotal(t *testing.T) {
	got := Compute(Input{
		Transcript:     "hello world",
		Reference:      "hello world",
		Keywords:       []string{"goodbye"},
		ElapsedSeconds: 60,
	})
	assert.False(t, got.CoverageSatisfied)
	assert.Equal(t, 0, got.Total)
	assert.Equal(t, 100, got.AccuracyPct)
	assert.Equal(t, []string{"goodbye"}, got.MissingKeywords)
}

func TestTimerExpiryStillScores(t *testing.T) {
	got := Compute(Input{
		Transcript:     "hello world",
		Reference:      "hello world",
		ElapsedSeconds: 60,
		TimerExpired:   true,
	})
	assert.True(t, got.TimerExpired)
	assert.Equal(t, 51, got.Total)
}

func TestKeywordsAreNormalized(t *testing.T) {
	got := Compute(Input{
		Transcript:     "We discussed AI-powered fraud detection.",
		Reference:      "x",
		Keywords:       []string{"AI-Powered", "Fraud"},
		ElapsedSeconds: 30,
	})
	assert.True(t, got.CoverageSatisfied)
}

func TestElapsedIsClamped(t *testing.T) {
	got := Compute(Input{Transcript: "one two", Reference: "one two", ElapsedSeconds: 0})
	assert.Equal(t, 1, got.ElapsedSeconds)
	assert.Equal(t, 120, got.WPM)
}

func TestAccuracyClampsAtZero(t *testing.T) {
	assert.Equal(t, 0, Accuracy("a completely different and much longer sentence", "hi"))
	assert.Equal(t, 100, Accuracy("", ""))
	assert.Equal(t, 0, Accuracy("x", ""))
}

func TestAccuracyPartial(t *testing.T) {
	// "hello" vs "hello world": 6 insertions over 11 characters.
	assert.Equal(t, 45, Accuracy("hello", "hello world"))
}

func TestEmptyTranscriptHasZeroWPM(t *testing.T) {
	got := Compute(Input{Transcript: "  ", Reference: "hello", ElapsedSeconds: 10})
	assert.Equal(t, 0, got.WPM)
	assert.Equal(t, 0, got.AccuracyPct)
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"héllo", "hello", 1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Levenshtein(tc.a, tc.b), "%q vs %q", tc.a, tc.b)
		assert.Equal(t, tc.want, Levenshtein(tc.b, tc.a), "%q vs %q", tc.b, tc.a)
	}
}
