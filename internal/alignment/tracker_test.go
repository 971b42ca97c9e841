package alignment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-coach/internal/textnorm"
)

func TestAlignExactReading(t *testing.T) {
	ref := textnorm.Words("The quick brown fox")
	got := Align(ref, textnorm.Words("the quick brown"))
	assert.Equal(t, State{MatchedCount: 3, LastMatchedIndex: 2, CurrentExpectedWord: "fox"}, got)
}

func TestAlignToleratesInsertionsAndSkips(t *testing.T) {
	ref := textnorm.Words("one two three four five")
	got := Align(ref, textnorm.Words("one um two four five"))
	assert.Equal(t, 4, got.MatchedCount)
	assert.Equal(t, 4, got.LastMatchedIndex)
	// MatchedCount drives the expected word, not the script position.
	assert.Equal(t, "five", got.CurrentExpectedWord)
}

func TestAlignPastEnd(t *testing.T) {
	ref := []string{"a", "b"}
	got := Align(ref, []string{"a", "b", "a"})
	assert.Equal(t, 2, got.MatchedCount)
	assert.Equal(t, "", got.CurrentExpectedWord)
}

func TestTrackerInitialState(t *testing.T) {
	tr := NewTracker([]string{"hello", "world"})
	assert.Equal(t, State{MatchedCount: 0, LastMatchedIndex: -1, CurrentExpectedWord: "hello"}, tr.State())
}

func TestTrackerIgnoresPunctuationAndCase(t *testing.T) {
	tr := NewTracker(textnorm.Words("Artificial Intelligence, or AI, is revolutionizing"))
	got := tr.Update("artificial intelligence or AI.")
	assert.Equal(t, 4, got.MatchedCount)
	assert.Equal(t, "is", got.CurrentExpectedWord)
}

func TestTrackerMonotonicAcrossGrowingSpeech(t *testing.T) {
	ref := textnorm.Words("to be or not to be that is the question")
	tr := NewTracker(ref)
	spoken := strings.Fields("to be uh or not to to be that is the question")
	prev := tr.State()
	for i := range spoken {
		got := tr.Update(strings.Join(spoken[:i+1], " "))
		require.GreaterOrEqual(t, got.MatchedCount, prev.MatchedCount)
		require.GreaterOrEqual(t, got.LastMatchedIndex, prev.LastMatchedIndex)
		prev = got
	}
	assert.Equal(t, len(ref), prev.MatchedCount)
}

func TestTrackerHoldsHighWaterMarkOnRevision(t *testing.T) {
	tr := NewTracker([]string{"alpha", "beta", "gamma"})
	tr.Update("alpha beta")
	got := tr.Update("alpha")
	assert.Equal(t, 2, got.MatchedCount)
	assert.Equal(t, "gamma", got.CurrentExpectedWord)
}

func TestTrackerFollowsRevisionWithMoreMatches(t *testing.T) {
	tr := NewTracker([]string{"a", "b", "c", "d", "e"})
	assert.Equal(t, State{MatchedCount: 1, LastMatchedIndex: 4, CurrentExpectedWord: "b"}, tr.Update("e"))

	// The recognizer revised its first guess; the greedy pass re-anchors.
	assert.Equal(t, State{MatchedCount: 3, LastMatchedIndex: 2, CurrentExpectedWord: "d"}, tr.Update("a b c"))
	assert.Equal(t, State{MatchedCount: 4, LastMatchedIndex: 3, CurrentExpectedWord: "e"}, tr.Update("a b c d"))
	assert.InDelta(t, 0.8, tr.Progress(), 1e-9)
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker([]string{"alpha", "beta"})
	tr.Update("alpha beta")
	assert.InDelta(t, 1.0, tr.Progress(), 1e-9)
	tr.Reset()
	assert.Equal(t, 0, tr.State().MatchedCount)
	assert.Equal(t, 0.0, tr.Progress())
}
