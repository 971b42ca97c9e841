package transcript

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderIsIdempotent(t *testing.T) {
	var r Reconciler
	r.Ingest(Fragment{StartOffset: 0, Text: "hello"})
	r.Ingest(Fragment{StartOffset: 500, Text: "world"})
	first := r.Render()
	assert.Equal(t, first, r.Render())
	assert.Equal(t, "hello world", first)
}

func TestOffsetOrderIndependence(t *testing.T) {
	var forward, reverse Reconciler
	forward.Ingest(Fragment{StartOffset: 0, Text: "a"})
	forward.Ingest(Fragment{StartOffset: 10, Text: "b"})
	reverse.Ingest(Fragment{StartOffset: 10, Text: "b"})
	reverse.Ingest(Fragment{StartOffset: 0, Text: "a"})
	assert.Equal(t, "a b", forward.Render())
	assert.Equal(t, forward.Render(), reverse.Render())
}

func TestRevisionWins(t *testing.T) {
	var r Reconciler
	r.Ingest(Fragment{StartOffset: 0, Text: "a"})
	got := r.Ingest(Fragment{StartOffset: 0, Text: "ab"})
	assert.Equal(t, "ab", got)
	assert.Equal(t, 1, r.Len())
}

func TestInterimCanOverwriteFinal(t *testing.T) {
	var r Reconciler
	r.Ingest(Fragment{StartOffset: 0, Text: "final text", IsFinal: true})
	got := r.Ingest(Fragment{StartOffset: 0, Text: "later interim"})
	assert.Equal(t, "later interim", got)
	assert.Equal(t, 0, r.Finals())
	r.Ingest(Fragment{StartOffset: 0, Text: "final again", IsFinal: true})
	r.Ingest(Fragment{StartOffset: 0, Text: "final again", IsFinal: true})
	assert.Equal(t, 1, r.Finals())
}

func TestEmptyTextsAreSkipped(t *testing.T) {
	var r Reconciler
	r.Ingest(Fragment{StartOffset: 0, Text: "one"})
	r.Ingest(Fragment{StartOffset: 5, Text: "   "})
	got := r.Ingest(Fragment{StartOffset: 9, Text: " two "})
	assert.Equal(t, "one two", got)
}

func TestShuffledArrivalRendersByOffset(t *testing.T) {
	frags := []Fragment{
		{StartOffset: 300, Text: "d"},
		{StartOffset: 0, Text: "a"},
		{StartOffset: 200, Text: "c"},
		{StartOffset: 100, Text: "b"},
		{StartOffset: 1000, Text: "e"},
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		rng.Shuffle(len(frags), func(a, b int) { frags[a], frags[b] = frags[b], frags[a] })
		var r Reconciler
		for _, f := range frags {
			r.Ingest(f)
		}
		require.Equal(t, "a b c d e", r.Render())
	}
}

func TestReset(t *testing.T) {
	var r Reconciler
	r.Ingest(Fragment{StartOffset: 0, Text: "x", IsFinal: true})
	r.Reset()
	assert.Equal(t, "", r.Render())
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.Finals())
	assert.Equal(t, "y", r.Ingest(Fragment{StartOffset: 3, Text: "y"}))
}
