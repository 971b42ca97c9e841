package feed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-coach/internal/protocol"
	"github.com/loqalabs/loqa-coach/internal/transcript"
)

func collect(t *testing.T, src Source) []protocol.Fragment {
	t.Helper()
	var out []protocol.Fragment
	err := src.Stream(context.Background(), func(_ context.Context, f protocol.Fragment) error {
		out = append(out, f)
		return nil
	})
	require.NoError(t, err)
	return out
}

func render(frags []protocol.Fragment) string {
	var r transcript.Reconciler
	for _, f := range frags {
		r.Ingest(f.Transcript())
	}
	return r.Render()
}

const replayInput = `{"start_offset":0,"text":"the quick","is_final":false}

{"start_offset":0,"text":"the quick brown","is_final":true}
{"start_offset":900,"text":"fox","is_final":true}
`

func TestReplay(t *testing.T) {
	frags := collect(t, NewReplay(strings.NewReader(replayInput), 0))
	require.Len(t, frags, 3)
	assert.False(t, frags[0].IsFinal)
	assert.Equal(t, int64(900), frags[2].StartOffset)
	assert.Equal(t, "the quick brown fox", render(frags))
}

func TestReplayWaitsBetweenLines(t *testing.T) {
	src := NewReplay(strings.NewReader(replayInput), 10*time.Millisecond)
	var waits []time.Duration
	src.wait = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	collect(t, src)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 10 * time.Millisecond}, waits)
}

func TestReplayMalformedLine(t *testing.T) {
	src := NewReplay(strings.NewReader("{\"text\":\"ok\"}\nnot json\n"), 0)
	err := src.Stream(context.Background(), func(context.Context, protocol.Fragment) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestScriptedWithInterim(t *testing.T) {
	src := NewScripted([]string{"Welcome", "to", "practice", "um"}, 250*time.Millisecond, WithInterim(), WithInstance("i1"))
	src.wait = func(context.Context, time.Duration) error { return nil }
	frags := collect(t, src)

	// "Welcome" and "practice" are long enough to get a partial first.
	require.Len(t, frags, 6)
	assert.Equal(t, protocol.Fragment{Instance: "i1", StartOffset: 0, Text: "Welc"}, frags[0])
	assert.Equal(t, protocol.Fragment{Instance: "i1", StartOffset: 0, Text: "Welcome", IsFinal: true}, frags[1])
	assert.Equal(t, int64(500), frags[3].StartOffset)
	assert.Equal(t, "Welcome to practice um", render(frags))
}

func TestScriptedStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := NewScripted([]string{"one", "two", "three"}, time.Hour)
	n := 0
	err := src.Stream(ctx, func(context.Context, protocol.Fragment) error {
		n++
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, n)
}

func TestExec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fragments.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(replayInput), 0o600))
	src, err := NewExec("cat '" + path + "'")
	require.NoError(t, err)
	frags := collect(t, src)
	assert.Equal(t, "the quick brown fox", render(frags))
}

func TestExecEmptyCommand(t *testing.T) {
	_, err := NewExec("")
	assert.Error(t, err)
}
