package coach

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-coach/internal/challenge"
	"github.com/loqalabs/loqa-coach/internal/config"
	"github.com/loqalabs/loqa-coach/internal/eventstore"
	"github.com/loqalabs/loqa-coach/internal/protocol"
	"github.com/loqalabs/loqa-coach/internal/session"
	"github.com/loqalabs/loqa-coach/internal/upstream"
)

type published struct {
	subject string
	payload []byte
}

type publishRecorder struct {
	mu   sync.Mutex
	msgs []published
}

func (p *publishRecorder) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{subject, data})
	return nil
}

func (p *publishRecorder) find(subject string) (published, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.msgs {
		if m.subject == subject {
			return m, true
		}
	}
	return published{}, false
}

func testCatalog(t *testing.T) *challenge.Catalog {
	t.Helper()
	catalog, err := challenge.NewCatalog(challenge.Challenge{
		ID:               "fox",
		Title:            "Fox",
		Script:           "The quick brown fox jumps.",
		TimeLimitSeconds: 600,
		Keywords:         []string{"fox"},
	})
	require.NoError(t, err)
	return catalog
}

func testConfig() config.CoachConfig {
	cfg := config.Default().Coach
	cfg.TickIntervalMS = 5
	return cfg
}

func newTestService(t *testing.T, mutate func(*Options)) (*Service, *publishRecorder) {
	t.Helper()
	pub := &publishRecorder{}
	opts := Options{Config: testConfig(), Catalog: testCatalog(t), Publisher: pub}
	if mutate != nil {
		mutate(&opts)
	}
	svc, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc, pub
}

func TestNewRequiresCatalog(t *testing.T) {
	_, err := New(context.Background(), Options{Config: testConfig()})
	assert.Error(t, err)

	cfg := testConfig()
	cfg.FastAboveWPM = 10
	_, err = New(context.Background(), Options{Config: cfg, Catalog: testCatalog(t)})
	assert.Error(t, err)
}

func TestServiceLifecycle(t *testing.T) {
	svc, pub := newTestService(t, nil)
	ctx := context.Background()

	reply, err := svc.Control(ctx, "s1", protocol.Control{Action: "start", ChallengeID: "fox"})
	require.NoError(t, err)
	assert.True(t, reply.OK)
	assert.Equal(t, session.Recording, reply.Feedback.State)
	assert.Equal(t, []string{"s1"}, svc.Sessions())

	require.NoError(t, svc.Fragment(ctx, "s1", protocol.Fragment{StartOffset: 0, Text: "the quick um brown fox", IsFinal: true}))
	fb, err := svc.Snapshot(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "the quick um brown fox", fb.Transcript)
	assert.Equal(t, 1, fb.FillerCount)
	assert.Equal(t, 4, fb.Alignment.MatchedCount)

	reply, err = svc.Control(ctx, "s1", protocol.Control{Action: "stop"})
	require.NoError(t, err)
	require.NotNil(t, reply.Completion)
	assert.True(t, reply.Completion.Score.CoverageSatisfied)

	_, ok := pub.find("coach.score.s1")
	assert.True(t, ok, "expected score publication")
	_, ok = pub.find("coach.feedback.s1")
	assert.True(t, ok, "expected feedback publication")
}

func TestServiceRejectsInvalidControl(t *testing.T) {
	svc, _ := newTestService(t, nil)
	reply, err := svc.Control(context.Background(), "s1", protocol.Control{Action: "pause"})
	assert.ErrorIs(t, err, session.ErrInvalidTransition)
	assert.False(t, reply.OK)
	assert.NotEmpty(t, reply.Error)
	assert.Equal(t, session.Idle, reply.Feedback.State)
}

func TestServiceUnknownSession(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	assert.ErrorIs(t, svc.Fragment(ctx, "nope", protocol.Fragment{Text: "hi"}), ErrUnknownSession)
	_, err := svc.Snapshot(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.ErrorIs(t, svc.CloseSession(ctx, "nope"), ErrUnknownSession)
}

func TestServiceSessionLimit(t *testing.T) {
	svc, _ := newTestService(t, func(o *Options) { o.Config.MaxSessions = 1 })
	ctx := context.Background()
	_, err := svc.Control(ctx, "a", protocol.Control{Action: "arm", ChallengeID: "fox"})
	require.NoError(t, err)
	_, err = svc.Control(ctx, "b", protocol.Control{Action: "arm", ChallengeID: "fox"})
	assert.ErrorIs(t, err, ErrTooManySessions)

	require.NoError(t, svc.CloseSession(ctx, "a"))
	_, err = svc.Control(ctx, "b", protocol.Control{Action: "arm", ChallengeID: "fox"})
	assert.NoError(t, err)
}

func TestServiceNarrate(t *testing.T) {
	svc, pub := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Control(ctx, "s1", protocol.Control{Action: "narrate"})
	assert.ErrorIs(t, err, ErrNoChallenge)

	_, err = svc.Control(ctx, "s1", protocol.Control{Action: "arm", ChallengeID: "fox"})
	require.NoError(t, err)
	reply, err := svc.Control(ctx, "s1", protocol.Control{Action: "narrate", Voice: "en-GB"})
	require.NoError(t, err)
	assert.Equal(t, session.Armed, reply.Feedback.State)

	msg, ok := pub.find(protocol.SubjectTTSRequest)
	require.True(t, ok)
	var req protocol.TTSRequest
	require.NoError(t, json.Unmarshal(msg.payload, &req))
	assert.Equal(t, protocol.TTSRequest{SessionID: "s1", Text: "The quick brown fox jumps.", Voice: "en-GB"}, req)
}

func TestServiceUpstreamLostCompletes(t *testing.T) {
	svc, pub := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Control(ctx, "s1", protocol.Control{Action: "start", ChallengeID: "fox"})
	require.NoError(t, err)
	require.NoError(t, svc.Fragment(ctx, "s1", protocol.Fragment{Text: "the quick", IsFinal: true}))
	svc.UpstreamLost("s1", upstream.ReasonTimeout)

	require.Eventually(t, func() bool {
		_, ok := pub.find("coach.score.s1")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	msg, _ := pub.find("coach.score.s1")
	var c session.Completion
	require.NoError(t, json.Unmarshal(msg.payload, &c))
	assert.Equal(t, session.StopUpstream, c.Reason)
	assert.Equal(t, "the quick", c.Transcript)
}

func TestServiceRecordsTimeline(t *testing.T) {
	store, err := eventstore.Open(context.Background(), config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "events.db"),
		RetentionMode: "session",
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc, _ := newTestService(t, func(o *Options) { o.Events = store })
	ctx := context.Background()
	_, err = svc.Control(ctx, "s1", protocol.Control{Action: "start", ChallengeID: "fox"})
	require.NoError(t, err)
	_, err = svc.Control(ctx, "s1", protocol.Control{Action: "stop"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		events, err := store.List(ctx, "s1", 10)
		return err == nil && len(events) == 3
	}, 2*time.Second, 10*time.Millisecond)

	events, err := store.List(ctx, "s1", 10)
	require.NoError(t, err)
	// The completion is queued from the session loop before the stop reply.
	types := []string{events[0].Type, events[1].Type, events[2].Type}
	assert.Equal(t, []string{eventstore.TypeControl, eventstore.TypeCompleted, eventstore.TypeControl}, types)
}

func TestTimelineWriterFlushesOnShutdown(t *testing.T) {
	store, err := eventstore.Open(context.Background(), config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "events.db"),
		RetentionMode: "session",
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	w := newTimelineWriter(store, testLogger())
	w.recordSession("s1", "fox")
	w.append("s1", "i1", eventstore.TypeControl, protocol.Control{Action: "start"})
	w.append("s1", "i1", eventstore.TypeUpstreamLost, map[string]string{"reason": "timeout"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.run(ctx)

	events, err := store.List(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, eventstore.TypeControl, events[0].Type)
	assert.Equal(t, eventstore.TypeUpstreamLost, events[1].Type)
	assert.JSONEq(t, `{"reason":"timeout"}`, string(events[1].Payload))

	var nilWriter *timelineWriter
	nilWriter.append("s1", "", eventstore.TypeClosed, struct{}{})
}

func TestSTTBridgeOffsets(t *testing.T) {
	b := newSTTBridge()
	f := b.fragment(protocol.Transcript{SessionID: "s", Text: "hello", Partial: true})
	assert.Equal(t, int64(0), f.StartOffset)
	assert.False(t, f.IsFinal)
	f = b.fragment(protocol.Transcript{SessionID: "s", Text: "hello world"})
	assert.Equal(t, int64(0), f.StartOffset)
	assert.True(t, f.IsFinal)
	f = b.fragment(protocol.Transcript{SessionID: "s", Text: "again", Partial: true})
	assert.Equal(t, int64(1), f.StartOffset)
	f = b.fragment(protocol.Transcript{SessionID: "s", Text: "again and again"})
	assert.Equal(t, int64(1), f.StartOffset)
	f = b.fragment(protocol.Transcript{SessionID: "s", Text: "with offset", StartOffset: 4200})
	assert.Equal(t, int64(4200), f.StartOffset)

	// Offsets without a timestamp continue after the highest one seen.
	f = b.fragment(protocol.Transcript{SessionID: "s", Text: "late", Partial: true})
	assert.Equal(t, int64(4201), f.StartOffset)
	f = b.fragment(protocol.Transcript{SessionID: "s", Text: "earlier", StartOffset: 1500})
	assert.Equal(t, int64(1500), f.StartOffset)
	f = b.fragment(protocol.Transcript{SessionID: "s", Text: "late words"})
	assert.Equal(t, int64(4201), f.StartOffset)
	f = b.fragment(protocol.Transcript{SessionID: "s", Text: "next", Partial: true})
	assert.Equal(t, int64(4202), f.StartOffset)

	b.reset("s")
	f = b.fragment(protocol.Transcript{SessionID: "s", Text: "fresh", Partial: true})
	assert.Equal(t, int64(0), f.StartOffset)
}
