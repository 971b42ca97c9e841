package snapcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-coach/internal/scoring"
	"github.com/loqalabs/loqa-coach/internal/session"
)

type memStore struct {
	data map[string]string
	ttls map[string]time.Duration
	fail error
}

func newMemStore() *memStore {
	return &memStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memStore) Get(_ context.Context, key string) *redis.StringCmd {
	if m.fail != nil {
		return redis.NewStringResult("", m.fail)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memStore) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	m.data[key] = string(value.([]byte))
	m.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (m *memStore) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestFeedbackRoundTrip(t *testing.T) {
	store := newMemStore()
	c := New(store, "test", time.Minute)
	ctx := context.Background()

	_, ok, err := c.Feedback(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	fb := session.Feedback{SessionID: "s1", State: session.Recording, Transcript: "hello there", FillerCount: 1}
	require.NoError(t, c.PutFeedback(ctx, fb))
	assert.Equal(t, time.Minute, store.ttls["test:session:s1:feedback"])

	got, ok, err := c.Feedback(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello there", got.Transcript)
	assert.Equal(t, session.Recording, got.State)
}

func TestCompletionAndDelete(t *testing.T) {
	store := newMemStore()
	c := New(store, "", time.Minute)
	ctx := context.Background()

	cmp := session.Completion{SessionID: "s1", Reason: session.StopTimer, Score: scoring.Score{Total: 42}}
	require.NoError(t, c.PutCompletion(ctx, cmp))
	require.NoError(t, c.PutFeedback(ctx, session.Feedback{SessionID: "s1"}))
	assert.Contains(t, store.data, "coach:session:s1:score")

	got, ok, err := c.Completion(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42, got.Score.Total)

	require.NoError(t, c.Delete(ctx, "s1"))
	assert.Empty(t, store.data)
}

func TestGetError(t *testing.T) {
	store := newMemStore()
	store.fail = errors.New("connection refused")
	c := New(store, "", time.Minute)
	_, _, err := c.Feedback(context.Background(), "s1")
	assert.ErrorIs(t, err, store.fail)
}
