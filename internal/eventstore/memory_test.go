package eventstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAppendVersionContinuity(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(MemoryConfig{})

	for v := 0; v < 5; v++ {
		ev := New("stream-a", "TestEvent", map[string]any{"n": v}, v, "")
		require.NoError(t, store.Append(ctx, ev))
	}

	events, err := store.GetStream(ctx, "stream-a", 0)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, i, ev.Version)
	}
}

func TestMemoryAppendRejectsVersionGap(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(MemoryConfig{})

	require.NoError(t, store.Append(ctx, New("s", "E", nil, 0, "")))

	err := store.Append(ctx, New("s", "E", nil, 2, ""))
	require.Error(t, err)

	var concErr *ConcurrencyError
	require.True(t, errors.As(err, &concErr))
	assert.Equal(t, 2, concErr.ExpectedVersion)
	assert.Equal(t, 0, concErr.ActualVersion)

	metrics := store.Metrics()
	assert.Equal(t, int64(1), metrics.VersionConflicts)
}

func TestMemoryAppendRejectsNonZeroFirstVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(MemoryConfig{})

	err := store.Append(ctx, New("fresh-stream", "E", nil, 3, ""))
	require.Error(t, err)
	var concErr *ConcurrencyError
	require.True(t, errors.As(err, &concErr))
	assert.Equal(t, -1, concErr.ActualVersion)
}

func TestMemoryEventRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(MemoryConfig{})

	payload := map[string]any{"text": "hello", "count": float64(3)}
	original := New("stream-b", "MessageReceived", payload, 0, "corr-1")
	require.NoError(t, store.Append(ctx, original))

	events, err := store.GetStream(ctx, "stream-b", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, original.EventID, events[0].EventID)
	assert.Equal(t, original.Payload, events[0].Payload)
	assert.Equal(t, "corr-1", events[0].CorrelationID)
}

func TestMemoryStreamCacheHitsOnlyFromVersionZero(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(MemoryConfig{})
	require.NoError(t, store.Append(ctx, New("s", "E", nil, 0, "")))

	_, err := store.GetStream(ctx, "s", 0)
	require.NoError(t, err)
	_, err = store.GetStream(ctx, "s", 0)
	require.NoError(t, err)

	m := store.Metrics()
	assert.Equal(t, int64(1), m.CacheMisses)
	assert.Equal(t, int64(1), m.CacheHits)

	_, err = store.GetStream(ctx, "s", 1)
	require.NoError(t, err)
	m = store.Metrics()
	assert.Equal(t, int64(1), m.CacheHits, "non-zero from_version reads must bypass the cache")
}

func TestMemoryAppendInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(MemoryConfig{})
	require.NoError(t, store.Append(ctx, New("s", "E", nil, 0, "")))

	first, err := store.GetStream(ctx, "s", 0)
	require.NoError(t, err)
	require.Len(t, first, 1)

	require.NoError(t, store.Append(ctx, New("s", "E", nil, 1, "")))

	second, err := store.GetStream(ctx, "s", 0)
	require.NoError(t, err)
	assert.Len(t, second, 2, "cache entry must be invalidated by the new append")
}

func TestMemoryGetEventsAfterFiltersByType(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(MemoryConfig{})

	require.NoError(t, store.Append(ctx, New("s1", "TypeA", nil, 0, "")))
	require.NoError(t, store.Append(ctx, New("s2", "TypeB", nil, 0, "")))
	require.NoError(t, store.Append(ctx, New("s1", "TypeA", nil, 1, "")))

	all, err := store.GetEventsAfter(ctx, 0, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	onlyA, err := store.GetEventsAfter(ctx, 0, []string{"TypeA"})
	require.NoError(t, err)
	assert.Len(t, onlyA, 2)
	for _, ev := range onlyA {
		assert.Equal(t, "TypeA", ev.EventType)
	}
}

func TestMemoryGetLastEventAndStreamExists(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(MemoryConfig{})

	_, ok, err := store.GetLastEvent(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	exists, err := store.StreamExists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Append(ctx, New("s", "E", nil, 0, "")))
	require.NoError(t, store.Append(ctx, New("s", "E", nil, 1, "")))

	last, ok, err := store.GetLastEvent(ctx, "s")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, last.Version)

	exists, err = store.StreamExists(ctx, "s")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMemoryEvictsOldestStreamsUnderPressure(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(MemoryConfig{MaxMemoryEvents: 3})

	require.NoError(t, store.Append(ctx, New("old", "E", nil, 0, "")))
	require.NoError(t, store.Append(ctx, New("mid", "E", nil, 0, "")))
	require.NoError(t, store.Append(ctx, New("new", "E", nil, 0, "")))
	// crossing the cap triggers eviction of the oldest stream
	require.NoError(t, store.Append(ctx, New("newest", "E", nil, 0, "")))

	exists, err := store.StreamExists(ctx, "old")
	require.NoError(t, err)
	assert.False(t, exists, "oldest stream should have been evicted")

	exists, err = store.StreamExists(ctx, "newest")
	require.NoError(t, err)
	assert.True(t, exists)

	m := store.Metrics()
	assert.Equal(t, int64(1), m.TotalCleanups)
}
