package stm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreMemoryEnforcesBufferCap(t *testing.T) {
	s := New(Config{BufferSize: 3}, true)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.StoreMemory(ctx, "u1", User, "msg", nil))
	}
	assert.Equal(t, 3, s.Count("u1"))
}

func TestStoreMemoryTruncatesLongContent(t *testing.T) {
	s := New(Config{MessageMaxLength: 5}, true)
	ctx := context.Background()
	require.NoError(t, s.StoreMemory(ctx, "u1", User, "hello world", nil))
	rows := s.Rows("u1", 0)
	require.Len(t, rows, 1)
	assert.Equal(t, "hello", rows[0].Content)
	assert.Equal(t, true, rows[0].Metadata["truncated"])
}

func TestGetContextReturnsChronologicalOrder(t *testing.T) {
	s := New(Config{}, true)
	ctx := context.Background()
	require.NoError(t, s.StoreMemory(ctx, "u1", User, "first", nil))
	require.NoError(t, s.StoreMemory(ctx, "u1", Bot, "second", nil))
	require.NoError(t, s.StoreMemory(ctx, "u1", User, "third", nil))

	resp := s.GetContext(ctx, "u1", 0, FormatStructured)
	require.Len(t, resp.Messages, 3)
	assert.Equal(t, "first", resp.Messages[0].Content)
	assert.Equal(t, "third", resp.Messages[2].Content)
	for i := 1; i < len(resp.Messages); i++ {
		assert.True(t, !resp.Messages[i].Timestamp.Before(resp.Messages[i-1].Timestamp))
	}
}

func TestGetContextStructuredMapsRole(t *testing.T) {
	s := New(Config{}, true)
	ctx := context.Background()
	require.NoError(t, s.StoreMemory(ctx, "u1", Bot, "hi", nil))
	resp := s.GetContext(ctx, "u1", 0, FormatStructured)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "assistant", resp.Messages[0].Role)
}

func TestGetContextTextFormat(t *testing.T) {
	s := New(Config{}, true)
	ctx := context.Background()
	require.NoError(t, s.StoreMemory(ctx, "u1", User, "hi", nil))
	resp := s.GetContext(ctx, "u1", 0, FormatText)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "user", resp.Messages[0].Type)
	assert.Empty(t, resp.Messages[0].Role)
}

func TestDegradedModeAcknowledgesWithoutPersisting(t *testing.T) {
	s := New(Config{}, false)
	ctx := context.Background()
	require.NoError(t, s.StoreMemory(ctx, "u1", User, "hi", nil))
	assert.Equal(t, 0, s.Count("u1"))
	resp := s.GetContext(ctx, "u1", 0, "")
	assert.Empty(t, resp.Messages)
}

func TestClearUserMemory(t *testing.T) {
	s := New(Config{}, true)
	ctx := context.Background()
	require.NoError(t, s.StoreMemory(ctx, "u1", User, "hi", nil))
	require.NoError(t, s.ClearUserMemory(ctx, "u1"))
	assert.Equal(t, 0, s.Count("u1"))
}

func TestGetContextLimitsToMostRecent(t *testing.T) {
	s := New(Config{}, true)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.StoreMemory(ctx, "u1", User, strings.Repeat("x", 1), nil))
	}
	resp := s.GetContext(ctx, "u1", 2, FormatStructured)
	assert.Len(t, resp.Messages, 2)
}
