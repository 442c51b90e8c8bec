package actor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemDeliversInOrder(t *testing.T) {
	sys := NewSystem(RetryConfig{}, CircuitBreakerConfig{}, 10)
	require.NoError(t, sys.Register("echo", 16, func(ctx context.Context, msg Message) error {
		return nil
	}))
	require.NoError(t, sys.Start("echo"))
	defer sys.Stop("echo", time.Second)

	var mu sync.Mutex
	var order []int
	require.NoError(t, sys.Register("counter", 16, func(ctx context.Context, msg Message) error {
		mu.Lock()
		order = append(order, int(msg.Payload["n"].(int)))
		mu.Unlock()
		return nil
	}))
	require.NoError(t, sys.Start("counter"))
	defer sys.Stop("counter", time.Second)

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		msg := New("test", "counter", MsgUserMessage, map[string]any{"n": i})
		require.NoError(t, sys.Send(ctx, msg))
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 20)
	for i, n := range order {
		assert.Equal(t, i, n)
	}
}

func TestSystemRetriesThenDeadLetters(t *testing.T) {
	sys := NewSystem(RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, CircuitBreakerConfig{}, 10)
	var attempts int32
	require.NoError(t, sys.Register("flaky", 4, func(ctx context.Context, msg Message) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("boom")
	}))
	require.NoError(t, sys.Start("flaky"))
	defer sys.Stop("flaky", time.Second)

	require.NoError(t, sys.Send(context.Background(), New("t", "flaky", MsgUserMessage, nil)))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts)) // initial + 2 retries
	assert.Equal(t, 1, sys.DeadLetterQueue().Len())
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	sys := NewSystem(RetryConfig{MaxRetries: 0}, CircuitBreakerConfig{FailureThreshold: 2, OpenDuration: time.Hour}, 10)
	require.NoError(t, sys.Register("bad", 4, func(ctx context.Context, msg Message) error {
		return errors.New("nope")
	}))
	require.NoError(t, sys.Start("bad"))
	defer sys.Stop("bad", time.Second)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		require.NoError(t, sys.Send(ctx, New("t", "bad", MsgUserMessage, nil)))
	}
	time.Sleep(30 * time.Millisecond)

	err := sys.Send(ctx, New("t", "bad", MsgUserMessage, nil))
	require.Error(t, err)
	var circErr *CircuitOpenError
	assert.True(t, errors.As(err, &circErr))
}

func TestDeadLetterQueueTrimsOldestFirst(t *testing.T) {
	dlq := NewDeadLetterQueue(3)
	for i := 0; i < 5; i++ {
		dlq.Add(New("s", "r", MsgUserMessage, map[string]any{"n": i}), "fail")
	}
	snap := dlq.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, 2, snap[0].Message.Payload["n"])
	assert.Equal(t, 4, snap[2].Message.Payload["n"])
}

func TestStopTransitionsLifecycle(t *testing.T) {
	sys := NewSystem(RetryConfig{}, CircuitBreakerConfig{}, 10)
	require.NoError(t, sys.Register("a", 4, func(ctx context.Context, msg Message) error { return nil }))
	require.NoError(t, sys.Start("a"))

	state, err := sys.State("a")
	require.NoError(t, err)
	assert.Equal(t, Running, state)

	require.NoError(t, sys.Stop("a", time.Second))
	state, err = sys.State("a")
	require.NoError(t, err)
	assert.Equal(t, Stopped, state)
}
