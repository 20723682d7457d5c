package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePushPopOrder(t *testing.T) {
	q := NewQueue(4)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, IncomingMessage{ChatID: "1"}))
	require.NoError(t, q.Push(ctx, IncomingMessage{ChatID: "2"}))

	first, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, "1", first.ChatID)

	second, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, "2", second.ChatID)
}

func TestQueueTryPushFullReturnsFalse(t *testing.T) {
	q := NewQueue(1)
	assert.True(t, q.TryPush(IncomingMessage{ChatID: "1"}))
	assert.False(t, q.TryPush(IncomingMessage{ChatID: "2"}))
}

func TestQueuePopCanceledByContext(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := q.Pop(ctx)
	assert.False(t, ok)
}

func TestQueuePushBlocksThenCancels(t *testing.T) {
	q := NewQueue(1)
	require.True(t, q.TryPush(IncomingMessage{ChatID: "fill"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Push(ctx, IncomingMessage{ChatID: "blocked"})
	assert.Error(t, err)
}
