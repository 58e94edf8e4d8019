package fs

import (
	"context"
	"errors"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
)

type payload struct {
	Value string
}

func newTestQueue(t *testing.T) *Queue[payload] {
	t.Helper()
	queue, err := NewQueue[payload](afs.New(), Config{
		BaseURL:    path.Join(t.TempDir(), "queue"),
		MaxRetries: 1,
	})
	require.NoError(t, err)
	return queue
}

func TestQueue_PublishConsumeAck(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t)

	require.NoError(t, queue.Publish(ctx, &payload{Value: "a"}))

	msg, err := queue.Consume(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "a", msg.T().Value)
	require.NoError(t, msg.Ack())

	empty, err := queue.Consume(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestQueue_NackRedeliversThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t)

	require.NoError(t, queue.Publish(ctx, &payload{Value: "x"}))

	msg, err := queue.Consume(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.NoError(t, msg.Nack(errors.New("boom")))

	redelivered, err := queue.Consume(ctx)
	require.NoError(t, err)
	require.NotNil(t, redelivered, "nacked message returns through the retry stage")
	assert.Equal(t, "x", redelivered.T().Value)

	require.NoError(t, redelivered.Nack(errors.New("boom again")))

	gone, err := queue.Consume(ctx)
	require.NoError(t, err)
	assert.Nil(t, gone, "message exceeded its retry budget and dead-lettered")
}
