package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueuePublishConsume(t *testing.T) {
	queue := NewInMemoryQueue()
	defer queue.Close()

	runId := uuid.New()
	require.NoError(t, queue.PublishRunTask(context.Background(), RunTaskPayload{RunId: runId}))

	select {
	case task := <-queue.Tasks():
		assert.Equal(t, RunQueue, task.Type())

		var payload RunTaskPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &payload))
		assert.Equal(t, runId, payload.RunId)

		assert.NoError(t, task.Ack())
	case <-time.After(time.Second):
		t.Fatal("no task received")
	}
}

func TestInMemoryQueueCloseEndsConsumption(t *testing.T) {
	queue := NewInMemoryQueue()
	tasks := queue.Tasks()
	queue.Close()

	_, ok := <-tasks
	assert.False(t, ok)
}
