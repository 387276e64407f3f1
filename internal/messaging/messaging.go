package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	RunQueue        = "run_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

// RunTaskPayload asks a worker to execute one queued run. The run record
// itself lives in the database.
type RunTaskPayload struct {
	RunId uuid.UUID
}

type Publisher interface {
	PublishRunTask(ctx context.Context, payload RunTaskPayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}
