package runner

import "sync"

// RunState is the lifecycle state of one processor run. Canceled,
// interrupted and completed are terminal.
type RunState string

const (
	StatePending     RunState = "PENDING"
	StateRunning     RunState = "RUNNING"
	StateCanceled    RunState = "CANCELED"
	StateInterrupted RunState = "INTERRUPTED"
	StateCompleted   RunState = "COMPLETED"
)

func (s RunState) Terminal() bool {
	switch s {
	case StateCanceled, StateInterrupted, StateCompleted:
		return true
	default:
		return false
	}
}

// Canceler carries a cooperative cancellation flag checked at the
// orchestrator's checkpoints, plus an optional stop action registered by the
// backend once a dispatch is in flight. A stop request may race with natural
// completion; either ordering resolves to a well-defined terminal state.
type Canceler struct {
	mu       sync.Mutex
	canceled bool
	stop     func()
}

// Cancel requests cancellation: the flag is set, then any registered stop
// action fires best-effort.
func (c *Canceler) Cancel() {
	c.mu.Lock()
	c.canceled = true
	stop := c.stop
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// Canceled reports whether cancellation has been requested.
func (c *Canceler) Canceled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canceled
}

// RegisterStop installs the backend's stop action. If cancellation was
// already requested the action fires immediately.
func (c *Canceler) RegisterStop(stop func()) {
	c.mu.Lock()
	c.stop = stop
	canceled := c.canceled
	c.mu.Unlock()

	if canceled && stop != nil {
		stop()
	}
}

// Callbacks stream a run's output and progress to the platform. All
// callbacks fire synchronously within the orchestrator's blocking call;
// callers must not assume a separate goroutine. Nil members are skipped.
type Callbacks struct {
	OnOutput   func(string)
	OnError    func(string)
	OnProgress func(float64)
}

func (cb Callbacks) progress(fraction float64) {
	if cb.OnProgress != nil {
		cb.OnProgress(fraction)
	}
}
