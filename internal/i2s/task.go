package i2s

import (
	"context"
	"sync/atomic"
)

// Task is the handle returned by an asynchronous read. It is resolved exactly
// once, either with a completion or with the error that ended the stream.
type Task struct {
	channel  int
	done     chan struct{}
	resolved atomic.Bool
	result   Completion
	err      error
}

func newTask(channel int) *Task {
	return &Task{channel: channel, done: make(chan struct{})}
}

// resolve publishes the outcome. Only the first call wins.
func (t *Task) resolve(c Completion, err error) bool {
	if !t.resolved.CompareAndSwap(false, true) {
		return false
	}
	t.result = c
	t.err = err
	close(t.done)
	return true
}

// Channel returns the channel the task was registered on.
func (t *Task) Channel() int {
	return t.channel
}

// Done is closed once the task is resolved.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Status returns the resolved completion without blocking. Before resolution
// it returns a usage error wrapping ErrTaskPending.
func (t *Task) Status() (Completion, error) {
	select {
	case <-t.done:
		return t.result, t.err
	default:
		return Completion{}, usageError(ErrTaskPending, "read_status", t.channel)
	}
}

// Wait blocks until the task is resolved or ctx is done.
func (t *Task) Wait(ctx context.Context) (Completion, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	}
}
