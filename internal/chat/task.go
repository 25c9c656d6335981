package chat

import "context"

// Task is a handle on a background stream invocation.
type Task struct {
	done   chan struct{}
	cancel context.CancelFunc

	// written before done is closed
	result *StreamResult
	err    error
}

// Done is closed once the stream has been closed out.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) (*StreamResult, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err returns the open failure of a finished task, or nil while it runs.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Result returns the outcome of a finished task, or nil while it runs.
func (t *Task) Result() *StreamResult {
	select {
	case <-t.done:
		return t.result
	default:
		return nil
	}
}

// Cancel stops reading from the provider. The stream is still closed out.
func (t *Task) Cancel() { t.cancel() }
