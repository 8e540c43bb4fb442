package cqlcore

import (
	"context"
	"sync"
)

// Future is the pending outcome of an asynchronous request.
//
// It is completed exactly once; the first completion wins and later ones
// are ignored.
type Future struct {
	done chan struct{}
	once sync.Once
	res  *Result
	err  error
	exec *requestExecution
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func failedFuture(err error) *Future {
	f := newFuture()
	f.complete(nil, err)

	return f
}

// complete resolves the future.
//
// Returns:
//   - bool: true if this call resolved it
func (f *Future) complete(res *Result, err error) bool {
	won := false
	f.once.Do(func() {
		f.res, f.err = res, err
		close(f.done)
		won = true
	})

	return won
}

// Get waits for the outcome.
//
// Cancelling ctx stops the wait but not the request; the request stops at
// its own deadline or the context it was started with.
//
// Parameters:
//   - ctx: Context bounding the wait
//
// Returns:
//   - *Result: The result on success
//   - error: The request error or ctx.Err()
func (f *Future) Get(ctx context.Context) (*Result, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done returns a channel closed when the future is resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// IsDone reports whether the future is resolved.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// State returns the state of the underlying request.
func (f *Future) State() RequestState {
	if f.exec == nil {
		if f.IsDone() {
			return RequestFailed
		}

		return RequestNotStarted
	}

	return f.exec.loadState()
}
