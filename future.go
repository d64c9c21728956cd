package crequests

import "context"

// Future is a single-shot promise for a Response. It is fulfilled exactly
// once, by the connection that owns it, after that connection reaches a
// terminal state.
type Future struct {
	done chan struct{}
	resp *Response
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// fulfill resolves the future. Calling it more than once panics, since the
// state machine invariant guarantees it never happens.
func (f *Future) fulfill(resp *Response, err error) {
	f.resp, f.err = resp, err
	close(f.done)
}

// Done returns a channel that's closed once the future is fulfilled, for
// use in select statements alongside other cancellation sources.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future is fulfilled or ctx is done, whichever comes
// first.
func (f *Future) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get blocks unconditionally until the future is fulfilled. It's the
// synchronous convenience path a caller uses at the public-API boundary
// after choosing to wait rather than polling or registering a callback.
func (f *Future) Get() (*Response, error) {
	<-f.done
	return f.resp, f.err
}
