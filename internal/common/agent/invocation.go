// internal/common/agent/invocation.go
package agent

import "sync"

// Invocation is the handle of one in-flight agent call.
type Invocation struct {
	cancel func()
	done   chan struct{}
	once   sync.Once
	err    error
}

// NewInvocation returns a handle whose Cancel calls cancel. Transports call
// Finish once the call has settled.
func NewInvocation(cancel func()) *Invocation {
	if cancel == nil {
		cancel = func() {}
	}
	return &Invocation{cancel: cancel, done: make(chan struct{})}
}

// Cancel aborts the call. No callback fires after Cancel returns unless it
// was already running.
func (i *Invocation) Cancel() {
	i.cancel()
}

// Done is closed once the call has settled and every callback has returned.
func (i *Invocation) Done() <-chan struct{} {
	return i.done
}

// Err is the terminal error: nil after completion, the agent or transport
// error, or the context error after cancellation. Valid once Done is closed.
func (i *Invocation) Err() error {
	<-i.done
	return i.err
}

// Finish settles the invocation. Only the first call has an effect.
func (i *Invocation) Finish(err error) {
	i.once.Do(func() {
		i.err = err
		close(i.done)
	})
}
