// Package stoppable provides a start/stop handshake for a single named
// background goroutine, generic over the state it closes over. Start and
// Stop use atomic CompareAndSwap transitions instead of a mutex, a buffered
// channel to publish "the goroutine is actually running" back to the
// caller, and a done channel Stop blocks on to join.
package stoppable

import (
	"context"
	"sync/atomic"

	"github.com/srg/lensd/internal/groutine"
)

// Thread runs one tick function on a dedicated named goroutine until Stop is
// called. S is the state the tick closure closes over; Go closures capture
// state natively, so S itself is never stored on Thread, only threaded
// through as tick's second argument.
type Thread[S any] struct {
	name string

	started atomic.Bool
	running atomic.Bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Thread that will run its goroutine under name (visible in
// pprof goroutine labels).
func New[S any](name string) *Thread[S] {
	return &Thread[S]{name: name}
}

// Start spawns the worker goroutine, which calls tick(state) repeatedly
// until Stop is called. Returns true if this call actually started the
// goroutine; false if the thread was already running.
//
// Blocks until the goroutine has signaled it is running, so a caller never
// observes a partially-started thread.
func (t *Thread[S]) Start(ctx context.Context, state S, tick func(ctx context.Context, state S)) bool {
	if !t.started.CompareAndSwap(false, true) {
		return false
	}

	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})
	t.running.Store(true)

	started := make(chan struct{}, 1)

	groutine.Go(ctx, t.name, func(ctx context.Context) {
		started <- struct{}{}
		defer close(t.doneCh)

		for t.running.Load() {
			select {
			case <-t.stopCh:
				return
			default:
				tick(ctx, state)
			}
		}
	})

	<-started
	return true
}

// Stop requests the worker goroutine exit and waits for it to do so.
// Idempotent: a second and later call is a no-op returning false.
func (t *Thread[S]) Stop() bool {
	if !t.running.CompareAndSwap(true, false) {
		return false
	}
	close(t.stopCh)
	<-t.doneCh
	t.started.Store(false)
	return true
}
