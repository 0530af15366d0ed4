// Package loop provides the single serialized control flow each client runs
// on, plus single-shot timers keyed by kind.
//
// Every state-machine transition (timer firing, inbound message, user input)
// is a closure posted to a Loop and executed one at a time on the goroutine
// running Loop.Run. State owned by the machines therefore needs no locks.
package loop

import (
	"context"
	"errors"
	"sync"

	"github.com/dyluth/beacon/internal/logger"
)

// ErrStopped is returned when work is submitted to a loop that is no longer running.
var ErrStopped = errors.New("control loop stopped")

// Loop executes posted closures sequentially.
type Loop struct {
	queue    chan func()
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a loop whose queue holds up to capacity pending closures.
func New(capacity int) *Loop {
	if capacity < 1 {
		capacity = 1
	}
	return &Loop{
		queue: make(chan func(), capacity),
		done:  make(chan struct{}),
	}
}

// Run executes posted closures until ctx is cancelled. It must be called once.
// Closures still queued when Run returns are discarded.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.queue:
			l.exec(fn)
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post enqueues fn, blocking while the queue is full.
// Returns false if the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// TryPost enqueues fn without blocking. Returns false if the queue is full
// or the loop has stopped.
func (l *Loop) TryPost(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.queue <- fn:
		return true
	default:
		return false
	}
}

// Call runs fn on the loop and waits for it to finish.
// Must not be called from inside a closure running on the same loop.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// fn may have completed just before the loop stopped
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Abandon marks a loop that will never run as stopped, releasing anyone
// blocked in Post or Call.
func (l *Loop) Abandon() {
	l.stop()
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[Loop] recovered from panic: %v", r)
		}
	}()
	fn()
}

func (l *Loop) stop() {
	l.stopOnce.Do(func() { close(l.done) })
}
