// Package eventloop runs posted closures one at a time on a single goroutine.
// State touched only from posted closures needs no locking.
package eventloop

import (
	"context"
	"sync"
	"time"
)

// Poster schedules fn to run on an event loop.
type Poster interface {
	Post(fn func())
}

// Scheduler schedules fn to run on an event loop after d. The returned func
// cancels the call if it has not run yet.
type Scheduler interface {
	PostAfter(d time.Duration, fn func()) (cancel func())
}

// Inline runs posted closures immediately on the caller's goroutine. It is
// meant for callers that already serialise access themselves.
type Inline struct{}

func (Inline) Post(fn func()) { fn() }

// Loop is an unbounded FIFO of closures drained by Run.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
}

func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post enqueues fn. It never blocks, so closures running on the loop may post
// more work. Posts after Run returns are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// PostAfter posts fn once d has elapsed.
func (l *Loop) PostAfter(d time.Duration, fn func()) (cancel func()) {
	var (
		mu       sync.Mutex
		canceled bool
	)
	t := time.AfterFunc(d, func() {
		l.Post(func() {
			mu.Lock()
			c := canceled
			mu.Unlock()
			if !c {
				fn()
			}
		})
	})
	return func() {
		mu.Lock()
		canceled = true
		mu.Unlock()
		t.Stop()
	}
}

// Run drains the queue until ctx is done. Closures still queued at that point
// are discarded.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
	}()

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fn()
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}
