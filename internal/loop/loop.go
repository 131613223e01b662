// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

// Package loop provides the control thread every monitor, device and proxy
// event is delivered on.
//
// Background goroutines never touch monitor state directly; they post
// closures with Invoke and the loop runs them one at a time in FIFO order.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrClosed is returned when work is submitted to a closed loop.
var ErrClosed = errors.New("loop is closed")

// Loop runs submitted functions sequentially on one goroutine.
type Loop struct {
	logger *slog.Logger

	mu      sync.Mutex
	queue   []func()
	closed  bool
	running bool
	wake    chan struct{}
	done    chan struct{}
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger used for recovered panics.
func WithLogger(l *slog.Logger) Option {
	return func(lp *Loop) {
		lp.logger = l
	}
}

// New creates a loop. Call Run to start processing.
func New(opts ...Option) *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Run processes submitted functions until ctx is cancelled or Close is
// called. Work still queued at that point is run before Run returns.
// Run may be called once.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return errors.New("loop is already running")
	}
	l.running = true
	l.mu.Unlock()
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return ctx.Err()
		case <-l.wake:
		}

		if !l.drain() {
			return nil
		}
	}
}

// drain runs queued work. It reports false once the loop is closed and empty.
func (l *Loop) drain() bool {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			closed := l.closed
			l.mu.Unlock()
			return !closed
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.run(fn)
	}
}

func (l *Loop) shutdown() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.drain()
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("recovered panic on control loop", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// Invoke queues fn for execution on the loop. It reports false when the loop
// is closed and fn will never run. Safe for concurrent use.
func (l *Loop) Invoke(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// InvokeSync runs fn on the loop and waits for its result. It must not be
// called from the loop itself.
func (l *Loop) InvokeSync(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	ok := l.Invoke(func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic on control loop: %v", r)
			}
			result <- err
		}()
		err = fn()
	})
	if !ok {
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work. Run finishes the queued work and returns.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
