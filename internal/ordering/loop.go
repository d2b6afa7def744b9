// Package ordering provides the single execution context that owns a
// conversation's timeline state.
package ordering

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned by Do once the loop has stopped.
var ErrStopped = errors.New("ordering loop stopped")

// Loop runs posted tasks one at a time on a dedicated goroutine.
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	logger *zap.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	seq    map[string]uint64
	cancel context.CancelFunc
}

// New creates a loop with the given task queue depth.
func New(queue int, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queue <= 0 {
		queue = 256
	}
	return &Loop{
		tasks:  make(chan func(), queue),
		done:   make(chan struct{}),
		logger: logger,
		timers: make(map[string]*time.Timer),
		seq:    make(map[string]uint64),
	}
}

// Start runs the loop until ctx is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	go func() {
		defer close(l.done)
		for {
			select {
			case fn := <-l.tasks:
				l.run(fn)
			case <-ctx.Done():
				l.stopTimers()
				return
			}
		}
	}()
}

// Stop terminates the loop and waits for the running task to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-l.done
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("ordering task panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// Post enqueues fn without waiting. It reports false when the loop has
// stopped and the task was discarded.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it to complete.
func (l *Loop) Do(ctx context.Context, fn func()) error {
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
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Debounce arms a single-shot timer for key. A later call with the same key
// replaces the pending one. fn runs on the loop.
func (l *Loop) Debounce(key string, d time.Duration, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.timers[key]; ok {
		t.Stop()
	}
	l.seq[key]++
	gen := l.seq[key]
	l.timers[key] = time.AfterFunc(d, func() {
		l.Post(func() {
			l.mu.Lock()
			current := l.seq[key] == gen
			if current {
				delete(l.timers, key)
			}
			l.mu.Unlock()
			// A stale fire raced with a replacement timer.
			if current {
				fn()
			}
		})
	})
}

// CancelTimer stops the pending timer for key, if any.
func (l *Loop) CancelTimer(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.timers[key]; ok {
		t.Stop()
		delete(l.timers, key)
	}
	l.seq[key]++
}

func (l *Loop) stopTimers() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, t := range l.timers {
		t.Stop()
		delete(l.timers, k)
	}
}
