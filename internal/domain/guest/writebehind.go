package guest

import (
	"context"
	"sync"
	"time"
)

// WriteBehind makes saves fire-and-forget: Save records the latest state and
// returns immediately, a background goroutine writes it to the wrapped
// Persistence. Intermediate states may be skipped; the last one is always
// written. Close drains the pending write.
type WriteBehind struct {
	next    Persistence
	timeout time.Duration
	onError func(error)

	mu      sync.Mutex
	pending *State
	closed  bool

	wake  chan struct{}
	flush chan chan struct{}
	quit  chan struct{}
	done  chan struct{}
}

// NewWriteBehind starts a write-behind wrapper around next. Each background
// write gets its own context bounded by timeout. onError may be nil.
func NewWriteBehind(next Persistence, timeout time.Duration, onError func(error)) *WriteBehind {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	w := &WriteBehind{
		next:    next,
		timeout: timeout,
		onError: onError,
		wake:    make(chan struct{}, 1),
		flush:   make(chan chan struct{}),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

// Load reads through to the wrapped persistence.
func (w *WriteBehind) Load(ctx context.Context) (State, error) {
	return w.next.Load(ctx)
}

// Save queues state for writing. After Close it writes synchronously.
func (w *WriteBehind) Save(ctx context.Context, state State) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return w.next.Save(ctx, state)
	}
	s := state.Clone()
	w.pending = &s
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// Flush blocks until every state queued before the call has been written.
func (w *WriteBehind) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case w.flush <- ack:
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes any pending state and stops the background goroutine.
func (w *WriteBehind) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.quit)
	<-w.done
	return nil
}

func (w *WriteBehind) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.wake:
			w.writePending()
		case ack := <-w.flush:
			w.writePending()
			close(ack)
		case <-w.quit:
			w.writePending()
			return
		}
	}
}

func (w *WriteBehind) writePending() {
	w.mu.Lock()
	s := w.pending
	w.pending = nil
	w.mu.Unlock()

	if s == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if err := w.next.Save(ctx, *s); err != nil && w.onError != nil {
		w.onError(err)
	}
}
