package index

import (
	"sync"
	"time"
)

// WaitableCondvar lets goroutines sleep until woken by NotifyAll or until a
// timeout passes.
type WaitableCondvar struct {
	mu sync.Mutex
	ch chan struct{}
}

func NewWaitableCondvar() *WaitableCondvar {
	return &WaitableCondvar{ch: make(chan struct{})}
}

// NotifyAll wakes every goroutine currently waiting.
func (w *WaitableCondvar) NotifyAll() {
	w.mu.Lock()
	defer w.mu.Unlock()

	close(w.ch)
	w.ch = make(chan struct{})
}

// WaitTimeout waits for NotifyAll for at most d and reports whether it was
// woken. done is checked once the waiter is registered; if it already
// returns true WaitTimeout returns at once, so a NotifyAll issued after done
// became true is never missed.
func (w *WaitableCondvar) WaitTimeout(d time.Duration, done func() bool) bool {
	w.mu.Lock()
	ch := w.ch
	w.mu.Unlock()

	if done != nil && done() {
		return true
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}
