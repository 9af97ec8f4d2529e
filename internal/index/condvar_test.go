package index

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCondvarTimeout(t *testing.T) {
	w := NewWaitableCondvar()
	start := time.Now()
	assert.False(t, w.WaitTimeout(20*time.Millisecond, nil))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestCondvarNotifyAll(t *testing.T) {
	w := NewWaitableCondvar()

	const waiters = 4
	var (
		ready sync.WaitGroup
		done  sync.WaitGroup
		mu    sync.Mutex
		woken int
	)
	ready.Add(waiters)
	done.Add(waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			defer done.Done()
			registered := false
			ok := w.WaitTimeout(time.Minute, func() bool {
				if !registered {
					registered = true
					ready.Done()
				}
				return false
			})
			if ok {
				mu.Lock()
				woken++
				mu.Unlock()
			}
		}()
	}

	ready.Wait()
	w.NotifyAll()
	done.Wait()
	assert.Equal(t, waiters, woken)
}

func TestCondvarDone(t *testing.T) {
	w := NewWaitableCondvar()
	start := time.Now()
	assert.True(t, w.WaitTimeout(time.Minute, func() bool { return true }))
	assert.Less(t, time.Since(start), time.Minute)
}

func TestCondvarNotifyWithoutWaiters(t *testing.T) {
	w := NewWaitableCondvar()
	w.NotifyAll()
	w.NotifyAll()
	assert.False(t, w.WaitTimeout(time.Millisecond, nil))
}
