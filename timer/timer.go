// Package timer implements a min-heap of (deadline, callback) pairs with a
// single pending work item scheduled at a time, re-armed whenever the
// earliest deadline changes. It is the clock underlying every RPC timeout
// in this module.
package timer

import (
	"container/heap"
	"sync"
	"time"
)

// entry is one scheduled callback.
type entry struct {
	deadline time.Time
	seq      uint64 // insertion order, used for FIFO within equal deadlines
	callback func()
	canceled bool
}

// entryHeap is a min-heap ordered by deadline, then by insertion order.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x interface{}) {
	*h = append(*h, x.(*entry))
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Timer schedules callbacks to run after a delay. A single background
// goroutine sleeps until the earliest pending deadline; firing that
// deadline runs every callback that shares it, in insertion order, then
// re-arms for the next earliest deadline, if any. Re-entrant scheduling
// from inside a firing callback is safe.
type Timer struct {
	mu       sync.Mutex
	heap     entryHeap
	nextSeq  uint64
	wake     chan struct{}
	stopped  bool
	stopOnce sync.Once
	done     chan struct{}
}

// New creates and starts a Timer. Call Stop to release its goroutine.
func New() *Timer {
	t := &Timer{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go t.loop()
	return t
}

// Cancel, returned by ExpiresFromNow, removes a not-yet-fired callback.
// Calling Cancel after the callback has already fired is a no-op.
type Cancel func()

// ExpiresFromNow arms callback to run after duration d elapses. It returns
// a Cancel that removes the callback if it has not fired yet.
func (t *Timer) ExpiresFromNow(d time.Duration, callback func()) Cancel {
	e := &entry{deadline: time.Now().Add(d), callback: callback}

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return func() {}
	}
	e.seq = t.nextSeq
	t.nextSeq++
	heap.Push(&t.heap, e)
	t.mu.Unlock()

	t.nudge()

	return func() {
		t.mu.Lock()
		e.canceled = true
		t.mu.Unlock()
	}
}

// Stop releases the Timer's background goroutine. Pending callbacks are
// dropped without running, matching engine shutdown: in-flight work is
// drained, not invoked.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.stopped = true
		t.mu.Unlock()
		close(t.done)
		t.nudge()
	})
}

func (t *Timer) nudge() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Timer) loop() {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		t.mu.Lock()
		if t.stopped {
			t.mu.Unlock()
			return
		}

		var wait time.Duration
		haveDeadline := t.heap.Len() > 0
		if haveDeadline {
			wait = time.Until(t.heap[0].deadline)
			if wait < 0 {
				wait = 0
			}
		}
		t.mu.Unlock()

		if !haveDeadline {
			select {
			case <-t.wake:
				continue
			case <-t.done:
				return
			}
		}

		timer.Reset(wait)
		select {
		case <-timer.C:
			t.fireDue()
		case <-t.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-t.done:
			timer.Stop()
			return
		}
	}
}

// fireDue pops and runs every entry sharing the earliest deadline.
func (t *Timer) fireDue() {
	t.mu.Lock()
	if t.heap.Len() == 0 {
		t.mu.Unlock()
		return
	}
	due := t.heap[0].deadline
	var toRun []*entry
	for t.heap.Len() > 0 && !t.heap[0].deadline.After(due) {
		e := heap.Pop(&t.heap).(*entry)
		if !e.canceled {
			toRun = append(toRun, e)
		}
	}
	t.mu.Unlock()

	for _, e := range toRun {
		e.callback()
	}
}
