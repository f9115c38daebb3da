// Package wait provides the blocking/wake-up primitives used
// kernel-wide: a wire carries correlated wake events to whichever
// waiters asked for them, a queue is a blocking FIFO work list for a
// dedicated worker goroutine, and a trigger is a one-shot completion
// flag that releases every waiter once fired.
package wait

import "sync"

// / Wire_t is a FIFO of parked waiters. Each waiter registers with an
// / event id; Arise wakes every waiter currently registered for that
// / id, in the order they called Wait. A waiter that calls Wait after
// / the matching Arise has already run stays parked until a later
// / Arise for the same id — wires do not latch past events, callers
// / needing that must check their own condition under their own lock
// / before parking (see futex.Wait).
type Wire_t struct {
	mu      sync.Mutex
	waiters []*waiter_t
}

type waiter_t struct {
	event int
	ch    chan struct{}
}

// / Wait blocks until Arise(event) is called.
func (w *Wire_t) Wait(event int) {
	wt := &waiter_t{event: event, ch: make(chan struct{})}
	w.mu.Lock()
	w.waiters = append(w.waiters, wt)
	w.mu.Unlock()
	<-wt.ch
}

// / Arise wakes every waiter registered for event.
func (w *Wire_t) Arise(event int) {
	w.mu.Lock()
	remaining := w.waiters[:0]
	for _, wt := range w.waiters {
		if wt.event == event {
			close(wt.ch)
		} else {
			remaining = append(remaining, wt)
		}
	}
	w.waiters = remaining
	w.mu.Unlock()
}

// / AriseAll wakes every waiter on the wire, regardless of event id.
func (w *Wire_t) AriseAll() {
	w.mu.Lock()
	for _, wt := range w.waiters {
		close(wt.ch)
	}
	w.waiters = nil
	w.mu.Unlock()
}

// / WakeN wakes up to the first n waiters, in FIFO order, regardless
// / of their event id, and reports how many were woken.
func (w *Wire_t) WakeN(n int) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n > len(w.waiters) {
		n = len(w.waiters)
	}
	for i := 0; i < n; i++ {
		close(w.waiters[i].ch)
	}
	w.waiters = w.waiters[n:]
	return n
}

// / Npending reports the number of parked waiters, for tests and
// / diagnostics.
func (w *Wire_t) Npending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.waiters)
}
