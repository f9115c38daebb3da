// Package futex implements user-visible wait/wake addresses keyed by
// the physical page backing them, so that two processes sharing a
// mapping (or a process and the kernel) rendezvous on the same wire
// regardless of which virtual address either uses to name it.
package futex

import "sync"

import "limits"
import "mem"
import "wait"

var (
	tablock sync.Mutex
	table   = map[mem.Pa_t]*wait.Wire_t{}
)

// wireFor returns the wire for key, allocating one against
// limits.Syslimit.Futexes if none exists yet. ok is false when the
// table is full and key does not already have a wire.
func wireFor(key mem.Pa_t) (w *wait.Wire_t, ok bool) {
	tablock.Lock()
	defer tablock.Unlock()
	w, ok = table[key]
	if ok {
		return w, true
	}
	if !limits.Syslimit.Futexes.Take() {
		return nil, false
	}
	w = &wait.Wire_t{}
	table[key] = w
	return w, true
}

// reap drops the wire for key once nothing is parked on it, so the
// table does not grow without bound over the life of the kernel.
func reap(key mem.Pa_t, w *wait.Wire_t) {
	tablock.Lock()
	if w.Npending() == 0 {
		delete(table, key)
		limits.Syslimit.Futexes.Give()
	}
	tablock.Unlock()
}

// / Wait parks the calling goroutine on key's wire unless check
// / returns false. check is called with the futex table unlocked but
// / is expected to re-validate the condition under whatever lock
// / guards the futex word itself (e.g. the value at the user address
// / still equals the value the caller compared against before
// / deciding to block), closing the classic wait/wake race. Wait
// / returns false without parking if the system futex table is full.
func Wait(key mem.Pa_t, check func() bool) bool {
	w, ok := wireFor(key)
	if !ok {
		return false
	}
	if !check() {
		return true
	}
	w.Wait(0)
	reap(key, w)
	return true
}

// / Wake wakes up to n goroutines parked on key and reports how many
// / were actually woken. n <= 0 wakes every parked goroutine.
func Wake(key mem.Pa_t, n int) int {
	tablock.Lock()
	w, ok := table[key]
	tablock.Unlock()
	if !ok {
		return 0
	}
	var woke int
	if n <= 0 {
		woke = w.Npending()
		w.AriseAll()
	} else {
		woke = w.WakeN(n)
	}
	reap(key, w)
	return woke
}
