package oommsg

import "sync/atomic"

/// OomCh is notified when the system runs out of memory.
var OomCh chan Oommsg_t = make(chan Oommsg_t)

/// Oommsg_t is sent on OomCh when memory is exhausted.
type Oommsg_t struct {
	Need   int
	Resume chan bool
}

// listening reports whether some reclaim daemon has ever read from
// OomCh; before one does, sending would block forever.
var listening int32

/// SetListening marks that a reclaim daemon is now servicing OomCh.
func SetListening() {
	atomic.StoreInt32(&listening, 1)
}

/// Relieve asks a reclaim daemon (if any is running) to free at least
/// need bytes, and blocks until it reports back. It returns false
/// immediately, with no message sent, if nothing is listening yet.
func Relieve(need int) bool {
	if atomic.LoadInt32(&listening) == 0 {
		return false
	}
	resume := make(chan bool)
	OomCh <- Oommsg_t{Need: need, Resume: resume}
	return <-resume
}
