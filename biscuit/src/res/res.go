// Package res gates kernel paths that are about to touch user memory
// (and thus may fault and allocate) behind a headroom check, so that
// a heap allocation never fails in a place with no recovery path.
package res

import "sync/atomic"

// heapBudget is the amount of heap headroom, in bytes, the kernel
// keeps in reserve for user-copy paths. Boot code calls SetBudget
// once the real heap size is known; the 64 MiB default below covers
// early boot allocations.
var heapBudget int64 = 64 << 20

var outstanding int64

/// Resadd_noblock checks, without blocking the caller, whether n more
/// bytes of heap headroom fit within the configured budget. The probe
/// is undone before it returns, so nothing stays reserved either way.
/// It returns false if n bytes would exceed the budget -- the caller
/// must fail the operation with ENOHEAP rather than retry.
func Resadd_noblock(n int) bool {
	if n < 0 {
		panic("negative reservation")
	}
	nn := int64(n)
	if atomic.AddInt64(&outstanding, nn) > atomic.LoadInt64(&heapBudget) {
		atomic.AddInt64(&outstanding, -nn)
		return false
	}
	atomic.AddInt64(&outstanding, -nn)
	return true
}

/// SetBudget reconfigures the heap headroom budget.
func SetBudget(n int64) {
	atomic.StoreInt64(&heapBudget, n)
}
