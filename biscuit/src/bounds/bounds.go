// Package bounds enumerates kernel call sites that touch user memory
// and gives each a static worst-case heap-allocation bound, so that
// res.Resadd_noblock can reject a transfer before it starts rather
// than fail an allocation partway through a page-fault-driven copy.
package bounds

/// Bid_t identifies one call site tracked for heap-cost accounting.
type Bid_t int

const (
	B_ASPACE_T_K2USER_INNER Bid_t = iota
	B_ASPACE_T_USER2K_INNER
	B_USERBUF_T__TX
	B_USERIOVEC_T_IOV_INIT
	B_USERIOVEC_T__TX
	B_HOLDER_T_REQUEST_IO
	B_SIG_T_DISPATCH
	_B_MAX
)

// cost holds the worst-case heap bytes one iteration of the named call
// site allocates. Values are conservative round numbers, not profiled
// measurements -- the point is a hard ceiling, not a tight one.
var cost = [_B_MAX]int{
	B_ASPACE_T_K2USER_INNER: 256,
	B_ASPACE_T_USER2K_INNER: 256,
	B_USERBUF_T__TX:         256,
	B_USERIOVEC_T_IOV_INIT:  512,
	B_USERIOVEC_T__TX:       256,
	B_HOLDER_T_REQUEST_IO:   512,
	B_SIG_T_DISPATCH:        512,
}

/// Bounds returns the static heap-cost bound for the given call site.
func Bounds(b Bid_t) int {
	return cost[b]
}
