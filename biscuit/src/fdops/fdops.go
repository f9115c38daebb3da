// Package fdops defines the operation table every open file
// descriptor dispatches through, independent of what backs it
// (console, pipe, block device, socket). It intentionally depends on
// nothing but defs so that vm (which fdops.Fdops_i mappings reference
// for file-backed regions) can depend on fdops without a cycle.
package fdops

import "defs"

/// Uio_i abstracts a user or kernel buffer used for an I/O transfer.
/// vm.Userbuf_t, vm.Useriovec_t, and vm.Fakeubuf_t all satisfy it.
type Uio_i interface {
	Uioread(dst []uint8) (int, defs.Err_t)
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

/// Fdops_i is implemented via a pointer receiver by every kind of
/// open file descriptor's backing object.
type Fdops_i interface {
	Close() defs.Err_t
	Reopen() defs.Err_t
	Read(Uio_i) (int, defs.Err_t)
	Write(Uio_i) (int, defs.Err_t)
	// Fstat writes a stat structure describing the descriptor into dst.
	Fstat(dst []uint8) defs.Err_t
}
