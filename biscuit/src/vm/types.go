package vm

import "defs"
import "fdops"
import "mem"

// Page-table bit layout. Most hardware-defined bits live in mem (shared with
// the PMM's pmap walker); PTE_A/PTE_D are defined here, and two of the
// software-available bits (9 and 10) encode copy-on-write state private to
// this package.
const (
	PGSHIFT = mem.PGSHIFT
	PGSIZE  = mem.PGSIZE
)

const PGOFFSET = mem.PGOFFSET

const (
	PTE_P    = mem.PTE_P
	PTE_W    = mem.PTE_W
	PTE_U    = mem.PTE_U
	PTE_G    = mem.PTE_G
	PTE_PCD  = mem.PTE_PCD
	PTE_PS   = mem.PTE_PS
	PTE_ADDR = mem.PTE_ADDR

	PTE_A = mem.Pa_t(1) << 5
	PTE_D = mem.Pa_t(1) << 6

	// PTE_COW marks a page installed read-only so the next write
	// faults into the copy-on-write path.
	PTE_COW = mem.Pa_t(1) << 9
	// PTE_WASCOW marks a page that a write fault has already made
	// writable and private to this address space (Sys_pgfault uses it
	// to recognise a write fault another thread already resolved).
	PTE_WASCOW = mem.Pa_t(1) << 10
)

/// mtype_t distinguishes the kinds of mapping a Vminfo_t describes.
type mtype_t uint

const (
	// VANON is a private anonymous mapping: demand-zero, copy-on-write
	// on fork.
	VANON mtype_t = iota
	// VFILE is a file-backed mapping, private or shared depending on
	// file.shared.
	VFILE
	// VSANON is a shared anonymous mapping (always eagerly populated;
	// never copy-on-write, since every sharer must observe writes).
	VSANON
	// VCALLBACK is a mapping whose pages are produced and released by
	// caller-supplied Callbacks_t rather than the zero page, a file's
	// Mmapper_i, or Physmem's own refcount table, so a kernel
	// subsystem's pages are reachable through a normal page fault
	// without going through fdops.Fdops_i. Map creates one when given
	// non-nil Callbacks_t; no caller in this tree does so.
	VCALLBACK
	// VMMIO is an unmanaged mapping installed by MapPhys: a fixed
	// virtual range backed by a fixed physical range supplied by the
	// caller (a device's BAR, say), never faulted on lazily and never
	// refcounted against Physmem since the frames are not Physmem's to
	// account for.
	VMMIO
)

/// MapFlags_t selects the behavior of Map and MapPhys, mirroring the
/// DEMAND/LARGE/OVERRIDE vocabulary mmap(2) callers expect.
type MapFlags_t uint

const (
	// MAP_DEMAND defers populating the mapping until the first page
	// fault touches it. Map always behaves this way for VANON/VCALLBACK
	// mappings; the flag exists so callers can request it explicitly,
	// and Vminfo_t.Flags records it.
	MAP_DEMAND MapFlags_t = 1 << iota
	// MAP_LARGE backs the mapping with 2 MiB pages instead of 4 KiB
	// ones. Only MapPhys honors it today: anonymous/callback mappings
	// would need a contiguous-frame allocator the PMM does not provide.
	MAP_LARGE
	// MAP_OVERRIDE bypasses the hole allocator and installs the
	// mapping at the caller-specified virtual address outright. Only
	// MapPhys accepts it; Map returns EINVAL if asked for it, since a
	// managed mapping always needs the allocator to pick or validate a
	// free range.
	MAP_OVERRIDE
	// MAP_SHARED marks the mapping as shared. Vmadd_shareanon and
	// Vmadd_sharefile set it; Map copies it from the caller's flags.
	// Sys_pgfault reads it only for VCALLBACK mappings, where it makes
	// every sharer map the callback's own page instead of a private
	// copy.
	MAP_SHARED
	// MAP_WRITE grants PTE_W to a MapPhys mapping. Map ignores it and
	// takes write permission from its perms argument.
	MAP_WRITE
)

/// Callbacks_t lets a kernel subsystem back a mapping with pages it
/// produces and reclaims itself, the generic counterpart to
/// Mmapper_i/mem.Unpin_i for mappings that have no backing fdops.Fdops_i
/// at all (MapIn is handed the faulting Vminfo_t and address and must
/// return a Physmem-tracked page with its refcount already accounted
/// for the mapping; Unmap is called once per resident page when the
/// mapping is torn down instead of Physmem.Refdown).
type Callbacks_t struct {
	MapIn func(vmi *Vminfo_t, faultaddr uintptr) (mem.Pa_t, defs.Err_t)
	Unmap func(vmi *Vminfo_t, va uintptr, p_pg mem.Pa_t)
}

/// Mfile_t is the file-mapping-specific state a VFILE Vminfo_t
/// carries: the backing file, the unpin callback for shared mappings
/// that need eviction notification, and a mapping refcount so the
/// last unmapper can drop the file's hold on its pages.
type Mfile_t struct {
	mfops    fdops.Fdops_i
	unpin    mem.Unpin_i
	mapcount int
}

/// Mmapper_i is implemented by file objects that can hand back
/// physical pages for mmap, keeping fdops.Fdops_i itself free of any
/// vm-specific method (fdops must not import vm: vm already imports
/// fdops for Vmadd_file's plain I/O fops parameter).
type Mmapper_i interface {
	Mmapi(offset int, pglen int, inc bool) ([]mem.Mmapinfo_t, int)
}

/// Vminfo_t describes one live mapping: its page range, type, and
/// permissions. It is a node of the mapping tree; Vmregion_t links
/// nodes by base address.
type Vminfo_t struct {
	Mtype mtype_t
	Pgn   uintptr
	Pglen int
	Perms uint
	file  struct {
		foff   int
		mfile  *Mfile_t
		shared bool
	}

	// Flags records how Map/MapPhys or a Vmadd_* constructor built this
	// mapping; Sys_pgfault consults its MAP_SHARED bit for VCALLBACK
	// mappings.
	Flags MapFlags_t
	// cb is non-nil only for VCALLBACK mappings.
	cb *Callbacks_t
	// phys is the fixed physical base a VMMIO mapping was installed
	// against; meaningless for every other Mtype.
	phys mem.Pa_t

	left, right *Vminfo_t
}

func (v *Vminfo_t) end() uintptr {
	return v.Pgn + uintptr(v.Pglen)
}

// / Filepage fetches the physical page backing faultaddr within a
// / VFILE mapping, going through the file's Mmapper_i rather than
// / fdops.Fdops_i's plain byte-stream Read/Write, so block-cache pages
// / can be shared directly into the address space instead of copied.
func (v *Vminfo_t) Filepage(faultaddr uintptr) (*mem.Pg_t, mem.Pa_t, defs.Err_t) {
	mmapr, ok := v.file.mfile.mfops.(Mmapper_i)
	if !ok {
		panic("file object does not support mmap")
	}
	pgn := faultaddr >> PGSHIFT
	idx := int(pgn - v.Pgn)
	off := v.file.foff + idx*PGSIZE
	infos, err := mmapr.Mmapi(off, 1, true)
	if err != 0 {
		return nil, 0, defs.Err_t(err)
	}
	info := infos[0]
	return info.Pg, info.Phys, 0
}

// / Callbackpage fetches the physical page backing faultaddr within a
// / VCALLBACK mapping by invoking cb.MapIn, the generic counterpart to
// / Filepage for mappings with no fdops.Fdops_i behind them.
func (v *Vminfo_t) Callbackpage(faultaddr uintptr) (mem.Pa_t, defs.Err_t) {
	return v.cb.MapIn(v, faultaddr)
}
