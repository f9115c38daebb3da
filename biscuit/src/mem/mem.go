package mem

import "runtime"
import "sync"
import "sync/atomic"
import "unsafe"
import "util"
import "fmt"

import "oommsg"

/// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

/// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

/// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^(PGOFFSET)

/// PTE_P marks a page as present.
const PTE_P Pa_t = 1 << 0

/// PTE_W marks a page writable.
const PTE_W Pa_t = 1 << 1

/// PTE_U marks a page user-accessible.
const PTE_U Pa_t = 1 << 2

/// PTE_G marks a global page.
const PTE_G Pa_t = 1 << 8

/// PTE_PCD disables caching for the page.
const PTE_PCD Pa_t = 1 << 4

/// PTE_PS indicates a large page.
const PTE_PS Pa_t = 1 << 7

/// PTE_ADDR extracts the address bits of a PTE.
const PTE_ADDR Pa_t = PGMASK

/// Pa_t represents a physical address.
type Pa_t uintptr

/// Bytepg_t is a byte addressed page.
type Bytepg_t [PGSIZE]uint8

/// Pg_t is a generic page of ints.
type Pg_t [512]int

/// Pmap_t is a page table page.
type Pmap_t [512]Pa_t

/// Unpin_i allows unpinning of physical pages.
type Unpin_i interface {
	Unpin(Pa_t)
}

/// Mmapinfo_t describes a mapping created by the runtime.
type Mmapinfo_t struct {
	Pg   *Pg_t
	Phys Pa_t
}

/// Page_i abstracts physical page allocation.
type Page_i interface {
	Refpg_new() (*Pg_t, Pa_t, bool)
	Refpg_new_nozero() (*Pg_t, Pa_t, bool)
	Refcnt(Pa_t) int
	Dmap(Pa_t) *Pg_t
	Refup(Pa_t)
	Refdown(Pa_t) bool
}

/// Pg2bytes converts a page of ints to a page of bytes.
func Pg2bytes(pg *Pg_t) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(pg))
}

/// Bytepg2pg converts a byte page back to a Pg_t.
func Bytepg2pg(pg *Bytepg_t) *Pg_t {
	return (*Pg_t)(unsafe.Pointer(pg))
}

func pg2pmap(pg *Pg_t) *Pmap_t {
	return (*Pmap_t)(unsafe.Pointer(pg))
}

func _pg2pgn(p_pg Pa_t) uint32 {
	return uint32(p_pg >> PGSHIFT)
}

/// Refaddr returns the refcount pointer and index for the given page.
func (phys *Physmem_t) Refaddr(p_pg Pa_t) (*int32, uint32) {
	idx := _pg2pgn(p_pg) - phys.startn
	return &phys.Pgs[idx].Refcnt, idx
}

/// Tlbaddr returns the TLB mask address for a page.
func (phys *Physmem_t) Tlbaddr(p_pg Pa_t) *uint64 {
	idx := _pg2pgn(p_pg) - phys.startn
	return &phys.Pgs[idx].Cpumask
}

/// Physpg_t describes a single physical page.
type Physpg_t struct {
	// -1 once the frame has exactly one owner (the overwhelmingly
	// common case, carrying no atomic traffic beyond a CAS at
	// unmap); a count of 2 or more once Refup has made the frame
	// shared (COW or an explicit shared mapping). Parallels the bit
	// for this frame in Physmem_t.bitmap.
	Refcnt int32
	// Bitmask where bit n is set if CPU w/logical ID n loaded this
	// page (which is a pmap) into its cr3 register.
	Cpumask uint64
}

const bitsPerWord = 64

/// Physmem_t is the kernel's physical frame allocator: one bit per
/// 4 KiB frame in bitmap (set means allocated), with Pgs the parallel
/// refcount/TLB-residency table. Every scan for free frames starts
/// from position 0 — there is no freelist and no saved cursor between
/// calls, trading scan cost for the simplicity of never having to
/// reconcile a cursor against concurrent frees.
type Physmem_t struct {
	sync.Mutex
	Pgs      []Physpg_t
	bitmap   []uint64
	startn   uint32
	Dmapinit bool
}

func (phys *Physmem_t) testbit(i uint32) bool {
	return phys.bitmap[i/bitsPerWord]&(uint64(1)<<(i%bitsPerWord)) != 0
}

func (phys *Physmem_t) setbit(i uint32) {
	phys.bitmap[i/bitsPerWord] |= uint64(1) << (i % bitsPerWord)
}

func (phys *Physmem_t) clearbit(i uint32) {
	phys.bitmap[i/bitsPerWord] &^= uint64(1) << (i % bitsPerWord)
}

// _scanrange scans the bitmap from index 0 for n consecutive clear
// bits. Caller holds phys.Mutex.
func (phys *Physmem_t) _scanrange(n int) (uint32, bool) {
	run := 0
	var start uint32
	total := uint32(len(phys.Pgs))
	for i := uint32(0); i < total; i++ {
		if phys.testbit(i) {
			run = 0
			continue
		}
		if run == 0 {
			start = i
		}
		run++
		if run == n {
			return start, true
		}
	}
	return 0, false
}

func (phys *Physmem_t) _markused(start uint32, n int) {
	for j := start; j < start+uint32(n); j++ {
		phys.setbit(j)
		phys.Pgs[j].Refcnt = -1
		phys.Pgs[j].Cpumask = 0
	}
}

// _allocn reserves n contiguous frames, asking oommsg to relieve
// pressure and retrying once before reporting failure.
func (phys *Physmem_t) _allocn(n int) (Pa_t, bool) {
	if !phys.Dmapinit {
		panic("dmap not initted")
	}
	phys.Lock()
	start, ok := phys._scanrange(n)
	if ok {
		phys._markused(start, n)
	}
	phys.Unlock()
	if !ok && oommsg.Relieve(n*PGSIZE) {
		phys.Lock()
		start, ok = phys._scanrange(n)
		if ok {
			phys._markused(start, n)
		}
		phys.Unlock()
	}
	if !ok {
		return 0, false
	}
	return Pa_t(start+phys.startn) << PGSHIFT, true
}

/// Phys scans the bitmap for n consecutive clear bits, zeroes the
/// backing frames, and returns the physical base address of the run.
func (phys *Physmem_t) Phys(n int) (Pa_t, bool) {
	p, ok := phys._allocn(n)
	if !ok {
		return 0, false
	}
	buf := Dmaplen(p, n*PGSIZE)
	for i := range buf {
		buf[i] = 0
	}
	return p, true
}

/// Alloc is Phys, but returns the kernel-virtual (direct-mapped) base
/// address of the allocated run.
func (phys *Physmem_t) Alloc(n int) (*Pg_t, bool) {
	p, ok := phys.Phys(n)
	if !ok {
		return nil, false
	}
	return phys.Dmap(p), true
}

/// Stack is Alloc, but returns a pointer just past the top of the
/// allocated run for callers growing a stack downward from it.
func (phys *Physmem_t) Stack(n int) (uintptr, bool) {
	pg, ok := phys.Alloc(n)
	if !ok {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(pg))
	return base + uintptr(n*PGSIZE), true
}

/// Free clears the bits of the n frames starting at kernel-virtual addr.
func (phys *Physmem_t) Free(addr uintptr, n int) {
	p := phys.Dmap_v2p((*Pg_t)(unsafe.Pointer(addr)))
	phys.FreeRange(p, n)
}

/// FreeRange clears the bits of the n frames starting at physical address p.
func (phys *Physmem_t) FreeRange(p Pa_t, n int) {
	idx := _pg2pgn(p) - phys.startn
	phys.Lock()
	for j := idx; j < idx+uint32(n); j++ {
		phys.clearbit(j)
		phys.Pgs[j].Refcnt = 0
		phys.Pgs[j].Cpumask = 0
	}
	phys.Unlock()
}

func (phys *Physmem_t) _refpg_new() (*Pg_t, Pa_t, bool) {
	p, ok := phys._allocn(1)
	if !ok {
		return nil, 0, false
	}
	return phys.Dmap(p), p, true
}

/// Refcnt returns the current reference count of a page. A frame not
/// (yet) shared reports 1.
func (phys *Physmem_t) Refcnt(p_pg Pa_t) int {
	ref, _ := phys.Refaddr(p_pg)
	c := atomic.LoadInt32(ref)
	if c == -1 {
		return 1
	}
	return int(c)
}

/// Refup increments the reference count of a page, marking it shared
/// on the first call.
func (phys *Physmem_t) Refup(p_pg Pa_t) {
	ref, _ := phys.Refaddr(p_pg)
	for {
		old := atomic.LoadInt32(ref)
		var next int32
		switch {
		case old == -1:
			next = 2
		case old >= 1:
			next = old + 1
		default:
			panic("refup on free frame")
		}
		if atomic.CompareAndSwapInt32(ref, old, next) {
			return
		}
	}
}

/// Refdown decrements the reference count of a page. It returns true
/// when the frame had exactly one owner left and has been returned
/// to the free pool.
func (phys *Physmem_t) Refdown(p_pg Pa_t) bool {
	return phys._phys_put(p_pg)
}

func (phys *Physmem_t) _phys_put(p_pg Pa_t) bool {
	ref, idx := phys.Refaddr(p_pg)
	for {
		old := atomic.LoadInt32(ref)
		switch {
		case old == -1:
			if atomic.CompareAndSwapInt32(ref, old, 0) {
				phys.Lock()
				phys.clearbit(idx)
				phys.Pgs[idx].Cpumask = 0
				phys.Unlock()
				return true
			}
		case old == 2:
			if atomic.CompareAndSwapInt32(ref, old, -1) {
				return false
			}
		case old > 2:
			if atomic.CompareAndSwapInt32(ref, old, old-1) {
				return false
			}
		default:
			panic("refdown on free frame")
		}
	}
}

/// Zeropg is a global zero-filled page used for allocations.
var Zeropg *Pg_t

/// Refpg_new allocates a zeroed page and returns its mapping and address.
/// The returned page's refcount is not incremented.
func (phys *Physmem_t) Refpg_new() (*Pg_t, Pa_t, bool) {
	if !phys.Dmapinit {
		panic("refpg_new")
	}
	pg, p_pg, ok := phys._refpg_new()
	if !ok {
		return nil, 0, false
	}
	*pg = *Zeropg
	return pg, p_pg, true
}

/// Refpg_new_nozero allocates an uninitialised page.
func (phys *Physmem_t) Refpg_new_nozero() (*Pg_t, Pa_t, bool) {
	pg, p_pg, ok := phys._refpg_new()
	if !ok {
		return nil, 0, false
	}
	return pg, p_pg, true
}

/// Pmap_new allocates a new page map.
func (phys *Physmem_t) Pmap_new() (*Pmap_t, Pa_t, bool) {
	a, b, ok := phys.Refpg_new()
	return pg2pmap(a), b, ok
}

// decrease ref count of pml4, freeing it if no CPUs have it loaded into cr3.
/// Dec_pmap decreases the reference count of a pmap and frees it if unused.
func (phys *Physmem_t) Dec_pmap(p_pmap Pa_t) {
	phys._phys_put(p_pmap)
}

// returns a page-aligned virtual address for the given physical address using
// the direct mapping
/// Dmap converts a physical address into a direct-mapped virtual address.
func (phys *Physmem_t) Dmap(p Pa_t) *Pg_t {
	pa := uintptr(p)
	if pa >= 1<<39 {
		panic("direct map not large enough")
	}

	v := Vdirect
	v += uintptr(util.Rounddown(int(pa), PGSIZE))
	return (*Pg_t)(unsafe.Pointer(v))
}

/// Dmap_v2p converts a direct-mapped virtual address back to a physical address.
func (phys *Physmem_t) Dmap_v2p(v *Pg_t) Pa_t {
	va := (uintptr)(unsafe.Pointer(v))
	if va <= 1<<39 {
		panic("address isn't in the direct map")
	}

	pa := va - Vdirect
	return Pa_t(pa)
}

// returns a byte aligned virtual address for the physical address as slice of
// uint8s
/// Dmap8 returns a byte slice mapped to the given physical address.
func (phys *Physmem_t) Dmap8(p Pa_t) []uint8 {
	pg := phys.Dmap(p)
	off := p & PGOFFSET
	bpg := Pg2bytes(pg)
	return bpg[off:]
}

/// Pgcount reports the number of free and used frames.
func (phys *Physmem_t) Pgcount() (free int, used int) {
	phys.Lock()
	defer phys.Unlock()
	for i := range phys.Pgs {
		if phys.testbit(uint32(i)) {
			used++
		} else {
			free++
		}
	}
	return
}

/// Physmem is the global physical memory allocator instance.
var Physmem = &Physmem_t{}

/// NewPhysmem allocates the bitmap and refcount table for npages
/// physical frames, all initially free (every bitmap bit clear, every
/// Physpg_t at its zero value). Callers that aren't populating frames
/// from runtime.Get_phys() still need phys.Dmapinit set before
/// Alloc/Refpg_new will accept allocations.
func NewPhysmem(npages int) *Physmem_t {
	return &Physmem_t{
		Pgs:    make([]Physpg_t, npages),
		bitmap: make([]uint64, (npages+bitsPerWord-1)/bitsPerWord),
	}
}

/// Phys_init initializes the global physical memory allocator,
/// reserving frames one at a time from runtime.Get_phys() (the
/// patched runtime's boot-time frame source). Every discovered frame
/// is left clear (free) in the allocator's bitmap instead of being
/// threaded onto a free list; every frame in the covered range that
/// Get_phys() never hands back has its bit set, so the scan never
/// returns it.
func Phys_init() *Physmem_t {
	respgs := 1 << 16
	*Physmem = *NewPhysmem(respgs)
	phys := Physmem
	for i := range phys.Pgs {
		phys.Pgs[i].Refcnt = -10
	}

	first := Pa_t(runtime.Get_phys())
	phys.startn = _pg2pgn(first)
	phys.Pgs[0].Refcnt = 0

	got := 1
	for i := 0; i < respgs-1; i++ {
		p_pg := Pa_t(runtime.Get_phys())
		pgn := _pg2pgn(p_pg)
		idx := pgn - phys.startn
		// Get_phys() may skip regions.
		if int(idx) >= len(phys.Pgs) {
			if respgs-i > int(float64(respgs)*0.01) {
				panic("got many bad pages")
			}
			break
		}
		phys.Pgs[idx].Refcnt = 0
		got++
	}
	for i := range phys.Pgs {
		if phys.Pgs[i].Refcnt == -10 {
			phys.setbit(uint32(i))
		}
	}
	fmt.Printf("Reserved %v pages (%vMB)\n", got, got>>8)
	return phys
}
