package vm

import "runtime"
import "sync/atomic"
import "unsafe"

import "defs"
import "mem"

func pgbits4(va int) (uint, uint, uint, uint) {
	v := uint(va)
	return (v >> 39) & 0x1ff, (v >> 30) & 0x1ff, (v >> 21) & 0x1ff, (v >> 12) & 0x1ff
}

// pmapStep descends one page-table level at idx within tbl, allocating
// the next level's frame (with the given permission bits) if it is
// missing and perms is nonzero. perms == 0 means "lookup only": a
// missing entry is reported as ENOMEM rather than created, which
// Pmap_lookup relies on.
func pmapStep(tbl *mem.Pmap_t, idx uint, perms mem.Pa_t) (*mem.Pmap_t, defs.Err_t) {
	pte := &tbl[idx]
	if *pte&PTE_P == 0 {
		if perms == 0 {
			return nil, -defs.ENOMEM
		}
		_, p, ok := mem.Physmem.Pmap_new()
		if !ok {
			return nil, -defs.ENOMEM
		}
		*pte = p | perms | PTE_P
	}
	next := mem.Physmem.Dmap(*pte & PTE_ADDR)
	return (*mem.Pmap_t)(unsafe.Pointer(next)), 0
}

// pmap_walk returns the leaf PTE for va within pml4, creating
// intermediate page-table pages (with the given permission bits) if
// perms is nonzero and an intermediate entry is missing. perms == 0
// means "lookup only": a missing intermediate entry is reported as
// ENOMEM rather than created, which Pmap_lookup relies on.
func pmap_walk(pml4 *mem.Pmap_t, va int, perms mem.Pa_t) (*mem.Pa_t, defs.Err_t) {
	l4i, l3i, l2i, l1i := pgbits4(va)
	pdpt, err := pmapStep(pml4, l4i, perms)
	if err != 0 {
		return nil, err
	}
	pd, err := pmapStep(pdpt, l3i, perms)
	if err != 0 {
		return nil, err
	}
	pt, err := pmapStep(pd, l2i, perms)
	if err != 0 {
		return nil, err
	}
	return &pt[l1i], 0
}

// pmap_walk_huge returns the page-directory entry for va within pml4
// without ever descending into a 4 KiB page table: the PD slot itself
// is the leaf, set with PTE_PS by the caller to cover a 2 MiB range.
// va must be 2 MiB aligned; callers are expected to have checked this
// already (MapPhys does, against the mapping's requested length).
func pmap_walk_huge(pml4 *mem.Pmap_t, va int, perms mem.Pa_t) (*mem.Pa_t, defs.Err_t) {
	l4i, l3i, l2i, _ := pgbits4(va)
	pdpt, err := pmapStep(pml4, l4i, perms)
	if err != 0 {
		return nil, err
	}
	pd, err := pmapStep(pdpt, l3i, perms)
	if err != 0 {
		return nil, err
	}
	return &pd[l2i], 0
}

// / Ptefor returns the page table entry backing va within pmap,
// / creating intermediate page-table pages as needed.
func (v *Vminfo_t) Ptefor(pmap *mem.Pmap_t, va uintptr) (*mem.Pa_t, bool) {
	pte, err := pmap_walk(pmap, int(va), PTE_U|PTE_W)
	if err != 0 {
		return nil, false
	}
	return pte, true
}

// / Pmap_lookup returns the leaf PTE for va, or nil if any level of
// / the page table is not already present.
func Pmap_lookup(pml4 *mem.Pmap_t, va int) *mem.Pa_t {
	pte, err := pmap_walk(pml4, va, 0)
	if err != 0 {
		return nil
	}
	return pte
}

// tlb_shootdown invalidates pgcount pages starting at startva on
// every CPU whose bit is set in *tlbp. runtime.IRQwake is the patched
// runtime's cross-CPU interrupt primitive (an external collaborator,
// not redefined here); the target CPU's own trap handler is assumed
// to clear its bit in *tlbp once it has flushed, so this just has to
// wake each one and wait for the mask to drain.
func tlb_shootdown(p_pmap mem.Pa_t, tlbp *uint64, startva uintptr, pgcount int) {
	mask := atomic.LoadUint64(tlbp)
	if mask == 0 {
		return
	}
	for cpu := 0; cpu < 64; cpu++ {
		if mask&(uint64(1)<<uint(cpu)) != 0 {
			runtime.IRQwake(cpu)
		}
	}
	for atomic.LoadUint64(tlbp) != 0 {
		runtime.Gosched()
	}
}

// / Uvmfree_inner releases every user-half page-table frame and drops
// / a reference (or calls the mapping's unpin callback) for every
// / resident page the mapping tree still describes.
func Uvmfree_inner(pmap *mem.Pmap_t, p_pmap mem.Pa_t, vmr *Vmregion_t) {
	mapwalk(vmr.maps, func(v *Vminfo_t) {
		if v.Mtype == VMMIO {
			// unmanaged: the frames belong to the device, not
			// Physmem, and a 2 MiB mapping's PD entry is a leaf
			// pmap_walk/Pmap_lookup don't know how to descend past.
			return
		}
		for pgn := v.Pgn; pgn < v.end(); pgn++ {
			pte := Pmap_lookup(pmap, int(pgn<<PGSHIFT))
			if pte == nil || *pte&PTE_P == 0 {
				continue
			}
			p := *pte & PTE_ADDR
			if v.Mtype == VFILE && v.file.mfile != nil && v.file.mfile.unpin != nil {
				v.file.mfile.unpin.Unpin(p)
			} else if v.Mtype == VCALLBACK && v.cb != nil && v.cb.Unmap != nil {
				v.cb.Unmap(v, pgn<<PGSHIFT, p)
			} else {
				mem.Physmem.Refdown(p)
			}
			*pte = 0
		}
	})
	freeuserpts(pmap)
}

// freeuserpts releases the page-directory-pointer, page-directory,
// and page-table frames covering the user half of the address space
// (PML4 entries 0-255; entries 256-511 are the kernel half, shared
// and owned by the bootstrap pmap, and are left untouched).
func freeuserpts(pml4 *mem.Pmap_t) {
	for i := 0; i < 256; i++ {
		e := pml4[i]
		if e&PTE_P == 0 {
			continue
		}
		pdpt := (*mem.Pmap_t)(unsafe.Pointer(mem.Physmem.Dmap(e & PTE_ADDR)))
		for j := range pdpt {
			e2 := pdpt[j]
			if e2&PTE_P == 0 || e2&PTE_PS != 0 {
				continue
			}
			pd := (*mem.Pmap_t)(unsafe.Pointer(mem.Physmem.Dmap(e2 & PTE_ADDR)))
			for k := range pd {
				e3 := pd[k]
				if e3&PTE_P == 0 || e3&PTE_PS != 0 {
					continue
				}
				mem.Physmem.Dec_pmap(e3 & PTE_ADDR)
			}
			mem.Physmem.Dec_pmap(e2 & PTE_ADDR)
		}
		mem.Physmem.Dec_pmap(e & PTE_ADDR)
		pml4[i] = 0
	}
}
