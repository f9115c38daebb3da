package vm

import "runtime"
import "sync"
import "sync/atomic"
import "time"

import "bounds"
import "defs"
import "fdops"
import "mem"
import "res"
import "ustr"

import "util"

// / AddressSpace_t represents a process address space. The mutex protects
// / modifications to Vmregion, Pmap, and P_pmap.
type AddressSpace_t struct {
	// lock for vmregion, pmpages, pmap, and p_pmap
	sync.Mutex

	Vmregion Vmregion_t

	// pmap pages
	Pmap   *mem.Pmap_t
	P_pmap mem.Pa_t

	pgfltaken bool
}

// / Lock_pmap acquires the address space mutex and marks that a page
// / fault is being handled.
func (as *AddressSpace_t) Lock_pmap() {
	// useful for finding deadlock bugs with one cpu
	//if p.pgfltaken {
	//	panic("double lock")
	//}
	as.Lock()
	as.pgfltaken = true
}

// / Unlock_pmap releases the address space mutex after page table
// / manipulation is complete.
func (as *AddressSpace_t) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

// / Lockassert_pmap panics if the address space mutex is not held.
func (as *AddressSpace_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("pgfl lock must be held")
	}
}

// / Userdmap8_inner returns a slice mapping of the user address at va.
// / When k2u is true the memory will be prepared for a kernel write.
// / It returns the mapped slice or an error code.
func (as *AddressSpace_t) Userdmap8_inner(va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lockassert_pmap()

	voff := va & int(PGOFFSET)
	uva := uintptr(va)
	vmi, ok := as.Vmregion.Lookup(uva)
	if !ok {
		return nil, -defs.EFAULT
	}
	pte, ok := vmi.Ptefor(as.Pmap, uva)
	if !ok {
		return nil, -defs.ENOMEM
	}
	ecode := uintptr(PTE_U)
	needfault := true
	isp := *pte&PTE_P != 0
	if k2u {
		ecode |= uintptr(PTE_W)
		// XXX how to distinguish between user asking kernel to write
		// to read-only page and kernel writing a page mapped read-only
		// to user? (exec args)

		//isw := *pte & PTE_W != 0
		//if isp && isw {
		iscow := *pte&PTE_COW != 0
		if isp && !iscow {
			needfault = false
		}
	} else {
		if isp {
			needfault = false
		}
	}

	if needfault {
		if err := Sys_pgfault(as, vmi, uva, ecode); err != 0 {
			return nil, err
		}
	}

	pg := mem.Physmem.Dmap(*pte & PTE_ADDR)
	bpg := mem.Pg2bytes(pg)
	return bpg[voff:], 0
}

// _userdmap8 and userdmap8r functions must only be used if concurrent
// modifications to the address space is impossible.
func (as *AddressSpace_t) _userdmap8(va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lock_pmap()
	ret, err := as.Userdmap8_inner(va, k2u)
	as.Unlock_pmap()
	return ret, err
}

// / Userdmap8r maps the user address for reading and returns the
// / resulting slice or an error.
func (as *AddressSpace_t) Userdmap8r(va int) ([]uint8, defs.Err_t) {
	return as._userdmap8(va, false)
}

func (as *AddressSpace_t) usermapped(va, n int) bool {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	_, ok := as.Vmregion.Lookup(uintptr(va))
	return ok
}

// / Userreadn reads n bytes from the user address va and returns the
// / value and any error encountered.
func (as *AddressSpace_t) Userreadn(va, n int) (int, defs.Err_t) {
	as.Lock_pmap()
	a, b := as.userreadn_inner(va, n)
	as.Unlock_pmap()
	return a, b
}

func (as *AddressSpace_t) userreadn_inner(va, n int) (int, defs.Err_t) {
	as.Lockassert_pmap()
	if n > 8 {
		panic("large n")
	}
	var ret int
	var src []uint8
	var err defs.Err_t
	for i := 0; i < n; i += len(src) {
		src, err = as.Userdmap8_inner(va+i, false)
		if err != 0 {
			return 0, err
		}
		l := n - i
		if len(src) < l {
			l = len(src)
		}
		v := util.Readn(src, l, 0)
		ret |= v << (8 * uint(i))
	}
	return ret, 0
}

// / Userwriten writes n bytes of val to the user address va. It
// / returns an error code if the copy fails.
func (as *AddressSpace_t) Userwriten(va, n, val int) defs.Err_t {
	if n > 8 {
		panic("large n")
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	var dst []uint8
	for i := 0; i < n; i += len(dst) {
		v := val >> (8 * uint(i))
		t, err := as.Userdmap8_inner(va+i, true)
		dst = t
		if err != 0 {
			return err
		}
		util.Writen(dst, n-i, 0, v)
	}
	return 0
}

// / Userstr copies a NUL terminated string from user space up to
// / lenmax bytes. It returns the copied string and an error code.
func (as *AddressSpace_t) Userstr(uva int, lenmax int) (ustr.Ustr, defs.Err_t) {
	if lenmax < 0 {
		return nil, 0
	}
	as.Lock_pmap()
	//defer p.Vm.Unlock_pmap()
	i := 0
	s := ustr.MkUstr()
	for {
		str, err := as.Userdmap8_inner(uva+i, false)
		if err != 0 {
			as.Unlock_pmap()
			return s, err
		}
		for j, c := range str {
			if c == 0 {
				s = append(s, str[:j]...)
				// s = s + string(str[:j])
				as.Unlock_pmap()
				return s, 0
			}
		}
		s = append(s, str...)
		// s = s + string(str)
		i += len(str)
		if len(s) >= lenmax {
			as.Unlock_pmap()
			return nil, -defs.ENAMETOOLONG
		}
	}
}

// / Usertimespec reads a timespec structure (seconds, then
// / nanoseconds) from user memory at va
// / and returns both the duration and time value.
func (as *AddressSpace_t) Usertimespec(va int) (time.Duration, time.Time, defs.Err_t) {
	var zt time.Time
	secs, err := as.Userreadn(va, 8)
	if err != 0 {
		return 0, zt, err
	}
	nsecs, err := as.Userreadn(va+8, 8)
	if err != 0 {
		return 0, zt, err
	}
	if secs < 0 || nsecs < 0 {
		return 0, zt, -defs.EINVAL
	}
	tot := time.Duration(secs) * time.Second
	tot += time.Duration(nsecs) * time.Nanosecond
	t := time.Unix(int64(secs), int64(nsecs))
	return tot, t, 0
}

// / K2user copies src into the user virtual address space starting at
// / uva. The copy may be partial if the region is not fully mapped.
func (as *AddressSpace_t) K2user(src []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	ret := as.K2user_inner(src, uva)
	as.Unlock_pmap()
	return ret
}

func (as *AddressSpace_t) K2user_inner(src []uint8, uva int) defs.Err_t {
	as.Lockassert_pmap()
	cnt := 0
	l := len(src)
	for cnt != l {
		gimme := bounds.Bounds(bounds.B_ASPACE_T_K2USER_INNER)
		if !res.Resadd_noblock(gimme) {
			return -defs.ENOHEAP
		}
		dst, err := as.Userdmap8_inner(uva+cnt, true)
		if err != 0 {
			return err
		}
		ub := len(src)
		if ub > len(dst) {
			ub = len(dst)
		}
		copy(dst, src)
		src = src[ub:]
		cnt += ub
	}
	return 0
}

// / User2k copies len(dst) bytes from the user virtual address uva
// / into dst. It returns an error code if the read fails.
func (as *AddressSpace_t) User2k(dst []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	ret := as.User2k_inner(dst, uva)
	as.Unlock_pmap()
	return ret
}

func (as *AddressSpace_t) User2k_inner(dst []uint8, uva int) defs.Err_t {
	as.Lockassert_pmap()
	cnt := 0
	for len(dst) != 0 {
		gimme := bounds.Bounds(bounds.B_ASPACE_T_USER2K_INNER)
		if !res.Resadd_noblock(gimme) {
			return -defs.ENOHEAP
		}
		src, err := as.Userdmap8_inner(uva+cnt, false)
		if err != 0 {
			return err
		}
		did := copy(dst, src)
		dst = dst[did:]
		cnt += did
	}
	return 0
}

func (as *AddressSpace_t) Unusedva_inner(startva, len int) int {
	as.Lockassert_pmap()
	if len < 0 || len > 1<<48 {
		panic("weird len")
	}
	startva = util.Rounddown(startva, mem.PGSIZE)
	if startva < mem.USERMIN {
		startva = mem.USERMIN
	}
	_ret, _l := as.Vmregion.empty(uintptr(startva), uintptr(len))
	ret := int(_ret)
	l := int(_l)
	if startva > ret && startva < ret+l {
		ret = startva
	}
	return ret
}

var _numtoapicid func(int) uint32

// / Cpumap records a helper that converts CPU IDs to APIC IDs for
// / TLB shootdown broadcast.
func Cpumap(f func(int) uint32) {
	_numtoapicid = f
}

// / Tlbshoot invalidates pgcount pages starting at startva on all CPUs
// / that have this pmap loaded.
func (as *AddressSpace_t) Tlbshoot(startva uintptr, pgcount int) {
	if pgcount == 0 {
		return
	}
	as.Lockassert_pmap()
	if _numtoapicid == nil {
		panic("cpumap not initted")
	}

	// fast path: the pmap is loaded in exactly one CPU's cr3, and it
	// happens to be this CPU. we detect that one CPU has the pmap loaded
	// by a pmap ref count == 2 (1 for the Process_t ref, 1 for CPU).
	p_pmap := as.P_pmap
	refp, _ := mem.Physmem.Refaddr(p_pmap)
	// XXX XXX XXX use Tlbaddr to implement Condflush more simply
	if runtime.Condflush(refp, uintptr(p_pmap), startva, pgcount) {
		return
	}
	tlbp := mem.Physmem.Tlbaddr(p_pmap)
	// slow path, must send TLB shootdowns
	tlb_shootdown(as.P_pmap, tlbp, startva, pgcount)
}

// / Sys_pgfault resolves a page fault for the address space as at the
// / given fault address with the provided error code. It returns an
// / error code describing the result.
func Sys_pgfault(as *AddressSpace_t, vmi *Vminfo_t, faultaddr, ecode uintptr) defs.Err_t {
	isguard := vmi.Perms == 0
	iswrite := ecode&uintptr(PTE_W) != 0
	writeok := vmi.Perms&uint(PTE_W) != 0
	if isguard || (iswrite && !writeok) {
		return -defs.EFAULT
	}
	// pmap is Lock'ed in Proc_t.pgfault...
	if ecode&uintptr(PTE_U) == 0 {
		// kernel page faults should be noticed and crashed upon in
		// runtime.trap(), but just in case
		panic("kernel page fault")
	}
	if vmi.Mtype == VSANON {
		panic("shared anon pages should always be mapped")
	}
	if vmi.Mtype == VMMIO {
		panic("MapPhys mappings are populated eagerly, never faulted")
	}

	pte, ok := vmi.Ptefor(as.Pmap, faultaddr)
	if !ok {
		return -defs.ENOMEM
	}
	if (iswrite && *pte&PTE_WASCOW != 0) ||
		(!iswrite && *pte&PTE_P != 0) {
		// two threads simultaneously faulted on same page
		return 0
	}

	var p_pg mem.Pa_t
	isblockpage := false
	perms := PTE_U | PTE_P
	isempty := true

	// shared mappings (file- or callback-backed) are handled the same
	// way regardless of whether the fault is read or write: every
	// sharer must see the same frame, so there is nothing to copy.
	sharedCallback := vmi.Mtype == VCALLBACK && vmi.Flags&MAP_SHARED != 0
	if (vmi.Mtype == VFILE && vmi.file.shared) || sharedCallback {
		var err defs.Err_t
		if sharedCallback {
			p_pg, err = vmi.Callbackpage(faultaddr)
		} else {
			_, p_pg, err = vmi.Filepage(faultaddr)
		}
		if err != 0 {
			return err
		}
		isblockpage = true
		if vmi.Perms&uint(PTE_W) != 0 {
			perms |= PTE_W
		}
	} else if iswrite {
		// XXXPANIC
		if *pte&PTE_W != 0 {
			panic("bad state")
		}
		var pgsrc *mem.Pg_t
		var p_bpg mem.Pa_t
		// the copy-on-write page may be specified in the pte or it may
		// not have been mapped at all yet.
		cow := *pte&PTE_COW != 0
		if cow {
			// if this anonymous COW page is mapped exactly once
			// (i.e.  only this mapping maps the page), we can
			// claim the page, skip the copy, and mark it writable.
			phys := *pte & PTE_ADDR
			ref, _ := mem.Physmem.Refaddr(phys)
			if vmi.Mtype == VANON && atomic.LoadInt32(ref) == 1 &&
				phys != mem.P_zeropg {
				tmp := *pte &^ PTE_COW
				tmp |= PTE_W | PTE_WASCOW
				*pte = tmp
				as.Tlbshoot(faultaddr, 1)
				return 0
			}
			pgsrc = mem.Physmem.Dmap(phys)
			isempty = false
		} else {
			// XXXPANIC
			if *pte != 0 {
				panic("no")
			}
			switch vmi.Mtype {
			case VANON:
				pgsrc = mem.Zeropg
			case VFILE:
				var err defs.Err_t
				pgsrc, p_bpg, err = vmi.Filepage(faultaddr)
				if err != 0 {
					return err
				}
				defer mem.Physmem.Refdown(p_bpg)
			case VCALLBACK:
				var err defs.Err_t
				p_bpg, err = vmi.Callbackpage(faultaddr)
				if err != 0 {
					return err
				}
				pgsrc = mem.Physmem.Dmap(p_bpg)
				defer mem.Physmem.Refdown(p_bpg)
			default:
				panic("wut")
			}
		}
		var pg *mem.Pg_t
		var ok bool
		// don't zero new page
		pg, p_pg, ok = mem.Physmem.Refpg_new_nozero()
		if !ok {
			return -defs.ENOMEM
		}
		*pg = *pgsrc
		perms |= PTE_WASCOW
		perms |= PTE_W
	} else {
		if *pte != 0 {
			panic("must be 0")
		}
		switch vmi.Mtype {
		case VANON:
			p_pg = mem.P_zeropg
		case VFILE:
			var err defs.Err_t
			_, p_pg, err = vmi.Filepage(faultaddr)
			if err != 0 {
				return err
			}
			isblockpage = true
		case VCALLBACK:
			var err defs.Err_t
			p_pg, err = vmi.Callbackpage(faultaddr)
			if err != 0 {
				return err
			}
			isblockpage = true
		default:
			panic("wut")
		}
		if vmi.Perms&uint(PTE_W) != 0 {
			perms |= PTE_COW
		}
	}
	if perms&PTE_W != 0 {
		perms |= PTE_D
	}
	perms |= PTE_A

	var tshoot bool
	if isblockpage {
		tshoot, ok = as.Blockpage_insert(int(faultaddr), p_pg, perms, isempty, pte)
	} else {
		tshoot, ok = as.Page_insert(int(faultaddr), p_pg, perms, isempty, pte)
	}
	if !ok {
		mem.Physmem.Refdown(p_pg)
		return -defs.ENOMEM
	}
	if tshoot {
		as.Tlbshoot(faultaddr, 1)
	}
	return 0
}

// the first return value is true if a present mapping was modified (i.e. need
// to flush TLB). the second return value is false if the page insertion failed
// due to lack of user pages. p_pg's ref count is increased so the caller can
// simply Physmem.Refdown()
// / Page_insert maps the physical page p_pg at va with perms. The
// / function returns whether an existing mapping was replaced and
// / whether the insertion succeeded.
func (as *AddressSpace_t) Page_insert(va int, p_pg mem.Pa_t, perms mem.Pa_t,
	vempty bool, pte *mem.Pa_t) (bool, bool) {
	return as._page_insert(va, p_pg, perms, vempty, true, pte)
}

// the first return value is true if a present mapping was modified (i.e. need
// to flush TLB). the second return value is false if the page insertion failed
// due to lack of user pages. p_pg's ref count is not increased: the
// caller's reference passes to the mapping.
// / Blockpage_insert adds a page mapping without increasing the
// / reference count of p_pg. It is used for block pages.
func (as *AddressSpace_t) Blockpage_insert(va int, p_pg mem.Pa_t, perms mem.Pa_t,
	vempty bool, pte *mem.Pa_t) (bool, bool) {
	return as._page_insert(va, p_pg, perms, vempty, false, pte)
}

func (as *AddressSpace_t) _page_insert(va int, p_pg mem.Pa_t, perms mem.Pa_t,
	vempty, refup bool, pte *mem.Pa_t) (bool, bool) {
	as.Lockassert_pmap()
	if refup {
		mem.Physmem.Refup(p_pg)
	}
	if pte == nil {
		var err defs.Err_t
		pte, err = pmap_walk(as.Pmap, va, PTE_U|PTE_W)
		if err != 0 {
			return false, false
		}
	}
	ninval := false
	var p_old mem.Pa_t
	if *pte&PTE_P != 0 {
		if vempty {
			panic("pte not empty")
		}
		if *pte&PTE_U == 0 {
			panic("replacing kernel page")
		}
		ninval = true
		p_old = mem.Pa_t(*pte & PTE_ADDR)
	}
	*pte = p_pg | perms | PTE_P
	if ninval {
		mem.Physmem.Refdown(p_old)
	}
	return ninval, true
}

// / Page_remove unmaps the page at va from this address space and
// / returns true if a mapping was removed.
func (as *AddressSpace_t) Page_remove(va int) bool {
	as.Lockassert_pmap()
	remmed := false
	pte := Pmap_lookup(as.Pmap, va)
	if pte != nil && *pte&PTE_P != 0 {
		if *pte&PTE_U == 0 {
			panic("removing kernel page")
		}
		p_old := mem.Pa_t(*pte & PTE_ADDR)
		mem.Physmem.Refdown(p_old)
		*pte = 0
		remmed = true
	}
	return remmed
}

// / Pgfault handles a page fault triggered by tid for the given fault
// / address and error code. It returns an error describing the
// / outcome.
func (as *AddressSpace_t) Pgfault(tid defs.Tid_t, fa, ecode uintptr) defs.Err_t {
	as.Lock_pmap()
	vmi, ok := as.Vmregion.Lookup(fa)
	if !ok {
		as.Unlock_pmap()
		return -defs.EFAULT
	}
	ret := Sys_pgfault(as, vmi, fa, ecode)
	as.Unlock_pmap()
	return ret
}

// / Uvmfree releases all user mappings and page tables associated
// / with this address space.
func (as *AddressSpace_t) Uvmfree() {
	Uvmfree_inner(as.Pmap, as.P_pmap, &as.Vmregion)
	// Dec_pmap could free the pmap itself. thus it must come after
	// Uvmfree.
	mem.Physmem.Dec_pmap(as.P_pmap)
	// close all open mmap'ed files
	as.Vmregion.Clear()
}

// / Vmadd_anon creates a private anonymous mapping at the given
// / virtual address range with the supplied permissions. It is a thin
// / convenience wrapper over Map for callers that already know exactly
// / where the mapping goes (image loading, stack/heap setup); Map
// / itself is what mmap(2)-style hint-based placement goes through.
func (as *AddressSpace_t) Vmadd_anon(start, len int, perms mem.Pa_t) {
	vmi := as._mkvmi(VANON, start, len, perms, 0, nil, nil)
	vmi.Flags = MAP_DEMAND
	as.Vmregion.insert(vmi)
}

// / Vmadd_file maps a region backed by the provided file operations
// / at the specified offset. The mapping may be shared or private
// / depending on the supplied operations.
func (as *AddressSpace_t) Vmadd_file(start, len int, perms mem.Pa_t, fops fdops.Fdops_i,
	foff int) {
	vmi := as._mkvmi(VFILE, start, len, perms, foff, fops, nil)
	vmi.Flags = MAP_DEMAND
	as.Vmregion.insert(vmi)
}

// / Vmadd_shareanon inserts a shared anonymous mapping with the given
// / permissions.
func (as *AddressSpace_t) Vmadd_shareanon(start, len int, perms mem.Pa_t) {
	vmi := as._mkvmi(VSANON, start, len, perms, 0, nil, nil)
	vmi.Flags = MAP_SHARED
	as.Vmregion.insert(vmi)
}

// / Vmadd_sharefile creates a shared file-backed mapping using fops
// / starting at the given offset. The unpin callback is used when
// / unmapping pages.
func (as *AddressSpace_t) Vmadd_sharefile(start, len int, perms mem.Pa_t, fops fdops.Fdops_i,
	foff int, unpin mem.Unpin_i) {
	vmi := as._mkvmi(VFILE, start, len, perms, foff, fops, unpin)
	vmi.Flags = MAP_DEMAND | MAP_SHARED
	as.Vmregion.insert(vmi)
}

// / Map places a new anonymous or callback-backed mapping of length
// / bytes, at hint if hint is nonzero and free, or at an
// / allocator-chosen address otherwise, and returns the chosen base.
// / cb == nil requests a private demand-zero anonymous mapping (the
// / Vmadd_anon case, reached through the hole allocator instead of a
// / caller-supplied address); cb != nil requests a VCALLBACK mapping
// / whose pages are produced and reclaimed by cb instead of the zero
// / page. MAP_LARGE is rejected here: anonymous and callback mappings
// / are always backed by individually faulted-in 4 KiB frames, since
// / neither the PMM nor Callbacks_t.MapIn promises a physically
// / contiguous 2 MiB frame. MAP_OVERRIDE is rejected too; MapPhys is
// / the override path, for mappings with no hole-allocator placement
// / at all.
func (as *AddressSpace_t) Map(hint uintptr, length int, perms mem.Pa_t, flags MapFlags_t,
	cb *Callbacks_t) (uintptr, defs.Err_t) {
	if flags&(MAP_LARGE|MAP_OVERRIDE) != 0 {
		return 0, -defs.EINVAL
	}
	if length <= 0 || mem.Pa_t(length)&PGOFFSET != 0 {
		return 0, -defs.EINVAL
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	base, _ := as.Vmregion.empty(hint, uintptr(length))

	mt := VANON
	if cb != nil {
		mt = VCALLBACK
	}
	vmi := as._mkvmi(mt, int(base), length, perms, 0, nil, nil)
	vmi.Flags = flags | MAP_DEMAND
	vmi.cb = cb
	as.Vmregion.insert(vmi)
	return base, 0
}

// / MapPhys installs an unmanaged mapping of virt to the fixed
// / physical range [phys, phys+length) — a device's BAR, a
// / framebuffer — bypassing both the hole allocator and Physmem's
// / refcount table: the caller, not the PMM, owns these frames.
// / MAP_OVERRIDE must be set; MAP_LARGE additionally requires virt,
// / phys, and length to be 2 MiB aligned and installs 2 MiB PTE_PS
// / leaves instead of one 4 KiB PTE per page.
func (as *AddressSpace_t) MapPhys(virt uintptr, phys mem.Pa_t, length int, flags MapFlags_t) defs.Err_t {
	if flags&MAP_OVERRIDE == 0 {
		return -defs.EINVAL
	}
	if length <= 0 || mem.Pa_t(length)&PGOFFSET != 0 {
		return -defs.EINVAL
	}
	large := flags&MAP_LARGE != 0
	align := uintptr(PGSIZE)
	if large {
		align = 1 << 21
	}
	if virt&(align-1) != 0 || uintptr(phys)&(align-1) != 0 || uintptr(length)&(align-1) != 0 {
		return -defs.EINVAL
	}

	as.Lock_pmap()
	defer as.Unlock_pmap()

	// vmiPerms is what _mkvmi accepts (U and, optionally, W only);
	// ptePerms is what actually gets OR'd into the leaf entry.
	vmiPerms := PTE_U
	ptePerms := PTE_P | PTE_U
	if flags&MAP_WRITE != 0 {
		vmiPerms |= PTE_W
		ptePerms |= PTE_W
	}
	if large {
		ptePerms |= PTE_PS
	}

	step := uintptr(PGSIZE)
	if large {
		step = 1 << 21
	}
	for off := uintptr(0); off < uintptr(length); off += step {
		var pte *mem.Pa_t
		var err defs.Err_t
		if large {
			pte, err = pmap_walk_huge(as.Pmap, int(virt+off), PTE_U|PTE_W)
		} else {
			pte, err = pmap_walk(as.Pmap, int(virt+off), PTE_U|PTE_W)
		}
		if err != 0 {
			return err
		}
		*pte = (phys + mem.Pa_t(off)) | ptePerms
	}

	vmi := as._mkvmi(VMMIO, int(virt), length, vmiPerms, 0, nil, nil)
	vmi.Flags = flags
	vmi.phys = phys
	as.Vmregion.insert(vmi)
	return 0
}

// does not increase opencount on fops (neither does Vmregion_t.insert). perms should
// only use PTE_U/PTE_W; the page fault handler will install the correct COW
// flags. perms == 0 means that no mapping can go here (like for guard pages).
func (as *AddressSpace_t) _mkvmi(mt mtype_t, start, len int, perms mem.Pa_t, foff int,
	fops fdops.Fdops_i, unpin mem.Unpin_i) *Vminfo_t {
	if len <= 0 {
		panic("bad vmi len")
	}
	if mem.Pa_t(start|len)&PGOFFSET != 0 {
		panic("start and len must be aligned")
	}
	// don't specify cow, present etc. -- page fault will handle all that
	pm := PTE_W | PTE_COW | PTE_WASCOW | PTE_PS | PTE_PCD | PTE_P | PTE_U
	if r := perms & pm; r != 0 && r != PTE_U && r != (PTE_W|PTE_U) {
		panic("bad perms")
	}
	ret := &Vminfo_t{}
	pgn := uintptr(start) >> PGSHIFT
	pglen := util.Roundup(len, mem.PGSIZE) >> PGSHIFT
	ret.Mtype = mt
	ret.Pgn = pgn
	ret.Pglen = pglen
	ret.Perms = uint(perms)
	if mt == VFILE {
		ret.file.foff = foff
		ret.file.mfile = &Mfile_t{}
		ret.file.mfile.mfops = fops
		ret.file.mfile.unpin = unpin
		ret.file.mfile.mapcount = pglen
		ret.file.shared = unpin != nil
	}
	return ret
}

// / Mkuserbuf allocates and initializes a Userbuf_t referencing user
// / memory starting at userva.
func (as *AddressSpace_t) Mkuserbuf(userva, len int) *Userbuf_t {
	ret := &Userbuf_t{}
	ret.ub_init(as, userva, len)
	return ret
}

// / Resolve returns the physical address backing va, or ok == false if
// / va has no resident mapping (either unmapped entirely, or a
// / demand/COW page that has never been faulted in).
func (as *AddressSpace_t) Resolve(va int) (mem.Pa_t, bool) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	pte := Pmap_lookup(as.Pmap, va&^int(PGOFFSET))
	if pte == nil || *pte&PTE_P == 0 {
		return 0, false
	}
	return (*pte & PTE_ADDR) + mem.Pa_t(va)&PGOFFSET, true
}

// / Unmap removes the mappings covering [va, va+len) from this address
// / space, releasing each page's reference (or invoking its unpin
// / callback for a shared file mapping) and flushing the TLB on every
// / CPU that had this pmap loaded.
func (as *AddressSpace_t) Unmap(va, len int) defs.Err_t {
	if mem.Pa_t(va|len)&PGOFFSET != 0 {
		return -defs.EINVAL
	}
	as.Lock_pmap()
	as.Vmregion.unmap(uintptr(va), uintptr(len), func(v *Vminfo_t, pva uintptr) {
		pte := Pmap_lookup(as.Pmap, int(pva))
		if pte == nil || *pte&PTE_P == 0 {
			return
		}
		p := *pte & PTE_ADDR
		switch {
		case v.Mtype == VFILE && v.file.mfile != nil && v.file.mfile.unpin != nil:
			v.file.mfile.unpin.Unpin(p)
		case v.Mtype == VCALLBACK && v.cb != nil && v.cb.Unmap != nil:
			v.cb.Unmap(v, pva, p)
		case v.Mtype == VMMIO:
			// unmanaged frame: nothing to release.
		default:
			mem.Physmem.Refdown(p)
		}
		*pte = 0
	})
	pgcount := len / PGSIZE
	as.Tlbshoot(uintptr(va), pgcount)
	as.Unlock_pmap()
	return 0
}

// / Fork clones this address space for a child process: the pmap's
// / user-half page-table entries are walked and marked copy-on-write
// / in both parent and child so that the first write to a shared
// / anonymous page by either side triggers Sys_pgfault, and the
// / mapping/hole trees are deep-copied so the child can unmap and
// / remap independently of the parent.
func (as *AddressSpace_t) Fork(child *AddressSpace_t) defs.Err_t {
	as.Lockassert_pmap()
	npmap, p_npmap, ok := mem.Physmem.Pmap_new()
	if !ok {
		return -defs.ENOMEM
	}
	// top 256 entries are the kernel half, identical in every address
	// space; copy them by reference.
	for i := 256; i < 512; i++ {
		npmap[i] = as.Pmap[i]
	}
	child.Pmap = npmap
	child.P_pmap = p_npmap
	child.Vmregion = as.Vmregion.clone()

	var walkerr defs.Err_t
	mapwalk(as.Vmregion.maps, func(v *Vminfo_t) {
		if walkerr != 0 {
			return
		}
		for pgn := v.Pgn; pgn < v.end(); pgn++ {
			va := int(pgn << PGSHIFT)
			pte := Pmap_lookup(as.Pmap, va)
			if pte == nil || *pte&PTE_P == 0 {
				continue
			}
			p := *pte & PTE_ADDR
			perms := *pte &^ PTE_ADDR &^ PTE_W
			if v.Mtype != VSANON && *pte&PTE_W != 0 {
				// make both copies read-only/COW; the next write by
				// either side copies the page.
				*pte = (*pte &^ (PTE_W | PTE_WASCOW)) | PTE_COW
				perms = (perms &^ PTE_WASCOW) | PTE_COW
			}
			mem.Physmem.Refup(p)
			cpte, err := pmap_walk(npmap, va, PTE_U|PTE_W)
			if err != 0 {
				mem.Physmem.Refdown(p)
				walkerr = err
				continue
			}
			*cpte = p | perms | PTE_P
		}
	})
	if walkerr != 0 {
		Uvmfree_inner(npmap, p_npmap, &child.Vmregion)
		mem.Physmem.Dec_pmap(p_npmap)
		return walkerr
	}
	return 0
}
