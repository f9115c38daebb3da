package vm

import "runtime"
import "unsafe"

import "mem"

// fixtureBoot stands up just enough of the PMM to exercise real page
// faults without real hardware paging: it points mem.Vdirect at a
// plain Go arena (so mem.Physmem.Dmap's "direct map" arithmetic lands
// on addressable memory instead of an unmapped kernel VA) and installs
// a fresh Physmem_t sized to npages frames, then replicates the part
// of Dmap_init that hands every AddressSpace_t its shared zero page.
// The returned func restores every global it overwrote.
func fixtureBoot(npages int) func() {
	savedPhys := mem.Physmem
	savedVdirect := mem.Vdirect
	savedZeropg := mem.Zeropg
	savedPZeropg := mem.P_zeropg

	arena := make([]byte, npages*PGSIZE)
	mem.Vdirect = uintptr(unsafe.Pointer(&arena[0]))

	phys := mem.NewPhysmem(npages)
	phys.Dmapinit = true
	mem.Physmem = phys

	zpg, p_zpg, ok := phys.Refpg_new_nozero()
	if !ok {
		panic("fixtureBoot: arena too small for the zero page")
	}
	for i := range zpg {
		zpg[i] = 0
	}
	phys.Refup(p_zpg)
	mem.Zeropg = zpg
	mem.P_zeropg = p_zpg

	// Tlbshoot panics if no Cpumap callback was ever registered; a
	// single-entry identity map is enough for the uniprocessor
	// scenarios these tests run.
	Cpumap(func(id int) uint32 { return uint32(id) })

	return func() {
		mem.Physmem = savedPhys
		mem.Vdirect = savedVdirect
		mem.Zeropg = savedZeropg
		mem.P_zeropg = savedPZeropg
		runtime.KeepAlive(arena)
	}
}

// fixtureAS builds an empty user address space backed by fixtureBoot's
// arena, ready for Vmadd_anon/Pgfault/Fork.
func fixtureAS() *AddressSpace_t {
	pml4, p_pml4, ok := mem.Physmem.Pmap_new()
	if !ok {
		panic("fixtureAS: out of fixture frames")
	}
	return &AddressSpace_t{Pmap: pml4, P_pmap: p_pml4}
}
