package vm

import "testing"

import "github.com/stretchr/testify/require"

import "defs"
import "mem"

func TestPgfaultGuardPageFaultsEFAULT(t *testing.T) {
	defer fixtureBoot(64)()
	as := fixtureAS()
	as.Vmadd_anon(0x1000, PGSIZE, 0) // perms == 0: guard page

	as.Lock_pmap()
	err := Sys_pgfault(as, mustLookup(t, as, 0x1000), 0x1000, uintptr(PTE_U))
	as.Unlock_pmap()
	require.Equal(t, -defs.EFAULT, err)
}

func TestPgfaultWriteToReadOnlyMappingFaultsEFAULT(t *testing.T) {
	defer fixtureBoot(64)()
	as := fixtureAS()
	as.Vmadd_anon(0x1000, PGSIZE, PTE_U) // no PTE_W

	as.Lock_pmap()
	ecode := uintptr(PTE_U | PTE_W)
	err := Sys_pgfault(as, mustLookup(t, as, 0x1000), 0x1000, ecode)
	as.Unlock_pmap()
	require.Equal(t, -defs.EFAULT, err)
}

func TestPgfaultAnonReadFaultMapsSharedZeroPage(t *testing.T) {
	defer fixtureBoot(64)()
	as := fixtureAS()
	as.Vmadd_anon(0x1000, PGSIZE, PTE_U|PTE_W)

	as.Lock_pmap()
	err := Sys_pgfault(as, mustLookup(t, as, 0x1000), 0x1000, uintptr(PTE_U))
	as.Unlock_pmap()
	require.Equal(t, defs.Err_t(0), err)

	pa, ok := as.Resolve(0x1000)
	require.True(t, ok)
	require.Equal(t, mem.P_zeropg, pa)
}

func TestPgfaultAnonWriteFaultAllocatesPrivatePage(t *testing.T) {
	defer fixtureBoot(64)()
	as := fixtureAS()
	as.Vmadd_anon(0x1000, PGSIZE, PTE_U|PTE_W)

	as.Lock_pmap()
	err := Sys_pgfault(as, mustLookup(t, as, 0x1000), 0x1000, uintptr(PTE_U|PTE_W))
	as.Unlock_pmap()
	require.Equal(t, defs.Err_t(0), err)

	pa, ok := as.Resolve(0x1000)
	require.True(t, ok)
	require.NotEqual(t, mem.P_zeropg, pa, "a first-touch write must not alias the shared zero page")
}

func TestForkSharesFrameUntilChildWritesThenIsolates(t *testing.T) {
	defer fixtureBoot(256)()
	parent := fixtureAS()
	parent.Vmadd_anon(0x1000, PGSIZE, PTE_U|PTE_W)

	parent.Lock_pmap()
	require.Equal(t, defs.Err_t(0),
		Sys_pgfault(parent, mustLookup(t, parent, 0x1000), 0x1000, uintptr(PTE_U|PTE_W)))
	parent.Unlock_pmap()

	pa, ok := parent.Resolve(0x1000)
	require.True(t, ok)
	require.NotEqual(t, mem.P_zeropg, pa)

	child := &AddressSpace_t{}
	parent.Lock_pmap()
	require.Equal(t, defs.Err_t(0), parent.Fork(child))
	parent.Unlock_pmap()

	// right after fork both address spaces resolve to the same frame,
	// and the kernel marked both PTEs copy-on-write rather than
	// read-write.
	childPa, ok := child.Resolve(0x1000)
	require.True(t, ok)
	require.Equal(t, pa, childPa)

	ppte := Pmap_lookup(parent.Pmap, 0x1000)
	cpte := Pmap_lookup(child.Pmap, 0x1000)
	require.NotNil(t, ppte)
	require.NotNil(t, cpte)
	require.NotZero(t, *ppte&PTE_COW)
	require.NotZero(t, *cpte&PTE_COW)
	require.Zero(t, *ppte&PTE_W)
	require.Zero(t, *cpte&PTE_W)

	ref, _ := mem.Physmem.Refaddr(pa)
	require.EqualValues(t, 2, *ref)

	// the child writes, which must copy the page rather than mutate
	// the frame the parent still resolves to.
	child.Lock_pmap()
	cvmi, ok := child.Vmregion.Lookup(0x1000)
	require.True(t, ok)
	err := Sys_pgfault(child, cvmi, 0x1000, uintptr(PTE_U|PTE_W))
	child.Unlock_pmap()
	require.Equal(t, defs.Err_t(0), err)

	childPa2, ok := child.Resolve(0x1000)
	require.True(t, ok)
	require.NotEqual(t, pa, childPa2, "child's write fault must copy onto a fresh frame")

	parentPa2, ok := parent.Resolve(0x1000)
	require.True(t, ok)
	require.Equal(t, pa, parentPa2, "parent's mapping must be untouched by the child's COW copy")
}

func mustLookup(t *testing.T, as *AddressSpace_t, va uintptr) *Vminfo_t {
	t.Helper()
	vmi, ok := as.Vmregion.Lookup(va)
	require.True(t, ok)
	return vmi
}
