package mem

import "testing"

import "github.com/stretchr/testify/require"

func fixturePhysmem(npages int) *Physmem_t {
	return &Physmem_t{
		Pgs:    make([]Physpg_t, npages),
		bitmap: make([]uint64, (npages+bitsPerWord-1)/bitsPerWord),
		startn: 0,
	}
}

func TestScanrangeFindsFirstFit(t *testing.T) {
	phys := fixturePhysmem(8)
	phys.setbit(0)
	phys.setbit(1)

	start, ok := phys._scanrange(3)
	require.True(t, ok)
	require.Equal(t, uint32(2), start)
}

func TestScanrangeFailsWhenNoRunLongEnough(t *testing.T) {
	phys := fixturePhysmem(4)
	phys.setbit(1)

	_, ok := phys._scanrange(3)
	require.False(t, ok)
}

func TestMarkusedSetsBitsAndRefcnt(t *testing.T) {
	phys := fixturePhysmem(4)
	phys._markused(1, 2)

	require.True(t, phys.testbit(1))
	require.True(t, phys.testbit(2))
	require.False(t, phys.testbit(0))
	require.False(t, phys.testbit(3))
	require.EqualValues(t, -1, phys.Pgs[1].Refcnt)
	require.EqualValues(t, -1, phys.Pgs[2].Refcnt)
}

func TestRefcntDefaultsToOneForUnsharedFrame(t *testing.T) {
	phys := fixturePhysmem(2)
	phys._markused(0, 1)

	require.Equal(t, 1, phys.Refcnt(Pa_t(0)<<PGSHIFT))
}

func TestRefupThenRefdownSequence(t *testing.T) {
	phys := fixturePhysmem(2)
	phys._markused(0, 1)
	pg := Pa_t(0) << PGSHIFT

	phys.Refup(pg)
	require.Equal(t, 2, phys.Refcnt(pg))

	require.False(t, phys.Refdown(pg))
	require.Equal(t, 1, phys.Refcnt(pg))

	require.True(t, phys.Refdown(pg))
	require.False(t, phys.testbit(0))
}

func TestRefdownOnSoleOwnerFreesFrame(t *testing.T) {
	phys := fixturePhysmem(2)
	phys._markused(1, 1)

	require.True(t, phys.Refdown(Pa_t(1)<<PGSHIFT))
	require.False(t, phys.testbit(1))
}
