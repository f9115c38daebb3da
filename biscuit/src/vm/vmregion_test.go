package vm

import "testing"

import "github.com/stretchr/testify/require"

func TestCreateHoleCoalescesBothNeighbors(t *testing.T) {
	var vr Vmregion_t
	vr.create_hole(0, 0x1000)
	vr.create_hole(0x3000, 0x1000)
	vr.create_hole(0x1000, 0x2000) // abuts both existing holes exactly

	var got []struct{ base, len uintptr }
	holewalk(vr.holes, func(b, l uintptr) {
		got = append(got, struct{ base, len uintptr }{b, l})
	})
	require.Len(t, got, 1)
	require.EqualValues(t, 0, got[0].base)
	require.EqualValues(t, 0x4000, got[0].len)
}

func TestCreateHoleLeavesGapUncoalesced(t *testing.T) {
	var vr Vmregion_t
	vr.create_hole(0, 0x1000)
	vr.create_hole(0x2000, 0x1000) // one page gap at [0x1000,0x2000)

	var n int
	holewalk(vr.holes, func(b, l uintptr) { n++ })
	require.Equal(t, 2, n)
}

func TestInsertConsumesHoleAndSplitsIt(t *testing.T) {
	var vr Vmregion_t
	vr.create_hole(0, 0x4000)

	vmi := &Vminfo_t{Pgn: 1, Pglen: 1, Perms: uint(PTE_U)} // [0x1000,0x2000)
	vr.insert(vmi)

	var holes []struct{ base, len uintptr }
	holewalk(vr.holes, func(b, l uintptr) {
		holes = append(holes, struct{ base, len uintptr }{b, l})
	})
	require.Len(t, holes, 2)
	require.EqualValues(t, 0, holes[0].base)
	require.EqualValues(t, 0x1000, holes[0].len)
	require.EqualValues(t, 0x2000, holes[1].base)
	require.EqualValues(t, 0x2000, holes[1].len)

	found, ok := vr.Lookup(0x1000)
	require.True(t, ok)
	require.Same(t, vmi, found)
}

func TestEmptyPicksBestFitAtOrAfterHint(t *testing.T) {
	var vr Vmregion_t
	vr.create_hole(0x10000, 0x1000) // too small
	vr.create_hole(0x20000, 0x4000) // big enough

	base, avail := vr.empty(0, 0x3000)
	require.EqualValues(t, 0x20000, base)
	require.EqualValues(t, 0x4000, avail)
}

func TestEmptyClampsToHintWithinAHole(t *testing.T) {
	var vr Vmregion_t
	vr.create_hole(0x10000, 0x10000)

	base, _ := vr.empty(0x14000, 0x1000)
	require.EqualValues(t, 0x14000, base)
}

func TestUnmapSplitsPartialOverlapAndDeletesWholeMapping(t *testing.T) {
	var vr Vmregion_t
	vr.create_hole(0, 0x4000)
	vmi := &Vminfo_t{Pgn: 0, Pglen: 3, Perms: uint(PTE_U | PTE_W)} // pages 0,1,2
	vr.insert(vmi)

	var released []uintptr
	vr.unmap(0, 0x1000, func(v *Vminfo_t, va uintptr) { released = append(released, va) })

	require.Equal(t, []uintptr{0}, released)
	_, ok := vr.Lookup(0)
	require.False(t, ok)
	still, ok := vr.Lookup(0x1000)
	require.True(t, ok)
	require.EqualValues(t, 1, still.Pgn)
	require.EqualValues(t, 2, still.Pglen)

	released = nil
	vr.unmap(0x1000, 0x2000, func(v *Vminfo_t, va uintptr) { released = append(released, va) })
	require.Equal(t, []uintptr{0x1000, 0x2000}, released)
	_, ok = vr.Lookup(0x1000)
	require.False(t, ok)
	_, ok = vr.Lookup(0x2000)
	require.False(t, ok)

	var holes []struct{ base, len uintptr }
	holewalk(vr.holes, func(b, l uintptr) {
		holes = append(holes, struct{ base, len uintptr }{b, l})
	})
	require.Len(t, holes, 1)
	require.EqualValues(t, 0, holes[0].base)
	require.EqualValues(t, 0x4000, holes[0].len)
}

func TestCloneDeepCopiesTreesWithoutAliasingNodes(t *testing.T) {
	var vr Vmregion_t
	vr.create_hole(0, 0x3000)
	vmi := &Vminfo_t{Pgn: 0, Pglen: 1, Perms: uint(PTE_U)}
	vr.insert(vmi)

	cp := vr.clone()
	found, ok := cp.Lookup(0)
	require.True(t, ok)
	require.NotSame(t, vmi, found)
	require.Equal(t, vmi.Pgn, found.Pgn)

	// mutating the clone must not perturb the original.
	found.Perms = uint(PTE_U | PTE_W)
	require.NotEqual(t, vmi.Perms, found.Perms)
}

func TestClearDropsAllMappingsAndHoles(t *testing.T) {
	var vr Vmregion_t
	vr.create_hole(0, 0x2000)
	vr.insert(&Vminfo_t{Pgn: 0, Pglen: 1, Perms: uint(PTE_U)})

	vr.Clear()
	_, ok := vr.Lookup(0)
	require.False(t, ok)
	require.Nil(t, vr.holes)
}
