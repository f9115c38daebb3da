package tinfo

import "testing"

import "github.com/stretchr/testify/require"

func TestDoomedReflectsIsdoomed(t *testing.T) {
	n := &Tnote_t{}
	require.False(t, n.Doomed())
	n.Isdoomed = true
	require.True(t, n.Doomed())
}

func TestSetCurrentThenCurrentRoundTrips(t *testing.T) {
	n := &Tnote_t{Alive: true}
	SetCurrent(n)
	defer ClearCurrent()

	require.Same(t, n, Current())
}

func TestThreadinfoInitStartsEmpty(t *testing.T) {
	var ti Threadinfo_t
	ti.Init()
	require.NotNil(t, ti.Notes)
	require.Len(t, ti.Notes, 0)
}
