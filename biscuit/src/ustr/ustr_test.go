package ustr

import "testing"

import "github.com/stretchr/testify/require"

func TestIsdotAndIsdotdot(t *testing.T) {
	require.True(t, Ustr(".").Isdot())
	require.False(t, Ustr("..").Isdot())
	require.True(t, Ustr("..").Isdotdot())
	require.False(t, Ustr(".").Isdotdot())
}

func TestEqComparesContent(t *testing.T) {
	require.True(t, Ustr("abc").Eq(Ustr("abc")))
	require.False(t, Ustr("abc").Eq(Ustr("abd")))
	require.False(t, Ustr("abc").Eq(Ustr("ab")))
}

func TestMkUstrSliceTruncatesAtNul(t *testing.T) {
	buf := []uint8{'h', 'i', 0, 'x', 'x'}
	require.Equal(t, "hi", MkUstrSlice(buf).String())
}

func TestExtendAppendsComponent(t *testing.T) {
	got := Ustr("/a").Extend(Ustr("b"))
	require.Equal(t, "/a/b", got.String())
}

func TestIsAbsolute(t *testing.T) {
	require.True(t, Ustr("/a").IsAbsolute())
	require.False(t, Ustr("a").IsAbsolute())
	require.False(t, MkUstr().IsAbsolute())
}

func TestIndexByteFindsFirstMatch(t *testing.T) {
	require.Equal(t, 2, Ustr("ab/cd").IndexByte('/'))
	require.Equal(t, -1, Ustr("abcd").IndexByte('/'))
}
