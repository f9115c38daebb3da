package bpath

import "testing"

import "github.com/stretchr/testify/require"

import "ustr"

func TestCanonicalizeCollapsesDotAndDotdot(t *testing.T) {
	got := Canonicalize(ustr.Ustr("/a/./b/../c"))
	require.Equal(t, "/a/c", got.String())
}

func TestCanonicalizeCollapsesRepeatedSlashes(t *testing.T) {
	got := Canonicalize(ustr.Ustr("/a//b///c"))
	require.Equal(t, "/a/b/c", got.String())
}

func TestCanonicalizeDotdotAboveRootStaysAtRoot(t *testing.T) {
	got := Canonicalize(ustr.Ustr("/../../a"))
	require.Equal(t, "/a", got.String())
}

func TestCanonicalizeRootAloneStaysRoot(t *testing.T) {
	got := Canonicalize(ustr.Ustr("/"))
	require.Equal(t, "/", got.String())
}

func TestCanonicalizePanicsOnRelativePath(t *testing.T) {
	require.Panics(t, func() { Canonicalize(ustr.Ustr("a/b")) })
}
