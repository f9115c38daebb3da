// Package bpath canonicalizes POSIX-style paths the way the VFS
// layer (an external collaborator, out of core scope) requires them:
// no ".", no "..", no repeated or trailing slashes, always absolute.
package bpath

import "ustr"

/// Canonicalize resolves "." and ".." components in p and collapses
/// repeated slashes. p must be absolute; the result is always
/// absolute and never ends in '/' unless it is the root itself.
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	if !p.IsAbsolute() {
		panic("bpath.Canonicalize: relative path")
	}
	parts := split(p)
	stack := make([]ustr.Ustr, 0, len(parts))
	for _, c := range parts {
		switch {
		case len(c) == 0:
		case c.Isdot():
		case c.Isdotdot():
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, c)
		}
	}
	if len(stack) == 0 {
		return ustr.MkUstrRoot()
	}
	ret := ustr.Ustr{}
	for _, c := range stack {
		ret = append(ret, '/')
		ret = append(ret, c...)
	}
	return ret
}

func split(p ustr.Ustr) []ustr.Ustr {
	var parts []ustr.Ustr
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				parts = append(parts, p[start:i])
			}
			start = i + 1
		}
	}
	return parts
}
