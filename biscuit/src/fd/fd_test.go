package fd

import "testing"

import "github.com/stretchr/testify/require"

import "defs"
import "fdops"
import "ustr"

type fakeFops struct {
	closed   bool
	reopened int
	closeErr defs.Err_t
}

func (f *fakeFops) Close() defs.Err_t {
	f.closed = true
	return f.closeErr
}
func (f *fakeFops) Reopen() defs.Err_t {
	f.reopened++
	return 0
}
func (f *fakeFops) Read(fdops.Uio_i) (int, defs.Err_t)  { return 0, 0 }
func (f *fakeFops) Write(fdops.Uio_i) (int, defs.Err_t) { return 0, 0 }
func (f *fakeFops) Fstat([]uint8) defs.Err_t            { return 0 }

func TestCopyfdReopensAndCopiesPerms(t *testing.T) {
	backing := &fakeFops{}
	orig := &Fd_t{Fops: backing, Perms: FD_READ | FD_CLOEXEC}

	cp, err := Copyfd(orig)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 1, backing.reopened)
	require.Equal(t, orig.Perms, cp.Perms)
	require.NotSame(t, orig, cp)
}

func TestCopyfdPropagatesReopenFailure(t *testing.T) {
	orig := &Fd_t{Fops: &failingReopen{}}
	cp, err := Copyfd(orig)
	require.Nil(t, cp)
	require.Equal(t, -defs.ENOMEM, err)
}

type failingReopen struct{ fakeFops }

func (f *failingReopen) Reopen() defs.Err_t { return -defs.ENOMEM }

func TestClosePanicOnFailure(t *testing.T) {
	f := &Fd_t{Fops: &fakeFops{closeErr: -defs.EIO}}
	require.Panics(t, func() { Close_panic(f) })
}

func TestMkRootCwdStartsAtSlash(t *testing.T) {
	fd := &Fd_t{}
	cwd := MkRootCwd(fd)
	require.Same(t, fd, cwd.Fd)
	require.True(t, cwd.Path.IsAbsolute())
}

func TestFullpathJoinsRelativeAgainstCwd(t *testing.T) {
	cwd := &Cwd_t{Path: ustr.Ustr("/home/user")}
	full := cwd.Fullpath(ustr.Ustr("docs"))
	require.Equal(t, "/home/user/docs", full.String())
}

func TestFullpathLeavesAbsolutePathAlone(t *testing.T) {
	cwd := &Cwd_t{Path: ustr.Ustr("/home/user")}
	full := cwd.Fullpath(ustr.Ustr("/etc/passwd"))
	require.Equal(t, "/etc/passwd", full.String())
}
