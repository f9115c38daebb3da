package defs

/// Err_t is a POSIX-style errno, always stored and returned negated
/// (0 means success) per the syscall ABI: a handler returns -Err_t
/// and leaves errno set to the positive value.
type Err_t int

// Errno values the core needs. Numbering matches x86-64 Linux so that
// a userland libc could reuse it verbatim, but nothing in the core
// depends on the exact numbers beyond equality.
const (
	EPERM        Err_t = 1
	ENOENT       Err_t = 2
	ESRCH        Err_t = 3
	EINTR        Err_t = 4
	EIO          Err_t = 5
	ENOMEM       Err_t = 12
	EACCES       Err_t = 13
	EFAULT       Err_t = 14
	EEXIST       Err_t = 17
	ENODEV       Err_t = 19
	EINVAL       Err_t = 22
	ENAMETOOLONG Err_t = 36
	ENOSYS       Err_t = 38
	ECHILD       Err_t = 10
	EAGAIN       Err_t = 11
	ENOHEAP      Err_t = 61 /// kernel heap budget exhausted (res package)
	ESRMNT       Err_t = 62 /// reserved
)

/// Tid_t identifies a thread, unique system wide.
type Tid_t int

/// Pid_t identifies a process, unique system wide.
type Pid_t int

/// Pgid_t identifies a process group.
type Pgid_t int

/// Sid_t identifies a session.
type Sid_t int
