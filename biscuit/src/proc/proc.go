// Package proc owns the process/thread object model and the global
// process and thread tables: creation, fork, exec's process-side
// bookkeeping, exit/reap, and the process-group/session hierarchy.
// Picking which thread runs next, context switching, and the tick
// path are the scheduler's job (package sched), which operates on the
// types this package exports.
package proc

import "sync"
import "sync/atomic"

import "accnt"
import "defs"
import "fd"
import "hashtable"
import "limits"
import "sig"
import "tinfo"
import "vm"
import "wait"

// / State_t is a thread's position in the spawn → Ready → Running →
// / {Blocked,Dead} state machine.
type State_t int

const (
	Ready State_t = iota
	Running
	Sleep
	Blocked
	Dead
	Wait
)

// / Thread_t is one schedulable thread of execution. The saved
// / register/FPU image sched swaps on a context switch lives in Sig.Ctx
// / (sig.Ucontext_t), reused rather than duplicated since a thread
// / blocked on a signal handler and a thread merely context-switched
// / out both need "the last snapshot of this thread's CPU state" —
// / the signal machinery just also knows when that snapshot is a
// / handler entry rather than a preemption.
type Thread_t struct {
	sync.Mutex
	Tid   defs.Tid_t
	Pid   defs.Pid_t
	Proc  *Process_t
	State State_t
	// CPU is the last CPU this thread ran on, used only as a hint to
	// runtime.CPUHint — the picker has no affinity policy of its own.
	CPU int

	Sig *sig.ThreadSig_t

	Accnt accnt.Accnt_t

	Kstack uintptr
	Ustack uintptr

	InSyscall bool

	Note *tinfo.Tnote_t

	// Wire is what this thread parks on when it blocks outside of a
	// signal wait (sleep, wait(2), a wire/queue primitive it owns).
	Wire wait.Wire_t
}

// / SigState implements sig.Candidate_i.
func (t *Thread_t) SigState() *sig.ThreadSig_t { return t.Sig }

// / Interruptible implements sig.Candidate_i: true if the thread is
// / parked somewhere that honors allow_signals.
func (t *Thread_t) Interruptible() bool {
	t.Lock()
	defer t.Unlock()
	return t.State == Blocked || t.State == Wait
}

// / PageFault is the kernel-side entry point the patched runtime's trap
// / handler calls when t takes a hardware page fault: it resolves the
// / fault against t's address space and, if no mapping covers the
// / faulting address (or the access violates the mapping's
// / permissions), raises SIGSEGV against t's process rather than
// / leaving the fault unhandled.
func (t *Thread_t) PageFault(fa, ecode uintptr) {
	err := t.Proc.As.Pgfault(t.Tid, fa, ecode)
	if err == -defs.EFAULT {
		t.Proc.Sig.Generate(defs.SIGSEGV)
	}
}

// / Process_t is a process: one address space, one or more threads,
// / the fd table, and process-group/session/parent linkage.
type Process_t struct {
	sync.Mutex
	Name string

	As *vm.AddressSpace_t

	Threads    []*Thread_t
	MainThread *Thread_t

	Children []*Process_t
	Zombies  []*Process_t

	Fds      map[int]*fd.Fd_t
	nextfd   int
	Cwd      *fd.Cwd_t

	Parent *Process_t
	Pid    defs.Pid_t
	Ppid   defs.Pid_t
	Pgid   defs.Pgid_t
	Sid    defs.Sid_t

	RealUID, EffUID, SavedGID int

	Sig *sig.ProcSig_t

	// WaitWire is arisen whenever a child's status changes (exit,
	// stop, continue); waitpid blocks on it between zombie scans.
	WaitWire wait.Wire_t
	Status   int

	DidExec bool
}

// / ProcessGroup_t is a set of processes sharing a pgid. Leadership is
// / immutable: the leader's pid equals the group's pgid.
type ProcessGroup_t struct {
	sync.Mutex
	Pgid      defs.Pgid_t
	LeaderPid defs.Pid_t
	Sess      *Session_t
	Procs     []*Process_t
}

// / Session_t is a set of process groups sharing a sid and a
// / controlling terminal.
type Session_t struct {
	sync.Mutex
	Sid          defs.Sid_t
	LeaderPgid   defs.Pgid_t
	Groups       []*ProcessGroup_t
}

var (
	regLock      sync.Mutex
	allThreads   []*Thread_t
	threadsByTid = hashtable.MkHash(256)
	procsByPid   = hashtable.MkHash(256)
	nextTid      int32
	nextPid      int32
)

func newTid() defs.Tid_t { return defs.Tid_t(atomic.AddInt32(&nextTid, 1)) }
func newPid() defs.Pid_t { return defs.Pid_t(atomic.AddInt32(&nextPid, 1)) }

func registerThread(t *Thread_t) {
	regLock.Lock()
	allThreads = append(allThreads, t)
	regLock.Unlock()
	threadsByTid.Set(int(t.Tid), t)
}

func unregisterThread(t *Thread_t) {
	regLock.Lock()
	for i, o := range allThreads {
		if o == t {
			allThreads = append(allThreads[:i], allThreads[i+1:]...)
			break
		}
	}
	regLock.Unlock()
	threadsByTid.Del(int(t.Tid))
}

func registerProcess(p *Process_t) {
	procsByPid.Set(int(p.Pid), p)
}

// / AllThreads returns a snapshot of the global thread table, in the
// / order the picker scans it.
func AllThreads() []*Thread_t {
	regLock.Lock()
	defer regLock.Unlock()
	cp := make([]*Thread_t, len(allThreads))
	copy(cp, allThreads)
	return cp
}

// / FindThread looks up a thread by tid.
func FindThread(tid defs.Tid_t) (*Thread_t, bool) {
	v, ok := threadsByTid.Get(int(tid))
	if !ok {
		return nil, false
	}
	return v.(*Thread_t), true
}

// / FindProcess looks up a process by pid.
func FindProcess(pid defs.Pid_t) (*Process_t, bool) {
	v, ok := procsByPid.Get(int(pid))
	if !ok {
		return nil, false
	}
	return v.(*Process_t), true
}

// / CreateProcess allocates a bare process with a fresh pid, linked
// / under parent (nil for the first process). Caller still has to
// / install an address space and create at least one thread. Fails
// / with -defs.ENOMEM once limits.Syslimit.Sysprocs is exhausted.
func CreateProcess(name string, parent *Process_t) (*Process_t, defs.Err_t) {
	if !limits.Syslimit.Sysprocs.Take() {
		return nil, -defs.ENOMEM
	}
	p := &Process_t{
		Name: name,
		As:   &vm.AddressSpace_t{},
		Fds:  map[int]*fd.Fd_t{},
		Sig:  &sig.ProcSig_t{},
		Pid:  newPid(),
	}
	if parent != nil {
		p.Parent = parent
		p.Ppid = parent.Pid
		p.Pgid = parent.Pgid
		p.Sid = parent.Sid
	} else {
		p.Pgid = defs.Pgid_t(p.Pid)
		p.Sid = defs.Sid_t(p.Pid)
	}
	registerProcess(p)
	return p, 0
}

// / CreateThread allocates a fresh thread belonging to proc and adds
// / it to both the process's thread list and the global table.
func CreateThread(proc *Process_t) *Thread_t {
	t := &Thread_t{
		Tid:   newTid(),
		Pid:   proc.Pid,
		Proc:  proc,
		State: Ready,
		CPU:   -1,
		Sig:   sig.NewThreadSig(),
		Note:  &tinfo.Tnote_t{Alive: true},
	}
	registerThread(t)
	proc.Lock()
	proc.Threads = append(proc.Threads, t)
	if proc.MainThread == nil {
		proc.MainThread = t
	}
	proc.Unlock()
	return t
}

// / AddFd installs f at the lowest unused descriptor number and
// / returns it.
func (p *Process_t) AddFd(f *fd.Fd_t) int {
	p.Lock()
	defer p.Unlock()
	n := 0
	for {
		if _, used := p.Fds[n]; !used {
			break
		}
		n++
	}
	p.Fds[n] = f
	if n >= p.nextfd {
		p.nextfd = n + 1
	}
	return n
}

// / Fork produces a child of parent: a COW clone of the address space,
// / a deep copy of the fd table, a copy of the signal-action table,
// / inherited sigmask, and a single thread that is a copy of caller.
func Fork(parent *Process_t, caller *Thread_t) (*Process_t, defs.Err_t) {
	child, err := CreateProcess(parent.Name, parent)
	if err != 0 {
		return nil, err
	}

	if err := parent.As.Fork(child.As); err != 0 {
		unregisterProcess(child)
		return nil, err
	}

	parent.Lock()
	for k, f := range parent.Fds {
		nf, err := fd.Copyfd(f)
		if err != 0 {
			parent.Unlock()
			unregisterProcess(child)
			return nil, err
		}
		child.Fds[k] = nf
	}
	child.Cwd = parent.Cwd
	parent.Sig.Lock()
	child.Sig.Actions = parent.Sig.Actions
	parent.Sig.Unlock()
	parent.Unlock()

	nt := CreateThread(child)
	caller.Lock()
	nt.Sig.Mask = caller.Sig.Mask
	caller.Unlock()

	parent.Lock()
	parent.Children = append(parent.Children, child)
	parent.Unlock()

	return child, 0
}

func unregisterProcess(p *Process_t) {
	procsByPid.Del(int(p.Pid))
	limits.Syslimit.Sysprocs.Give()
}

// killThread marks t Dead. Any wire it was parked on silently drops
// the reference — nothing here wakes it, since nothing needs to: a
// Dead thread is never scheduled again regardless of what it was
// waiting for.
func killThread(t *Thread_t) {
	t.Lock()
	t.State = Dead
	t.Unlock()
	t.Note.Lock()
	t.Note.Alive = false
	t.Note.Killed = true
	t.Note.Unlock()
	unregisterThread(t)
}

// / KillThread marks t Dead and drops it from the global thread table.
// / Exported for callers outside proc (the scheduler tearing down a
// / sibling thread during exec) that need the same bookkeeping Exit
// / and Kill apply to each thread they terminate.
func KillThread(t *Thread_t) {
	killThread(t)
}

// / Exit kills every sibling thread, releases the address space,
// / reparents children and zombies to the grandparent, posts SIGCHLD,
// / and wakes the parent's wait. status is a wait(2)-encoded value
// / (defs.WmkExited/WmkSignaled) rather than a raw exit code, so a
// / caller tearing a process down for a signal can report
// / WIFSIGNALED/WTERMSIG instead of a fabricated clean exit.
func Exit(p *Process_t, status int) {
	p.Lock()
	threads := append([]*Thread_t{}, p.Threads...)
	p.Unlock()
	for _, t := range threads {
		killThread(t)
	}
	p.As.Uvmfree()

	p.Lock()
	children := append([]*Process_t{}, p.Children...)
	zombies := append([]*Process_t{}, p.Zombies...)
	p.Children = nil
	p.Zombies = nil
	parent := p.Parent
	p.Status = status | defs.STATUS_CHANGED
	p.Unlock()

	if parent != nil {
		parent.Lock()
		for _, c := range children {
			c.Parent = parent
			parent.Children = append(parent.Children, c)
		}
		for _, z := range zombies {
			z.Parent = parent
			parent.Zombies = append(parent.Zombies, z)
		}
		removeChildLocked(parent, p)
		parent.Zombies = append(parent.Zombies, p)
		parent.Unlock()

		parent.Sig.Generate(defs.SIGCHLD)
		parent.WaitWire.AriseAll()
	}
	limits.Syslimit.Sysprocs.Give()
}

func removeChildLocked(parent, child *Process_t) {
	for i, c := range parent.Children {
		if c == child {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			return
		}
	}
}

// / Waitpid scans zombies first (reap and return synchronously), else
// / blocks on WaitWire until a child's status changes. pid == -1
// / matches any child.
func Waitpid(parent *Process_t, pid defs.Pid_t) (*Process_t, defs.Err_t) {
	for {
		parent.Lock()
		for i, z := range parent.Zombies {
			if pid == -1 || z.Pid == pid {
				parent.Zombies = append(parent.Zombies[:i], parent.Zombies[i+1:]...)
				z.Lock()
				z.Status &^= defs.STATUS_CHANGED
				z.Unlock()
				parent.Unlock()
				return z, 0
			}
		}
		haschild := false
		for _, c := range parent.Children {
			if pid == -1 || c.Pid == pid {
				haschild = true
				break
			}
		}
		parent.Unlock()
		if !haschild {
			return nil, -defs.ECHILD
		}
		parent.WaitWire.Wait(0)
	}
}

// / Setsid makes p the leader of a new session and a new process
// / group, per the leader-pid-equals-group/session-id invariant
// / original_source/source/sys/sched.cpp enforces. Fails if p is
// / already a process group leader.
func Setsid(p *Process_t) (defs.Sid_t, defs.Err_t) {
	p.Lock()
	defer p.Unlock()
	if p.Pgid == defs.Pgid_t(p.Pid) {
		return 0, -defs.EPERM
	}
	p.Sid = defs.Sid_t(p.Pid)
	p.Pgid = defs.Pgid_t(p.Pid)
	return p.Sid, 0
}

// / Setpgid moves p into group pgid (0 meaning "use p's own pid",
// / making it a new group's leader). A session leader may not change
// / its own group.
func Setpgid(p *Process_t, pgid defs.Pgid_t) defs.Err_t {
	p.Lock()
	defer p.Unlock()
	if p.Sid == defs.Sid_t(p.Pid) {
		return -defs.EPERM
	}
	if pgid == 0 {
		pgid = defs.Pgid_t(p.Pid)
	}
	p.Pgid = pgid
	return 0
}

// / Kill applies the POSIX permission check and, for anything but
// / SIGKILL, simply generates the signal at process scope for Issue to
// / later place on a thread. SIGKILL takes immediate effect: every
// / thread transitions straight to Dead, since it cannot be caught,
// / ignored, or masked.
func Kill(sender, target *Process_t, signo int) defs.Err_t {
	if !sig.CanSignal(sender.RealUID, sender.EffUID, target.RealUID, target.EffUID) {
		return -defs.EPERM
	}
	if signo == defs.SIGKILL {
		target.Lock()
		threads := append([]*Thread_t{}, target.Threads...)
		target.Unlock()
		for _, t := range threads {
			killThread(t)
		}
		return 0
	}
	target.Sig.Generate(signo)
	return 0
}
