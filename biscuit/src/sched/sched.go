// Package sched picks which thread runs next on each CPU, advances
// the clock on the timer interrupt, and owns the fork/exec/exit-reap
// entry points that need to touch scheduling state (marking a forked
// child Ready, retiring a dead thread's CPU slot). The objects it
// schedules — Thread_t, Process_t — live in proc; sched only decides
// order and bookkeeps per-CPU state.
package sched

import "runtime"
import "sort"
import "strings"
import "sync"
import "sync/atomic"

import "golang.org/x/sync/errgroup"
import "golang.org/x/text/language"
import "golang.org/x/text/message"

import "caller"
import "defs"
import "futex"
import "mem"
import "proc"
import "sig"
import "tinfo"

// / Cpu_t is the per-CPU scheduling state: who's running, the idle
// / thread to fall back to, and the kernel stack/TSS/address-space
// / bookkeeping a context switch has to update.
type Cpu_t struct {
	sync.Mutex
	ID      int
	Current *proc.Thread_t
	Idle    *proc.Thread_t
	Kstack  uintptr
	TSSrsp0 uintptr
	TSSist1 uintptr
	As      *proc.Process_t
}

var (
	cpusLock sync.Mutex
	cpus     = map[int]*Cpu_t{}

	clock uint64 // advanced only by CPU 0's timer IRQ

	lockorder caller.Distinct_caller_t
)

// / CPU returns (creating if necessary) the per-CPU state for id.
func CPU(id int) *Cpu_t {
	cpusLock.Lock()
	defer cpusLock.Unlock()
	c, ok := cpus[id]
	if !ok {
		c = &Cpu_t{ID: id}
		cpus[id] = c
	}
	return c
}

// / Ticks returns the number of timer ticks CPU 0 has delivered.
func Ticks() uint64 { return atomic.LoadUint64(&clock) }

// / pickNext is a round-robin picker: scan the global
// / thread table circularly starting just after the previously running
// / thread's tid, returning the first Ready thread found, or the
// / CPU's idle thread if none is runnable.
func pickNext(c *Cpu_t) *proc.Thread_t {
	all := proc.AllThreads()
	if len(all) == 0 {
		return c.Idle
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Tid < all[j].Tid })

	start := 0
	if c.Current != nil {
		for i, t := range all {
			if t.Tid > c.Current.Tid {
				start = i
				break
			}
			start = (i + 1) % len(all)
		}
	}

	for i := 0; i < len(all); i++ {
		t := all[(start+i)%len(all)]
		t.Lock()
		ready := t.State == proc.Ready
		t.Unlock()
		if ready {
			return t
		}
	}
	return c.Idle
}

// / Switch performs the bookkeeping half of a context switch on CPU c:
// / marks the outgoing thread Ready (unless it has already transitioned
// / itself to Sleep/Blocked/Dead/Wait), picks the next thread, marks it
// / Running, and updates the per-CPU current-thread pointers the
// / patched runtime and TSS consult. The actual register/FPU/CR3 save
// / and restore is done by the caller's assembly trampoline; this just
// / decides who and updates the bookkeeping around it.
func Switch(c *Cpu_t) *proc.Thread_t {
	c.Lock()
	prev := c.Current
	c.Unlock()

	if prev != nil {
		prev.Lock()
		if prev.State == proc.Running {
			prev.State = proc.Ready
		}
		prev.CPU = c.ID
		prev.Unlock()
	}

	next := pickNext(c)
	next.Lock()
	next.State = proc.Running
	next.Unlock()

	c.Lock()
	c.Current = next
	if next.Proc != nil {
		c.As = next.Proc
	}
	c.Unlock()

	if next.Note != nil {
		tinfo.SetCurrent(next.Note)
	}
	return next
}

// / Tick is called from the timer IRQ. Only CPU 0 drives the shared
// / clock; every CPU still gets a chance to reschedule on its own
// / interrupt. cpuid is the CPU the interrupt landed on.
func Tick(cpuid int) {
	if cpuid == 0 {
		atomic.AddUint64(&clock, 1)
	}
	c := CPU(cpuid)
	c.Lock()
	cur := c.Current
	c.Unlock()
	if cur == nil {
		return
	}
	cur.Lock()
	cur.Accnt.Utadd(int(1000 * 1000 * 1000 / 100)) // one tick at a 100Hz timer
	cur.Unlock()
	runtime.IRQwake(cpuid)
}

// / Fork wraps proc.Fork and additionally marks the new thread Ready
// / so the picker can find it.
func Fork(parent *proc.Process_t, caller *proc.Thread_t) (*proc.Process_t, defs.Err_t) {
	child, err := proc.Fork(parent, caller)
	if err != 0 {
		return nil, err
	}
	child.MainThread.Lock()
	child.MainThread.State = proc.Ready
	child.MainThread.Unlock()
	return child, 0
}

// / Exec performs the process-wide side effects execve(2) has beyond
// / installing a new image: every sibling thread but the caller is
// / killed, CLOEXEC descriptors are closed, and signal actions that
// / are not SIG_IGN revert to SIG_DFL (SIG_IGN dispositions survive
// / exec per POSIX).
func Exec(p *proc.Process_t, caller *proc.Thread_t) {
	p.Lock()
	siblings := make([]*proc.Thread_t, 0, len(p.Threads))
	for _, t := range p.Threads {
		if t != caller {
			siblings = append(siblings, t)
		}
	}
	p.Threads = []*proc.Thread_t{caller}
	p.MainThread = caller
	for fdn, f := range p.Fds {
		if f.Perms&4 != 0 { // FD_CLOEXEC, mirrored from fd.FD_CLOEXEC
			delete(p.Fds, fdn)
		}
	}
	p.Unlock()

	p.Sig.Lock()
	for i := range p.Sig.Actions {
		if p.Sig.Actions[i].Handler != defs.SIG_IGN {
			p.Sig.Actions[i] = defs.Sigaction_t{}
		}
	}
	p.Sig.Unlock()

	for _, t := range siblings {
		KillThread(t)
	}
	p.DidExec = true
}

// / KillThread tears down a single thread via proc.KillThread. A CPU
// / that was running it notices the Dead state on its next tick and
// / picks someone else in pickNext.
func KillThread(t *proc.Thread_t) {
	proc.KillThread(t)
}

// / Exit tears down p via proc.Exit as a normal exit(code), then wakes
// / every CPU currently running one of p's threads so each notices the
// / Dead state and reschedules away from it immediately rather than
// / waiting for its own next tick.
func Exit(p *proc.Process_t, code int) {
	exitAndBroadcast(p, defs.WmkExited(code))
}

// / ExitSignaled tears down p as proc.Exit does, but records its death
// / as WIFSIGNALED(signo) rather than a clean exit — used when a
// / default-terminating signal, not a voluntary exit(2), killed it.
func ExitSignaled(p *proc.Process_t, signo int) {
	exitAndBroadcast(p, defs.WmkSignaled(signo, false))
}

func exitAndBroadcast(p *proc.Process_t, status int) {
	cpuids := cpusRunning(p)
	proc.Exit(p, status)
	if len(cpuids) > 0 {
		BroadcastIPI(cpuids)
	}
}

func cpusRunning(p *proc.Process_t) []int {
	cpusLock.Lock()
	defer cpusLock.Unlock()
	var ids []int
	for id, c := range cpus {
		c.Lock()
		cur := c.Current
		c.Unlock()
		if cur != nil && cur.Proc == p {
			ids = append(ids, id)
		}
	}
	return ids
}

// / BroadcastIPI wakes every CPU in cpuids concurrently via
// / runtime.IRQwake, fanned out with errgroup rather than a plain
// / sequential loop since an IPI target can be slow to notice its bit
// / (a loaded CPU busy in a long non-preemptible section) and there's
// / no reason the others should wait behind it.
func BroadcastIPI(cpuids []int) error {
	var g errgroup.Group
	for _, id := range cpuids {
		id := id
		g.Go(func() error {
			runtime.IRQwake(id)
			return nil
		})
	}
	return g.Wait()
}

// / FutexWait resolves vaddr in the current thread's address space to
// / a physical address and parks on it unless the word there already
// / differs from expected — the classic check-then-park sequence,
// / with the revalidation done under whatever lock check's closure
// / takes so no wakeup between the check and the park is missed.
func FutexWait(as interface {
	Resolve(int) (mem.Pa_t, bool)
}, vaddr int, check func() bool) defs.Err_t {
	pa, ok := as.Resolve(vaddr)
	if !ok {
		return -defs.EFAULT
	}
	if !futex.Wait(pa, check) {
		return -defs.ENOMEM
	}
	return 0
}

// / FutexWake resolves vaddr and wakes up to n parked waiters (n <= 0
// / meaning "all"), returning how many were actually woken.
func FutexWake(as interface {
	Resolve(int) (mem.Pa_t, bool)
}, vaddr int, n int) (int, defs.Err_t) {
	pa, ok := as.Resolve(vaddr)
	if !ok {
		return 0, -defs.EFAULT
	}
	return futex.Wake(pa, n), 0
}

// / DeliverSignals runs the generate→issue→dispatch pipeline for one
// / process: Issue moves process-pending bits onto an eligible
// / thread, then Dispatch is attempted for every thread so a thread
// / that just became eligible for dispatch (DispatchReady cleared by
// / its own sigreturn) gets a chance this tick.
func DeliverSignals(p *proc.Process_t) []*sig.Decision_t {
	p.Lock()
	threads := append([]*proc.Thread_t{}, p.Threads...)
	p.Unlock()

	cands := make([]sig.Candidate_i, len(threads))
	for i, t := range threads {
		cands[i] = t
	}
	sig.Issue(p.Sig, cands)

	var decisions []*sig.Decision_t
	for _, t := range threads {
		if d := sig.Dispatch(t.Sig, p.Sig); d != nil {
			decisions = append(decisions, d)
			applyDecision(p, t, d)
		}
	}
	return decisions
}

func applyDecision(p *proc.Process_t, t *proc.Thread_t, d *sig.Decision_t) {
	switch d.Outcome {
	case sig.OutcomeTerminate:
		ExitSignaled(p, d.Signo)
	case sig.OutcomeStop:
		t.Lock()
		t.State = proc.Sleep
		t.Unlock()
	case sig.OutcomeContinue:
		t.Lock()
		if t.State == proc.Sleep {
			t.State = proc.Ready
		}
		t.Unlock()
	case sig.OutcomeIgnore, sig.OutcomeHandler, sig.OutcomeNone:
		// OutcomeHandler: caller (syscall return path) builds the
		// trampoline frame from d.Action and t.Sig.Ctx; nothing for
		// the scheduler itself to do.
	}
}

// / AssertLockOrder records the current call chain in the scheduler's
// / lock-hierarchy tracker, printing each first-seen chain so a
// / reviewer chasing a deadlock can see every distinct path that
// / reaches a given lock acquisition.
func AssertLockOrder() {
	if novel, trace := lockorder.Distinct(); novel {
		println(trace)
	}
}

// / Dump renders a one-line-per-CPU snapshot (which thread is running,
// / the shared clock) with thousands-separated tick/time counts, for a
// / debug console command rather than a machine-parsed format.
func Dump() string {
	p := message.NewPrinter(language.English)
	var b strings.Builder
	p.Fprintf(&b, "ticks: %d\n", Ticks())

	cpusLock.Lock()
	ids := make([]int, 0, len(cpus))
	for id := range cpus {
		ids = append(ids, id)
	}
	cpusLock.Unlock()
	sort.Ints(ids)

	for _, id := range ids {
		c := CPU(id)
		c.Lock()
		cur := c.Current
		c.Unlock()
		if cur == nil {
			p.Fprintf(&b, "cpu %d: idle\n", id)
			continue
		}
		cur.Accnt.Lock()
		userns := cur.Accnt.Userns
		cur.Accnt.Unlock()
		p.Fprintf(&b, "cpu %d: tid=%d pid=%d userns=%d\n", id, cur.Tid, cur.Pid, userns)
	}
	return b.String()
}

func init() {
	lockorder.Enabled = false
}
