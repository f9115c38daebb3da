// Package sig implements the signal-disposition state machine:
// per-process pending sets and action tables, per-thread pending and
// masked sets, and the generate → issue → dispatch → sigreturn
// pipeline. It knows nothing about threads or processes as scheduler
// entities (that would be an import cycle back into proc) — callers
// pass in the small interfaces below instead.
package sig

import "sync"

import "defs"
import "vm"
import "wait"

// / Ucontext_t is the frozen register+FPU snapshot captured when a
// / user handler is dispatched, restored verbatim by sigreturn.
type Ucontext_t struct {
	Rax, Rbx, Rcx, Rdx, Rbp, Rdi, Rsi uint64
	R8, R9, R10, R11, R12, R13, R14, R15 uint64
	Rsp, Rip, Rflags uint64
	Fpstate *[64]uintptr
}

// / ThreadSig_t is the per-thread half of the signal model: the
// / thread-pending and thread-mask sets, the delivered set (for
// / sigsuspend-style waits), the dispatch-ready latch that blocks
// / re-entrant dispatch while a handler's sigreturn is outstanding,
// / and the wire a thread blocks on while awaiting a signal.
type ThreadSig_t struct {
	sync.Mutex
	Pending       defs.Sigset_t
	Mask          defs.Sigset_t
	Delivered     defs.Sigset_t
	DispatchReady bool
	Wire          wait.Wire_t
	Ctx           Ucontext_t
	SigKstack     uintptr
	SigUstack     uintptr
}

// / NewThreadSig returns a thread signal state with an initialized
// / FPU snapshot buffer.
func NewThreadSig() *ThreadSig_t {
	return &ThreadSig_t{Ctx: Ucontext_t{Fpstate: vm.Mkfxbuf()}}
}

// / ProcSig_t is the per-process half: the action table and the
// / process-pending set signals land in before being issued to a
// / thread.
type ProcSig_t struct {
	sync.Mutex
	Actions [defs.SIGNAL_MAX]defs.Sigaction_t
	Pending defs.Sigset_t
}

// / Generate marks signo pending at process scope. SIGKILL/SIGSTOP
// / bypass the action table entirely at dispatch time regardless of
// / what Actions holds for them (defs.Sigset_t.Add already refuses to
// / let either be masked, but the action table is not consulted for
// / them either — callers handling SIGKILL/SIGSTOP terminate/stop the
// / target directly rather than routing through Dispatch).
func (ps *ProcSig_t) Generate(signo int) {
	ps.Lock()
	ps.Pending.Add(signo)
	ps.Unlock()
}

// / Candidate_i is a thread, from sig's point of view: enough to
// / decide whether process-pending signals should land on it.
type Candidate_i interface {
	SigState() *ThreadSig_t
	// Interruptible reports whether the thread is blocked with
	// allow_signals set — Issue prefers such a thread so the signal
	// is observed without waiting for the thread to next run.
	Interruptible() bool
}

// / Issue moves each process-pending signal to one thread-pending set
// / among candidates whose mask allows it, preferring an interruptibly
// / blocked thread. A signal with no eligible candidate stays
// / process-pending for the next Issue call.
func Issue(ps *ProcSig_t, candidates []Candidate_i) {
	ps.Lock()
	pending := ps.Pending
	ps.Unlock()
	if pending.Empty() {
		return
	}
	for signo := 1; signo < defs.SIGNAL_MAX; signo++ {
		if !pending.Has(signo) {
			continue
		}
		var chosen Candidate_i
		for _, c := range candidates {
			ts := c.SigState()
			ts.Lock()
			allowed := !ts.Mask.Has(signo)
			ts.Unlock()
			if !allowed {
				continue
			}
			if chosen == nil {
				chosen = c
			}
			if c.Interruptible() {
				chosen = c
				break
			}
		}
		if chosen == nil {
			continue
		}
		ps.Lock()
		ps.Pending.Del(signo)
		ps.Unlock()
		ts := chosen.SigState()
		ts.Lock()
		ts.Pending.Add(signo)
		ts.Unlock()
	}
}

// / Outcome classifies what Dispatch decided to do with a signal.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeIgnore
	OutcomeTerminate
	OutcomeStop
	OutcomeContinue
	OutcomeHandler
)

// / Decision_t is Dispatch's result: the signal it picked and what the
// / caller (proc/sched) must now do about it.
type Decision_t struct {
	Signo   int
	Outcome Outcome
	Action  defs.Sigaction_t // meaningful only for OutcomeHandler
}

// / Dispatch picks the lowest unmasked thread-pending signal and
// / classifies it against the process's action table. It returns nil
// / if dispatch is not possible right now: nothing pending, or a
// / handler dispatch is already outstanding (DispatchReady) and the
// / caller must wait for sigreturn. OutcomeHandler latches
// / DispatchReady and records the signal as delivered; the caller is
// / responsible for actually building the trampoline frame and
// / swapping stacks, using Action and the thread's Ctx/SigKstack/
// / SigUstack.
func Dispatch(ts *ThreadSig_t, ps *ProcSig_t) *Decision_t {
	ts.Lock()
	if ts.DispatchReady {
		ts.Unlock()
		return nil
	}
	bit := (ts.Pending &^ ts.Mask).Lowest()
	if bit == 0 {
		ts.Unlock()
		return nil
	}
	ts.Pending.Del(bit)
	ts.Unlock()

	ps.Lock()
	act := ps.Actions[bit-1]
	ps.Unlock()

	d := &Decision_t{Signo: bit}
	switch act.Handler {
	case defs.SIG_IGN:
		d.Outcome = OutcomeIgnore
	case defs.SIG_DFL:
		switch {
		case defs.DefaultIsIgnore(bit):
			d.Outcome = OutcomeIgnore
		case defs.DefaultIsStop(bit):
			d.Outcome = OutcomeStop
		case defs.DefaultIsContinue(bit):
			d.Outcome = OutcomeContinue
		default:
			d.Outcome = OutcomeTerminate
		}
	default:
		d.Outcome = OutcomeHandler
		d.Action = act
		ts.Lock()
		ts.DispatchReady = true
		ts.Delivered.Add(bit)
		ts.Unlock()
	}
	return d
}

// / Sigreturn restores the saved context and clears DispatchReady so
// / further signals may be dispatched.
func Sigreturn(ts *ThreadSig_t) Ucontext_t {
	ts.Lock()
	defer ts.Unlock()
	saved := ts.Ctx
	ts.DispatchReady = false
	return saved
}

// / CanSignal applies the POSIX kill(2) permission check: uid 0 may
// / signal anyone; otherwise one of the sender's real/effective uids
// / must match one of the target's.
func CanSignal(senderUID, senderEUID, targetUID, targetEUID int) bool {
	if senderUID == 0 {
		return true
	}
	return senderUID == targetUID || senderUID == targetEUID ||
		senderEUID == targetUID || senderEUID == targetEUID
}
