package sched

import "testing"

import "github.com/stretchr/testify/require"

import "defs"
import "proc"
import "sig"

func mustCreateProcess(t *testing.T, name string, parent *proc.Process_t) *proc.Process_t {
	t.Helper()
	p, err := proc.CreateProcess(name, parent)
	require.Equal(t, defs.Err_t(0), err)
	return p
}

func freshCPU(id int) *Cpu_t {
	c := CPU(id)
	c.Lock()
	c.Current = nil
	c.Idle = &proc.Thread_t{State: proc.Running}
	c.Unlock()
	return c
}

// quiesce marks every currently-registered thread non-Ready so a test
// starts from a clean picker state regardless of what earlier tests in
// this binary left behind.
func quiesce() {
	for _, th := range proc.AllThreads() {
		th.Lock()
		if th.State == proc.Ready {
			th.State = proc.Blocked
		}
		th.Unlock()
	}
}

func TestPickNextFallsBackToIdleWhenNoneReady(t *testing.T) {
	quiesce()
	c := freshCPU(100)
	p := mustCreateProcess(t, "idletest", nil)
	th := proc.CreateThread(p)
	th.Lock()
	th.State = proc.Blocked
	th.Unlock()

	got := pickNext(c)
	require.Same(t, c.Idle, got)
}

func TestPickNextReturnsTheOnlyReadyThread(t *testing.T) {
	quiesce()
	c := freshCPU(101)
	p := mustCreateProcess(t, "readytest", nil)
	ready := proc.CreateThread(p)
	other := proc.CreateThread(p)
	other.Lock()
	other.State = proc.Blocked
	other.Unlock()
	// ready stays in its default Ready state from CreateThread.

	got := pickNext(c)
	require.Same(t, ready, got)

	ready.Lock()
	ready.State = proc.Blocked
	ready.Unlock()
}

func TestSwitchMarksOutgoingReadyAndIncomingRunning(t *testing.T) {
	quiesce()
	c := freshCPU(102)
	p := mustCreateProcess(t, "switchtest", nil)
	prev := proc.CreateThread(p)
	prev.Lock()
	prev.State = proc.Running
	prev.Unlock()
	c.Lock()
	c.Current = prev
	c.Unlock()

	next := proc.CreateThread(p)
	// Switch marks prev Ready before picking, but the scan starts just
	// after prev's tid, so it reaches next first.

	got := Switch(c)
	require.Same(t, next, got)

	prev.Lock()
	prevState := prev.State
	prev.Unlock()
	require.Equal(t, proc.Ready, prevState)

	next.Lock()
	nextState := next.State
	next.Unlock()
	require.Equal(t, proc.Running, nextState)

	next.Lock()
	next.State = proc.Blocked
	next.Unlock()
}

func TestTickAdvancesClockOnlyForCPUZero(t *testing.T) {
	before := Ticks()
	Tick(0)
	require.Equal(t, before+1, Ticks())

	Tick(7)
	require.Equal(t, before+1, Ticks())
}

func TestDeliverSignalsAppliesStopThenContinue(t *testing.T) {
	p := mustCreateProcess(t, "stopcont", nil)
	th := proc.CreateThread(p)
	th.Lock()
	th.State = proc.Running
	th.Unlock()

	p.Sig.Generate(defs.SIGTSTP) // default-stop, no installed handler
	decisions := DeliverSignals(p)
	require.Len(t, decisions, 1)
	require.Equal(t, sig.OutcomeStop, decisions[0].Outcome)

	th.Lock()
	state := th.State
	th.Unlock()
	require.Equal(t, proc.Sleep, state)

	p.Sig.Generate(defs.SIGCONT)
	decisions = DeliverSignals(p)
	require.Len(t, decisions, 1)
	require.Equal(t, sig.OutcomeContinue, decisions[0].Outcome)

	th.Lock()
	state = th.State
	th.Unlock()
	require.Equal(t, proc.Ready, state)

	th.Lock()
	th.State = proc.Blocked
	th.Unlock()
}

func TestDeliverSignalsIgnoresDefaultIgnoreSignal(t *testing.T) {
	p := mustCreateProcess(t, "ignoretest", nil)
	th := proc.CreateThread(p)
	th.Lock()
	th.State = proc.Running
	th.Unlock()

	p.Sig.Generate(defs.SIGCHLD) // default-ignore
	decisions := DeliverSignals(p)
	require.Len(t, decisions, 1)
	require.Equal(t, sig.OutcomeIgnore, decisions[0].Outcome)

	th.Lock()
	th.State = proc.Blocked
	th.Unlock()
}

func TestDeliverSignalsNoPendingSignalsReturnsNil(t *testing.T) {
	p := mustCreateProcess(t, "nosignal", nil)
	proc.CreateThread(p)
	require.Nil(t, DeliverSignals(p))
}

func TestExecKillsSiblingsAndKeepsOnlyCaller(t *testing.T) {
	p := mustCreateProcess(t, "exectest", nil)
	caller := proc.CreateThread(p)
	sibling := proc.CreateThread(p)
	sibling.Lock()
	sibling.State = proc.Blocked
	sibling.Unlock()

	Exec(p, caller)

	p.Lock()
	threads := append([]*proc.Thread_t{}, p.Threads...)
	main := p.MainThread
	didExec := p.DidExec
	p.Unlock()

	require.Equal(t, []*proc.Thread_t{caller}, threads)
	require.Same(t, caller, main)
	require.True(t, didExec)

	sibling.Lock()
	deadState := sibling.State
	sibling.Unlock()
	require.Equal(t, proc.Dead, deadState)
}

func TestAssertLockOrderDoesNotPanic(t *testing.T) {
	require.NotPanics(t, func() { AssertLockOrder() })
}

func TestCpusRunningFindsOwner(t *testing.T) {
	p := mustCreateProcess(t, "cpuowner", nil)
	th := proc.CreateThread(p)
	c := CPU(200)
	c.Lock()
	c.Current = th
	c.Unlock()

	ids := cpusRunning(p)
	require.Contains(t, ids, 200)
}
