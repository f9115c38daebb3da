package proc

import "testing"
import "time"

import "github.com/stretchr/testify/require"

import "defs"
import "limits"

func mustCreateProcess(t *testing.T, name string, parent *Process_t) *Process_t {
	t.Helper()
	p, err := CreateProcess(name, parent)
	require.Equal(t, defs.Err_t(0), err)
	return p
}

func TestCreateProcessInheritsParentGroupAndSession(t *testing.T) {
	parent := mustCreateProcess(t, "parent", nil)
	require.Equal(t, defs.Pgid_t(parent.Pid), parent.Pgid)
	require.Equal(t, defs.Sid_t(parent.Pid), parent.Sid)

	child := mustCreateProcess(t, "child", parent)
	require.Equal(t, parent.Pid, child.Ppid)
	require.Equal(t, parent.Pgid, child.Pgid)
	require.Equal(t, parent.Sid, child.Sid)
}

func TestCreateProcessRefusedOnceSysprocsExhausted(t *testing.T) {
	save := limits.Syslimit.Sysprocs
	limits.Syslimit.Sysprocs = 0
	defer func() { limits.Syslimit.Sysprocs = save }()

	p, err := CreateProcess("overquota", nil)
	require.Nil(t, p)
	require.Equal(t, -defs.ENOMEM, err)
}

func TestCreateThreadRegistersGlobally(t *testing.T) {
	p := mustCreateProcess(t, "t", nil)
	th := CreateThread(p)
	require.Equal(t, Ready, th.State)
	require.Same(t, p.MainThread, th)

	found, ok := FindThread(th.Tid)
	require.True(t, ok)
	require.Same(t, th, found)

	foundp, ok := FindProcess(p.Pid)
	require.True(t, ok)
	require.Same(t, p, foundp)
}

func TestAddFdPicksLowestFree(t *testing.T) {
	p := mustCreateProcess(t, "fds", nil)
	a := p.AddFd(nil)
	b := p.AddFd(nil)
	require.Equal(t, 0, a)
	require.Equal(t, 1, b)

	p.Lock()
	delete(p.Fds, 0)
	p.Unlock()
	p.nextfd = 0

	c := p.AddFd(nil)
	require.Equal(t, 0, c)
}

func TestWaitpidReapsExistingZombieWithoutBlocking(t *testing.T) {
	parent := mustCreateProcess(t, "parent2", nil)
	zombie := mustCreateProcess(t, "zombie", parent)
	zombie.Status = defs.WmkExited(7) | defs.STATUS_CHANGED

	parent.Lock()
	parent.Zombies = append(parent.Zombies, zombie)
	parent.Unlock()

	got, err := Waitpid(parent, zombie.Pid)
	require.Equal(t, defs.Err_t(0), err)
	require.Same(t, zombie, got)
	require.True(t, defs.WIFEXITED(got.Status&^defs.STATUS_CHANGED))
	require.Equal(t, 7, defs.WEXITSTATUS(got.Status&^defs.STATUS_CHANGED))
}

func TestWaitpidNoChildReturnsECHILD(t *testing.T) {
	parent := mustCreateProcess(t, "lonely", nil)
	_, err := Waitpid(parent, -1)
	require.Equal(t, -defs.ECHILD, err)
}

func TestWaitpidBlocksThenWakesOnArise(t *testing.T) {
	parent := mustCreateProcess(t, "parent3", nil)
	child := mustCreateProcess(t, "child3", parent)
	parent.Lock()
	parent.Children = append(parent.Children, child)
	parent.Unlock()

	done := make(chan *Process_t, 1)
	go func() {
		got, _ := Waitpid(parent, child.Pid)
		done <- got
	}()

	for parent.WaitWire.Npending() == 0 {
		time.Sleep(time.Millisecond)
	}

	parent.Lock()
	for i, c := range parent.Children {
		if c == child {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			break
		}
	}
	child.Status = defs.WmkExited(0) | defs.STATUS_CHANGED
	parent.Zombies = append(parent.Zombies, child)
	parent.Unlock()
	parent.WaitWire.AriseAll()

	got := <-done
	require.Same(t, child, got)
}

func TestSetsidThenSetpgidDenied(t *testing.T) {
	p := mustCreateProcess(t, "sess", nil)
	p.Pgid = 999 // not its own leader yet

	sid, err := Setsid(p)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, defs.Sid_t(p.Pid), sid)
	require.Equal(t, defs.Pgid_t(p.Pid), p.Pgid)

	err = Setpgid(p, 42)
	require.Equal(t, -defs.EPERM, err)
}

func TestKillSigkillTerminatesEveryThread(t *testing.T) {
	sender := mustCreateProcess(t, "killer", nil)
	target := mustCreateProcess(t, "victim", nil)
	t1 := CreateThread(target)
	t2 := CreateThread(target)

	err := Kill(sender, target, defs.SIGKILL)
	require.Equal(t, defs.Err_t(0), err)

	t1.Lock()
	s1 := t1.State
	t1.Unlock()
	t2.Lock()
	s2 := t2.State
	t2.Unlock()
	require.Equal(t, Dead, s1)
	require.Equal(t, Dead, s2)
}

func TestKillPermissionDenied(t *testing.T) {
	sender := mustCreateProcess(t, "unrelated", nil)
	sender.RealUID, sender.EffUID = 1000, 1000
	target := mustCreateProcess(t, "other", nil)
	target.RealUID, target.EffUID = 2000, 2000

	err := Kill(sender, target, defs.SIGUSR1)
	require.Equal(t, -defs.EPERM, err)
}
