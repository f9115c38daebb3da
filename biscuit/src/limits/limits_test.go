package limits

import "sync"
import "testing"

import "github.com/stretchr/testify/require"

func TestTakenRefusesBelowZero(t *testing.T) {
	var s Sysatomic_t = 1
	require.True(t, s.Taken(1))
	require.False(t, s.Taken(1))
	require.Equal(t, Sysatomic_t(0), s)
}

func TestGivenRestoresCapacity(t *testing.T) {
	var s Sysatomic_t = 0
	require.False(t, s.Take())
	s.Give()
	require.True(t, s.Take())
}

func TestTakenConcurrentNeverGoesNegative(t *testing.T) {
	var s Sysatomic_t = 100
	var wg sync.WaitGroup
	successes := make(chan bool, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			successes <- s.Take()
		}()
	}
	wg.Wait()
	close(successes)
	n := 0
	for ok := range successes {
		if ok {
			n++
		}
	}
	require.Equal(t, 100, n)
	require.Equal(t, Sysatomic_t(0), s)
}

func TestMkSysLimitDefaults(t *testing.T) {
	l := MkSysLimit()
	require.Equal(t, Sysatomic_t(1e4), l.Sysprocs)
	require.Equal(t, Sysatomic_t(1024), l.Futexes)
	require.Equal(t, Sysatomic_t(100000), l.Blocks)
	require.Equal(t, 20000, l.Vnodes)
}
