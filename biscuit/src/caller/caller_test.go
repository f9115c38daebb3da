package caller

import "testing"

import "github.com/stretchr/testify/require"

func TestDistinctReportsFalseWhenDisabled(t *testing.T) {
	var dc Distinct_caller_t
	novel, trace := dc.Distinct()
	require.False(t, novel)
	require.Equal(t, "", trace)
	require.Equal(t, 0, dc.Len())
}

func TestDistinctReportsEachCallSiteOnceWhenEnabled(t *testing.T) {
	dc := &Distinct_caller_t{Enabled: true}

	callA := func() (bool, string) { return dc.Distinct() }
	callB := func() (bool, string) { return dc.Distinct() }

	// Both callA invocations must come from the same line: the recorded
	// chain includes this function's own call PC, so calling callA from
	// two different lines would be two distinct chains.
	var novels [2]bool
	var traces [2]string
	for i := range novels {
		novels[i], traces[i] = callA()
	}
	require.True(t, novels[0])
	require.NotEqual(t, "", traces[0])

	require.False(t, novels[1])
	require.Equal(t, 1, dc.Len())

	novel, _ := callB()
	require.True(t, novel)
	require.Equal(t, 2, dc.Len())
}

func TestDistinctSkipsWhitelistedCaller(t *testing.T) {
	probe := &Distinct_caller_t{Enabled: true}
	_, trace := probe.Distinct()
	firstFn := trace[:indexOf(trace, ' ')]

	dc := &Distinct_caller_t{
		Enabled: true,
		Whitel:  map[string]bool{firstFn: true},
	}
	novel, trace := dc.Distinct()
	require.False(t, novel)
	require.Equal(t, "", trace)
}

func indexOf(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return len(s)
}
