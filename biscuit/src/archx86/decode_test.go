package archx86

import "strings"
import "testing"

import "github.com/stretchr/testify/require"

func TestDescribeFaultDecodesValidInstruction(t *testing.T) {
	// 0x90 is NOP in every x86 mode.
	desc := DescribeFault([]uint8{0x90}, 0x401000)
	require.True(t, strings.Contains(desc, "401000"))
	require.True(t, strings.Contains(strings.ToUpper(desc), "NOP"))
}

func TestDescribeFaultReportsUndecodable(t *testing.T) {
	desc := DescribeFault([]uint8{}, 0x401000)
	require.True(t, strings.Contains(desc, "undecodable"))
}
