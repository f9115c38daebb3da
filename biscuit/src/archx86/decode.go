// Package archx86 holds x86-64-specific helpers shared by the
// scheduler and signal subsystem: decoding the faulting instruction
// for diagnostics and reporting which CPU extensions this machine
// actually has.
package archx86

import "fmt"

import "golang.org/x/arch/x86/x86asm"

// / DescribeFault decodes the instruction at rip (the bytes the
// / caller copied out of the faulting address space before the page
// / fault handler released its lock) and returns a one-line
// / description for a SIGSEGV/SIGBUS diagnostic message. It never
// / fails loudly: an undecodable instruction yields a message saying
// / so rather than an error the caller has to plumb through a signal
// / handler.
func DescribeFault(code []uint8, rip uintptr) string {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return fmt.Sprintf("rip=%#x <undecodable: %v>", rip, err)
	}
	return fmt.Sprintf("rip=%#x %v", rip, inst)
}
