package archx86

import "golang.org/x/sys/cpu"

// HasXsave reports whether this CPU has AVX, used as a proxy for
// whether the extended XSAVE FPU layout is worth using over the
// legacy 512-byte FXSAVE area. Sampled once at boot; threads created
// afterward all use the same layout.
var HasXsave = cpu.X86.HasAVX

// HasAVX2 is consulted by the same FPU save-area sizing decision as
// HasXsave.
var HasAVX2 = cpu.X86.HasAVX2
