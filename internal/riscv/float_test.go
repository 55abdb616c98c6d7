package riscv

import "testing"

// fdiv.s computing 1.0/3.0 is inexact and must set fflags.NX, with the
// correctly rounded (round-to-nearest-even) single-precision result.
func TestFDivInexactSetsNXFlag(t *testing.T) {
	h := newTestHart()
	base := h.PC

	const one = 0x3F800000 // 1.0f
	const three = 0x40400000 // 3.0f
	h.WriteFReg(1, one)
	h.WriteFReg(2, three)

	prog := []uint32{
		asmFDIVS(3, 1, 2, 0), // rm=0: round to nearest, ties to even
		asmEBREAK(),
	}
	loadProgram(h.LSU.bus.store, base, prog)
	if err := runUntil(h, base+4, 20); err != nil {
		t.Fatalf("program did not reach ebreak: %v", err)
	}

	const want = 0x3EAAAAAB
	if got := h.ReadFReg(3); got != want {
		t.Fatalf("fdiv.s result = %#x, want %#x", got, want)
	}
	if h.CSR.Fflags&FlagNX == 0 {
		t.Fatalf("fflags = %#x, want NX set", h.CSR.Fflags)
	}
}
