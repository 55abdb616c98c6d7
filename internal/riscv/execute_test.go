package riscv

import (
	"errors"
	"testing"
)

// Sums 1..10 into x2 via a decrementing loop, mirroring a typical
// bring-up smoke test for a fresh core: addi/add/bne control flow only.
func TestAddLoopSumsToFiftyFive(t *testing.T) {
	h := newTestHart()
	base := h.PC
	prog := []uint32{
		asmADDI(1, 0, 10), // x1 = 10 (counter)
		asmADDI(2, 0, 0),  // x2 = 0 (accumulator)
		asmADD(2, 2, 1),   // loop: x2 += x1
		asmADDI(1, 1, uint32(int32(-1))&0xFFF), // x1 -= 1
		asmBNE(1, 0, uint32(int32(-8))&0x1FFF), // branch back to loop while x1 != 0
		asmEBREAK(),
	}
	loadProgram(h.LSU.bus.store, base, prog)

	stop := base + 5*4
	if err := runUntil(h, stop, 1000); err != nil {
		t.Fatalf("program did not reach ebreak: %v", err)
	}
	if got := h.ReadReg(2); got != 55 {
		t.Fatalf("x2 = %d, want 55", got)
	}
}

// A breakpoint exception's mepc must equal the ebreak instruction's own
// address, never the following instruction.
func TestEbreakTrapsWithMepcAtFaultingInstruction(t *testing.T) {
	h := newTestHart()
	base := h.PC
	prog := []uint32{
		asmADDI(1, 0, 5),
		asmEBREAK(),
		asmADDI(1, 1, 1),
	}
	loadProgram(h.LSU.bus.store, base, prog)

	if err := h.Step(); err != nil { // addi
		t.Fatalf("step 1: %v", err)
	}
	err := h.Step() // ebreak
	var te *TrapError
	if !errors.As(err, &te) || te.Cause != CauseBreakpoint {
		t.Fatalf("step 2: err = %v, want a breakpoint *TrapError", err)
	}
	if h.CSR.Mcause != CauseBreakpoint {
		t.Fatalf("mcause = %#x, want CauseBreakpoint", h.CSR.Mcause)
	}
	wantPC := base + 4
	if h.CSR.Mepc != wantPC {
		t.Fatalf("mepc = %#x, want %#x (ebreak address)", h.CSR.Mepc, wantPC)
	}
	if h.Priv != PrivMachine {
		t.Fatalf("priv = %d, want machine (no delegation)", h.Priv)
	}
}

// gpr[0] is hardwired to zero regardless of what's written to it.
func TestX0AlwaysReadsZero(t *testing.T) {
	h := newTestHart()
	h.WriteReg(0, 0xDEADBEEF)
	if got := h.ReadReg(0); got != 0 {
		t.Fatalf("x0 = %#x, want 0", got)
	}
}

// mul (low word) and mulh (high word) combined must reconstruct the true
// signed 64-bit product.
func TestMulhReconstructsFullWidthProduct(t *testing.T) {
	h := newTestHart()
	base := h.PC
	const a = uint32(0xFFFF0001) // large negative as signed
	const b = uint32(0x7FFFFFFF) // large positive
	h.WriteReg(1, a)
	h.WriteReg(2, b)

	prog := []uint32{
		asmMUL(3, 1, 2),
		asmMULH(4, 1, 2),
		asmEBREAK(),
	}
	loadProgram(h.LSU.bus.store, base, prog)
	if err := runUntil(h, base+2*4, 100); err != nil {
		t.Fatalf("program did not reach ebreak: %v", err)
	}

	want := int64(int32(a)) * int64(int32(b))
	gotLo := h.ReadReg(3)
	gotHi := h.ReadReg(4)
	got := int64(gotHi)<<32 | int64(uint32(gotLo))
	if got != want {
		t.Fatalf("mul/mulh reconstructed %#x, want %#x", uint64(got), uint64(want))
	}
}
