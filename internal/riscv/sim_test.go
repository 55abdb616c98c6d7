package riscv

import "testing"

// A pending ACLINT timer compare, with mie.MTIE and mstatus.MIE set, must
// be taken as an M-mode timer interrupt on the next Step.
func TestTimerInterruptTaken(t *testing.T) {
	store := NewBackingStore()
	bus := NewBus(store, RAMBase, 4<<20)
	aclint := NewACLINT(1, 1_000_000)
	h := NewHart(0, bus, 64, 16)
	h.CSR.ACLINT = aclint
	h.PC = RAMBase

	loadProgram(store, h.PC, []uint32{asmADDI(1, 0, 1)})

	if err := aclint.Write(aclintMtimeBase, 4, 5); err != nil {
		t.Fatalf("set mtime: %v", err)
	}
	if err := aclint.Write(aclintMtimecmpBase, 4, 1); err != nil { // already elapsed
		t.Fatalf("set mtimecmp: %v", err)
	}
	if err := aclint.Write(aclintMtimecmpBase+4, 4, 0); err != nil { // reset value is all-ones
		t.Fatalf("set mtimecmp high word: %v", err)
	}

	h.CSR.Mie |= MipMTIP
	h.CSR.Mstatus |= MstatusMIE

	if err := h.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if h.CSR.Mcause != CauseMTimerInt {
		t.Fatalf("mcause = %#x, want CauseMTimerInt", h.CSR.Mcause)
	}
	if h.CSR.Mepc != RAMBase {
		t.Fatalf("mepc = %#x, want %#x (interrupted instruction not yet retired)", h.CSR.Mepc, RAMBase)
	}
}
