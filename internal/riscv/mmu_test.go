package riscv

import "testing"

// A mega-page PTE with the U bit clear is inaccessible from user mode but
// reachable from supervisor mode (without SUM, a supervisor load of
// non-U-marked memory is exactly what Sv32 permits).
func TestSv32MegaPagePermissionByPrivilege(t *testing.T) {
	store := NewBackingStore()
	bus := NewBus(store, RAMBase, 4<<20)
	h := NewHart(0, bus, 64, 16)
	// Accesses below M-mode need a matching PMP entry: permit everything.
	h.LSU.PMP.WriteAddr(0, 0xFFFFFFFF>>2)
	h.LSU.PMP.WriteCfg(0, uint32(PmpTOR<<3|PmpR|PmpW|PmpX))

	const rootPPN = 0x80200 // page-table root, physical page number
	const dataVPN1 = 0x200  // VA 0x8000_0000 >> 22
	const dataPPN = 0x80000 // identity-mapped mega-page backing RAMBase

	rootPA := rootPPN << 12
	pte := (dataPPN << 10) | PteD | PteA | PteR | PteV // no PteU: supervisor-only
	if err := store.Store(rootPA+dataVPN1*4, 4, pte); err != nil {
		t.Fatalf("install pte: %v", err)
	}

	satp := (SatpModeSv32 << 31) | uint32(rootPPN)
	h.LSU.MMU.SetSatp(satp)

	va := RAMBase + 0x40
	if err := store.Store(va, 4, 0x12345678); err != nil {
		t.Fatalf("seed data: %v", err)
	}

	if _, err := h.LSU.Load(va, 4, PrivSupervisor, false, false); err != nil {
		t.Fatalf("supervisor load should succeed through mega-page: %v", err)
	}

	if _, err := h.LSU.Load(va, 4, PrivUser, false, false); err == nil {
		t.Fatalf("user load should page-fault: pte has no U bit")
	}
}
