package riscv

// TLBEntry caches one Sv32 translation: the vpn1:vpn0 tag, whether it was
// resolved as a mega-page (4 MiB, level-1 leaf), the resulting PPN, and the
// permission bits carried from the leaf PTE.
type TLBEntry struct {
	valid   bool
	mega    bool
	vpn1    uint32
	vpn0    uint32
	ppn     uint32
	perm    uint32 // PteR|PteW|PteX|PteU|PteG|PteA|PteD
	asidTag uint32 // satp value in effect when cached, for flush-on-satp-change
}

const tlbSize = 64

// MMU implements the Sv32 two-level page walk with a direct-mapped TLB.
type MMU struct {
	bus  *Bus
	tlb  [tlbSize]TLBEntry
	satp uint32
}

// NewMMU creates an MMU walking page tables through bus.
func NewMMU(bus *Bus) *MMU {
	return &MMU{bus: bus}
}

// SetSatp installs a new satp value. The TLB is not cleared: entries cached
// under another satp stop hitting because of their asidTag, and only Flush
// (sfence.vma) invalidates them.
func (m *MMU) SetSatp(satp uint32) {
	m.satp = satp
}

// Flush invalidates the whole TLB. Called on sfence.vma.
func (m *MMU) Flush() {
	for i := range m.tlb {
		m.tlb[i] = TLBEntry{}
	}
}

func vpn(va uint32) (vpn1, vpn0, offset uint32) {
	return (va >> 22) & 0x3FF, (va >> 12) & 0x3FF, va & 0xFFF
}

func tlbIndex(vpn1, vpn0 uint32) int {
	return int((vpn1*31 + vpn0) % tlbSize)
}

// Translate resolves a virtual address to a physical address under the
// current satp, privilege, mstatus.SUM/MXR, and access kind. When satp's
// mode is Bare, va passes through unchanged.
func (m *MMU) Translate(va uint32, access AccessKind, priv Privilege, sum, mxr bool) (uint32, error) {
	mode := (m.satp >> 31) & 1
	if mode == SatpModeBare || priv == PrivMachine {
		return va, nil
	}

	vpn1, vpn0, offset := vpn(va)
	idx := tlbIndex(vpn1, vpn0)
	e := &m.tlb[idx]
	if e.valid && e.asidTag == m.satp && e.vpn1 == vpn1 && (e.mega || e.vpn0 == vpn0) {
		if perr := m.checkPerm(e.perm, access, priv, sum, mxr); perr != nil {
			return 0, perr
		}
		if e.mega {
			return (e.ppn << 22) | (va & (MegaSize - 1)), nil
		}
		return (e.ppn << 12) | offset, nil
	}

	ppn, perm, mega, err := m.walk(vpn1, vpn0, access, priv)
	if err != nil {
		return 0, err
	}
	if perr := m.checkPerm(perm, access, priv, sum, mxr); perr != nil {
		return 0, perr
	}

	*e = TLBEntry{valid: true, mega: mega, vpn1: vpn1, vpn0: vpn0, ppn: ppn, perm: perm, asidTag: m.satp}
	if mega {
		return (ppn << 22) | (va & (MegaSize - 1)), nil
	}
	return (ppn << 12) | offset, nil
}

func (m *MMU) pageFaultCause(access AccessKind) uint32 {
	switch access {
	case AccessExecute:
		return CauseInsnPageFault
	case AccessWrite:
		return CauseStorePageFault
	default:
		return CauseLoadPageFault
	}
}

// walk performs the 2-level Sv32 page walk, returning the resolved PPN
// (shifted to the leaf's granularity), the raw PTE's permission-relevant
// bits, and whether the leaf was found at level 1 (mega-page).
func (m *MMU) walk(vpn1, vpn0 uint32, access AccessKind, priv Privilege) (ppn uint32, perm uint32, mega bool, err error) {
	root := (m.satp & 0x3FFFFF) << 12

	pte1Addr := root + vpn1*4
	raw, rerr := m.bus.Read(pte1Addr, 4)
	if rerr != nil {
		return 0, 0, false, &TrapError{Cause: accessFaultCause(access), Tval: uint32(0)}
	}
	if raw&PteV == 0 || (raw&PteR == 0 && raw&PteW != 0) {
		return 0, 0, false, &TrapError{Cause: m.pageFaultCause(access)}
	}
	if raw&(PteR|PteX) != 0 {
		// Level-1 leaf: a 4 MiB mega-page.
		return raw >> 20, raw & 0xFF, true, nil
	}

	childBase := (raw >> 10) << 12
	pte0Addr := childBase + vpn0*4
	raw0, rerr0 := m.bus.Read(pte0Addr, 4)
	if rerr0 != nil {
		return 0, 0, false, &TrapError{Cause: accessFaultCause(access)}
	}
	if raw0&PteV == 0 || (raw0&PteR == 0 && raw0&PteW != 0) {
		return 0, 0, false, &TrapError{Cause: m.pageFaultCause(access)}
	}
	if raw0&(PteR|PteW|PteX) == 0 {
		// Non-leaf at the final level is malformed for Sv32 (only 2 levels).
		return 0, 0, false, &TrapError{Cause: m.pageFaultCause(access)}
	}
	return raw0 >> 10, raw0 & 0xFF, false, nil
}

func (m *MMU) checkPerm(perm uint32, access AccessKind, priv Privilege, sum, mxr bool) error {
	if perm&PteA == 0 {
		return &TrapError{Cause: m.pageFaultCause(access)}
	}
	if access == AccessWrite && perm&PteD == 0 {
		return &TrapError{Cause: m.pageFaultCause(access)}
	}
	isUser := perm&PteU != 0
	if isUser && priv == PrivSupervisor && !(sum && access != AccessExecute) {
		return &TrapError{Cause: m.pageFaultCause(access)}
	}
	if !isUser && priv == PrivUser {
		return &TrapError{Cause: m.pageFaultCause(access)}
	}
	switch access {
	case AccessExecute:
		if perm&PteX == 0 {
			return &TrapError{Cause: m.pageFaultCause(access)}
		}
	case AccessWrite:
		if perm&PteW == 0 {
			return &TrapError{Cause: m.pageFaultCause(access)}
		}
	case AccessRead:
		if perm&PteR == 0 && !(mxr && perm&PteX != 0) {
			return &TrapError{Cause: m.pageFaultCause(access)}
		}
	}
	return nil
}
