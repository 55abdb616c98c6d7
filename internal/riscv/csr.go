package riscv

import "fmt"

// CSRFile holds a hart's control and status registers: trap/delegation
// state, the floating-point accrued-exception/rounding-mode fields, PMP
// config (embedded), the debug-trigger bank, and the free-running counters.
type CSRFile struct {
	HartID uint32
	Misa   uint32

	Mstatus  uint32
	Mie      uint32
	Mip      uint32
	Mtvec    uint32
	Mepc     uint32
	Mcause   uint32
	Mtval    uint32
	Mscratch uint32
	Medeleg  uint32
	Mideleg  uint32

	Stvec    uint32
	Sepc     uint32
	Scause   uint32
	Stval    uint32
	Sscratch uint32
	Satp     uint32

	Fflags uint32
	Frm    uint32

	Dcsr     uint32
	Dpc      uint32
	Dscratch uint32
	InDebug  bool

	Cycle   uint64
	Instret uint64

	// HpmCounters/HpmEvents back mhpmcounter3..31/mhpmevent3..31 (and
	// hpmcounter3..31's read-only shadow). No event is actually counted;
	// these exist so guest probes of the HPM CSR space read back whatever
	// was written instead of faulting.
	HpmCounters [numHPMCounters]uint64
	HpmEvents   [numHPMCounters]uint32

	PMP     *PMP
	Trigger *TriggerUnit
	LSU     *LSU    // weak reference: satp writes retarget the owning hart's MMU
	ACLINT  *ACLINT // weak reference: drives mip.MTIP/MSIP
	PLIC    *PLIC   // weak reference: drives mip.MEIP/SEIP
}

// NewCSRFile creates a machine-reset CSR file for the given hart.
func NewCSRFile(hartID uint32) *CSRFile {
	return &CSRFile{
		HartID:  hartID,
		Misa:    MisaMXL32 | MisaI | MisaM | MisaA | MisaF | MisaC | MisaS | MisaU,
		Mtvec:   0,
		PMP:     &PMP{},
		Trigger: NewTriggerUnit(4),
	}
}

func privError(addr uint16) error {
	return fmt.Errorf("riscv: CSR 0x%03x inaccessible", addr)
}

func csrMinPriv(addr uint16) Privilege {
	switch (addr >> 8) & 0x3 {
	case 0:
		return PrivUser
	case 1:
		return PrivSupervisor
	default:
		return PrivMachine
	}
}

func csrReadOnly(addr uint16) bool { return (addr>>10)&0x3 == 0x3 }

// Read reads csr addr under priv, enforcing the privilege-level encoding
// baked into the CSR address itself (the read-only encoding only matters
// for writes).
func (c *CSRFile) Read(addr uint16, priv Privilege) (uint32, error) {
	if priv < csrMinPriv(addr) {
		return 0, privError(addr)
	}
	switch addr {
	case csrFflags:
		return c.Fflags, nil
	case csrFrm:
		return c.Frm, nil
	case csrFcsr:
		return c.Frm<<5 | c.Fflags, nil
	case csrCycle:
		return uint32(c.Cycle), nil
	case csrTime:
		if c.ACLINT != nil {
			return uint32(c.ACLINT.Mtime()), nil
		}
		return uint32(c.Cycle), nil
	case csrInstret:
		return uint32(c.Instret), nil

	case csrSstatus:
		return c.Mstatus & sstatusMask, nil
	case csrSie:
		return c.Mie & c.Mideleg, nil
	case csrStvec:
		return c.Stvec, nil
	case csrSscratch:
		return c.Sscratch, nil
	case csrSepc:
		return c.Sepc, nil
	case csrScause:
		return c.Scause, nil
	case csrStval:
		return c.Stval, nil
	case csrSip:
		return c.Mip & c.Mideleg, nil
	case csrSatp:
		return c.Satp, nil

	case csrMstatus:
		return c.Mstatus, nil
	case csrMisa:
		return c.Misa, nil
	case csrMedeleg:
		return c.Medeleg, nil
	case csrMideleg:
		return c.Mideleg, nil
	case csrMie:
		return c.Mie, nil
	case csrMtvec:
		return c.Mtvec, nil
	case csrMscratch:
		return c.Mscratch, nil
	case csrMepc:
		return c.Mepc, nil
	case csrMcause:
		return c.Mcause, nil
	case csrMtval:
		return c.Mtval, nil
	case csrMip:
		return c.Mip, nil
	case csrMhartid:
		return c.HartID, nil

	case csrTselect:
		return c.Trigger.Selected(), nil
	case csrTdata1:
		return c.Trigger.ReadTdata1(), nil
	case csrTdata2:
		return c.Trigger.ReadTdata2(), nil
	case csrTdata3:
		return 0, nil

	case csrDcsr:
		return c.Dcsr, nil
	case csrDpc:
		return c.Dpc, nil
	case csrDscratch:
		return c.Dscratch, nil
	}

	if addr >= csrPmpcfg0 && addr < csrPmpcfg0+4 {
		return c.PMP.ReadCfg(int(addr - csrPmpcfg0)), nil
	}
	if addr >= csrPmpaddr0 && addr < csrPmpaddr0+uint16(numPMPEntries) {
		return c.PMP.ReadAddr(int(addr - csrPmpaddr0)), nil
	}
	if addr >= csrHpmcounter3 && addr < csrHpmcounter3+numHPMCounters {
		return uint32(c.HpmCounters[addr-csrHpmcounter3]), nil
	}
	if addr >= csrMhpmcounter3 && addr < csrMhpmcounter3+numHPMCounters {
		return uint32(c.HpmCounters[addr-csrMhpmcounter3]), nil
	}
	if addr >= csrMhpmevent3 && addr < csrMhpmevent3+numHPMCounters {
		return c.HpmEvents[addr-csrMhpmevent3], nil
	}
	return 0, privError(addr)
}

const sstatusMask = MstatusSIE | MstatusSPIE | MstatusSPP | MstatusFS | MstatusSUM | MstatusMXR | MstatusSD

// Write writes csr addr under priv, rejecting CSRs whose address encodes
// read-only access and enforcing privilege; it masks writes into mstatus
// to the sstatus-visible fields when the caller targets sstatus.
func (c *CSRFile) Write(addr uint16, priv Privilege, value uint32) error {
	if priv < csrMinPriv(addr) || csrReadOnly(addr) {
		return privError(addr)
	}
	switch addr {
	case csrFflags:
		c.Fflags = value & 0x1F
		return nil
	case csrFrm:
		c.Frm = value & 0x7
		return nil
	case csrFcsr:
		c.Fflags = value & 0x1F
		c.Frm = (value >> 5) & 0x7
		return nil

	case csrSstatus:
		c.Mstatus = (c.Mstatus &^ sstatusMask) | (value & sstatusMask)
		return nil
	case csrSie:
		c.Mie = (c.Mie &^ c.Mideleg) | (value & c.Mideleg)
		return nil
	case csrStvec:
		c.Stvec = value &^ 0x2
		return nil
	case csrSscratch:
		c.Sscratch = value
		return nil
	case csrSepc:
		c.Sepc = value &^ 1
		return nil
	case csrScause:
		c.Scause = value
		return nil
	case csrStval:
		c.Stval = value
		return nil
	case csrSip:
		c.Mip = (c.Mip &^ (c.Mideleg & MipSSIP)) | (value & c.Mideleg & MipSSIP)
		return nil
	case csrSatp:
		c.Satp = value
		if c.LSU != nil {
			c.LSU.MMU.SetSatp(value)
		}
		return nil

	case csrMstatus:
		c.Mstatus = value &^ (MstatusSD)
		return nil
	case csrMedeleg:
		c.Medeleg = value
		return nil
	case csrMideleg:
		c.Mideleg = value
		return nil
	case csrMie:
		c.Mie = value
		return nil
	case csrMtvec:
		c.Mtvec = value &^ 0x2
		return nil
	case csrMscratch:
		c.Mscratch = value
		return nil
	case csrMepc:
		c.Mepc = value &^ 1
		return nil
	case csrMcause:
		c.Mcause = value
		return nil
	case csrMtval:
		c.Mtval = value
		return nil
	case csrMip:
		writable := MipSSIP | MipSTIP | MipSEIP
		c.Mip = (c.Mip &^ writable) | (value & writable)
		return nil

	case csrTselect:
		c.Trigger.Select(value)
		return nil
	case csrTdata1:
		c.Trigger.WriteTdata1(value)
		return nil
	case csrTdata2:
		c.Trigger.WriteTdata2(value)
		return nil
	case csrTdata3:
		return nil

	case csrDcsr:
		c.Dcsr = value
		return nil
	case csrDpc:
		c.Dpc = value
		return nil
	case csrDscratch:
		c.Dscratch = value
		return nil
	}

	if addr >= csrPmpcfg0 && addr < csrPmpcfg0+4 {
		c.PMP.WriteCfg(int(addr-csrPmpcfg0), value)
		return nil
	}
	if addr >= csrPmpaddr0 && addr < csrPmpaddr0+uint16(numPMPEntries) {
		c.PMP.WriteAddr(int(addr-csrPmpaddr0), value)
		return nil
	}
	if addr >= csrMhpmcounter3 && addr < csrMhpmcounter3+numHPMCounters {
		c.HpmCounters[addr-csrMhpmcounter3] = uint64(value)
		return nil
	}
	if addr >= csrMhpmevent3 && addr < csrMhpmevent3+numHPMCounters {
		c.HpmEvents[addr-csrMhpmevent3] = value
		return nil
	}
	return privError(addr)
}

// PendingInterrupt ranks mip&mie by MEI>MSI>MTI>SEI>SSI>STI and reports the
// highest-priority interrupt that is both pending, enabled, and not masked
// by the current privilege/mstatus.xIE, delegating to S-mode when
// mideleg routes it there and the current privilege allows it.
func (c *CSRFile) PendingInterrupt(priv Privilege) (uint32, bool) {
	c.syncMip()
	pending := c.Mip & c.Mie
	if pending == 0 {
		return 0, false
	}

	order := []uint32{MipMEIP, MipMSIP, MipMTIP, MipSEIP, MipSSIP, MipSTIP}
	causes := []uint32{CauseMExternalInt, CauseMSoftwareInt, CauseMTimerInt, CauseSExternalInt, CauseSSoftwareInt, CauseSTimerInt}

	for i, bit := range order {
		if pending&bit == 0 {
			continue
		}
		delegated := false
		if bit == MipSEIP || bit == MipSSIP || bit == MipSTIP {
			delegated = c.Mideleg&bit != 0
		}
		if delegated {
			if priv == PrivMachine {
				continue
			}
			if priv == PrivSupervisor && c.Mstatus&MstatusSIE == 0 {
				continue
			}
		} else {
			if priv == PrivMachine && c.Mstatus&MstatusMIE == 0 {
				continue
			}
			if priv < PrivMachine {
				// Lower-privilege harts always take undelegated traps.
			}
		}
		return causes[i], true
	}
	return 0, false
}

// syncMip refreshes the hardware-driven mip bits (MTIP/MSIP from ACLINT,
// MEIP/SEIP from PLIC) from their owning devices; mip's software-writable
// bits (SSIP, and STIP/SEIP when not delegated to hardware) are left alone.
func (c *CSRFile) syncMip() {
	h := int(c.HartID)
	if c.ACLINT != nil {
		if c.ACLINT.MTIP(h) {
			c.Mip |= MipMTIP
		} else {
			c.Mip &^= MipMTIP
		}
		if c.ACLINT.MSIP(h) {
			c.Mip |= MipMSIP
		} else {
			c.Mip &^= MipMSIP
		}
	}
	if c.PLIC != nil {
		if c.PLIC.hasPendingInterrupt(h, true) {
			c.Mip |= MipMEIP
		} else {
			c.Mip &^= MipMEIP
		}
		if c.PLIC.hasPendingInterrupt(h, false) {
			c.Mip |= MipSEIP
		} else {
			c.Mip &^= MipSEIP
		}
	}
}

// Enter performs trap entry: delegates to S-mode when medeleg/mideleg say
// so and the current privilege permits it, saves xEPC/xPP/xPIE, clears
// xIE, and returns the new privilege and PC.
func (c *CSRFile) Enter(cause uint32, tval uint32, pc uint32, fromPriv Privilege) (Privilege, uint32) {
	isInterrupt := cause&interruptBit != 0
	code := cause &^ interruptBit

	var delegMask uint32
	if isInterrupt {
		delegMask = c.Mideleg
	} else {
		delegMask = c.Medeleg
	}
	toSupervisor := delegMask&(1<<code) != 0 && fromPriv != PrivMachine

	if toSupervisor {
		c.Scause = cause
		c.Stval = tval
		c.Sepc = pc
		spie := c.Mstatus & MstatusSIE
		c.Mstatus = (c.Mstatus &^ MstatusSPIE) | (spie << 4)
		c.Mstatus &^= MstatusSIE
		if fromPriv == PrivUser {
			c.Mstatus &^= MstatusSPP
		} else {
			c.Mstatus |= MstatusSPP
		}
		return PrivSupervisor, c.Stvec
	}

	c.Mcause = cause
	c.Mtval = tval
	c.Mepc = pc
	mpie := c.Mstatus & MstatusMIE
	c.Mstatus = (c.Mstatus &^ MstatusMPIE) | (mpie << 4)
	c.Mstatus &^= MstatusMIE
	c.Mstatus = (c.Mstatus &^ MstatusMPP) | (uint32(fromPriv) << MstatusMPPShift)
	return PrivMachine, c.Mtvec
}

// Return performs xRET: restores xIE from xPIE, sets the new privilege
// from xPP, and resets xPIE/xPP to their architectural defaults.
func (c *CSRFile) Return(fromPriv Privilege) (Privilege, uint32) {
	if fromPriv == PrivMachine {
		newPriv := Privilege((c.Mstatus & MstatusMPP) >> MstatusMPPShift)
		mpie := (c.Mstatus & MstatusMPIE) >> 7
		c.Mstatus = (c.Mstatus &^ MstatusMIE) | (mpie << 3)
		c.Mstatus |= MstatusMPIE
		c.Mstatus &^= MstatusMPP
		return newPriv, c.Mepc
	}
	newPriv := PrivUser
	if c.Mstatus&MstatusSPP != 0 {
		newPriv = PrivSupervisor
	}
	spie := (c.Mstatus & MstatusSPIE) >> 5
	c.Mstatus = (c.Mstatus &^ MstatusSIE) | (spie << 1)
	c.Mstatus |= MstatusSPIE
	c.Mstatus &^= MstatusSPP
	return newPriv, c.Sepc
}
