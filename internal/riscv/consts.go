// Package riscv implements a cycle-aware simulator core for a small
// multi-hart 32-bit RISC-V machine (RV32IMAFC, Zicsr, Zifencei).
package riscv

// Privilege is a RISC-V privilege level.
type Privilege uint8

const (
	PrivUser       Privilege = 0
	PrivSupervisor Privilege = 1
	PrivMachine    Privilege = 3
)

// Default physical memory map.
const (
	ConfigROMBase uint32 = 0x0000_0000
	ACLINTBase    uint32 = 0x0200_0000
	ACLINTSize    uint32 = 0x0001_0000
	PLICBase      uint32 = 0x0c00_0000
	PLICSize      uint32 = 0x0040_0000
	UARTBase      uint32 = 0x1000_0000
	UARTSize      uint32 = 0x0000_1000
	VirtIOBase    uint32 = 0x1000_1000
	VirtIOSize    uint32 = 0x0000_1000
	RAMBase       uint32 = 0x8000_0000
)

// misa extension bits (RV32: MXL = 1 in bits 31:30).
const (
	MisaA uint32 = 1 << 0
	MisaC uint32 = 1 << 2
	MisaF uint32 = 1 << 5
	MisaI uint32 = 1 << 8
	MisaM uint32 = 1 << 12
	MisaS uint32 = 1 << 18
	MisaU uint32 = 1 << 20
)

const MisaMXL32 uint32 = 1 << 30

// mstatus bits (RV32 layout; SD is bit 31).
const (
	MstatusSIE   uint32 = 1 << 1
	MstatusMIE   uint32 = 1 << 3
	MstatusSPIE  uint32 = 1 << 5
	MstatusMPIE  uint32 = 1 << 7
	MstatusSPP   uint32 = 1 << 8
	MstatusMPP   uint32 = 3 << 11
	MstatusFS    uint32 = 3 << 13
	MstatusMPRV  uint32 = 1 << 17
	MstatusSUM   uint32 = 1 << 18
	MstatusMXR   uint32 = 1 << 19
	MstatusTVM   uint32 = 1 << 20
	MstatusTW    uint32 = 1 << 21
	MstatusTSR   uint32 = 1 << 22
	MstatusSD    uint32 = 1 << 31

	MstatusSPPShift = 8
	MstatusMPPShift = 11
)

// FS field values (floating-point context status).
const (
	FSOff     uint32 = 0
	FSInitial uint32 = 1
	FSClean   uint32 = 2
	FSDirty   uint32 = 3
)

// mip / mie bits.
const (
	MipSSIP uint32 = 1 << 1
	MipMSIP uint32 = 1 << 3
	MipSTIP uint32 = 1 << 5
	MipMTIP uint32 = 1 << 7
	MipSEIP uint32 = 1 << 9
	MipMEIP uint32 = 1 << 11
)

// Synchronous exception causes.
const (
	CauseInsnAddrMisaligned  uint32 = 0
	CauseInsnAccessFault     uint32 = 1
	CauseIllegalInsn         uint32 = 2
	CauseBreakpoint          uint32 = 3
	CauseLoadAddrMisaligned  uint32 = 4
	CauseLoadAccessFault     uint32 = 5
	CauseStoreAddrMisaligned uint32 = 6
	CauseStoreAccessFault    uint32 = 7
	CauseEcallFromU          uint32 = 8
	CauseEcallFromS          uint32 = 9
	CauseEcallFromM          uint32 = 11
	CauseInsnPageFault       uint32 = 12
	CauseLoadPageFault       uint32 = 13
	CauseStorePageFault      uint32 = 15
)

// Interrupt causes (bit 31 of mcause/scause set).
const (
	interruptBit uint32 = 1 << 31

	CauseSSoftwareInt uint32 = interruptBit | 1
	CauseMSoftwareInt uint32 = interruptBit | 3
	CauseSTimerInt    uint32 = interruptBit | 5
	CauseMTimerInt    uint32 = interruptBit | 7
	CauseSExternalInt uint32 = interruptBit | 9
	CauseMExternalInt uint32 = interruptBit | 11
)

// CSR addresses used by this core.
const (
	csrFflags   uint16 = 0x001
	csrFrm      uint16 = 0x002
	csrFcsr     uint16 = 0x003
	csrCycle    uint16 = 0xC00
	csrTime     uint16 = 0xC01
	csrInstret  uint16 = 0xC02

	csrSstatus  uint16 = 0x100
	csrSie      uint16 = 0x104
	csrStvec    uint16 = 0x105
	csrScounter uint16 = 0x106
	csrSscratch uint16 = 0x140
	csrSepc     uint16 = 0x141
	csrScause   uint16 = 0x142
	csrStval    uint16 = 0x143
	csrSip      uint16 = 0x144
	csrSatp     uint16 = 0x180

	csrMstatus   uint16 = 0x300
	csrMisa      uint16 = 0x301
	csrMedeleg   uint16 = 0x302
	csrMideleg   uint16 = 0x303
	csrMie       uint16 = 0x304
	csrMtvec     uint16 = 0x305
	csrMcounter  uint16 = 0x306
	csrMscratch  uint16 = 0x340
	csrMepc      uint16 = 0x341
	csrMcause    uint16 = 0x342
	csrMtval     uint16 = 0x343
	csrMip       uint16 = 0x344
	csrMhartid   uint16 = 0xF14

	csrPmpcfg0  uint16 = 0x3A0
	csrPmpaddr0 uint16 = 0x3B0

	csrTselect  uint16 = 0x7A0
	csrTdata1   uint16 = 0x7A1
	csrTdata2   uint16 = 0x7A2
	csrTdata3   uint16 = 0x7A3

	csrDcsr     uint16 = 0x7B0
	csrDpc      uint16 = 0x7B1
	csrDscratch uint16 = 0x7B2

	// hpmcounter3..31 (unprivileged, read-only shadow), mhpmcounter3..31
	// (machine, read/write) and mhpmevent3..31 (machine, read/write). This
	// core implements no per-event counting: every mhpmeventN stays whatever
	// the guest last wrote and every mhpmcounterN free-runs at zero unless
	// the guest writes it directly, but none of them fault.
	numHPMCounters  uint16 = 29
	csrHpmcounter3  uint16 = 0xC03
	csrMhpmcounter3 uint16 = 0xB03
	csrMhpmevent3   uint16 = 0x323
)

// Sv32 paging.
const (
	SatpModeBare uint32 = 0
	SatpModeSv32 uint32 = 1

	PageSize  uint32 = 1 << 12
	PageShift uint32 = 12
	MegaSize  uint32 = 1 << 22
)

// Sv32 PTE bits.
const (
	PteV uint32 = 1 << 0
	PteR uint32 = 1 << 1
	PteW uint32 = 1 << 2
	PteX uint32 = 1 << 3
	PteU uint32 = 1 << 4
	PteG uint32 = 1 << 5
	PteA uint32 = 1 << 6
	PteD uint32 = 1 << 7
)

// AccessKind distinguishes memory accesses for translation, PMP, and trigger matching.
type AccessKind uint8

const (
	AccessRead AccessKind = iota
	AccessWrite
	AccessExecute
)

// PMP config byte bits.
const (
	PmpR uint8 = 1 << 0
	PmpW uint8 = 1 << 1
	PmpX uint8 = 1 << 2
	// bits 3:4 are the address-matching mode
	PmpL uint8 = 1 << 7
)

// PMP address-matching modes.
const (
	PmpOff   uint8 = 0
	PmpTOR   uint8 = 1
	PmpNA4   uint8 = 2
	PmpNAPOT uint8 = 3
)

const numPMPEntries = 16
