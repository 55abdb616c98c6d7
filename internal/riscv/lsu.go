package riscv

import "fmt"

// LSU is a hart's load/store unit: Sv32 translation, PMP enforcement, and
// private write-back icache/dcache in front of RAM, each its own
// coherence master so a foreign store still invalidates this hart's
// instruction-side view. MMIO addresses bypass both caches and go
// straight to the bus.
type LSU struct {
	bus    *Bus
	MMU    *MMU
	PMP    *PMP
	ICache *Cache
	DCache *Cache

	// LastDataPA records the physical address of the most recent data-side
	// Load/Store/LoadReserved/StoreConditional/AMO, for the step result's
	// m_paddr field. Fetch-path translations never touch it.
	LastDataPA uint32
}

// NewLSU builds an LSU for masterID (the owning hart's cache-coherence
// identity), sharing bus and its backing store. The icache and dcache
// register as distinct coherence peers (2*masterID, 2*masterID+1) so a
// remote write invalidates both independently.
func NewLSU(bus *Bus, masterID int, lineLen, numLines uint32) *LSU {
	return &LSU{
		bus:    bus,
		MMU:    NewMMU(bus),
		PMP:    &PMP{},
		ICache: NewCache(bus.store, masterID*2, lineLen, numLines),
		DCache: NewCache(bus.store, masterID*2+1, lineLen, numLines),
	}
}

func misalignedCause(access AccessKind) uint32 {
	if access == AccessWrite {
		return CauseStoreAddrMisaligned
	}
	return CauseLoadAddrMisaligned
}

func accessFaultCause(access AccessKind) uint32 {
	if access == AccessWrite {
		return CauseStoreAccessFault
	}
	if access == AccessExecute {
		return CauseInsnAccessFault
	}
	return CauseLoadAccessFault
}

// translate walks Sv32 (if enabled), checks alignment, and checks PMP,
// returning the physical address or a TrapError.
func (l *LSU) translate(va uint32, size uint32, access AccessKind, priv Privilege, sum, mxr bool) (uint32, error) {
	if va%size != 0 {
		return 0, NewTrap(misalignedCause(access), va)
	}
	pa, err := l.MMU.Translate(va, access, priv, sum, mxr)
	if err != nil {
		if te, ok := err.(*TrapError); ok {
			te.Tval = va
		}
		return 0, err
	}
	if !l.PMP.Check(pa, size, access, priv) {
		return 0, NewTrap(accessFaultCause(access), va)
	}
	return pa, nil
}

func (l *LSU) readPhys(pa uint32, size int) (uint32, error) {
	if l.bus.IsRAM(pa) {
		line := l.DCache.GetLine(pa, false)
		off := (pa - alignDown(pa, l.DCache.lineLen)) % l.DCache.lineLen
		var v uint32
		for i := 0; i < size; i++ {
			v |= uint32(line.data[off+uint32(i)]) << (8 * i)
		}
		return v, nil
	}
	return l.bus.Read(pa, size)
}

func (l *LSU) writePhys(pa uint32, size int, value uint32) error {
	if l.bus.IsRAM(pa) {
		line := l.DCache.GetLine(pa, true)
		off := (pa - alignDown(pa, l.DCache.lineLen)) % l.DCache.lineLen
		for i := 0; i < size; i++ {
			line.data[off+uint32(i)] = byte(value >> (8 * i))
		}
		return nil
	}
	return l.bus.Write(pa, size, value)
}

// fetchPhysCached reads an instruction word/halfword through the icache
// (read-only from the LSU's point of view). The icache is a coherence peer
// of this hart's own dcache, so a data-side write to a cached line
// invalidates the icache copy even without fence.i.
func (l *LSU) fetchPhysCached(pa uint32, size int) (uint32, error) {
	if l.bus.IsRAM(pa) {
		line := l.ICache.GetLine(pa, false)
		off := (pa - alignDown(pa, l.ICache.lineLen)) % l.ICache.lineLen
		var v uint32
		for i := 0; i < size; i++ {
			v |= uint32(line.data[off+uint32(i)]) << (8 * i)
		}
		return v, nil
	}
	return l.bus.Read(pa, size)
}

func alignDown(v, align uint32) uint32 { return v &^ (align - 1) }

// Load reads size bytes (1, 2, or 4) from virtual address va.
func (l *LSU) Load(va uint32, size int, priv Privilege, sum, mxr bool) (uint32, error) {
	pa, err := l.translate(va, uint32(size), AccessRead, priv, sum, mxr)
	if err != nil {
		return 0, err
	}
	l.LastDataPA = pa
	return l.readPhys(pa, size)
}

// Store writes size bytes (1, 2, or 4) to virtual address va.
func (l *LSU) Store(va uint32, size int, value uint32, priv Privilege, sum, mxr bool) error {
	pa, err := l.translate(va, uint32(size), AccessWrite, priv, sum, mxr)
	if err != nil {
		return err
	}
	l.LastDataPA = pa
	return l.writePhys(pa, size, value)
}

// FetchPhys reads an instruction halfword/word without an MMU check
// (callers pass an already-translated physical address from the fetch
// window), through the icache.
func (l *LSU) FetchPhys(pa uint32, size int) (uint32, error) {
	return l.fetchPhysCached(pa, size)
}

// TranslateFetch resolves va for instruction fetch.
func (l *LSU) TranslateFetch(va uint32, priv Privilege, mxr bool) (uint32, error) {
	return l.translate(va, 2, AccessExecute, priv, false, mxr)
}

// LoadReserved performs an LR: loads size bytes and sets the reservation
// bit on the backing cache line. aq forces a write-back of every dirty
// dcache line first, per §4.5's acquire ordering.
func (l *LSU) LoadReserved(va uint32, size int, priv Privilege, sum, mxr, aq bool) (uint32, error) {
	if aq {
		l.DCache.WriteBackAll()
	}
	pa, err := l.translate(va, uint32(size), AccessRead, priv, sum, mxr)
	if err != nil {
		return 0, err
	}
	if !l.bus.IsRAM(pa) {
		return 0, NewTrap(accessFaultCause(AccessRead), va)
	}
	l.LastDataPA = pa
	line := l.DCache.GetLine(pa, false)
	line.reservation = true
	v, err := l.readPhys(pa, size)
	return v, err
}

// StoreConditional performs an SC: succeeds (returns true) only if the
// backing cache line still holds this hart's reservation. rl forces a
// write-back of every dirty dcache line afterward, per §4.5's release
// ordering.
func (l *LSU) StoreConditional(va uint32, size int, value uint32, priv Privilege, sum, mxr, rl bool) (bool, error) {
	pa, err := l.translate(va, uint32(size), AccessWrite, priv, sum, mxr)
	if err != nil {
		return false, err
	}
	if !l.bus.IsRAM(pa) {
		return false, NewTrap(accessFaultCause(AccessWrite), va)
	}
	l.LastDataPA = pa
	line := l.DCache.GetLine(pa, false)
	ok := line.reservation
	if ok {
		if err := l.writePhys(pa, size, value); err != nil {
			return false, err
		}
		line.reservation = false
	}
	if rl {
		l.DCache.WriteBackAll()
	}
	return ok, nil
}

// AMOOp is an atomic-memory-operation kind for execAMO.
type AMOOp int

const (
	AMOSwap AMOOp = iota
	AMOAdd
	AMOXor
	AMOAnd
	AMOOr
	AMOMin
	AMOMax
	AMOMinu
	AMOMaxu
)

// AMO performs a read-modify-write atomic memory operation and returns the
// pre-operation value (the architectural AMO destination-register result).
// aq/rl request a dirty-line write-back before/after the operation.
func (l *LSU) AMO(op AMOOp, va uint32, rs2 uint32, priv Privilege, sum, mxr, aq, rl bool) (uint32, error) {
	if aq {
		l.DCache.WriteBackAll()
	}
	pa, err := l.translate(va, 4, AccessWrite, priv, sum, mxr)
	if err != nil {
		return 0, err
	}
	if !l.bus.IsRAM(pa) {
		return 0, NewTrap(accessFaultCause(AccessWrite), va)
	}
	l.LastDataPA = pa
	old, err := l.readPhys(pa, 4)
	if err != nil {
		return 0, err
	}
	var result uint32
	switch op {
	case AMOSwap:
		result = rs2
	case AMOAdd:
		result = old + rs2
	case AMOXor:
		result = old ^ rs2
	case AMOAnd:
		result = old & rs2
	case AMOOr:
		result = old | rs2
	case AMOMin:
		result = uint32(minI32(int32(old), int32(rs2)))
	case AMOMax:
		result = uint32(maxI32(int32(old), int32(rs2)))
	case AMOMinu:
		result = minU32(old, rs2)
	case AMOMaxu:
		result = maxU32(old, rs2)
	default:
		return 0, fmt.Errorf("riscv: unknown amo op %d", op)
	}
	if err := l.writePhys(pa, 4, result); err != nil {
		return 0, err
	}
	if rl {
		l.DCache.WriteBackAll()
	}
	return old, nil
}

func minI32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}
func maxI32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}
func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// FenceI invalidates both the icache and dcache, so a subsequent fetch
// refills from the backing store and observes any data-side writes to the
// instruction stream (self-modifying code).
func (l *LSU) FenceI() {
	l.ICache.InvalidateAll()
	l.DCache.InvalidateAll()
}

// Fence implements FENCE/FENCE.TSO: this core has no store buffer or
// reordering to drain, so ordering reduces to making every Modified dcache
// line visible to the backing store.
func (l *LSU) Fence() {
	l.DCache.WriteBackAll()
}

// SfenceVMA invalidates the icache, writes back the dcache, and flushes
// the TLB. vaddr/asid scoping is not modeled; this core always does a
// full flush.
func (l *LSU) SfenceVMA() {
	l.ICache.InvalidateAll()
	l.DCache.WriteBackAll()
	l.MMU.Flush()
}
