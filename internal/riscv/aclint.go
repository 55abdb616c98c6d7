package riscv

import (
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// ACLINT implements the per-hart software-interrupt (msip) and timer
// (mtimecmp) registers of a RISC-V ACLINT, with a shared mtime counter
// paced by a rate limiter: Tick advances mtime only as fast as the
// limiter's wall-clock rate allows, so mtime is not a fixed function of
// the number of Tick calls.
type ACLINT struct {
	mu        sync.Mutex
	msip      []atomic.Uint32
	mtimecmp  []uint64
	mtime     uint64
	limiter   *rate.Limiter
}

// NewACLINT creates an ACLINT for numHarts harts, ticking mtime at
// ticksPerSecond when Tick is driven by a real-time pacer.
func NewACLINT(numHarts int, ticksPerSecond float64) *ACLINT {
	a := &ACLINT{
		msip:     make([]atomic.Uint32, numHarts),
		mtimecmp: make([]uint64, numHarts),
		limiter:  rate.NewLimiter(rate.Limit(ticksPerSecond), 1),
	}
	for i := range a.mtimecmp {
		a.mtimecmp[i] = ^uint64(0)
	}
	return a
}

// Tick advances mtime by one unit if the limiter allows it; called from
// the driving loop once per simulated cycle.
func (a *ACLINT) Tick() {
	if !a.limiter.Allow() {
		return
	}
	a.mu.Lock()
	a.mtime++
	a.mu.Unlock()
}

// MSIP reports whether hart's software interrupt line is set.
func (a *ACLINT) MSIP(hart int) bool { return a.msip[hart].Load() != 0 }

// MTIP reports whether hart's timer interrupt line is set.
func (a *ACLINT) MTIP(hart int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mtime >= a.mtimecmp[hart]
}

// Mtime returns the current shared timer value.
func (a *ACLINT) Mtime() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mtime
}

func (a *ACLINT) Size() uint32 { return ACLINTSize }

const (
	aclintMsipBase      = 0x0000
	aclintMtimecmpBase  = 0x4000
	aclintMtimeBase     = 0xBFF8
)

func (a *ACLINT) Read(offset uint32, size int) (uint32, error) {
	switch {
	case offset < aclintMtimecmpBase && int(offset/4) < len(a.msip):
		return a.msip[offset/4].Load(), nil
	case offset >= aclintMtimecmpBase && offset < aclintMtimeBase:
		hart := int((offset - aclintMtimecmpBase) / 8)
		if hart >= len(a.mtimecmp) {
			return 0, nil
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		v := a.mtimecmp[hart]
		if (offset-aclintMtimecmpBase)%8 == 0 {
			return uint32(v), nil
		}
		return uint32(v >> 32), nil
	case offset == aclintMtimeBase:
		a.mu.Lock()
		defer a.mu.Unlock()
		return uint32(a.mtime), nil
	case offset == aclintMtimeBase+4:
		a.mu.Lock()
		defer a.mu.Unlock()
		return uint32(a.mtime >> 32), nil
	}
	return 0, nil
}

func (a *ACLINT) Write(offset uint32, size int, value uint32) error {
	switch {
	case offset < aclintMtimecmpBase && int(offset/4) < len(a.msip):
		a.msip[offset/4].Store(value & 1)
	case offset >= aclintMtimecmpBase && offset < aclintMtimeBase:
		hart := int((offset - aclintMtimecmpBase) / 8)
		if hart >= len(a.mtimecmp) {
			return nil
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		if (offset-aclintMtimecmpBase)%8 == 0 {
			a.mtimecmp[hart] = (a.mtimecmp[hart] &^ 0xFFFFFFFF) | uint64(value)
		} else {
			a.mtimecmp[hart] = (a.mtimecmp[hart] &^ (0xFFFFFFFF << 32)) | (uint64(value) << 32)
		}
	case offset == aclintMtimeBase:
		a.mu.Lock()
		defer a.mu.Unlock()
		a.mtime = (a.mtime &^ 0xFFFFFFFF) | uint64(value)
	case offset == aclintMtimeBase+4:
		a.mu.Lock()
		defer a.mu.Unlock()
		a.mtime = (a.mtime &^ (0xFFFFFFFF << 32)) | (uint64(value) << 32)
	}
	return nil
}
