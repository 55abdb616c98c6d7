package riscv

import "testing"

// A locked, permission-denying entry sitting behind (at a higher index
// than) an unlocked catch-all entry must still restrict M-mode: the
// catch-all is invisible to M-mode matching (§4.4 "if not locked and
// prv=M, skip"), so the scan falls through to the locked entry instead of
// granting access on the catch-all's first match.
func TestPMPLockedEntryBehindUnlockedCatchAll(t *testing.T) {
	var p PMP

	// Entry 0: unlocked TOR catch-all spanning the whole address space,
	// permitting everything.
	p.WriteAddr(0, 0xFFFFFFFF>>2)
	p.WriteCfg(0, uint32(PmpTOR<<3|PmpR|PmpW|PmpX))

	// Entry 1: locked NA4 over a specific 4-byte region, permitting nothing.
	const deniedAddr = RAMBase + 0x100
	p.addr[1] = deniedAddr >> 2
	p.cfg[1] = PmpL | (PmpNA4 << 3)

	if p.Check(deniedAddr, 4, AccessWrite, PrivMachine) {
		t.Fatalf("M-mode store to a locked no-access region must be denied even behind an unlocked catch-all")
	}
	if p.Check(deniedAddr, 4, AccessRead, PrivMachine) {
		t.Fatalf("M-mode load from a locked no-access region must be denied even behind an unlocked catch-all")
	}

	// An address outside the locked entry's range still falls through to
	// the unlocked catch-all once the locked entry fails to match — but
	// the catch-all itself is still skipped for M-mode, so machine mode
	// must fall all the way through to the machine-mode no-match default allow.
	if !p.Check(RAMBase+0x200, 4, AccessWrite, PrivMachine) {
		t.Fatalf("M-mode access outside the locked region should fall through to the default allow")
	}

	// Supervisor mode never skips unlocked entries: the catch-all matches
	// first (lowest index) and permits the very same address the locked
	// entry would otherwise have denied.
	if !p.Check(deniedAddr, 4, AccessWrite, PrivSupervisor) {
		t.Fatalf("S-mode should match the unlocked catch-all entry first")
	}
}
