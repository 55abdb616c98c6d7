package riscv

import "io"

// sysWrite is the only HTIF syscall-proxy request this machine answers;
// everything else is acknowledged and otherwise ignored, matching a
// bare-metal guest that only needs console output to report pass/fail.
const sysWrite = 64

// HTIF implements the classic riscv-tools host-target interface: the guest
// polls by writing a nonzero word to tohost and the host polls that word
// every cycle, since there's no interrupt line for it. An odd low bit
// means "halt, exit code in bits 31:1"; any other nonzero value is a
// pointer to an 8-word syscall-request block at that address.
type HTIF struct {
	store    *BackingStore
	toHost   uint32
	fromHost uint32
	out      io.Writer
}

// NewHTIF creates an HTIF poller watching the tohost/fromhost words at the
// given physical addresses.
func NewHTIF(store *BackingStore, toHost, fromHost uint32, out io.Writer) *HTIF {
	return &HTIF{store: store, toHost: toHost, fromHost: fromHost, out: out}
}

func (h *HTIF) readWord(addr uint32) (uint32, error) {
	var v uint32
	for i := uint32(0); i < 4; i++ {
		b, err := h.store.Load(addr+i, 1)
		if err != nil {
			return 0, err
		}
		v |= b << (8 * i)
	}
	return v, nil
}

func (h *HTIF) writeWord(addr, val uint32) error {
	return h.store.Store(addr, 4, val)
}

// Poll checks tohost once; if the guest requested a shutdown, it reports
// (exitCode, true). Otherwise it services any pending syscall request and
// reports (0, false).
func (h *HTIF) Poll() (uint32, bool) {
	magic, err := h.readWord(h.toHost)
	if err != nil || magic == 0 {
		return 0, false
	}

	if magic&1 != 0 {
		return magic >> 1, true
	}

	which, _ := h.readWord(magic)
	arg1, _ := h.readWord(magic + 16)
	arg2, _ := h.readWord(magic + 24)

	if which == sysWrite && h.out != nil {
		buf := make([]byte, arg2)
		for i := range buf {
			v, err := h.store.Load(arg1+uint32(i), 1)
			if err != nil {
				break
			}
			buf[i] = byte(v)
		}
		h.out.Write(buf)
	}

	for i := uint32(0); i < 8; i++ {
		h.store.Store(h.toHost+i, 1, 0)
	}
	h.writeWord(h.fromHost, 1)
	return 0, false
}
