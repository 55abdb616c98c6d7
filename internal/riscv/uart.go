package riscv

import (
	"io"
	"sync"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// 16550a register offsets, byte-addressed (one register per byte, at
// consecutive offsets).
const (
	uartRegRBR = 0 // receiver buffer / transmitter holding, DLAB=0
	uartRegIER = 1 // interrupt enable, DLAB=0
	uartRegISR = 2 // interrupt identification, read-only
	uartRegFCR = 2 // FIFO control, write-only
	uartRegLCR = 3 // line control (bit 7 is DLAB)
	uartRegMCR = 4 // modem control
	uartRegLSR = 5 // line status
	uartRegMSR = 6 // modem status
	uartRegSPR = 7 // scratch
)

const (
	uartLSRDataReady   = 1 << 0
	uartLSROverrun     = 1 << 1
	uartLSRTHRE        = 1 << 5 // transmit holding register empty
	uartLSRTempty      = 1 << 6 // transmitter (and shift register) empty
)

const (
	uartIERRxData  = 1 << 0
	uartIERTxEmpty = 1 << 1
)

// UART is a 16550a-compatible serial port. It implements Device for the
// simulator's MMIO bus and IRQSource for the PLIC. Reads of a console's
// stdin happen on a background goroutine (AttachTTY) rather than inline
// with MMIO accesses, since a blocking terminal read cannot live on the
// hart's own stepping loop; the two communicate through the mutex-guarded
// receive ring buffer.
type UART struct {
	mu sync.Mutex

	out io.Writer

	ier, lcr, mcr, fcr, spr byte
	dll, dlh                byte
	rx                      []byte
	txEmpty                 bool // latched after reset/write, cleared by nothing (no transmit delay modeled)

	shutdownR, shutdownW int
	wg                   sync.WaitGroup
}

// NewUART creates a UART whose transmitted bytes are written to out.
func NewUART(out io.Writer) *UART {
	return &UART{out: out, txEmpty: true, shutdownR: -1, shutdownW: -1}
}

func (u *UART) Size() uint32 { return UARTSize }

func (u *UART) dlab() bool { return u.lcr&0x80 != 0 }

func (u *UART) Read(offset uint32, size int) (uint32, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch offset {
	case uartRegRBR:
		if u.dlab() {
			return uint32(u.dll), nil
		}
		if len(u.rx) == 0 {
			return 0, nil
		}
		b := u.rx[0]
		u.rx = u.rx[1:]
		return uint32(b), nil
	case uartRegIER:
		if u.dlab() {
			return uint32(u.dlh), nil
		}
		return uint32(u.ier), nil
	case uartRegISR:
		return uint32(u.isrLocked()), nil
	case uartRegLCR:
		return uint32(u.lcr), nil
	case uartRegMCR:
		return uint32(u.mcr), nil
	case uartRegLSR:
		return uint32(u.lsrLocked()), nil
	case uartRegMSR:
		return 0, nil
	case uartRegSPR:
		return uint32(u.spr), nil
	}
	return 0, nil
}

func (u *UART) Write(offset uint32, size int, value uint32) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	v := byte(value)
	switch offset {
	case uartRegRBR: // THR when writing
		if u.dlab() {
			u.dll = v
			return nil
		}
		if u.out != nil {
			u.out.Write([]byte{v})
		}
		u.txEmpty = true
	case uartRegIER:
		if u.dlab() {
			u.dlh = v
			return nil
		}
		u.ier = v & 0x0F
	case uartRegFCR:
		u.fcr = v
		if v&0x02 != 0 {
			u.rx = nil
		}
	case uartRegLCR:
		u.lcr = v
	case uartRegMCR:
		u.mcr = v & 0x1F
	case uartRegSPR:
		u.spr = v
	}
	return nil
}

func (u *UART) lsrLocked() byte {
	lsr := byte(uartLSRTHRE | uartLSRTempty)
	if len(u.rx) > 0 {
		lsr |= uartLSRDataReady
	}
	return lsr
}

func (u *UART) isrLocked() byte {
	if u.ier&uartIERRxData != 0 && len(u.rx) > 0 {
		return 0x04 // RX data available, highest priority
	}
	if u.ier&uartIERTxEmpty != 0 && u.txEmpty {
		return 0x02
	}
	return 0x01 // no interrupt pending
}

// IRQ implements IRQSource.
func (u *UART) IRQ() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.ier&uartIERRxData != 0 && len(u.rx) > 0 ||
		u.ier&uartIERTxEmpty != 0 && u.txEmpty
}

// EnqueueInput appends bytes to the receive buffer. Safe to call from any
// goroutine; it is the only entry point the background TTY reader uses.
func (u *UART) EnqueueInput(data []byte) {
	if len(data) == 0 {
		return
	}
	u.mu.Lock()
	u.rx = append(u.rx, data...)
	u.mu.Unlock()
}

// AttachTTY puts fd into raw mode and starts a goroutine that blocks on r
// (normally the same terminal opened for reading) and feeds every byte it
// reads into EnqueueInput. The returned detach func restores the terminal
// and waits for the goroutine to exit; it is safe to call at most once.
func (u *UART) AttachTTY(fd int, r io.Reader) (detach func() error, err error) {
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	var pipe [2]int
	if err := unix.Pipe(pipe[:]); err != nil {
		term.Restore(fd, oldState)
		return nil, err
	}
	u.shutdownR, u.shutdownW = pipe[0], pipe[1]

	readerFd := -1
	if f, ok := r.(interface{ Fd() uintptr }); ok {
		readerFd = int(f.Fd())
	}

	u.wg.Add(1)
	go u.readLoop(r, readerFd)

	return func() error {
		unix.Write(u.shutdownW, []byte{0})
		u.wg.Wait()
		unix.Close(u.shutdownR)
		unix.Close(u.shutdownW)
		return term.Restore(fd, oldState)
	}, nil
}

// fdSet/fdIsSet manipulate unix.FdSet directly: golang.org/x/sys/unix
// exposes the raw fd_set bitmap but no portable helper to set a bit in it.
// This assumes the 64-bit-word layout used on linux/amd64 and linux/arm64.
func fdSet(fd int, set *unix.FdSet) {
	set.Bits[fd/64] |= 1 << uint(fd%64)
}

func fdIsSet(fd int, set *unix.FdSet) bool {
	return set.Bits[fd/64]&(1<<uint(fd%64)) != 0
}

// readLoop blocks on r, waking only to check the shutdown pipe via
// unix.Select when r is backed by a real fd (a terminal); plain io.Readers
// (tests, pipes) are read directly and rely on Close-the-reader to unblock.
func (u *UART) readLoop(r io.Reader, readerFd int) {
	defer u.wg.Done()
	buf := make([]byte, 256)
	for {
		if readerFd >= 0 {
			var set unix.FdSet
			fdSet(readerFd, &set)
			fdSet(u.shutdownR, &set)
			maxFd := readerFd
			if u.shutdownR > maxFd {
				maxFd = u.shutdownR
			}
			if _, err := unix.Select(maxFd+1, &set, nil, nil, nil); err != nil {
				return
			}
			if fdIsSet(u.shutdownR, &set) {
				return
			}
		}
		n, err := r.Read(buf)
		if n > 0 {
			u.EnqueueInput(append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			return
		}
	}
}

var (
	_ Device    = (*UART)(nil)
	_ IRQSource = (*UART)(nil)
)
