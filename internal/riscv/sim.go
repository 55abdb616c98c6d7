package riscv

import (
	"context"
	"fmt"
	"io"
	"log"

	"golang.org/x/sync/errgroup"
)

// StepEvent is delivered to a Simulator's StepFunc after every retired (or
// trapped) instruction on one hart. Result is the full per-instruction
// record (§3 Data Model); Hart.LastStep holds the same value for anyone
// who captures the hart directly instead of the event.
type StepEvent struct {
	Hart   *Hart
	Result StepResult
	Err    error // non-nil only for a synchronous trap; interrupts report nil
}

// StepFunc observes every hart step, in round-robin issue order. Used for
// tracing (-trace); HTIF is polled by the driving loop itself.
type StepFunc func(StepEvent)

// Simulator owns every shared device (backing store, bus, PLIC, ACLINT) and
// the hart vector, and drives them through a single round-robin loop: harts
// are interleaved one step at a time with no preemption mid-step, so the
// interleaving order does not depend on host scheduling. mtime is paced by
// wall-clock time, so the timing of timer interrupts can vary between runs.
type Simulator struct {
	Store  *BackingStore
	Bus    *Bus
	PLIC   *PLIC
	ACLINT *ACLINT
	Harts  []*Hart

	Logger *log.Logger

	onStep StepFunc

	uart *UART
	disk *VirtioBlock
	htif *HTIF
}

// NewSimulator builds a machine with numHarts harts sharing ramSize bytes
// of RAM at RAMBase, each with its own cacheLines lines of cacheLineLen
// bytes for both the icache and dcache.
func NewSimulator(numHarts int, ramSize, cacheLineLen, cacheLines uint32) *Simulator {
	store := NewBackingStore()
	bus := NewBus(store, RAMBase, ramSize)
	plic := NewPLIC(numHarts)
	aclint := NewACLINT(numHarts, 10_000_000)

	sim := &Simulator{
		Store:  store,
		Bus:    bus,
		PLIC:   plic,
		ACLINT: aclint,
		Logger: log.New(io.Discard, "", 0),
	}

	bus.AddDevice(PLICBase, plic)
	bus.AddDevice(ACLINTBase, aclint)

	trig := NewTriggerUnit(4) // one trigger unit shared by every hart
	for i := 0; i < numHarts; i++ {
		h := NewHart(uint32(i), bus, cacheLineLen, cacheLines)
		h.CSR.ACLINT = aclint
		h.CSR.PLIC = plic
		h.CSR.Trigger = trig
		sim.Harts = append(sim.Harts, h)
	}
	return sim
}

// AttachUART maps a UART at UARTBase, wires its interrupt to irq on the
// PLIC, and returns it so the caller can AttachTTY it to a console.
func (s *Simulator) AttachUART(out io.Writer, irq int) *UART {
	u := NewUART(out)
	s.Bus.AddDevice(UARTBase, u)
	s.PLIC.AttachSource(irq, u)
	s.uart = u
	return u
}

// AttachDisk maps a virtio-mmio (version 2) block device backed by img at
// VirtIOBase, wired to irq on the PLIC.
func (s *Simulator) AttachDisk(img io.ReadWriteSeeker, irq int) (*VirtioBlock, error) {
	dev, err := NewVirtioBlock(s.Store, img)
	if err != nil {
		return nil, err
	}
	s.Bus.AddDevice(VirtIOBase, dev)
	s.PLIC.AttachSource(irq, dev)
	s.disk = dev
	return dev, nil
}

// AttachHTIF installs a tohost/fromhost syscall-proxy device backed by the
// two words at toHostAddr/fromHostAddr in RAM, writing console output to
// out; a shutdown request makes Run return an *ExitError.
func (s *Simulator) AttachHTIF(toHostAddr, fromHostAddr uint32, out io.Writer) *HTIF {
	h := NewHTIF(s.Store, toHostAddr, fromHostAddr, out)
	s.htif = h
	return h
}

// SetStepFunc installs fn as the per-step observer, replacing any previous one.
func (s *Simulator) SetStepFunc(fn StepFunc) { s.onStep = fn }

// Run drives every hart in round-robin order until ctx is cancelled or a
// hart's HTIF shutdown request stops the run. A shutdown returns an
// *ExitError carrying the exit status (Code 0 for a clean exit);
// cancellation returns ctx's error; if every hart is parked in debug mode
// Run returns an error saying so.
func (s *Simulator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.driveLoop(gctx)
	})

	return g.Wait()
}

func (s *Simulator) driveLoop(ctx context.Context) error {
	const pollEvery = 64 // PLIC/ACLINT state changes slowly relative to instructions
	var cycles uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if cycles%pollEvery == 0 {
			s.PLIC.Poll()
		}
		s.ACLINT.Tick()

		anyRunning := false
		for _, h := range s.Harts {
			if h.inDebug {
				continue
			}
			anyRunning = true
			if h.Halted() {
				if _, ok := h.CSR.PendingInterrupt(h.Priv); ok {
					h.Wake()
				}
				continue
			}
			err := h.Step()
			if s.onStep != nil {
				s.onStep(StepEvent{Hart: h, Result: h.LastStep, Err: err})
			}
			if s.htif != nil {
				if code, halt := s.htif.Poll(); halt {
					return &ExitError{Code: code}
				}
			}
		}
		if !anyRunning {
			return fmt.Errorf("riscv: all harts parked in debug mode")
		}
		cycles++
	}
}

// ExitError reports a clean (or non-zero) HTIF-requested shutdown.
type ExitError struct{ Code uint32 }

func (e *ExitError) Error() string {
	if e.Code == 0 {
		return "riscv: guest requested shutdown (exit 0)"
	}
	return fmt.Sprintf("riscv: guest requested shutdown (exit code %d)", e.Code)
}
