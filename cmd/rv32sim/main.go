// Command rv32sim boots a bare-metal or Linux-class guest image on a
// simulated multi-hart RV32IMAFC machine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"

	"github.com/mitchellh/colorstring"
	"golang.org/x/term"

	"github.com/tinyrange/rv32sim/internal/riscv"
)

type uintFlag struct {
	v   uint64
	set bool
}

func (f *uintFlag) String() string { return strconv.FormatUint(f.v, 10) }
func (f *uintFlag) Set(s string) error {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return err
	}
	f.v, f.set = v, true
	return nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		var exit *riscv.ExitError
		if errors.As(err, &exit) {
			if exit.Code != 0 {
				fmt.Fprintln(os.Stderr, colorstring.Color("[red]"+exit.Error()+"[reset]"))
				os.Exit(int(exit.Code))
			}
			fmt.Fprintln(os.Stderr, colorstring.Color("[green]"+exit.Error()+"[reset]"))
			return
		}
		fmt.Fprintln(os.Stderr, colorstring.Color("[red]rv32sim: "+err.Error()+"[reset]"))
		os.Exit(1)
	}
}

type flags struct {
	fs         *flag.FlagSet
	configPath string
	harts      uintFlag
	ram        uintFlag
	image      string
	disk       string
	trace      bool
	quiet      bool
}

func newFlags() *flags {
	f := &flags{fs: flag.NewFlagSet("rv32sim", flag.ExitOnError)}
	f.fs.StringVar(&f.configPath, "config", "", "Path to a YAML machine config")
	f.fs.Var(&f.harts, "harts", "Number of harts (overrides config)")
	f.fs.Var(&f.ram, "ram", "RAM size in bytes (overrides config)")
	f.fs.StringVar(&f.image, "image", "", "Path to a 32-bit RISC-V ELF image (overrides config)")
	f.fs.StringVar(&f.disk, "disk", "", "Path to a raw disk image for virtio-blk (overrides config)")
	f.fs.BoolVar(&f.trace, "trace", false, "Log every trapped instruction")
	f.fs.BoolVar(&f.quiet, "quiet", false, "Suppress the image load progress bar")
	f.fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -image <elf> [flags]\n\nFlags:\n", os.Args[0])
		f.fs.PrintDefaults()
	}
	return f
}

func run(args []string) error {
	f := newFlags()
	if err := f.fs.Parse(args); err != nil {
		return err
	}

	cfg := riscv.DefaultMachineConfig()
	if f.configPath != "" {
		c, err := riscv.LoadMachineConfig(f.configPath)
		if err != nil {
			return err
		}
		cfg = c
	}
	if f.harts.set {
		cfg.Harts = int(f.harts.v)
	}
	if f.ram.set {
		cfg.RAMBytes = uint32(f.ram.v)
	}
	if f.image != "" {
		cfg.Image = f.image
	}
	if f.disk != "" {
		cfg.Disk = f.disk
	}
	if cfg.Image == "" {
		f.fs.Usage()
		return fmt.Errorf("-image is required")
	}

	sim := riscv.NewSimulator(cfg.Harts, cfg.RAMBytes, cfg.CacheLineLen, cfg.CacheLines)

	imgFile, err := os.Open(cfg.Image)
	if err != nil {
		return fmt.Errorf("rv32sim: %w", err)
	}
	defer imgFile.Close()

	entry, err := riscv.LoadELF(sim.Store, imgFile, f.quiet)
	if err != nil {
		return err
	}
	for _, h := range sim.Harts {
		h.PC = entry
	}

	uart := sim.AttachUART(os.Stdout, 1)

	var detach func() error
	if cfg.ConsoleTTY && term.IsTerminal(int(os.Stdin.Fd())) {
		d, err := uart.AttachTTY(int(os.Stdin.Fd()), os.Stdin)
		if err != nil {
			return fmt.Errorf("rv32sim: attach console: %w", err)
		}
		detach = d
	}

	if cfg.Disk != "" {
		diskFile, err := os.OpenFile(cfg.Disk, os.O_RDWR, 0)
		if err != nil {
			return fmt.Errorf("rv32sim: %w", err)
		}
		defer diskFile.Close()
		if _, err := sim.AttachDisk(diskFile, 2); err != nil {
			return fmt.Errorf("rv32sim: %w", err)
		}
	}

	sim.AttachHTIF(cfg.ToHostAddr, cfg.FromHostAddr, os.Stdout)

	for i, preset := range cfg.Triggers {
		installTriggerPreset(sim.Harts, i, preset)
	}

	if f.trace {
		logger := log.New(os.Stderr, "rv32sim: ", log.Ltime|log.Lmicroseconds)
		sim.Logger = logger
		sim.SetStepFunc(func(ev riscv.StepEvent) {
			if ev.Err != nil {
				logger.Printf("hart %d trap pc=%#x err=%v", ev.Hart.ID, ev.Hart.PC, ev.Err)
			}
		})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	err = sim.Run(ctx)
	if detach != nil {
		if derr := detach(); derr != nil && err == nil {
			err = derr
		}
	}
	return err
}

// installTriggerPreset programs trigger slot idx on every hart identically,
// matching the reference debug module's lack of per-hart trigger wiring.
func installTriggerPreset(harts []*riscv.Hart, idx int, preset riscv.TriggerPreset) {
	action := riscv.ActionException
	if preset.Action == "debug" {
		action = riscv.ActionDebugMode
	}
	for _, h := range harts {
		switch preset.Kind {
		case "address":
			h.CSR.Trigger.InstallPreset(idx, riscv.TriggerMatch6, preset.Address, action)
		case "icount":
			h.CSR.Trigger.InstallPreset(idx, riscv.TriggerICount, preset.Count, action)
		}
	}
}
