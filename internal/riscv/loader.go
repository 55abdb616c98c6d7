package riscv

import (
	"debug/elf"
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
)

// LoadELF reads a 32-bit RISC-V ELF image from r and copies every PT_LOAD
// segment into store at its physical address, zero-filling the portion of
// memsz beyond filesz (.bss). It returns the entry point.
//
// debug/elf is used instead of a third-party parser: nothing in the
// retrieved dependency set is an ELF reader, and the standard library's
// is both sufficient and authoritative for this format.
func LoadELF(store *BackingStore, r io.ReaderAt, quiet bool) (uint32, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return 0, fmt.Errorf("riscv: elf: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 {
		return 0, fmt.Errorf("riscv: elf: expected ELFCLASS32, got %s", f.Class)
	}
	if f.Machine != elf.EM_RISCV {
		return 0, fmt.Errorf("riscv: elf: expected EM_RISCV, got %s", f.Machine)
	}

	var totalBytes int64
	var loads []*elf.Prog
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		loads = append(loads, prog)
		totalBytes += int64(prog.Filesz)
	}

	var bar *progressbar.ProgressBar
	if !quiet {
		bar = progressbar.DefaultBytes(totalBytes, "loading image")
	}

	buf := make([]byte, 64*1024)
	for _, prog := range loads {
		reader := prog.Open()
		dst := uint32(prog.Paddr)
		remaining := int64(prog.Filesz)
		for remaining > 0 {
			n := int64(len(buf))
			if remaining < n {
				n = remaining
			}
			read, err := reader.Read(buf[:n])
			if read > 0 {
				if _, werr := store.WriteAt(buf[:read], int64(dst)); werr != nil {
					return 0, fmt.Errorf("riscv: elf: writing segment: %w", werr)
				}
				dst += uint32(read)
				remaining -= int64(read)
				if bar != nil {
					bar.Add(read)
				}
			}
			if err != nil {
				if err == io.EOF && remaining == 0 {
					break
				}
				return 0, fmt.Errorf("riscv: elf: reading segment: %w", err)
			}
		}
		// .bss: memsz beyond filesz is already zero in a fresh BackingStore,
		// since pages are allocated on first touch and start zeroed.
	}

	return uint32(f.Entry), nil
}
