package riscv

import "fmt"

// TrapError is a synchronous exception raised by instruction execution,
// the MMU, the PMP, or the LSU. It carries the architectural cause and
// trap-value fields that CSRFile.Enter copies into [ms]cause/[ms]tval.
type TrapError struct {
	Cause uint32
	Tval  uint32
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("riscv: trap cause=0x%x tval=0x%08x", e.Cause, e.Tval)
}

// NewTrap constructs a TrapError for the given cause and faulting value.
func NewTrap(cause, tval uint32) error {
	return &TrapError{Cause: cause, Tval: tval}
}
