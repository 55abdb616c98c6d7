package riscv

// Hand-assembled RV32 instruction encoders, used throughout this package's
// tests instead of an assembler dependency.

func encR(funct7, rs2v, rs1v, funct3v, rdv, opc uint32) uint32 {
	return funct7<<25 | rs2v<<20 | rs1v<<15 | funct3v<<12 | rdv<<7 | opc
}

func encI(imm, rs1v, funct3v, rdv, opc uint32) uint32 {
	return (imm&0xFFF)<<20 | rs1v<<15 | funct3v<<12 | rdv<<7 | opc
}

func encS(imm, rs2v, rs1v, funct3v, opc uint32) uint32 {
	hi := (imm >> 5) & 0x7F
	lo := imm & 0x1F
	return hi<<25 | rs2v<<20 | rs1v<<15 | funct3v<<12 | lo<<7 | opc
}

func encB(imm, rs2v, rs1v, funct3v, opc uint32) uint32 {
	b12 := (imm >> 12) & 1
	b11 := (imm >> 11) & 1
	b10_5 := (imm >> 5) & 0x3F
	b4_1 := (imm >> 1) & 0xF
	return b12<<31 | b10_5<<25 | rs2v<<20 | rs1v<<15 | funct3v<<12 | b4_1<<8 | b11<<7 | opc
}

func encU(imm, rdv, opc uint32) uint32 { return (imm & 0xFFFFF000) | rdv<<7 | opc }

func encJ(imm, rdv, opc uint32) uint32 {
	b20 := (imm >> 20) & 1
	b19_12 := (imm >> 12) & 0xFF
	b11 := (imm >> 11) & 1
	b10_1 := (imm >> 1) & 0x3FF
	return b20<<31 | b10_1<<21 | b11<<20 | b19_12<<12 | rdv<<7 | opc
}

// addi x(rd), x(rs1), imm
func asmADDI(rdv, rs1v, imm uint32) uint32 { return encI(imm, rs1v, 0x0, rdv, OpOpImm) }
func asmANDI(rdv, rs1v, imm uint32) uint32 { return encI(imm, rs1v, 0x7, rdv, OpOpImm) }
func asmADD(rdv, rs1v, rs2v uint32) uint32 { return encR(0x00, rs2v, rs1v, 0x0, rdv, OpOp) }
func asmSUB(rdv, rs1v, rs2v uint32) uint32 { return encR(0x20, rs2v, rs1v, 0x0, rdv, OpOp) }
func asmMUL(rdv, rs1v, rs2v uint32) uint32 { return encR(0x01, rs2v, rs1v, 0x0, rdv, OpOp) }
func asmMULH(rdv, rs1v, rs2v uint32) uint32 { return encR(0x01, rs2v, rs1v, 0x1, rdv, OpOp) }
func asmBEQ(rs1v, rs2v, imm uint32) uint32  { return encB(imm, rs2v, rs1v, 0x0, OpBranch) }
func asmBNE(rs1v, rs2v, imm uint32) uint32  { return encB(imm, rs2v, rs1v, 0x1, OpBranch) }
func asmJAL(rdv, imm uint32) uint32         { return encJ(imm, rdv, OpJAL) }
func asmLUI(rdv, imm uint32) uint32         { return encU(imm, rdv, OpLUI) }
func asmLW(rdv, rs1v, imm uint32) uint32    { return encI(imm, rs1v, 0x2, rdv, OpLoad) }
func asmSW(rs1v, rs2v, imm uint32) uint32   { return encS(imm, rs2v, rs1v, 0x2, OpStore) }
func asmEBREAK() uint32                     { return encI(1, 0, 0, 0, OpSystem) }
func asmECALL() uint32                      { return encI(0, 0, 0, 0, OpSystem) }
func asmMRET() uint32                       { return encI(0x302, 0, 0, 0, OpSystem) }
func asmWFI() uint32                        { return encI(0x105, 0, 0, 0, OpSystem) }
func asmCSRRW(rdv, rs1v uint32, csr uint16) uint32 {
	return encI(uint32(csr), rs1v, 0x1, rdv, OpSystem)
}
func asmSFENCEVMA(rs1v, rs2v uint32) uint32 { return encR(0x09, rs2v, rs1v, 0x0, 0, OpSystem) }

// lr.w / sc.w, rl=aq=0
func asmLRW(rdv, rs1v uint32) uint32 { return encR(0x02<<2, 0, rs1v, 0x2, rdv, OpAMO) }
func asmSCW(rdv, rs1v, rs2v uint32) uint32 { return encR(0x03<<2, rs2v, rs1v, 0x2, rdv, OpAMO) }

// fdiv.s rd, rs1, rs2, rm
func asmFDIVS(rdv, rs1v, rs2v, rmv uint32) uint32 { return encR(0b0001100, rs2v, rs1v, rmv, rdv, OpFP) }

func loadProgram(store *BackingStore, addr uint32, words []uint32) {
	for i, w := range words {
		if err := store.Store(addr+uint32(i*4), 4, w); err != nil {
			panic(err)
		}
	}
}

func newTestHart() *Hart {
	store := NewBackingStore()
	bus := NewBus(store, RAMBase, 4<<20)
	h := NewHart(0, bus, 64, 16)
	h.PC = RAMBase
	return h
}

// runUntil steps h until its PC reaches stopPC or maxSteps is exceeded.
func runUntil(h *Hart, stopPC uint32, maxSteps int) error {
	for i := 0; i < maxSteps; i++ {
		if h.PC == stopPC {
			return nil
		}
		if err := h.Step(); err != nil {
			return err
		}
	}
	return errTestTimeout
}

type timeoutError struct{}

func (timeoutError) Error() string { return "riscv test: step budget exceeded" }

var errTestTimeout = timeoutError{}
