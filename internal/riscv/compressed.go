package riscv

import "fmt"

func creg(bits uint16) uint32 { return uint32(bits) + 8 }

func encodeR(opc, f3, f7, rdv, rs1v, rs2v uint32) uint32 {
	return (f7 << 25) | (rs2v << 20) | (rs1v << 15) | (f3 << 12) | (rdv << 7) | opc
}

func encodeI(opc, f3, rdv, rs1v uint32, imm uint32) uint32 {
	return (imm << 20) | (rs1v << 15) | (f3 << 12) | (rdv << 7) | opc
}

func encodeS(opc, f3, rs1v, rs2v uint32, imm uint32) uint32 {
	lo := imm & 0x1F
	hi := (imm >> 5) & 0x7F
	return (hi << 25) | (rs2v << 20) | (rs1v << 15) | (f3 << 12) | (lo << 7) | opc
}

func encodeB(opc, f3, rs1v, rs2v uint32, imm uint32) uint32 {
	b12 := (imm >> 12) & 1
	b11 := (imm >> 11) & 1
	b10_5 := (imm >> 5) & 0x3F
	b4_1 := (imm >> 1) & 0xF
	return (b12 << 31) | (b10_5 << 25) | (rs2v << 20) | (rs1v << 15) | (f3 << 12) | (b4_1 << 8) | (b11 << 7) | opc
}

func encodeU(opc, rdv uint32, imm uint32) uint32 {
	return (imm & 0xFFFFF000) | (rdv << 7) | opc
}

func encodeJ(opc, rdv uint32, imm uint32) uint32 {
	b20 := (imm >> 20) & 1
	b19_12 := (imm >> 12) & 0xFF
	b11 := (imm >> 11) & 1
	b10_1 := (imm >> 1) & 0x3FF
	return (b20 << 31) | (b10_1 << 21) | (b11 << 20) | (b19_12 << 12) | (rdv << 7) | opc
}

// ExpandCompressed expands a 16-bit RVC instruction into its canonical
// 32-bit equivalent. The quadrant-0/2 double-precision float loads and
// stores (C.FLD/C.FSD/C.FLDSP/C.FSDSP) are not implemented: this
// core only carries the single-precision float forms (C.FLW/C.FSW and
// their stack-pointer-relative variants).
func ExpandCompressed(raw uint16) (uint32, error) {
	quadrant := raw & 0x3

	switch quadrant {
	case 0:
		f3 := (raw >> 13) & 0x7
		rdp := creg((raw >> 2) & 0x7)
		rs1p := creg((raw >> 7) & 0x7)
		switch f3 {
		case 0b000: // C.ADDI4SPN
			imm := decodeAddi4spnImm(raw)
			if imm == 0 {
				return 0, fmt.Errorf("riscv: reserved C.ADDI4SPN")
			}
			return encodeI(OpOpImm, 0, rdp, 2, imm), nil
		case 0b001: // C.FLD — RV32D, not carried
			return 0, fmt.Errorf("riscv: unsupported compressed form (C.FLD)")
		case 0b010: // C.LW
			imm := decodeCLImm(raw)
			return encodeI(OpLoad, 0x2, rdp, rs1p, imm), nil
		case 0b011: // C.FLW
			imm := decodeCLImm(raw)
			return encodeI(OpLoadFP, 0x2, rdp, rs1p, imm), nil
		case 0b101: // C.FSD — RV32D, not carried
			return 0, fmt.Errorf("riscv: unsupported compressed form (C.FSD)")
		case 0b110: // C.SW
			imm := decodeCLImm(raw)
			return encodeS(OpStore, 0x2, rs1p, rdp, imm), nil
		case 0b111: // C.FSW
			imm := decodeCLImm(raw)
			return encodeS(OpStoreFP, 0x2, rs1p, rdp, imm), nil
		}

	case 1:
		f3 := (raw >> 13) & 0x7
		rdRs1 := uint32((raw >> 7) & 0x1F)
		switch f3 {
		case 0b000: // C.NOP / C.ADDI
			imm := decodeCIImm(raw)
			return encodeI(OpOpImm, 0, rdRs1, rdRs1, imm), nil
		case 0b001: // C.JAL (rd = x1)
			imm := decodeCJImm(raw)
			return encodeJ(OpJAL, 1, imm), nil
		case 0b010: // C.LI
			imm := decodeCIImm(raw)
			return encodeI(OpOpImm, 0, rdRs1, 0, imm), nil
		case 0b011:
			if rdRs1 == 2 { // C.ADDI16SP
				imm := decodeAddi16spImm(raw)
				if imm == 0 {
					return 0, fmt.Errorf("riscv: reserved C.ADDI16SP")
				}
				return encodeI(OpOpImm, 0, 2, 2, imm), nil
			}
			imm := decodeCLuiImm(raw)
			if imm == 0 {
				return 0, fmt.Errorf("riscv: reserved C.LUI")
			}
			return encodeU(OpLUI, rdRs1, imm), nil
		case 0b100:
			rdp := creg((raw >> 7) & 0x7)
			sel := (raw >> 10) & 0x3
			switch sel {
			case 0b00: // C.SRLI
				sh := decodeShamt(raw)
				return encodeI(OpOpImm, 0x5, rdp, rdp, sh), nil
			case 0b01: // C.SRAI
				sh := decodeShamt(raw)
				return encodeI(OpOpImm, 0x5, rdp, rdp, sh|(0x20<<5)), nil
			case 0b10: // C.ANDI
				imm := decodeCIImm(raw)
				return encodeI(OpOpImm, 0x7, rdp, rdp, imm), nil
			case 0b11:
				rs2p := creg((raw >> 2) & 0x7)
				f2 := (raw >> 5) & 0x3
				isWord := (raw >> 12) & 1
				if isWord == 1 {
					return 0, fmt.Errorf("riscv: unsupported compressed form (64-bit ALU variant)")
				}
				switch f2 {
				case 0b00:
					return encodeR(OpOp, 0x0, 0x20, rdp, rdp, rs2p), nil // C.SUB
				case 0b01:
					return encodeR(OpOp, 0x4, 0x00, rdp, rdp, rs2p), nil // C.XOR
				case 0b10:
					return encodeR(OpOp, 0x6, 0x00, rdp, rdp, rs2p), nil // C.OR
				case 0b11:
					return encodeR(OpOp, 0x7, 0x00, rdp, rdp, rs2p), nil // C.AND
				}
			}
		case 0b101: // C.J
			imm := decodeCJImm(raw)
			return encodeJ(OpJAL, 0, imm), nil
		case 0b110: // C.BEQZ
			rs1p := creg((raw >> 7) & 0x7)
			imm := decodeCBImm(raw)
			return encodeB(OpBranch, 0x0, rs1p, 0, imm), nil
		case 0b111: // C.BNEZ
			rs1p := creg((raw >> 7) & 0x7)
			imm := decodeCBImm(raw)
			return encodeB(OpBranch, 0x1, rs1p, 0, imm), nil
		}

	case 2:
		f3 := (raw >> 13) & 0x7
		rdRs1 := uint32((raw >> 7) & 0x1F)
		switch f3 {
		case 0b000: // C.SLLI
			sh := decodeShamt(raw)
			return encodeI(OpOpImm, 0x1, rdRs1, rdRs1, sh), nil
		case 0b010: // C.LWSP
			imm := decodeLwspImm(raw)
			return encodeI(OpLoad, 0x2, rdRs1, 2, imm), nil
		case 0b011: // C.FLWSP
			imm := decodeLwspImm(raw)
			return encodeI(OpLoadFP, 0x2, rdRs1, 2, imm), nil
		case 0b100:
			rs2v := uint32((raw >> 2) & 0x1F)
			bit12 := (raw >> 12) & 1
			if bit12 == 0 {
				if rs2v == 0 { // C.JR
					if rdRs1 == 0 {
						return 0, fmt.Errorf("riscv: reserved compressed form")
					}
					return encodeI(OpJALR, 0, 0, rdRs1, 0), nil
				}
				return encodeR(OpOp, 0, 0, rdRs1, 0, rs2v), nil // C.MV
			}
			if rs2v == 0 {
				if rdRs1 == 0 { // C.EBREAK
					return encodeI(OpSystem, 0, 0, 0, 1), nil
				}
				return encodeI(OpJALR, 0, 1, rdRs1, 0), nil // C.JALR
			}
			return encodeR(OpOp, 0, 0x00, rdRs1, rdRs1, rs2v), nil // C.ADD
		case 0b110: // C.SWSP
			imm := decodeSwspImm(raw)
			rs2v := uint32((raw >> 2) & 0x1F)
			return encodeS(OpStore, 0x2, 2, rs2v, imm), nil
		case 0b111: // C.FSWSP
			imm := decodeSwspImm(raw)
			rs2v := uint32((raw >> 2) & 0x1F)
			return encodeS(OpStoreFP, 0x2, 2, rs2v, imm), nil
		}
	}

	return 0, fmt.Errorf("riscv: illegal compressed instruction 0x%04x", raw)
}

// decodeAddi4spnImm decodes nzuimm[5:4|9:6|2|3] from bits [12:5] of the
// C.ADDI4SPN encoding.
func decodeAddi4spnImm(raw uint16) uint32 {
	v := uint32(raw)
	var imm uint32
	imm |= ((v >> 5) & 0x1) << 3  // bit 3
	imm |= ((v >> 6) & 0x1) << 2  // bit 2
	imm |= ((v >> 7) & 0xF) << 6  // bits 9:6
	imm |= ((v >> 11) & 0x3) << 4 // bits 5:4
	return imm
}

func decodeCLImm(raw uint16) uint32 {
	v := uint32(raw)
	imm := ((v >> 5) & 0x1) << 6
	imm |= ((v >> 6) & 0x1) << 2
	imm |= ((v >> 10) & 0x7) << 3
	return imm
}

func decodeCIImm(raw uint16) uint32 {
	v := uint32(raw)
	imm := (v >> 2) & 0x1F
	sign := (v >> 12) & 0x1
	imm |= sign << 5
	return signExtend(imm, 6)
}

func decodeShamt(raw uint16) uint32 {
	v := uint32(raw)
	return ((v >> 12) & 0x1 << 5) | ((v >> 2) & 0x1F)
}

func decodeAddi16spImm(raw uint16) uint32 {
	v := uint32(raw)
	imm := ((v >> 6) & 0x1) << 4
	imm |= ((v >> 2) & 0x1) << 5
	imm |= ((v >> 5) & 0x1) << 6
	imm |= ((v >> 3) & 0x3) << 7
	imm |= ((v >> 12) & 0x1) << 9
	return signExtend(imm, 10)
}

func decodeCLuiImm(raw uint16) uint32 {
	v := uint32(raw)
	imm := ((v >> 2) & 0x1F) << 12
	imm |= ((v >> 12) & 0x1) << 17
	return signExtend(imm, 18)
}

func decodeCJImm(raw uint16) uint32 {
	v := uint32(raw)
	imm := ((v >> 3) & 0x7) << 1
	imm |= ((v >> 11) & 0x1) << 4
	imm |= ((v >> 2) & 0x1) << 5
	imm |= ((v >> 7) & 0x1) << 6
	imm |= ((v >> 6) & 0x1) << 7
	imm |= ((v >> 9) & 0x3) << 8
	imm |= ((v >> 8) & 0x1) << 10
	imm |= ((v >> 12) & 0x1) << 11
	return signExtend(imm, 12)
}

func decodeCBImm(raw uint16) uint32 {
	v := uint32(raw)
	imm := ((v >> 3) & 0x3) << 1
	imm |= ((v >> 10) & 0x3) << 3
	imm |= ((v >> 2) & 0x1) << 5
	imm |= ((v >> 5) & 0x3) << 6
	imm |= ((v >> 12) & 0x1) << 8
	return signExtend(imm, 9)
}

func decodeLwspImm(raw uint16) uint32 {
	v := uint32(raw)
	imm := ((v >> 4) & 0x7) << 2
	imm |= ((v >> 12) & 0x1) << 5
	imm |= ((v >> 2) & 0x3) << 6
	return imm
}

func decodeSwspImm(raw uint16) uint32 {
	v := uint32(raw)
	imm := ((v >> 9) & 0xF) << 2
	imm |= ((v >> 7) & 0x3) << 6
	return imm
}
