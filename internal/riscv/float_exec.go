package riscv

// roundingMode resolves the instruction's rm field, substituting the
// CSR frm value when rm selects "dynamic" (0x7).
func (h *Hart) roundingMode(instRM uint32) (RoundingMode, error) {
	if instRM == 0x7 {
		instRM = h.CSR.Frm
	}
	if instRM > 4 {
		return 0, NewTrap(CauseIllegalInsn, instRM)
	}
	return RoundingMode(instRM), nil
}

func (h *Hart) accrueFlags(flags uint32) {
	h.CSR.Fflags |= flags
}

func (h *Hart) requireFPEnabled() error {
	if h.CSR.Mstatus&MstatusFS == 0 {
		return NewTrap(CauseIllegalInsn, 0)
	}
	return nil
}

func (h *Hart) execLoadFP(inst uint32) error {
	if err := h.requireFPEnabled(); err != nil {
		return err
	}
	addr := h.ReadReg(rs1(inst)) + immI(inst)
	priv, sum, mxr := h.loadStorePriv()
	v, err := h.LSU.Load(addr, 4, priv, sum, mxr)
	if err != nil {
		return err
	}
	h.WriteFReg(rd(inst), v)
	return nil
}

func (h *Hart) execStoreFP(inst uint32) error {
	if err := h.requireFPEnabled(); err != nil {
		return err
	}
	addr := h.ReadReg(rs1(inst)) + immS(inst)
	priv, sum, mxr := h.loadStorePriv()
	return h.LSU.Store(addr, 4, h.ReadFReg(rs2(inst)), priv, sum, mxr)
}

func (h *Hart) execFMA(inst uint32, op uint32) error {
	if err := h.requireFPEnabled(); err != nil {
		return err
	}
	mode, err := h.roundingMode(rm(inst))
	if err != nil {
		return err
	}
	a := h.ReadFReg(rs1(inst))
	b := h.ReadFReg(rs2(inst))
	c := h.ReadFReg(rs3(inst))

	var negMul, negAdd bool
	switch op {
	case OpMSub:
		negAdd = true
	case OpNMAdd:
		negMul, negAdd = true, true
	case OpNMSub:
		negMul = true
	}

	var flags uint32
	result := FMadd(a, b, c, negMul, negAdd, mode, &flags)
	h.accrueFlags(flags)
	h.WriteFReg(rd(inst), result)
	return nil
}

func (h *Hart) execFP(inst uint32) error {
	if err := h.requireFPEnabled(); err != nil {
		return err
	}
	f7 := funct7(inst)
	f3 := funct3(inst)
	a := h.ReadFReg(rs1(inst))
	b := h.ReadFReg(rs2(inst))
	var flags uint32

	switch f7 {
	case 0b0000000, 0b0000100, 0b0001000, 0b0001100: // FADD/FSUB/FMUL/FDIV
		mode, err := h.roundingMode(f3)
		if err != nil {
			return err
		}
		var result uint32
		switch f7 {
		case 0b0000000:
			result = FAdd(a, b, mode, &flags)
		case 0b0000100:
			result = FSub(a, b, mode, &flags)
		case 0b0001000:
			result = FMul(a, b, mode, &flags)
		case 0b0001100:
			result = FDiv(a, b, mode, &flags)
		}
		h.accrueFlags(flags)
		h.WriteFReg(rd(inst), result)
		return nil

	case 0b0101100: // FSQRT.S
		mode, err := h.roundingMode(f3)
		if err != nil {
			return err
		}
		result := FSqrt(a, mode, &flags)
		h.accrueFlags(flags)
		h.WriteFReg(rd(inst), result)
		return nil

	case 0b0010000: // FSGNJ family
		var result uint32
		switch f3 {
		case 0:
			result = FSgnj(a, b)
		case 1:
			result = FSgnjn(a, b)
		case 2:
			result = FSgnjx(a, b)
		default:
			return NewTrap(CauseIllegalInsn, inst)
		}
		h.WriteFReg(rd(inst), result)
		return nil

	case 0b0010100: // FMIN/FMAX
		var result uint32
		if f3 == 0 {
			result = FMin(a, b, &flags)
		} else {
			result = FMax(a, b, &flags)
		}
		h.accrueFlags(flags)
		h.WriteFReg(rd(inst), result)
		return nil

	case 0b1100000: // FCVT.W.S / FCVT.WU.S
		mode, err := h.roundingMode(f3)
		if err != nil {
			return err
		}
		var result uint32
		if rs2(inst) == 0 {
			result = FCvtWS(a, mode, &flags)
		} else {
			result = FCvtWUS(a, mode, &flags)
		}
		h.accrueFlags(flags)
		h.WriteReg(rd(inst), result)
		return nil

	case 0b1101000: // FCVT.S.W / FCVT.S.WU
		mode, err := h.roundingMode(f3)
		if err != nil {
			return err
		}
		var result uint32
		if rs2(inst) == 0 {
			result = FCvtSW(h.ReadReg(rs1(inst)), mode, &flags)
		} else {
			result = FCvtSWU(h.ReadReg(rs1(inst)), mode, &flags)
		}
		h.accrueFlags(flags)
		h.WriteFReg(rd(inst), result)
		return nil

	case 0b1110000: // FMV.X.W / FCLASS.S
		if f3 == 0 {
			h.WriteReg(rd(inst), a)
		} else if f3 == 1 {
			h.WriteReg(rd(inst), FClass(a))
		} else {
			return NewTrap(CauseIllegalInsn, inst)
		}
		return nil

	case 0b1111000: // FMV.W.X
		h.WriteFReg(rd(inst), h.ReadReg(rs1(inst)))
		return nil

	case 0b1010000: // FEQ/FLT/FLE
		var result bool
		switch f3 {
		case 2:
			result = FEq(a, b, &flags)
		case 1:
			result = FLt(a, b, &flags)
		case 0:
			result = FLe(a, b, &flags)
		default:
			return NewTrap(CauseIllegalInsn, inst)
		}
		h.accrueFlags(flags)
		h.WriteReg(rd(inst), boolToU32(result))
		return nil
	}

	return NewTrap(CauseIllegalInsn, inst)
}
