package riscv

// Step executes one instruction on h: it checks for a pending interrupt,
// fetches (through the bounded fetch window), decodes, executes, and
// advances PC/instret, returning a *TrapError if a synchronous exception
// was raised (already fully handled: CSR state and PC have moved to the
// trap vector by the time Step returns). The full per-instruction record
// is left in h.LastStep for tracing and step callbacks.
func (h *Hart) Step() error {
	h.CSR.Cycle++
	h.lastFlush = false
	h.lastTrapReturn = false

	res := StepResult{HartID: h.ID, Cycle: h.CSR.Cycle, Priv: h.Priv, PC: h.PC}
	finish := func(err error) error {
		res.PCNext = h.PC
		res.WindowFlush = h.lastFlush
		res.Window = h.Window.snapshot()
		h.LastStep = res
		return err
	}

	if cause, ok := h.CSR.PendingInterrupt(h.Priv); ok {
		h.halted = false
		h.RaiseTrap(cause, 0)
		res.ExceptionCode = cause
		return finish(nil)
	}
	if h.halted {
		return finish(nil)
	}

	priv := h.effectivePriv(true)
	_, mxr := h.sumMXR()
	curPC := h.PC

	var inst uint32
	var size, pa uint32
	if slot, ok := h.Window.lookup(curPC, h.CSR.Satp); ok {
		inst = slot.inst
		pa = slot.ppc
		size = slot.size()
	} else {
		var terr error
		pa, terr = h.LSU.TranslateFetch(curPC, priv, mxr)
		if terr != nil {
			te := terr.(*TrapError)
			h.RaiseTrap(te.Cause, te.Tval)
			res.ExceptionCode = te.Cause
			return finish(terr)
		}

		half, err := h.LSU.FetchPhys(pa, 2)
		if err != nil {
			h.RaiseTrap(CauseInsnAccessFault, curPC)
			res.ExceptionCode = CauseInsnAccessFault
			return finish(NewTrap(CauseInsnAccessFault, curPC))
		}

		var raw16 uint16
		var compressed bool
		if half&0x3 != 0x3 {
			compressed = true
			size = 2
			raw16 = uint16(half)
			inst, err = ExpandCompressed(raw16)
			if err != nil {
				h.RaiseTrap(CauseIllegalInsn, half)
				res.ExceptionCode = CauseIllegalInsn
				return finish(NewTrap(CauseIllegalInsn, half))
			}
		} else {
			size = 4
			hi, err2 := h.LSU.FetchPhys(pa+2, 2)
			if err2 != nil {
				h.RaiseTrap(CauseInsnAccessFault, curPC)
				res.ExceptionCode = CauseInsnAccessFault
				return finish(NewTrap(CauseInsnAccessFault, curPC))
			}
			inst = half | (hi << 16)
		}

		h.Window.record(curPC, pa, inst, raw16, compressed, h.CSR.Satp)
	}

	h.instPC = curPC
	h.PC = curPC + size

	res.Opcode = opcode(inst)
	res.Rs1, res.Rs2, res.Rs3, res.Rd = rs1(inst), rs2(inst), rs3(inst), rd(inst)
	res.MemAccess, res.MVAddr = memAccessInfo(inst, h)

	if tr := h.CSR.Trigger.MatchMemory(curPC, AccessExecute, h.Priv); tr != nil {
		h.firetrigger(tr, curPC)
		return finish(nil)
	}

	fflagsBefore := h.CSR.Fflags
	h.LSU.LastDataPA = 0

	if execErr := h.execute(inst, curPC); execErr != nil {
		if te, ok := execErr.(*TrapError); ok {
			// execute() may have already advanced h.PC (a taken branch/jump)
			// before faulting on a later side effect; a synchronous
			// exception's mepc is always the faulting instruction's own
			// address, so restore it before entering the trap.
			h.PC = curPC
			h.RaiseTrap(te.Cause, te.Tval)
			res.ExceptionCode = te.Cause
			return finish(execErr)
		}
		return finish(execErr)
	}

	res.RdIsFPR = rdIsFPR(inst)
	if res.RdIsFPR {
		res.RdValue = h.ReadFReg(res.Rd)
	} else {
		res.RdValue = h.ReadReg(res.Rd)
	}
	res.FflagsDelta = h.CSR.Fflags &^ fflagsBefore
	res.MPAddr = h.LSU.LastDataPA
	res.MData = memDataValue(inst, h, res.MemAccess, res.RdValue)
	res.TrapReturn = h.lastTrapReturn

	h.CSR.Instret++
	if fired := h.CSR.Trigger.Retire(h.Priv); fired != nil {
		h.firetrigger(fired, h.PC)
	}
	return finish(nil)
}

// memAccessInfo classifies the data-side memory access (if any) inst will
// perform and computes its virtual address, mirroring the address
// arithmetic in execLoad/execStore/execAMO without needing to thread it
// back out of them.
func memAccessInfo(inst uint32, h *Hart) (MemAccessKind, uint32) {
	switch opcode(inst) {
	case OpLoad, OpLoadFP:
		return MemAccessLoad, h.ReadReg(rs1(inst)) + immI(inst)
	case OpStore, OpStoreFP:
		return MemAccessStore, h.ReadReg(rs1(inst)) + immS(inst)
	case OpAMO:
		return MemAccessAccess, h.ReadReg(rs1(inst))
	}
	return MemAccessNone, 0
}

// memDataValue reports the data transferred by inst's memory access, for
// the step result's m_data field: the loaded/written-back value for a
// load, the source register for a store, and the rs2 operand for an AMO.
func memDataValue(inst uint32, h *Hart, kind MemAccessKind, rdValue uint32) uint32 {
	switch kind {
	case MemAccessLoad:
		return rdValue
	case MemAccessStore:
		if opcode(inst) == OpStoreFP {
			return h.ReadFReg(rs2(inst))
		}
		return h.ReadReg(rs2(inst))
	case MemAccessAccess:
		return h.ReadReg(rs2(inst))
	}
	return 0
}

// rdIsFPR reports whether inst's destination register is in the floating
// register file rather than the integer one.
func rdIsFPR(inst uint32) bool {
	switch opcode(inst) {
	case OpLoadFP, OpMAdd, OpMSub, OpNMSub, OpNMAdd:
		return true
	case OpFP:
		switch funct7(inst) {
		case 0b1100000, 0b1110000, 0b1010000: // FCVT.W[U].S, FMV.X.W/FCLASS.S, FEQ/FLT/FLE
			return false
		default:
			return true
		}
	}
	return false
}

func (h *Hart) firetrigger(tr *Trigger, pc uint32) {
	if tr.Action == ActionDebugMode {
		h.inDebug = true
		h.CSR.Dpc = pc
		h.CSR.InDebug = true
		return
	}
	h.PC = pc
	h.RaiseTrap(CauseBreakpoint, pc)
}

func (h *Hart) execute(inst uint32, pc uint32) error {
	op := opcode(inst)
	switch op {
	case OpLUI:
		h.WriteReg(rd(inst), immU(inst))
	case OpAUIPC:
		h.WriteReg(rd(inst), pc+immU(inst))
	case OpJAL:
		target := pc + immJ(inst)
		h.WriteReg(rd(inst), h.PC) // pc+2 or pc+4: Step has already advanced h.PC by the fetched size
		if target%2 != 0 {
			return NewTrap(CauseInsnAddrMisaligned, target)
		}
		h.PC = target
	case OpJALR:
		target := (h.ReadReg(rs1(inst)) + immI(inst)) &^ 1
		link := h.PC
		h.WriteReg(rd(inst), link)
		if target%2 != 0 {
			return NewTrap(CauseInsnAddrMisaligned, target)
		}
		h.PC = target
	case OpBranch:
		return h.execBranch(inst, pc)
	case OpLoad:
		return h.execLoad(inst)
	case OpStore:
		return h.execStore(inst)
	case OpOpImm:
		return h.execOpImm(inst)
	case OpOp:
		return h.execOp(inst)
	case OpMiscMem:
		return h.execMiscMem(inst)
	case OpSystem:
		return h.execSystem(inst)
	case OpAMO:
		return h.execAMO(inst)
	case OpLoadFP:
		return h.execLoadFP(inst)
	case OpStoreFP:
		return h.execStoreFP(inst)
	case OpFP:
		return h.execFP(inst)
	case OpMAdd, OpMSub, OpNMSub, OpNMAdd:
		return h.execFMA(inst, op)
	default:
		return NewTrap(CauseIllegalInsn, inst)
	}
	return nil
}

func (h *Hart) execBranch(inst uint32, pc uint32) error {
	a, b := h.ReadReg(rs1(inst)), h.ReadReg(rs2(inst))
	var taken bool
	switch funct3(inst) {
	case 0x0:
		taken = a == b
	case 0x1:
		taken = a != b
	case 0x4:
		taken = int32(a) < int32(b)
	case 0x5:
		taken = int32(a) >= int32(b)
	case 0x6:
		taken = a < b
	case 0x7:
		taken = a >= b
	default:
		return NewTrap(CauseIllegalInsn, inst)
	}
	if taken {
		target := pc + immB(inst)
		if target%2 != 0 {
			return NewTrap(CauseInsnAddrMisaligned, target)
		}
		h.PC = target
	}
	return nil
}

func (h *Hart) loadStorePriv() (priv Privilege, sum, mxr bool) {
	priv = h.effectivePriv(false)
	sum, mxr = h.sumMXR()
	return
}

func (h *Hart) execLoad(inst uint32) error {
	addr := h.ReadReg(rs1(inst)) + immI(inst)
	priv, sum, mxr := h.loadStorePriv()
	if tr := h.CSR.Trigger.MatchMemory(addr, AccessRead, h.Priv); tr != nil {
		h.firetrigger(tr, h.instPC)
		return nil
	}
	switch funct3(inst) {
	case 0x0: // LB
		v, err := h.LSU.Load(addr, 1, priv, sum, mxr)
		if err != nil {
			return err
		}
		h.WriteReg(rd(inst), signExtend(v, 8))
	case 0x1: // LH
		v, err := h.LSU.Load(addr, 2, priv, sum, mxr)
		if err != nil {
			return err
		}
		h.WriteReg(rd(inst), signExtend(v, 16))
	case 0x2: // LW
		v, err := h.LSU.Load(addr, 4, priv, sum, mxr)
		if err != nil {
			return err
		}
		h.WriteReg(rd(inst), v)
	case 0x4: // LBU
		v, err := h.LSU.Load(addr, 1, priv, sum, mxr)
		if err != nil {
			return err
		}
		h.WriteReg(rd(inst), v)
	case 0x5: // LHU
		v, err := h.LSU.Load(addr, 2, priv, sum, mxr)
		if err != nil {
			return err
		}
		h.WriteReg(rd(inst), v)
	default:
		return NewTrap(CauseIllegalInsn, inst)
	}
	return nil
}

func (h *Hart) execStore(inst uint32) error {
	addr := h.ReadReg(rs1(inst)) + immS(inst)
	val := h.ReadReg(rs2(inst))
	priv, sum, mxr := h.loadStorePriv()
	if tr := h.CSR.Trigger.MatchMemory(addr, AccessWrite, h.Priv); tr != nil {
		h.firetrigger(tr, h.instPC)
		return nil
	}
	switch funct3(inst) {
	case 0x0:
		return h.LSU.Store(addr, 1, val, priv, sum, mxr)
	case 0x1:
		return h.LSU.Store(addr, 2, val, priv, sum, mxr)
	case 0x2:
		return h.LSU.Store(addr, 4, val, priv, sum, mxr)
	default:
		return NewTrap(CauseIllegalInsn, inst)
	}
}

func (h *Hart) execOpImm(inst uint32) error {
	a := h.ReadReg(rs1(inst))
	imm := immI(inst)
	var result uint32
	switch funct3(inst) {
	case 0x0:
		result = a + imm
	case 0x1:
		if funct7(inst) != 0 {
			return NewTrap(CauseIllegalInsn, inst)
		}
		result = a << shamt(inst)
	case 0x2:
		result = boolToU32(int32(a) < int32(imm))
	case 0x3:
		result = boolToU32(a < imm)
	case 0x4:
		result = a ^ imm
	case 0x5:
		switch funct7(inst) >> 5 {
		case 0:
			result = a >> shamt(inst)
		case 1:
			result = uint32(int32(a) >> shamt(inst))
		default:
			return NewTrap(CauseIllegalInsn, inst)
		}
	case 0x6:
		result = a | imm
	case 0x7:
		result = a & imm
	}
	h.WriteReg(rd(inst), result)
	return nil
}

func boolToU32(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}

func (h *Hart) execOp(inst uint32) error {
	a, b := h.ReadReg(rs1(inst)), h.ReadReg(rs2(inst))
	f7 := funct7(inst)
	if f7 == 0x01 {
		return h.execM(inst, a, b)
	}
	var result uint32
	switch funct3(inst) {
	case 0x0:
		if f7 == 0x20 {
			result = a - b
		} else if f7 == 0 {
			result = a + b
		} else {
			return NewTrap(CauseIllegalInsn, inst)
		}
	case 0x1:
		result = a << (b & 0x1F)
	case 0x2:
		result = boolToU32(int32(a) < int32(b))
	case 0x3:
		result = boolToU32(a < b)
	case 0x4:
		result = a ^ b
	case 0x5:
		if f7 == 0x20 {
			result = uint32(int32(a) >> (b & 0x1F))
		} else {
			result = a >> (b & 0x1F)
		}
	case 0x6:
		result = a | b
	case 0x7:
		result = a & b
	default:
		return NewTrap(CauseIllegalInsn, inst)
	}
	h.WriteReg(rd(inst), result)
	return nil
}

func (h *Hart) execM(inst uint32, a, b uint32) error {
	var result uint32
	switch funct3(inst) {
	case 0x0: // MUL
		result = a * b
	case 0x1: // MULH
		result = uint32((int64(int32(a)) * int64(int32(b))) >> 32)
	case 0x2: // MULHSU
		result = uint32((int64(int32(a)) * int64(uint64(b))) >> 32)
	case 0x3: // MULHU
		result = uint32((uint64(a) * uint64(b)) >> 32)
	case 0x4: // DIV
		if b == 0 {
			result = 0xFFFFFFFF
		} else if int32(a) == -2147483648 && int32(b) == -1 {
			result = a
		} else {
			result = uint32(int32(a) / int32(b))
		}
	case 0x5: // DIVU
		if b == 0 {
			result = 0xFFFFFFFF
		} else {
			result = a / b
		}
	case 0x6: // REM
		if b == 0 {
			result = a
		} else if int32(a) == -2147483648 && int32(b) == -1 {
			result = 0
		} else {
			result = uint32(int32(a) % int32(b))
		}
	case 0x7: // REMU
		if b == 0 {
			result = a
		} else {
			result = a % b
		}
	}
	h.WriteReg(rd(inst), result)
	return nil
}

func (h *Hart) execMiscMem(inst uint32) error {
	switch funct3(inst) {
	case 0x0: // FENCE / FENCE.TSO
		h.LSU.Fence()
		return nil
	case 0x1: // FENCE.I
		h.LSU.FenceI()
		h.FlushWindow()
		return nil
	}
	return NewTrap(CauseIllegalInsn, inst)
}

func (h *Hart) execAMO(inst uint32) error {
	addr := h.ReadReg(rs1(inst))
	val := h.ReadReg(rs2(inst))
	priv, sum, mxr := h.loadStorePriv()
	f5 := funct7(inst) >> 2
	aq := funct7(inst)&0x02 != 0
	rl := funct7(inst)&0x01 != 0

	switch f5 {
	case 0x02: // LR.W
		v, err := h.LSU.LoadReserved(addr, 4, priv, sum, mxr, aq)
		if err != nil {
			return err
		}
		h.WriteReg(rd(inst), v)
		return nil
	case 0x03: // SC.W
		ok, err := h.LSU.StoreConditional(addr, 4, val, priv, sum, mxr, rl)
		if err != nil {
			return err
		}
		if ok {
			h.WriteReg(rd(inst), 0)
		} else {
			h.WriteReg(rd(inst), 1)
		}
		return nil
	}

	var op AMOOp
	switch f5 {
	case 0x00:
		op = AMOAdd
	case 0x01:
		op = AMOSwap
	case 0x04:
		op = AMOXor
	case 0x08:
		op = AMOOr
	case 0x0C:
		op = AMOAnd
	case 0x10:
		op = AMOMin
	case 0x14:
		op = AMOMax
	case 0x18:
		op = AMOMinu
	case 0x1C:
		op = AMOMaxu
	default:
		return NewTrap(CauseIllegalInsn, inst)
	}
	old, err := h.LSU.AMO(op, addr, val, priv, sum, mxr, aq, rl)
	if err != nil {
		return err
	}
	h.WriteReg(rd(inst), old)
	return nil
}

func (h *Hart) execSystem(inst uint32) error {
	f3 := funct3(inst)
	if f3 == 0 {
		switch inst >> 20 {
		case 0x0: // ECALL
			switch h.Priv {
			case PrivUser:
				return NewTrap(CauseEcallFromU, 0)
			case PrivSupervisor:
				return NewTrap(CauseEcallFromS, 0)
			default:
				return NewTrap(CauseEcallFromM, 0)
			}
		case 0x1: // EBREAK
			return NewTrap(CauseBreakpoint, h.instPC)
		case 0x102: // SRET
			if h.Priv < PrivSupervisor {
				return NewTrap(CauseIllegalInsn, inst)
			}
			h.ReturnFromTrap(PrivSupervisor)
			return nil
		case 0x302: // MRET
			if h.Priv != PrivMachine {
				return NewTrap(CauseIllegalInsn, inst)
			}
			h.ReturnFromTrap(PrivMachine)
			return nil
		case 0x105: // WFI
			h.PC = h.instPC
			h.halted = true
			return nil
		default:
			if funct7(inst) == 0x09 { // SFENCE.VMA
				h.LSU.SfenceVMA()
				h.FlushWindow()
				return nil
			}
			return NewTrap(CauseIllegalInsn, inst)
		}
	}
	return h.execCSR(inst, f3)
}

func (h *Hart) execCSR(inst uint32, f3 uint32) error {
	addr := csrAddr(inst)
	rdv := rd(inst)
	r1 := rs1(inst)

	var writeVal uint32
	var doWrite bool
	var uimm uint32

	switch f3 {
	case 0x1, 0x2, 0x3: // CSRRW/CSRRS/CSRRC
		writeVal = h.ReadReg(r1)
		doWrite = f3 == 0x1 || r1 != 0
	case 0x5, 0x6, 0x7: // CSRRWI/CSRRSI/CSRRCI
		uimm = r1
		writeVal = uimm
		doWrite = f3 == 0x5 || uimm != 0
	default:
		return NewTrap(CauseIllegalInsn, inst)
	}

	old, err := h.CSR.Read(addr, h.Priv)
	if err != nil {
		return NewTrap(CauseIllegalInsn, inst)
	}

	if doWrite {
		var newVal uint32
		switch f3 {
		case 0x1, 0x5:
			newVal = writeVal
		case 0x2, 0x6:
			newVal = old | writeVal
		case 0x3, 0x7:
			newVal = old &^ writeVal
		}
		if err := h.CSR.Write(addr, h.Priv, newVal); err != nil {
			return NewTrap(CauseIllegalInsn, inst)
		}
	}

	h.WriteReg(rdv, old)
	return nil
}
