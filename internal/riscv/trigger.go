package riscv

// TriggerKind distinguishes the two trigger types this core implements:
// address/data match (type 6, "match6") and instruction-retirement count.
type TriggerKind uint8

const (
	TriggerMatch6 TriggerKind = iota
	TriggerICount
)

// TriggerAction is what happens when a trigger fires.
type TriggerAction uint8

const (
	ActionException TriggerAction = iota // raise a breakpoint exception
	ActionDebugMode                      // enter debug mode (halt)
)

// Trigger is one hardware debug trigger/watchpoint, tagged by kind. Fields
// outside a trigger's kind are inert; a tdata1 write rebuilds the whole
// trigger, clearing them and the match address.
type Trigger struct {
	Kind   TriggerKind
	Action TriggerAction
	M, S, U bool // which privilege levels arm this trigger
	Access  AccessKind
	Load, Store, Execute bool // match6: which kinds of access arm it

	Address uint32 // match6: tdata2, the address to match

	Count   uint32 // icount: remaining retirements before firing
	Pending bool   // icount: latched once count has reached zero
}

// TriggerUnit is the tselect-addressed bank of debug triggers.
type TriggerUnit struct {
	triggers []Trigger
	selected int
}

// NewTriggerUnit creates a unit with n triggers, all initially match6/off.
func NewTriggerUnit(n int) *TriggerUnit {
	return &TriggerUnit{triggers: make([]Trigger, n)}
}

func (t *TriggerUnit) Select(n uint32) { t.selected = int(n) % len(t.triggers) }
func (t *TriggerUnit) Selected() uint32 { return uint32(t.selected) }

func (t *TriggerUnit) current() *Trigger { return &t.triggers[t.selected] }

// ReadTdata1 packs the currently selected trigger's tdata1 register,
// matching the bit layout the two trigger kinds use in the reference
// debug-module spec: type in bits 31:28, dmode in bit 27, kind-specific
// fields below that.
func (t *TriggerUnit) ReadTdata1() uint32 {
	tr := t.current()
	var v uint32
	switch tr.Kind {
	case TriggerMatch6:
		v = 6 << 28
		if tr.M {
			v |= 1 << 6
		}
		if tr.S {
			v |= 1 << 4
		}
		if tr.U {
			v |= 1 << 3
		}
		if tr.Execute {
			v |= 1 << 2
		}
		if tr.Store {
			v |= 1 << 1
		}
		if tr.Load {
			v |= 1 << 0
		}
	case TriggerICount:
		v = 3 << 28
		if tr.M {
			v |= 1 << 9
		}
		if tr.S {
			v |= 1 << 7
		}
		if tr.U {
			v |= 1 << 6
		}
		if tr.Pending {
			v |= 1 << 5
		}
		v |= (tr.Count & 0x3FFF) << 10
	}
	if tr.Action == ActionDebugMode {
		v |= 1 << 12
	}
	return v
}

// WriteTdata1 reinterprets the trigger according to the type field in bits
// 31:28 of value, resetting kind-specific state.
func (t *TriggerUnit) WriteTdata1(value uint32) {
	tr := t.current()
	kind := value >> 28
	switch kind {
	case 6:
		*tr = Trigger{
			Kind:    TriggerMatch6,
			M:       value&(1<<6) != 0,
			S:       value&(1<<4) != 0,
			U:       value&(1<<3) != 0,
			Execute: value&(1<<2) != 0,
			Store:   value&(1<<1) != 0,
			Load:    value&(1<<0) != 0,
		}
	case 3:
		*tr = Trigger{
			Kind:  TriggerICount,
			M:     value&(1<<9) != 0,
			S:     value&(1<<7) != 0,
			U:     value&(1<<6) != 0,
			Count: (value >> 10) & 0x3FFF,
		}
	default:
		*tr = Trigger{}
	}
	if value&(1<<12) != 0 {
		tr.Action = ActionDebugMode
	}
}

func (t *TriggerUnit) ReadTdata2() uint32 { return t.current().Address }
func (t *TriggerUnit) WriteTdata2(value uint32) { t.current().Address = value }

// InstallPreset programs trigger index idx from a boot-time configuration
// preset, arming it for all three privilege levels.
func (t *TriggerUnit) InstallPreset(idx int, kind TriggerKind, addrOrCount uint32, action TriggerAction) {
	if idx < 0 || idx >= len(t.triggers) {
		return
	}
	tr := &t.triggers[idx]
	switch kind {
	case TriggerMatch6:
		*tr = Trigger{Kind: TriggerMatch6, M: true, S: true, U: true, Load: true, Store: true, Execute: true, Address: addrOrCount, Action: action}
	case TriggerICount:
		*tr = Trigger{Kind: TriggerICount, M: true, S: true, U: true, Count: addrOrCount, Action: action}
	}
}

func privEnabled(tr *Trigger, priv Privilege) bool {
	switch priv {
	case PrivMachine:
		return tr.M
	case PrivSupervisor:
		return tr.S
	default:
		return tr.U
	}
}

// MatchMemory checks every match6 trigger armed for priv/access against
// addr, returning the first that fires (grounded on trig_match6_fire: the
// access-kind mask must intersect and the address must match exactly).
func (t *TriggerUnit) MatchMemory(addr uint32, access AccessKind, priv Privilege) *Trigger {
	for i := range t.triggers {
		tr := &t.triggers[i]
		if tr.Kind != TriggerMatch6 || !privEnabled(tr, priv) {
			continue
		}
		armed := (access == AccessRead && tr.Load) ||
			(access == AccessWrite && tr.Store) ||
			(access == AccessExecute && tr.Execute)
		if armed && tr.Address == addr {
			return tr
		}
	}
	return nil
}

// Retire notifies every icount trigger armed for priv that one instruction
// retired, decrementing its counter and firing (once) when it reaches zero.
func (t *TriggerUnit) Retire(priv Privilege) *Trigger {
	var fired *Trigger
	for i := range t.triggers {
		tr := &t.triggers[i]
		if tr.Kind != TriggerICount || !privEnabled(tr, priv) {
			continue
		}
		if tr.Count == 0 {
			continue
		}
		tr.Count--
		if tr.Count == 0 && !tr.Pending {
			tr.Pending = true
			if fired == nil {
				fired = tr
			}
		}
	}
	return fired
}
